// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"github.com/scorchfuzz/scorch/pkg/stat"
)

var (
	statExecs = stat.New("exec total", "Total test program executions",
		stat.Rate{}, stat.Prometheus("scorch_exec_total"))
	statExecTime = stat.New("exec time", "Test program execution time",
		stat.Distribution{})
	statInteresting = stat.New("corpus additions", "Inputs accepted for novel coverage",
		stat.Prometheus("scorch_corpus_additions"))
	statImported = stat.New("imported", "Inputs imported from peer workers",
		stat.Prometheus("scorch_imported_inputs"))
	statCrashes = stat.New("crashes", "Objective hits (crashing inputs)",
		stat.Prometheus("scorch_crashes"))
	statHangs = stat.New("hangs", "Executions that exceeded the timeout",
		stat.Prometheus("scorch_hangs"))
	statCmplogCands = stat.New("cmplog candidates", "Comparison-guided substitution candidates",
		stat.Rate{})
	statGeneralized = stat.New("generalized", "Corpus items with structural metadata",
		stat.Prometheus("scorch_generalized_inputs"))
	statSyncImports = stat.New("sync imports", "Inputs adopted from foreign corpus directories")
)

// Snapshot packs the current counter values into bus event metadata.
func Snapshot() map[string]uint64 {
	meta := make(map[string]uint64)
	for _, v := range []*stat.Val{
		statExecs, statInteresting, statImported, statCrashes, statHangs,
	} {
		meta[v.Name()] = uint64(v.Val())
	}
	return meta
}
