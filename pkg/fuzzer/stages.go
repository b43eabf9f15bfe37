// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/scorchfuzz/scorch/pkg/cmplog"
	"github.com/scorchfuzz/scorch/pkg/corpus"
	"github.com/scorchfuzz/scorch/pkg/cover"
	"github.com/scorchfuzz/scorch/pkg/gen"
	"github.com/scorchfuzz/scorch/pkg/log"
	"github.com/scorchfuzz/scorch/pkg/osutil"
)

// Stage is one step of the per-seed pipeline. Stages run in a fixed
// order; Applies gates a stage on the seed and campaign state.
type Stage interface {
	Name() string
	Applies(f *Fuzzer, item *corpus.Item) bool
	Run(ctx context.Context, f *Fuzzer, item *corpus.Item) error
}

// cmplogStage runs comparison-guided input-to-state substitution the
// first time a seed is scheduled. Tracing is expensive and its value
// decays fast, so it runs on the main node only.
type cmplogStage struct{}

func (cmplogStage) Name() string { return "cmplog" }

func (cmplogStage) Applies(f *Fuzzer, item *corpus.Item) bool {
	return f.cfg.MainNode && f.cfg.Cmplog != nil && item.ScheduledCount == 0
}

func (cmplogStage) Run(ctx context.Context, f *Fuzzer, item *corpus.Item) error {
	data, err := f.cfg.Corpus.Data(item)
	if err != nil {
		return err
	}
	want, err := f.signalOf(data)
	if err != nil {
		return err
	}
	if want.Empty() {
		return nil // seed no longer replays cleanly, nothing to anchor on
	}
	ranges, err := cmplog.Colorize(f.signalOf, f.rnd, data, want)
	if err != nil {
		return err
	}
	cl := f.cfg.Cmplog
	cover.Reset(cl.Region)
	if _, err := cl.Exec.Run(data); err != nil {
		return err
	}
	statExecs.Add(1)
	cands := cmplog.Mutations(data, cmplog.Parse(cl.Region), ranges, cmplog.MaxCandidates)
	statCmplogCands.Add(len(cands))
	for _, cand := range cands {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := f.execute(cand); err != nil {
			return err
		}
	}
	return nil
}

// generalizeStage derives the gap/fixed structural form of a seed once,
// right after it was accepted for novel coverage. The result (possibly
// "nothing removable") is persisted so the work never repeats.
type generalizeStage struct{}

func (generalizeStage) Name() string { return "generalize" }

func (generalizeStage) Applies(f *Fuzzer, item *corpus.Item) bool {
	return item.NewSignal > 0 && item.Generalized == nil
}

func (generalizeStage) Run(ctx context.Context, f *Fuzzer, item *corpus.Item) error {
	data, err := f.cfg.Corpus.Data(item)
	if err != nil {
		return err
	}
	g := &corpus.Generalized{}
	want, err := f.signalOf(data)
	if err != nil {
		return err
	}
	if !want.Empty() {
		derived, err := gen.Generalize(f.signalOf, data, want)
		if err != nil {
			return err
		}
		if derived != nil {
			g = derived
			statGeneralized.Add(1)
		}
	}
	return f.cfg.Corpus.SetGeneralized(item, g)
}

// havocStage is the workhorse: energy-many stacked random mutations.
type havocStage struct{}

func (havocStage) Name() string { return "havoc" }

func (havocStage) Applies(f *Fuzzer, item *corpus.Item) bool { return true }

func (havocStage) Run(ctx context.Context, f *Fuzzer, item *corpus.Item) error {
	data, err := f.cfg.Corpus.Data(item)
	if err != nil {
		return err
	}
	energy := f.sched.Energy(item)
	for i := 0; i < energy; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := f.execute(f.mutator.Mutate(data, f.spliceDonor(item))); err != nil {
			return err
		}
	}
	return nil
}

// grimoireStage mutates structure instead of bytes: gap content is
// extended, replaced or dropped while the fixed skeleton stays intact.
type grimoireStage struct{}

func (grimoireStage) Name() string { return "grimoire" }

func (grimoireStage) Applies(f *Fuzzer, item *corpus.Item) bool {
	return item.Generalized != nil && item.Generalized.HasGaps()
}

func (grimoireStage) Run(ctx context.Context, f *Fuzzer, item *corpus.Item) error {
	energy := f.sched.Energy(item) / 2
	for i := 0; i < energy; i++ {
		if ctx.Err() != nil {
			return nil
		}
		cand := f.grimoire.Mutate(item.Generalized, f.generalizedDonor(item))
		if _, err := f.execute(cand.Flatten()); err != nil {
			return err
		}
	}
	return nil
}

// syncStage periodically adopts inputs that appeared in foreign corpus
// directories (another fuzzer's queue, manually collected samples).
// Foreign inputs are untrusted: each one goes through the execution
// channel and the usual feedback evaluation.
type syncStage struct{}

func (syncStage) Name() string { return "sync" }

func (syncStage) Applies(f *Fuzzer, item *corpus.Item) bool {
	return f.cfg.MainNode && len(f.cfg.ForeignDirs) > 0 &&
		time.Since(f.lastSync) >= f.cfg.SyncPeriod
}

func (syncStage) Run(ctx context.Context, f *Fuzzer, item *corpus.Item) error {
	f.lastSync = time.Now()
	for _, dir := range f.cfg.ForeignDirs {
		files, err := osutil.ListFiles(dir)
		if err != nil {
			log.Logf(0, "failed to list foreign dir %v: %v", dir, err)
			continue
		}
		for _, name := range files {
			if ctx.Err() != nil {
				return nil
			}
			file := filepath.Join(dir, name)
			if f.synced[file] {
				continue
			}
			f.synced[file] = true
			data, err := os.ReadFile(file)
			if err != nil {
				log.Logf(1, "failed to read foreign input %v: %v", file, err)
				continue
			}
			if f.cfg.Corpus.Contains(data) {
				continue
			}
			adopted, err := f.execute(data)
			if err != nil {
				return err
			}
			if adopted != nil {
				statSyncImports.Add(1)
			}
		}
	}
	return nil
}

// generalizedDonor picks the structural form of a random other item to
// donate fragments, or nil when none exists yet.
func (f *Fuzzer) generalizedDonor(item *corpus.Item) *corpus.Generalized {
	items := f.cfg.Corpus.Items()
	if len(items) < 2 {
		return nil
	}
	for i := 0; i < 4; i++ {
		other := items[f.rnd.Intn(len(items))]
		if other.Sig == item.Sig || other.Generalized == nil || !other.Generalized.HasGaps() {
			continue
		}
		return other.Generalized
	}
	return nil
}
