// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package gen derives the structural (generalized) representation of a
// seed and mutates within it. Generalization finds byte ranges that can
// be dropped without losing the coverage signature that made the seed
// interesting; structural mutation then only ever touches those gaps,
// preserving the fixed skeleton.
package gen

import (
	"github.com/scorchfuzz/scorch/pkg/corpus"
	"github.com/scorchfuzz/scorch/pkg/signal"
)

// ExecFunc runs one candidate through the execution channel and returns
// the run's coverage signature.
type ExecFunc func(data []byte) (signal.Signal, error)

// MaxExecs bounds how many verification executions one generalization
// pass may spend.
const MaxExecs = 256

const minChunk = 2

// Generalize determines which byte ranges of data can be removed while
// reproducing exactly the signature want. It executes candidates through
// exec and returns gap metadata for structural mutation, or nil if
// nothing was removable.
func Generalize(exec ExecFunc, data []byte, want signal.Signal) (*corpus.Generalized, error) {
	if len(data) < minChunk*2 || want.Empty() {
		return nil, nil
	}
	removable := make([]bool, len(data))
	execs := 0
	for size := len(data) / 2; size >= minChunk; size /= 2 {
		for start := 0; start < len(data); start += size {
			end := start + size
			if end > len(data) {
				end = len(data)
			}
			if allTrue(removable[start:end]) {
				continue
			}
			if execs >= MaxExecs {
				break
			}
			candidate := withoutRanges(data, removable, start, end)
			execs++
			sig, err := exec(candidate)
			if err != nil {
				return nil, err
			}
			// The signature must be preserved bit-for-bit, a subset is
			// not enough: losing or gaining elements means the chunk
			// was load-bearing.
			if sig.Equal(want) {
				for i := start; i < end; i++ {
					removable[i] = true
				}
			}
		}
	}
	return buildSegments(data, removable), nil
}

func allTrue(b []bool) bool {
	for _, v := range b {
		if !v {
			return false
		}
	}
	return true
}

// withoutRanges returns data minus already-removable bytes and minus [start, end).
func withoutRanges(data []byte, removable []bool, start, end int) []byte {
	out := make([]byte, 0, len(data))
	for i, b := range data {
		if removable[i] || (i >= start && i < end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// buildSegments merges consecutive bytes into fixed/gap runs. Gaps keep
// the original bytes so that Flatten reproduces the seed unchanged.
func buildSegments(data []byte, removable []bool) *corpus.Generalized {
	anyGap := false
	for _, v := range removable {
		anyGap = anyGap || v
	}
	if !anyGap {
		return nil
	}
	g := &corpus.Generalized{}
	start := 0
	for i := 1; i <= len(data); i++ {
		if i == len(data) || removable[i] != removable[start] {
			g.Segments = append(g.Segments, corpus.Segment{
				Gap:  removable[start],
				Data: append([]byte{}, data[start:i]...),
			})
			start = i
		}
	}
	return g
}
