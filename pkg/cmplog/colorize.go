// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cmplog

import (
	"math/rand"
	"sort"

	"github.com/scorchfuzz/scorch/pkg/signal"
)

// ExecFunc runs one candidate and returns its coverage signature.
type ExecFunc func(data []byte) (signal.Signal, error)

// colorizeMaxExecs bounds the executions one colorization pass may spend.
const colorizeMaxExecs = 128

// Colorize identifies which byte ranges of data are load-bearing for the
// observed signature: ranges that cannot be randomized without changing
// it. Those are where comparison operands live, so the targeted search
// is restricted to them. Ranges that tolerate randomization are dropped.
func Colorize(exec ExecFunc, rnd *rand.Rand, data []byte, want signal.Signal) ([]Range, error) {
	if len(data) == 0 || want.Empty() {
		return nil, nil
	}
	var loadBearing []Range
	queue := []Range{{0, len(data)}}
	execs := 0
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if execs >= colorizeMaxExecs {
			// Budget exhausted: conservatively treat the rest as load-bearing.
			loadBearing = append(loadBearing, r)
			continue
		}
		cand := append([]byte{}, data...)
		for i := r.Start; i < r.End; i++ {
			cand[i] = byte(rnd.Intn(256))
		}
		execs++
		sig, err := exec(cand)
		if err != nil {
			return nil, err
		}
		if sig.Equal(want) {
			continue // freely replaceable, not interesting for operands
		}
		if r.End-r.Start == 1 {
			loadBearing = append(loadBearing, r)
			continue
		}
		mid := (r.Start + r.End) / 2
		queue = append(queue, Range{r.Start, mid}, Range{mid, r.End})
	}
	return merge(loadBearing), nil
}

func merge(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}
	// The binary split emits ranges in level order, not position order,
	// so sort before coalescing adjacent ranges.
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	var out []Range
	for _, r := range ranges {
		if n := len(out); n > 0 && out[n-1].End >= r.Start {
			if r.End > out[n-1].End {
				out[n-1].End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
