// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cover converts raw edge-counter maps produced by the target
// instrumentation into feedback signal and tracks the cumulative signal
// known to the fuzzer.
package cover

import (
	"sync"

	"github.com/scorchfuzz/scorch/pkg/signal"
)

// Hitcounts are folded into 8 buckets the way afl does it:
// 1, 2, 3, 4-7, 8-15, 16-31, 32-127, 128-255.
// An edge moving to a higher bucket yields a fresh signal element.
func bucketLog(count byte) uint32 {
	switch {
	case count == 1:
		return 0
	case count == 2:
		return 1
	case count == 3:
		return 2
	case count < 8:
		return 3
	case count < 16:
		return 4
	case count < 32:
		return 5
	case count < 128:
		return 6
	default:
		return 7
	}
}

// Signature extracts run-local raw signal elements from a coverage map
// snapshot. Element = edge index << 3 | hitcount bucket.
func Signature(raw []byte) []uint32 {
	var elems []uint32
	for i, count := range raw {
		if count == 0 {
			continue
		}
		elems = append(elems, uint32(i)<<3|bucketLog(count))
	}
	return elems
}

// Reset zeroes the map region so that hitcounts stay run-local.
// Called by the owning worker before every execution.
func Reset(region []byte) {
	for i := range region {
		region[i] = 0
	}
}

// Cover keeps track of the signal known to the fuzzer.
type Cover struct {
	mu        sync.RWMutex
	maxSignal signal.Signal // max signal ever observed across the campaign
	newSignal signal.Signal // newly identified max signal
}

// AddMaxSignal merges signal that should no longer be chased after
// (e.g. received from a peer worker).
func (cover *Cover) AddMaxSignal(sign signal.Signal) {
	cover.mu.Lock()
	defer cover.mu.Unlock()
	cover.maxSignal.Merge(sign)
}

// AddRawMaxSignal returns the novel part of raw and merges it into the
// cumulative signal. The merge happens exactly once per accepted run:
// a second call with the same raw elements returns an empty diff.
func (cover *Cover) AddRawMaxSignal(raw []uint32) signal.Signal {
	cover.mu.Lock()
	defer cover.mu.Unlock()
	diff := cover.maxSignal.DiffRaw(raw)
	if diff.Empty() {
		return diff
	}
	cover.maxSignal.Merge(diff)
	cover.newSignal.Merge(diff)
	return diff
}

func (cover *Cover) CopyMaxSignal() signal.Signal {
	cover.mu.RLock()
	defer cover.mu.RUnlock()
	return cover.maxSignal.Copy()
}

// GrabNewSignal returns signal accumulated since the last call and resets it.
// Used to decide what to broadcast to peer workers.
func (cover *Cover) GrabNewSignal() signal.Signal {
	cover.mu.Lock()
	defer cover.mu.Unlock()
	sign := cover.newSignal
	cover.newSignal = nil
	return sign
}

func (cover *Cover) MaxSignalLen() int {
	cover.mu.RLock()
	defer cover.mu.RUnlock()
	return len(cover.maxSignal)
}
