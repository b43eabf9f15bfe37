// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cmplog

import (
	"bytes"
	"encoding/binary"
)

// Range marks a half-open byte range [Start, End) of the seed.
type Range struct {
	Start, End int
}

// MaxCandidates bounds how many targeted candidates one tracing run may
// produce.
const MaxCandidates = 256

// Mutations synthesizes candidates that satisfy logged comparisons:
// wherever an encoding of one operand occurs in the seed, it is replaced
// with the matching encoding of the other operand. When ranges is
// non-empty the search is restricted to those (load-bearing) ranges.
func Mutations(data []byte, cmps []Cmp, ranges []Range, max int) [][]byte {
	if max <= 0 || max > MaxCandidates {
		max = MaxCandidates
	}
	var out [][]byte
	seen := make(map[string]bool)
	emit := func(cand []byte) bool {
		key := string(cand)
		if seen[key] {
			return len(out) < max
		}
		seen[key] = true
		out = append(out, cand)
		return len(out) < max
	}
	for _, cmp := range cmps {
		for _, pair := range cmp.Ops {
			for _, dir := range [][2]uint64{pair, {pair[1], pair[0]}} {
				if !substitute(data, dir[0], dir[1], cmp.Shape, ranges, emit) {
					return out
				}
			}
		}
	}
	return out
}

// substitute finds encodings of find in data and replaces them with the
// same-width encoding of repl. Both endiannesses are tried, plus off-by-one
// variants to flip strict/non-strict comparisons. Returns false once the
// candidate budget is exhausted.
func substitute(data []byte, find, repl uint64, width int, ranges []Range, emit func([]byte) bool) bool {
	for _, bigEndian := range []bool{false, true} {
		for _, delta := range []uint64{0, 1, ^uint64(0)} { // find, find+1, find-1
			pat := encode(find+delta, width, bigEndian)
			rep := encode(repl, width, bigEndian)
			for _, pos := range occurrences(data, pat, ranges) {
				cand := append([]byte{}, data...)
				copy(cand[pos:], rep)
				if !emit(cand) {
					return false
				}
			}
		}
	}
	return true
}

func encode(v uint64, width int, bigEndian bool) []byte {
	var buf [8]byte
	if bigEndian {
		binary.BigEndian.PutUint64(buf[:], v)
		return buf[8-width:]
	}
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:width]
}

func occurrences(data, pat []byte, ranges []Range) []int {
	if len(pat) == 0 || len(pat) > len(data) {
		return nil
	}
	var positions []int
	add := func(lo, hi int) {
		for pos := lo; pos+len(pat) <= hi; {
			idx := bytes.Index(data[pos:hi], pat)
			if idx < 0 {
				break
			}
			positions = append(positions, pos+idx)
			pos += idx + 1
		}
	}
	if len(ranges) == 0 {
		add(0, len(data))
		return positions
	}
	for _, r := range ranges {
		lo, hi := r.Start, r.End
		if lo < 0 {
			lo = 0
		}
		if hi > len(data) {
			hi = len(data)
		}
		add(lo, hi)
	}
	return positions
}
