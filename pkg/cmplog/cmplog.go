// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cmplog consumes the comparison log: a fixed-size shared-memory
// structure where target instrumentation records operand pairs observed
// at comparison instructions. The log drives targeted mutation that
// defeats magic-number and checksum-style gates.
package cmplog

import (
	"encoding/binary"
)

// Map geometry, fixed for the lifetime of a worker. Entries are indexed
// by comparison site id, each site keeps up to MapH recent operand pairs.
const (
	MapW = 1 << 16
	MapH = 32

	headerSize  = 8
	operandSize = 16

	// Comparison site kinds.
	typeIns = 1 // instruction operands, consumable
	typeRtn = 2 // routine (memcmp-like) payloads, skipped
)

// MapSize returns the byte size of the shared-memory region.
func MapSize() int {
	return MapW*headerSize + MapW*MapH*operandSize
}

// Cmp is one decoded comparison site.
type Cmp struct {
	Hits  int
	Shape int // operand width in bytes: 1, 2, 4 or 8
	Ops   [][2]uint64
}

// Header layout, little-endian u64:
// hits:24 | id:24 | shape:5 | type:2 | attribute:4 | overflow:1.
func decodeHeader(w uint64) (hits, shape, typ int) {
	hits = int(w & 0xffffff)
	shape = int(w>>48&0x1f) + 1
	typ = int(w >> 53 & 3)
	return
}

// Parse decodes the populated comparison sites from a raw map snapshot.
// An all-zero region (target without cmplog instrumentation) yields nil,
// the guided stage then degrades to zero candidates.
func Parse(region []byte) []Cmp {
	if len(region) < MapSize() {
		return nil
	}
	var cmps []Cmp
	for i := 0; i < MapW; i++ {
		hdr := binary.LittleEndian.Uint64(region[i*headerSize:])
		if hdr == 0 {
			continue
		}
		hits, shape, typ := decodeHeader(hdr)
		if hits == 0 || typ != typeIns {
			continue
		}
		switch shape {
		case 1, 2, 4, 8:
		default:
			continue
		}
		n := hits
		if n > MapH {
			n = MapH
		}
		cmp := Cmp{Hits: hits, Shape: shape}
		base := MapW*headerSize + i*MapH*operandSize
		seen := make(map[[2]uint64]bool)
		for j := 0; j < n; j++ {
			op0 := binary.LittleEndian.Uint64(region[base+j*operandSize:])
			op1 := binary.LittleEndian.Uint64(region[base+j*operandSize+8:])
			if op0 == op1 {
				continue // already satisfied, nothing to learn
			}
			pair := [2]uint64{op0, op1}
			if seen[pair] {
				continue
			}
			seen[pair] = true
			cmp.Ops = append(cmp.Ops, pair)
		}
		if len(cmp.Ops) > 0 {
			cmps = append(cmps, cmp)
		}
	}
	return cmps
}
