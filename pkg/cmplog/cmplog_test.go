// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cmplog

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorchfuzz/scorch/pkg/signal"
)

func makeHeader(hits, shape, typ int) uint64 {
	return uint64(hits) | uint64(shape-1)<<48 | uint64(typ)<<53
}

func makeRegion(t *testing.T, site int, hdr uint64, ops ...[2]uint64) []byte {
	t.Helper()
	region := make([]byte, MapSize())
	binary.LittleEndian.PutUint64(region[site*headerSize:], hdr)
	base := MapW*headerSize + site*MapH*operandSize
	for j, pair := range ops {
		binary.LittleEndian.PutUint64(region[base+j*operandSize:], pair[0])
		binary.LittleEndian.PutUint64(region[base+j*operandSize+8:], pair[1])
	}
	return region
}

func TestParse(t *testing.T) {
	region := makeRegion(t, 42, makeHeader(2, 4, typeIns),
		[2]uint64{0xdeadbeef, 0x11223344},
		[2]uint64{0xdeadbeef, 0x11223344}, // duplicate pair collapses
	)
	cmps := Parse(region)
	require.Len(t, cmps, 1)
	assert.Equal(t, 4, cmps[0].Shape)
	assert.Equal(t, [][2]uint64{{0xdeadbeef, 0x11223344}}, cmps[0].Ops)
}

func TestParseDegradesToNothing(t *testing.T) {
	// No instrumentation: all-zero map yields no comparisons at all.
	assert.Nil(t, Parse(make([]byte, MapSize())))
	// Truncated region is not parsed.
	assert.Nil(t, Parse(make([]byte, 100)))
	// Routine-type and satisfied comparisons are skipped.
	region := makeRegion(t, 1, makeHeader(1, 4, typeRtn), [2]uint64{1, 2})
	assert.Nil(t, Parse(region))
	region = makeRegion(t, 1, makeHeader(1, 4, typeIns), [2]uint64{7, 7})
	assert.Nil(t, Parse(region))
}

func TestMutationsSatisfyComparison(t *testing.T) {
	// The seed contains the observed operand 0x61616161 ("aaaa"), the
	// comparison wants 0x42424242. One candidate must have it replaced.
	seed := []byte("xxaaaaxx")
	cmps := []Cmp{{Hits: 1, Shape: 4, Ops: [][2]uint64{{0x61616161, 0x42424242}}}}
	cands := Mutations(seed, cmps, nil, 0)
	require.NotEmpty(t, cands)
	found := false
	for _, cand := range cands {
		require.Len(t, cand, len(seed))
		if bytes.Contains(cand, []byte("BBBB")) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestMutationsRespectRanges(t *testing.T) {
	seed := []byte("aaaa....aaaa")
	cmps := []Cmp{{Hits: 1, Shape: 4, Ops: [][2]uint64{{0x61616161, 0x42424242}}}}
	cands := Mutations(seed, cmps, []Range{{8, 12}}, 0)
	for _, cand := range cands {
		// Only the tail occurrence may be rewritten.
		assert.Equal(t, []byte("aaaa"), cand[:4])
	}
	require.NotEmpty(t, cands)
}

func TestMutationsBounded(t *testing.T) {
	seed := bytes.Repeat([]byte{0x41}, 1024)
	cmps := []Cmp{{Hits: 1, Shape: 1, Ops: [][2]uint64{{0x41, 0x42}}}}
	cands := Mutations(seed, cmps, nil, 16)
	assert.LessOrEqual(t, len(cands), 16)
	assert.NotEmpty(t, cands)
}

func TestColorize(t *testing.T) {
	// A fake target that only cares about bytes 4..8 ("MAGI").
	exec := func(data []byte) (signal.Signal, error) {
		if len(data) >= 8 && bytes.Equal(data[4:8], []byte("MAGI")) {
			return signal.FromRaw([]uint32{1}), nil
		}
		return signal.FromRaw([]uint32{0}), nil
	}
	data := []byte("....MAGI....")
	want, err := exec(data)
	require.NoError(t, err)
	ranges, err := Colorize(exec, rand.New(rand.NewSource(0)), data, want)
	require.NoError(t, err)
	require.NotEmpty(t, ranges)
	// The load-bearing ranges cover the magic and not much else.
	covered := make([]bool, len(data))
	total := 0
	for _, r := range ranges {
		for i := r.Start; i < r.End; i++ {
			covered[i] = true
			total++
		}
	}
	for i := 4; i < 8; i++ {
		assert.True(t, covered[i], "magic byte %d not marked load-bearing", i)
	}
	assert.LessOrEqual(t, total, 6)
}

func TestMergeLevelOrder(t *testing.T) {
	// The split queue yields singletons in level order, e.g. for
	// "....MAGI...." the terminal ranges arrive as 6,4,5,7. Coalescing
	// must not lose the out-of-order ones.
	got := merge([]Range{{6, 7}, {4, 5}, {5, 6}, {7, 8}})
	assert.Equal(t, []Range{{4, 8}}, got)

	// Disjoint ranges stay separate.
	got = merge([]Range{{9, 10}, {0, 2}})
	assert.Equal(t, []Range{{0, 2}, {9, 10}}, got)
}
