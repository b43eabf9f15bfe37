// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package gen

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorchfuzz/scorch/pkg/corpus"
	"github.com/scorchfuzz/scorch/pkg/signal"
)

// fakeTarget cares only about the bytes listed in keep, in order.
// Everything else is filler the generalization should turn into gaps.
func fakeTarget(keep []byte) ExecFunc {
	return func(data []byte) (signal.Signal, error) {
		var elems []uint32
		j := 0
		for _, b := range data {
			if j < len(keep) && b == keep[j] {
				elems = append(elems, uint32(j))
				j++
			}
		}
		return signal.FromRaw(elems), nil
	}
}

func TestGeneralize(t *testing.T) {
	exec := fakeTarget([]byte{'<', '>'})
	data := []byte("<AAAABBBBCCCCDDD>")
	want, err := exec(data)
	require.NoError(t, err)

	g, err := Generalize(exec, data, want)
	require.NoError(t, err)
	require.NotNil(t, g)

	// Flatten reproduces the original seed.
	assert.Equal(t, data, g.Flatten())

	// The filler is replaceable, the delimiters are not.
	hasGap := false
	for _, seg := range g.Segments {
		if seg.Gap {
			hasGap = true
			assert.NotContains(t, string(seg.Data), "<")
			assert.NotContains(t, string(seg.Data), ">")
		}
	}
	assert.True(t, hasGap)

	// Dropping every gap still yields the wanted signature.
	var stripped []byte
	for _, seg := range g.Segments {
		if !seg.Gap {
			stripped = append(stripped, seg.Data...)
		}
	}
	sig, err := exec(stripped)
	require.NoError(t, err)
	assert.True(t, sig.Equal(want))
}

func TestGeneralizeNothingRemovable(t *testing.T) {
	// Every byte is load-bearing: no metadata is produced.
	exec := fakeTarget([]byte("abcdefgh"))
	data := []byte("abcdefgh")
	want, err := exec(data)
	require.NoError(t, err)
	g, err := Generalize(exec, data, want)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestGeneralizeTiny(t *testing.T) {
	g, err := Generalize(fakeTarget(nil), []byte("ab"), signal.FromRaw([]uint32{1}))
	require.NoError(t, err)
	assert.Nil(t, g)
}

func skeleton(g *corpus.Generalized) [][]byte {
	return g.Skeleton()
}

func TestGrimoirePreservesSkeleton(t *testing.T) {
	seed := &corpus.Generalized{Segments: []corpus.Segment{
		{Gap: false, Data: []byte("HDR|")},
		{Gap: true, Data: []byte("payload-one")},
		{Gap: false, Data: []byte("|MID|")},
		{Gap: true, Data: []byte("payload-two")},
		{Gap: false, Data: []byte("|END")},
	}}
	other := &corpus.Generalized{Segments: []corpus.Segment{
		{Gap: false, Data: []byte("X")},
		{Gap: true, Data: []byte("donor-fragment")},
	}}
	gr := NewGrimoire(rand.New(rand.NewSource(0)), 3)
	want := skeleton(seed)
	for i := 0; i < 1000; i++ {
		cand := gr.Mutate(seed, other)
		// Fixed segments stay byte-identical and in order.
		assert.Equal(t, want, skeleton(cand))
		// The flat candidate contains the skeleton in order.
		flat := cand.Flatten()
		pos := 0
		for _, fixed := range want {
			idx := bytes.Index(flat[pos:], fixed)
			require.GreaterOrEqual(t, idx, 0)
			pos += idx + len(fixed)
		}
	}
	// Seed itself is untouched.
	assert.Equal(t, []byte("HDR|payload-one|MID|payload-two|END"), seed.Flatten())
}

func TestGrimoireProducesVariety(t *testing.T) {
	seed := &corpus.Generalized{Segments: []corpus.Segment{
		{Gap: false, Data: []byte("[")},
		{Gap: true, Data: []byte("aaaa")},
		{Gap: false, Data: []byte("]")},
	}}
	other := &corpus.Generalized{Segments: []corpus.Segment{
		{Gap: true, Data: []byte("bbbb")},
	}}
	gr := NewGrimoire(rand.New(rand.NewSource(1)), 3)
	variants := make(map[string]bool)
	for i := 0; i < 200; i++ {
		variants[string(gr.Mutate(seed, other).Flatten())] = true
	}
	assert.Greater(t, len(variants), 2)
}
