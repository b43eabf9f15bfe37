// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package gen

import (
	"bytes"
	"math/rand"

	"github.com/scorchfuzz/scorch/pkg/corpus"
)

// Grimoire mutates the generalized representation of a seed. All
// operators confine themselves to gap segments, a candidate is
// byte-identical to the seed outside the gaps.
type Grimoire struct {
	rnd      *rand.Rand
	stackPow int
}

func NewGrimoire(rnd *rand.Rand, stackPow int) *Grimoire {
	if stackPow <= 0 {
		stackPow = 3
	}
	return &Grimoire{rnd: rnd, stackPow: stackPow}
}

// Mutate produces one structural candidate. other is the generalized
// form of a different corpus item used as a fragment donor (may be nil).
// The returned value is a fresh copy, seed is not modified.
func (g *Grimoire) Mutate(seed, other *corpus.Generalized) *corpus.Generalized {
	out := seed.Clone()
	count := 1 + g.rnd.Intn(1<<g.stackPow)
	for i := 0; i < count; i++ {
		switch g.rnd.Intn(4) {
		case 0:
			g.extension(out, other)
		case 1:
			g.recursiveReplacement(out, other)
		case 2:
			g.stringReplacement(out)
		case 3:
			g.randomDelete(out)
		}
	}
	return out
}

func (g *Grimoire) gapIndices(gen *corpus.Generalized) []int {
	var gaps []int
	for i, seg := range gen.Segments {
		if seg.Gap {
			gaps = append(gaps, i)
		}
	}
	return gaps
}

// extension appends donor content inside one of the seed's gaps.
func (g *Grimoire) extension(gen, other *corpus.Generalized) {
	gaps := g.gapIndices(gen)
	if len(gaps) == 0 || other == nil {
		return
	}
	donor := g.donorBytes(other)
	if donor == nil {
		return
	}
	idx := gaps[g.rnd.Intn(len(gaps))]
	seg := &gen.Segments[idx]
	seg.Data = append(append([]byte{}, seg.Data...), donor...)
}

// recursiveReplacement substitutes gap content with donor fragments,
// repeated a small random number of times.
func (g *Grimoire) recursiveReplacement(gen, other *corpus.Generalized) {
	if other == nil {
		return
	}
	depth := 1 + g.rnd.Intn(5)
	for i := 0; i < depth; i++ {
		gaps := g.gapIndices(gen)
		if len(gaps) == 0 {
			return
		}
		donor := g.donorBytes(other)
		if donor == nil {
			return
		}
		idx := gaps[g.rnd.Intn(len(gaps))]
		gen.Segments[idx].Data = append([]byte{}, donor...)
	}
}

// stringReplacement swaps one substring occurrence inside a gap for
// content taken from another gap of the same input.
func (g *Grimoire) stringReplacement(gen *corpus.Generalized) {
	gaps := g.gapIndices(gen)
	if len(gaps) < 1 {
		return
	}
	idx := gaps[g.rnd.Intn(len(gaps))]
	seg := &gen.Segments[idx]
	if len(seg.Data) < 2 {
		return
	}
	// Pick a short needle inside the gap and a replacement from any gap.
	start := g.rnd.Intn(len(seg.Data) - 1)
	n := 1 + g.rnd.Intn(min(len(seg.Data)-start, 8))
	needle := append([]byte{}, seg.Data[start:start+n]...)
	donorIdx := gaps[g.rnd.Intn(len(gaps))]
	donor := gen.Segments[donorIdx].Data
	if len(donor) == 0 {
		return
	}
	rStart := g.rnd.Intn(len(donor))
	rEnd := rStart + 1 + g.rnd.Intn(min(len(donor)-rStart, 8))
	replacement := append([]byte{}, donor[rStart:rEnd]...)
	if pos := bytes.Index(seg.Data, needle); pos >= 0 {
		out := append([]byte{}, seg.Data[:pos]...)
		out = append(out, replacement...)
		out = append(out, seg.Data[pos+len(needle):]...)
		seg.Data = out
	}
}

// randomDelete drops the content of one gap.
func (g *Grimoire) randomDelete(gen *corpus.Generalized) {
	gaps := g.gapIndices(gen)
	if len(gaps) == 0 {
		return
	}
	gen.Segments[gaps[g.rnd.Intn(len(gaps))]].Data = nil
}

// donorBytes picks the content of a random gap of the donor input.
func (g *Grimoire) donorBytes(other *corpus.Generalized) []byte {
	gaps := g.gapIndices(other)
	if len(gaps) == 0 {
		return nil
	}
	return other.Segments[gaps[g.rnd.Intn(len(gaps))]].Data
}
