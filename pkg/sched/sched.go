// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package sched decides which corpus item to mutate next and how many
// mutation attempts ("energy") to spend on it.
//
// Selection is weighted random without replacement within a cycle:
// every item is picked exactly once per cycle, probability proportional
// to its weight. The weight follows an explore power schedule, favoring
// fast seeds, seeds that discovered rare signal, and seeds that were
// scheduled few times so far.
package sched

import (
	"math"
	"math/rand"

	"github.com/scorchfuzz/scorch/pkg/corpus"
	"github.com/scorchfuzz/scorch/pkg/hash"
)

// Energy bounds per scheduling. The relative weighting policy comes from
// the power schedule, the absolute ceiling is our own choice.
const (
	MinEnergy = 16
	MaxEnergy = 1024
)

type Scheduler struct {
	corpus *corpus.Corpus
	rnd    *rand.Rand

	cycle []*corpus.Item
	seen  map[hash.Sig]bool

	avgExecNS float64
	avgSignal float64
}

func New(c *corpus.Corpus, rnd *rand.Rand) *Scheduler {
	return &Scheduler{
		corpus: c,
		rnd:    rnd,
		seen:   make(map[hash.Sig]bool),
	}
}

// Next returns the next mutation seed, or nil if the corpus is empty.
// New corpus items (own discoveries or peer merges) join the running
// cycle immediately so they are not starved until the next cycle.
func (s *Scheduler) Next() *corpus.Item {
	s.refresh()
	if len(s.cycle) == 0 {
		if len(s.seen) == 0 {
			return nil // no execution happens until seeds appear
		}
		// Cycle exhausted: start a new one over the whole corpus.
		s.seen = make(map[hash.Sig]bool)
		s.refresh()
	}
	return s.pick()
}

func (s *Scheduler) refresh() {
	items := s.corpus.Items()
	if len(items) == 0 {
		return
	}
	var sumExec, sumSig float64
	for _, item := range items {
		sumExec += float64(item.ExecTimeNS)
		sumSig += float64(item.NewSignal)
	}
	s.avgExecNS = sumExec / float64(len(items))
	s.avgSignal = sumSig / float64(len(items))
	for _, item := range items {
		if !s.seen[item.Sig] {
			s.seen[item.Sig] = true
			s.cycle = append(s.cycle, item)
		}
	}
}

func (s *Scheduler) pick() *corpus.Item {
	total := 0.0
	for _, item := range s.cycle {
		total += s.weight(item)
	}
	val := s.rnd.Float64() * total
	idx := len(s.cycle) - 1
	acc := 0.0
	for i, item := range s.cycle {
		acc += s.weight(item)
		if val < acc {
			idx = i
			break
		}
	}
	item := s.cycle[idx]
	s.cycle = append(s.cycle[:idx], s.cycle[idx+1:]...)
	return item
}

// weight implements the explore schedule: under-explored seeds are
// favored over purely high-value ones.
func (s *Scheduler) weight(item *corpus.Item) float64 {
	speed := 1.0
	if item.ExecTimeNS > 0 && s.avgExecNS > 0 {
		speed = s.avgExecNS / float64(item.ExecTimeNS)
	}
	rarity := (float64(item.NewSignal) + 1) / (s.avgSignal + 1)
	decay := 1 / math.Sqrt(float64(1+item.ScheduledCount))
	w := speed * rarity * decay
	if w < 1e-6 {
		w = 1e-6
	}
	return w
}

// Energy returns the number of mutation attempts to spend on item now.
// The schedule only defines relative weighting; the absolute cap is
// clamped to [MinEnergy, MaxEnergy].
func (s *Scheduler) Energy(item *corpus.Item) int {
	e := int(256 * s.weight(item))
	if e < MinEnergy {
		e = MinEnergy
	}
	if e > MaxEnergy {
		e = MaxEnergy
	}
	return e
}
