// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sched

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorchfuzz/scorch/pkg/corpus"
	"github.com/scorchfuzz/scorch/pkg/hash"
)

func makeCorpus(t *testing.T, n int) *corpus.Corpus {
	t.Helper()
	c := corpus.New(t.TempDir(), 0)
	for i := 0; i < n; i++ {
		_, _, err := c.Save([]byte(fmt.Sprintf("seed-%d", i)), uint64(1000*(i+1)), i)
		require.NoError(t, err)
	}
	return c
}

func TestEmptyCorpus(t *testing.T) {
	s := New(corpus.New(t.TempDir(), 0), rand.New(rand.NewSource(0)))
	assert.Nil(t, s.Next())
}

func TestCycleFairness(t *testing.T) {
	const n = 10
	c := makeCorpus(t, n)
	s := New(c, rand.New(rand.NewSource(1)))

	// Within one cycle every item is selected exactly once.
	picked := make(map[hash.Sig]int)
	for i := 0; i < n; i++ {
		item := s.Next()
		require.NotNil(t, item)
		picked[item.Sig]++
	}
	assert.Len(t, picked, n)
	for _, count := range picked {
		assert.Equal(t, 1, count)
	}

	// The next pick starts a fresh cycle rather than returning nil.
	assert.NotNil(t, s.Next())
}

func TestNewItemsJoinRunningCycle(t *testing.T) {
	c := makeCorpus(t, 3)
	s := New(c, rand.New(rand.NewSource(2)))
	require.NotNil(t, s.Next())

	item, _, err := c.Save([]byte("late arrival"), 500, 10)
	require.NoError(t, err)

	found := false
	for i := 0; i < 3; i++ { // 2 remaining + 1 new
		if s.Next() == item {
			found = true
		}
	}
	assert.True(t, found, "newly saved item was not scheduled within the cycle")
}

func TestDeterminism(t *testing.T) {
	pickOrder := func() []hash.Sig {
		c := corpus.New(t.TempDir(), 0)
		for i := 0; i < 8; i++ {
			_, _, err := c.Save([]byte(fmt.Sprintf("seed-%d", i)), uint64(100*(i+1)), i%3)
			require.NoError(t, err)
		}
		s := New(c, rand.New(rand.NewSource(42)))
		var order []hash.Sig
		for i := 0; i < 16; i++ {
			order = append(order, s.Next().Sig)
		}
		return order
	}
	assert.Equal(t, pickOrder(), pickOrder())
}

func TestExploreBias(t *testing.T) {
	c := makeCorpus(t, 2)
	s := New(c, rand.New(rand.NewSource(3)))
	items := c.Items()
	fresh, worn := items[0], items[1]
	for i := 0; i < 50; i++ {
		c.OnScheduled(worn)
	}
	s.refresh()
	assert.Greater(t, s.weight(fresh), s.weight(worn))

	// Energy respects the configured bounds and decays with scheduling.
	eFresh, eWorn := s.Energy(fresh), s.Energy(worn)
	assert.GreaterOrEqual(t, eFresh, MinEnergy)
	assert.LessOrEqual(t, eFresh, MaxEnergy)
	assert.GreaterOrEqual(t, eWorn, MinEnergy)
	assert.GreaterOrEqual(t, eFresh, eWorn)
}
