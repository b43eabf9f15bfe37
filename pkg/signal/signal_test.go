// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeGrowsMonotonically(t *testing.T) {
	var total Signal
	sizes := []int{0}
	for _, raw := range [][]uint32{{1, 2, 3}, {2, 3}, {}, {3, 4}, {1}} {
		total.Merge(FromRaw(raw))
		sizes = append(sizes, total.Len())
	}
	for i := 1; i < len(sizes); i++ {
		assert.GreaterOrEqual(t, sizes[i], sizes[i-1])
	}
	assert.Equal(t, 4, total.Len())
}

func TestDiffRaw(t *testing.T) {
	s := FromRaw([]uint32{1, 2, 3})
	assert.Nil(t, s.DiffRaw([]uint32{1, 2, 3}))
	diff := s.DiffRaw([]uint32{3, 4, 5})
	assert.Equal(t, 2, diff.Len())
	s.Merge(diff)
	assert.Nil(t, s.DiffRaw([]uint32{3, 4, 5}))
}

func TestSerializeRoundTrip(t *testing.T) {
	s := FromRaw([]uint32{7, 11, 13})
	got := s.Serialize().Deserialize()
	assert.True(t, s.Equal(got))
	assert.True(t, Signal(nil).Equal(Serial{}.Deserialize()))
}

func TestIntersection(t *testing.T) {
	s := FromRaw([]uint32{1, 2, 3, 4})
	is := s.Intersection(FromRaw([]uint32{2, 4, 6}))
	assert.Equal(t, 2, is.Len())
}
