// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cover

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketLog(t *testing.T) {
	tests := []struct {
		count byte
		want  uint32
	}{
		{1, 0}, {2, 1}, {3, 2}, {4, 3}, {7, 3}, {8, 4}, {15, 4},
		{16, 5}, {31, 5}, {32, 6}, {127, 6}, {128, 7}, {255, 7},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, bucketLog(test.count), "count=%v", test.count)
	}
}

func TestSignature(t *testing.T) {
	raw := make([]byte, 8)
	raw[2] = 1
	raw[5] = 130
	elems := Signature(raw)
	assert.Equal(t, []uint32{2<<3 | 0, 5<<3 | 7}, elems)

	Reset(raw)
	assert.Nil(t, Signature(raw))
}

func TestAddRawMaxSignalOnce(t *testing.T) {
	var cov Cover
	raw := []uint32{10, 20, 30}
	diff := cov.AddRawMaxSignal(raw)
	assert.Equal(t, 3, diff.Len())
	// The same elements must not be reported as novel twice.
	assert.True(t, cov.AddRawMaxSignal(raw).Empty())
	assert.Equal(t, 3, cov.MaxSignalLen())

	newSig := cov.GrabNewSignal()
	assert.Equal(t, 3, newSig.Len())
	assert.True(t, cov.GrabNewSignal().Empty())
}

func TestBucketPromotionIsNovel(t *testing.T) {
	var cov Cover
	run1 := make([]byte, 4)
	run1[1] = 1
	assert.False(t, cov.AddRawMaxSignal(Signature(run1)).Empty())
	// Same edge, higher hitcount bucket: still interesting.
	run2 := make([]byte, 4)
	run2[1] = 9
	assert.False(t, cov.AddRawMaxSignal(Signature(run2)).Empty())
	// Replaying either run brings nothing new.
	assert.True(t, cov.AddRawMaxSignal(Signature(run1)).Empty())
	assert.True(t, cov.AddRawMaxSignal(Signature(run2)).Empty())
}
