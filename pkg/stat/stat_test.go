// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	s := newSet()
	plain := s.New("plain", "plain counter")
	plain.Add(3)
	plain.Add(4)
	s.New("external", "external value", func() int { return 42 })
	dist := s.New("dist", "sample distribution", Distribution{})
	for i := 1; i <= 100; i++ {
		dist.Add(i)
	}

	vals := map[string]int{}
	for _, ui := range s.Collect() {
		vals[ui.Name] = ui.V
	}
	assert.Equal(t, 7, vals["plain"])
	assert.Equal(t, 42, vals["external"])
	assert.InDelta(t, 50, dist.Quantile(0.5), 5)
}

func TestExternalPanicsOnAdd(t *testing.T) {
	s := newSet()
	v := s.New("ext", "external", func() int { return 1 })
	assert.Panics(t, func() { v.Add(1) })
}
