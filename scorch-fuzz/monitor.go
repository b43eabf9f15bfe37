// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scorchfuzz/scorch/pkg/bus"
	"github.com/scorchfuzz/scorch/pkg/log"
)

// monitor aggregates the Stats events the workers publish and renders
// a periodic console status line. It also exports campaign-wide totals
// to prometheus (per-worker counters live in the worker processes and
// arrive here only as snapshots).
type monitor struct {
	mu      sync.Mutex
	clients map[string]map[string]uint64
	crashes int

	lastExecs uint64
	lastTime  time.Time
}

func newMonitor() *monitor {
	m := &monitor{
		clients:  make(map[string]map[string]uint64),
		lastTime: time.Now(),
	}
	for _, g := range []struct {
		name, help, key string
	}{
		{"scorch_campaign_execs", "Total executions across all workers", "exec total"},
		{"scorch_campaign_corpus", "Corpus additions across all workers", "corpus additions"},
		{"scorch_campaign_crashes", "Objective hits across all workers", "crashes"},
	} {
		key := g.key
		prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}, func() float64 {
			return float64(m.total(key))
		}))
	}
	return m
}

func (m *monitor) observe(ev bus.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.Type {
	case bus.EventStats:
		m.clients[ev.Client] = ev.Meta
	case bus.EventObjective:
		m.crashes++
	}
}

func (m *monitor) total(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum uint64
	for _, meta := range m.clients {
		sum += meta[key]
	}
	return sum
}

func (m *monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.report()
		}
	}
}

func (m *monitor) report() {
	execs := m.total("exec total")
	corpus := m.total("corpus additions")
	imported := m.total("imported")
	m.mu.Lock()
	workers := len(m.clients)
	crashes := m.crashes
	rate := float64(execs-m.lastExecs) / time.Since(m.lastTime).Seconds()
	m.lastExecs = execs
	m.lastTime = time.Now()
	m.mu.Unlock()
	log.Logf(0, "workers %v, execs %v (%.0f/sec), corpus %v (+%v imported), crashes %v",
		workers, execs, rate, corpus, imported, crashes)
}
