// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stat provides prometheus/streamz style metrics (Val type) for
// instrumenting the fuzzer, plus a global registry that the console
// monitor renders from.
//
// Simple use:
//
//	statExecs := stat.New("exec total", "total executions", stat.Rate{})
//	statExecs.Add(1)
package stat

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/gohistogram"
	"github.com/prometheus/client_golang/prometheus"
)

type UI struct {
	Name  string
	Desc  string
	Value string
	V     int
}

func New(name, desc string, opts ...any) *Val {
	return global.New(name, desc, opts...)
}

func Collect() []UI {
	return global.Collect()
}

var global = newSet()

type set struct {
	mu      sync.Mutex
	vals    map[string]*Val
	started time.Time
}

func newSet() *set {
	return &set{
		vals:    make(map[string]*Val),
		started: time.Now(),
	}
}

// Rate says to visualize metric rate per unit of time rather than total value.
type Rate struct{}

// Distribution says to collect a histogram of individual samples.
type Distribution struct{}

// Prometheus exports the metric to Prometheus under the given name.
type Prometheus string

func (s *set) New(name, desc string, opts ...any) *Val {
	v := &Val{
		name: name,
		desc: desc,
		fmt:  func(v int, period time.Duration) string { return strconv.Itoa(v) },
	}
	for _, o := range opts {
		switch opt := o.(type) {
		case Rate:
			v.fmt = formatRate
		case Distribution:
			v.hist = gohistogram.NewHistogram(255)
		case func() int:
			v.ext = opt
		case func(int, time.Duration) string:
			v.fmt = opt
		case Prometheus:
			prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: string(opt),
				Help: desc,
			},
				func() float64 { return float64(v.Val()) },
			))
		default:
			panic(fmt.Sprintf("unknown stats option %#v", o))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[name] = v
	return v
}

func (s *set) Collect() []UI {
	s.mu.Lock()
	defer s.mu.Unlock()
	period := time.Since(s.started)
	if period < time.Second {
		period = time.Second
	}
	var res []UI
	for _, v := range s.vals {
		val := v.Val()
		res = append(res, UI{
			Name:  v.name,
			Desc:  v.desc,
			Value: v.fmt(val, period),
			V:     val,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

type Val struct {
	name   string
	desc   string
	val    atomic.Int64
	ext    func() int
	fmt    func(int, time.Duration) string
	histMu sync.Mutex
	hist   *gohistogram.NumericHistogram
}

func (v *Val) Add(val int) {
	if v.ext != nil {
		panic(fmt.Sprintf("stat %v is in the external mode", v.name))
	}
	v.val.Add(int64(val))
	if v.hist != nil {
		v.histMu.Lock()
		v.hist.Add(float64(val))
		v.histMu.Unlock()
	}
}

func (v *Val) Name() string {
	return v.name
}

func (v *Val) Val() int {
	if v.ext != nil {
		return v.ext()
	}
	return int(v.val.Load())
}

// Quantile returns an approximate sample quantile for Distribution metrics.
func (v *Val) Quantile(q float64) float64 {
	if v.hist == nil {
		return 0
	}
	v.histMu.Lock()
	defer v.histMu.Unlock()
	return v.hist.Quantile(q)
}

func formatRate(v int, period time.Duration) string {
	secs := int(period.Seconds())
	if x := v / secs; x >= 10 {
		return fmt.Sprintf("%v (%v/sec)", v, x)
	}
	if x := v * 60 / secs; x >= 10 {
		return fmt.Sprintf("%v (%v/min)", v, x)
	}
	return fmt.Sprintf("%v (%v/hour)", v, v*3600/secs)
}
