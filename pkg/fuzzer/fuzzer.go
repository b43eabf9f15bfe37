// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer drives one worker's fuzzing campaign: it schedules
// corpus items, runs the mutation stages over them, classifies
// execution results and exchanges discoveries with the other workers
// over the bus.
package fuzzer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/scorchfuzz/scorch/pkg/bus"
	"github.com/scorchfuzz/scorch/pkg/corpus"
	"github.com/scorchfuzz/scorch/pkg/cover"
	"github.com/scorchfuzz/scorch/pkg/dict"
	"github.com/scorchfuzz/scorch/pkg/forksrv"
	"github.com/scorchfuzz/scorch/pkg/gen"
	"github.com/scorchfuzz/scorch/pkg/log"
	"github.com/scorchfuzz/scorch/pkg/mutate"
	"github.com/scorchfuzz/scorch/pkg/sched"
	"github.com/scorchfuzz/scorch/pkg/signal"
)

// Executor abstracts the execution channel so that tests can drive the
// campaign loop against an in-process target.
type Executor interface {
	Run(data []byte) (*forksrv.Result, error)
}

// Cmplog bundles the comparison tracing channel: a second executor
// whose child maps the comparison log, plus access to that region.
type Cmplog struct {
	Exec   Executor
	Region []byte
}

type Config struct {
	Corpus    *corpus.Corpus
	Objective *corpus.Objective
	Executor  Executor
	// Cmplog is nil on non-main nodes and when the target does not
	// support comparison tracing.
	Cmplog *Cmplog
	Tokens *dict.Tokens
	// Bus is nil in single-worker campaigns.
	Bus      *bus.Client
	MainNode bool
	// ForeignDirs lists external corpus directories to scan for new
	// inputs. Consulted by the sync stage on the main node only.
	ForeignDirs []string
	SyncPeriod  time.Duration
	RngSeed     int64
}

// Fuzzer is the per-worker campaign state. All fields are owned by the
// worker loop goroutine; nothing here is shared between workers except
// through the bus.
type Fuzzer struct {
	cfg       *Config
	rnd       *rand.Rand
	cover     *cover.Cover
	sched     *sched.Scheduler
	mutator   *mutate.Mutator
	grimoire  *gen.Grimoire
	stages    []Stage
	lastSync  time.Time
	synced    map[string]bool
	lastStats time.Time
}

// statsPeriod spaces the Stats events each worker publishes for the
// launcher's monitor.
const statsPeriod = 10 * time.Second

const defaultSyncPeriod = 15 * time.Minute

func New(cfg *Config) *Fuzzer {
	if cfg.SyncPeriod <= 0 {
		cfg.SyncPeriod = defaultSyncPeriod
	}
	rnd := rand.New(rand.NewSource(cfg.RngSeed))
	f := &Fuzzer{
		cfg:      cfg,
		rnd:      rnd,
		cover:    new(cover.Cover),
		sched:    sched.New(cfg.Corpus, rnd),
		mutator:  mutate.New(rnd, cfg.Tokens, mutate.DefaultStackPow),
		grimoire: gen.NewGrimoire(rnd, mutate.DefaultStackPow),
		synced:   make(map[string]bool),
	}
	f.stages = []Stage{
		&cmplogStage{},
		&generalizeStage{},
		&havocStage{},
		&grimoireStage{},
		&syncStage{},
	}
	return f
}

// Bootstrap brings coverage state in line with the persisted corpus
// and feeds the initial seeds through the execution channel. Seed
// inputs that produce no novel signal are discarded.
func (f *Fuzzer) Bootstrap(seeds [][]byte) error {
	if err := f.cfg.Corpus.Load(); err != nil {
		return err
	}
	for _, item := range f.cfg.Corpus.Items() {
		data, err := f.cfg.Corpus.Data(item)
		if err != nil {
			return err
		}
		res, err := f.cfg.Executor.Run(data)
		if err != nil {
			return fmt.Errorf("failed to replay corpus item %v: %w", item.Sig, err)
		}
		if res.Status == forksrv.StatusNormal {
			f.cover.AddRawMaxSignal(cover.Signature(res.Cover))
		}
	}
	for _, seed := range seeds {
		if _, err := f.execute(seed); err != nil {
			return err
		}
	}
	log.Logf(0, "bootstrapped: %v corpus items, %v signal",
		f.cfg.Corpus.Len(), f.cover.MaxSignalLen())
	return nil
}

// Loop runs the campaign until ctx is cancelled. With an empty corpus
// and no seeds the loop idles until the bus delivers inputs.
func (f *Fuzzer) Loop(ctx context.Context) error {
	for ctx.Err() == nil {
		f.drainBus()
		if time.Since(f.lastStats) >= statsPeriod {
			f.lastStats = time.Now()
			f.publish(bus.Event{Type: bus.EventStats, Meta: Snapshot()})
		}
		item := f.sched.Next()
		if item == nil {
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err := f.runStages(ctx, item); err != nil {
			return err
		}
		f.cfg.Corpus.OnScheduled(item)
	}
	return nil
}

func (f *Fuzzer) runStages(ctx context.Context, item *corpus.Item) error {
	f.cfg.Corpus.Pin(item)
	defer f.cfg.Corpus.Unpin(item)
	for _, stage := range f.stages {
		if ctx.Err() != nil {
			return nil
		}
		if !stage.Applies(f, item) {
			continue
		}
		if err := stage.Run(ctx, f, item); err != nil {
			return fmt.Errorf("%v stage failed: %w", stage.Name(), err)
		}
	}
	return nil
}

// execute runs one candidate and feeds the result through the feedback
// evaluator: crashes go to the objective store, novel coverage goes to
// the corpus and over the bus. Returns the new corpus item, if any.
func (f *Fuzzer) execute(data []byte) (*corpus.Item, error) {
	res, err := f.cfg.Executor.Run(data)
	if err != nil {
		return nil, err
	}
	return f.processResult(data, res)
}

func (f *Fuzzer) processResult(data []byte, res *forksrv.Result) (*corpus.Item, error) {
	statExecs.Add(1)
	statExecTime.Add(int(res.Elapsed))
	switch res.Status {
	case forksrv.StatusCrash:
		statCrashes.Add(1)
		if err := f.cfg.Objective.Save(data); err != nil {
			return nil, err
		}
		log.Logf(0, "objective: crash #%v (%v bytes)", f.cfg.Objective.Count(), len(data))
		f.publish(bus.Event{Type: bus.EventObjective, Data: data})
		return nil, nil
	case forksrv.StatusHang:
		statHangs.Add(1)
		return nil, nil
	}
	sign := cover.Signature(res.Cover)
	novel := f.cover.AddRawMaxSignal(sign)
	if novel.Empty() {
		return nil, nil
	}
	item, isNew, err := f.cfg.Corpus.Save(data, uint64(res.Elapsed), novel.Len())
	if err != nil {
		return nil, err
	}
	if !isNew {
		return item, nil
	}
	statInteresting.Add(1)
	f.publish(bus.Event{
		Type:   bus.EventNewInput,
		Data:   data,
		Signal: signal.FromRaw(sign).Serialize(),
		Meta: map[string]uint64{
			bus.MetaExecTimeNS: uint64(res.Elapsed),
			bus.MetaNewSignal:  uint64(novel.Len()),
		},
	})
	return item, nil
}

// signalOf is the execution function handed to generalization and
// colorization: run the data, return its coverage signature. Abnormal
// runs report empty signal, which those algorithms treat as "differs".
func (f *Fuzzer) signalOf(data []byte) (signal.Signal, error) {
	res, err := f.cfg.Executor.Run(data)
	if err != nil {
		return nil, err
	}
	statExecs.Add(1)
	if res.Status != forksrv.StatusNormal {
		return nil, nil
	}
	return signal.FromRaw(cover.Signature(res.Cover)), nil
}

func (f *Fuzzer) publish(ev bus.Event) {
	if f.cfg.Bus == nil {
		return
	}
	if err := f.cfg.Bus.Publish(ev); err != nil {
		log.Logf(1, "failed to publish %v: %v", ev.Type, err)
	}
}

// drainBus imports everything peers published since the last pass.
// Imported inputs carry their signal, so no re-execution happens.
func (f *Fuzzer) drainBus() {
	if f.cfg.Bus == nil {
		return
	}
	for {
		select {
		case ev, ok := <-f.cfg.Bus.Events():
			if !ok {
				return
			}
			f.importEvent(ev)
		default:
			return
		}
	}
}

func (f *Fuzzer) importEvent(ev bus.Event) {
	if ev.Type != bus.EventNewInput {
		return
	}
	f.cover.AddMaxSignal(ev.Signal.Deserialize())
	_, isNew, err := f.cfg.Corpus.Save(ev.Data,
		ev.Meta[bus.MetaExecTimeNS], int(ev.Meta[bus.MetaNewSignal]))
	if err != nil {
		log.Logf(0, "failed to import input from %v: %v", ev.Client, err)
		return
	}
	if isNew {
		statImported.Add(1)
	}
}

// spliceDonor returns the data of a random other corpus item, or nil
// when the corpus holds nothing to splice with.
func (f *Fuzzer) spliceDonor(item *corpus.Item) []byte {
	items := f.cfg.Corpus.Items()
	if len(items) < 2 {
		return nil
	}
	for i := 0; i < 4; i++ {
		other := items[f.rnd.Intn(len(items))]
		if other.Sig == item.Sig {
			continue
		}
		data, err := f.cfg.Corpus.Data(other)
		if err != nil {
			log.Logf(1, "failed to load splice donor: %v", err)
			return nil
		}
		return data
	}
	return nil
}
