// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/scorchfuzz/scorch/pkg/bus"
	"github.com/scorchfuzz/scorch/pkg/cmplog"
	"github.com/scorchfuzz/scorch/pkg/config"
	"github.com/scorchfuzz/scorch/pkg/corpus"
	"github.com/scorchfuzz/scorch/pkg/dict"
	"github.com/scorchfuzz/scorch/pkg/forksrv"
	"github.com/scorchfuzz/scorch/pkg/fuzzer"
	"github.com/scorchfuzz/scorch/pkg/log"
	"github.com/scorchfuzz/scorch/pkg/osutil"
	"github.com/scorchfuzz/scorch/pkg/shmem"
)

// runWorker is the per-core fuzzing process. Worker 0 is the main
// node: it additionally runs comparison tracing and foreign dir sync.
func runWorker(cfg *config.Config) error {
	idx, err := strconv.Atoi(os.Getenv(envWorker))
	if err != nil {
		return fmt.Errorf("illegal %v value %q", envWorker, os.Getenv(envWorker))
	}
	core, err := strconv.Atoi(os.Getenv(envCore))
	if err != nil {
		return fmt.Errorf("illegal %v value %q", envCore, os.Getenv(envCore))
	}
	log.SetWorkerPrefix(fmt.Sprintf("w%v", idx))
	if err := osutil.PinToCore(core); err != nil {
		log.Logf(0, "failed to pin to core %v: %v", core, err)
	}
	mainNode := idx == 0

	mapSize, err := forksrv.ProbeMapSize(cfg.Target, cfg.MapBias)
	if err != nil {
		return err
	}
	log.Logf(1, "coverage map size %v", mapSize)
	timeout := time.Duration(cfg.TimeoutSec * float64(time.Second))
	exec, err := forksrv.New(forksrv.Config{
		Bin:       cfg.Target,
		Args:      cfg.TargetArgs,
		Timeout:   timeout,
		MapSize:   mapSize,
		InputFile: filepath.Join(cfg.OutDir, fmt.Sprintf(".cur_input_%v", idx)),
	})
	if err != nil {
		return err
	}
	defer exec.Close()

	var cl *fuzzer.Cmplog
	if mainNode && cfg.Cmplog {
		cl, err = setupCmplog(cfg, timeout, mapSize)
		if err != nil {
			// Targets without comparison instrumentation are fine,
			// the campaign just runs without input-to-state mutation.
			log.Logf(0, "comparison tracing unavailable: %v", err)
		}
	}

	var tokens *dict.Tokens
	if cfg.Dict != "" {
		if tokens, err = dict.LoadFile(cfg.Dict); err != nil {
			return err
		}
		log.Logf(1, "loaded %v dictionary tokens", tokens.Len())
	}

	client, err := bus.Dial(cfg.BusAddr())
	if err != nil {
		return err
	}
	defer client.Close()

	seeds, err := corpus.LoadSeeds(cfg.InputDirs)
	if err != nil {
		return err
	}
	f := fuzzer.New(&fuzzer.Config{
		Corpus:      corpus.New(cfg.QueueDir(), corpus.DefaultCacheSize),
		Objective:   corpus.NewObjective(cfg.CrashDir()),
		Executor:    exec,
		Cmplog:      cl,
		Tokens:      tokens,
		Bus:         client,
		MainNode:    mainNode,
		ForeignDirs: cfg.ForeignDirs,
		RngSeed:     time.Now().UnixNano() ^ int64(idx)<<32,
	})

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()
	if err := f.Bootstrap(seeds); err != nil {
		return err
	}
	return f.Loop(ctx)
}

// setupCmplog creates the comparison log region and a second executor
// whose child traces comparisons into it. Tracing is slower, so it
// runs with a doubled timeout.
func setupCmplog(cfg *config.Config, timeout time.Duration, mapSize int) (*fuzzer.Cmplog, error) {
	seg, err := shmem.Create(cmplog.MapSize())
	if err != nil {
		return nil, err
	}
	exec, err := forksrv.New(forksrv.Config{
		Bin:       cfg.Target,
		Args:      cfg.TargetArgs,
		Timeout:   2 * timeout,
		MapSize:   mapSize,
		InputFile: filepath.Join(cfg.OutDir, ".cur_input_cmplog"),
		Cmplog:    seg,
	})
	if err != nil {
		seg.Close()
		return nil, err
	}
	return &fuzzer.Cmplog{Exec: exec, Region: seg.Mem()}, nil
}
