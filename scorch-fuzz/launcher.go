// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/scorchfuzz/scorch/pkg/bus"
	"github.com/scorchfuzz/scorch/pkg/config"
	"github.com/scorchfuzz/scorch/pkg/log"
	"github.com/scorchfuzz/scorch/pkg/osutil"
)

// runLauncher sets the campaign up and supervises one worker process
// per selected core. The launcher owns the bus broker and the monitor;
// all fuzzing happens in the children.
func runLauncher(cfg *config.Config) error {
	cores, err := config.ParseCores(cfg.Cores, runtime.NumCPU())
	if err != nil {
		return err
	}
	for _, dir := range []string{cfg.OutDir, cfg.QueueDir(), cfg.CrashDir()} {
		if err := osutil.MkdirAll(dir); err != nil {
			return err
		}
	}
	mon := newMonitor()
	broker, err := bus.NewBroker(cfg.BusAddr(), mon.observe)
	if err != nil {
		return err
	}
	defer broker.Close()
	log.Logf(0, "campaign starting: target %v, %v cores, bus on %v",
		cfg.Target, len(cores), broker.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broker.Serve(ctx)
	})
	g.Go(func() error {
		mon.loop(ctx)
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr)
		})
	}
	for idx, core := range cores {
		idx, core := idx, core
		g.Go(func() error {
			return superviseWorker(ctx, idx, core)
		})
	}
	return g.Wait()
}

// superviseWorker re-executes this binary as worker idx pinned to core
// and restarts it if it dies. Worker 0 is the main node.
func superviseWorker(ctx context.Context, idx, core int) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	for ctx.Err() == nil {
		cmd := osutil.Command(exe, os.Args[1:]...)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("%v=%v", envWorker, idx),
			fmt.Sprintf("%v=%v", envCore, core))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start worker %v: %w", idx, err)
		}
		done := make(chan error, 1)
		go func() {
			done <- cmd.Wait()
		}()
		select {
		case <-ctx.Done():
			cmd.Process.Signal(unix.SIGTERM)
			<-done
			return nil
		case err := <-done:
			if ctx.Err() != nil {
				return nil
			}
			log.Logf(0, "worker %v exited: %v, restarting", idx, err)
			time.Sleep(time.Second)
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: promhttp.Handler()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Logf(0, "serving metrics on http://%v/metrics", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed || ctx.Err() != nil {
		return nil
	}
	return err
}
