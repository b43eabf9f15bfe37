// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// scorch-fuzz runs a coverage-guided fuzzing campaign against a
// forkserver-instrumented target binary. The same executable acts as
// the launcher (broker, monitor, worker supervision) and, re-executed
// with SCORCH_WORKER set, as one fuzzing worker pinned to a core.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/scorchfuzz/scorch/pkg/config"
	"github.com/scorchfuzz/scorch/pkg/log"
)

const (
	envWorker = "SCORCH_WORKER"
	envCore   = "SCORCH_CORE"
)

var (
	flagCfg    = config.Default()
	configFile string
)

func main() {
	cmd := &cobra.Command{
		Use:          "scorch-fuzz [flags] target [target-args...]",
		Short:        "coverage-guided fuzzer for forkserver-instrumented binaries",
		Long:         "scorch-fuzz drives a multi-core coverage-guided fuzzing campaign.\nUse @@ in target-args where the target expects the input file path;\nwithout @@ inputs are delivered on stdin.",
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE:         run,
	}
	fl := cmd.Flags()
	fl.StringVarP(&flagCfg.OutDir, "out", "o", flagCfg.OutDir, "campaign output directory")
	fl.StringVarP(&flagCfg.Cores, "cores", "c", flagCfg.Cores, `CPU cores to fuzz on ("all" or e.g. "0-3,6")`)
	fl.StringArrayVarP(&flagCfg.InputDirs, "input", "i", nil, "seed input directory (repeatable)")
	fl.IntVarP(&flagCfg.Port, "port", "p", flagCfg.Port, "event bus TCP port")
	fl.Float64VarP(&flagCfg.TimeoutSec, "timeout", "t", flagCfg.TimeoutSec, "per-execution timeout in seconds")
	fl.StringVarP(&flagCfg.Dict, "dict", "x", "", "token dictionary in AFL format")
	fl.IntVarP(&flagCfg.MapBias, "map-bias", "m", 0, "value added to the probed coverage map size")
	fl.BoolVar(&flagCfg.Cmplog, "cmplog", flagCfg.Cmplog, "comparison tracing on the main node")
	fl.StringArrayVarP(&flagCfg.ForeignDirs, "foreign", "F", nil, "foreign corpus directory to sync from (repeatable)")
	fl.StringVar(&flagCfg.MetricsAddr, "metrics", "", "serve prometheus metrics on this address")
	fl.StringVar(&configFile, "config", "", "TOML configuration file")
	fl.IntVarP(&flagCfg.Verbosity, "verbosity", "v", 0, "log verbosity")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configFile != "" {
		if err := config.LoadFile(configFile, cfg); err != nil {
			return err
		}
	}
	overlayFlags(cmd, cfg)
	if len(args) > 0 {
		cfg.Target = args[0]
		cfg.TargetArgs = args[1:]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.SetLevel(cfg.Verbosity)
	if os.Getenv(envWorker) != "" {
		return runWorker(cfg)
	}
	return runLauncher(cfg)
}

// overlayFlags applies flags the user actually passed on top of the
// config file, so that precedence is defaults < file < flags.
func overlayFlags(cmd *cobra.Command, cfg *config.Config) {
	set := map[string]func(){
		"out":      func() { cfg.OutDir = flagCfg.OutDir },
		"cores":    func() { cfg.Cores = flagCfg.Cores },
		"input":    func() { cfg.InputDirs = flagCfg.InputDirs },
		"port":     func() { cfg.Port = flagCfg.Port },
		"timeout":  func() { cfg.TimeoutSec = flagCfg.TimeoutSec },
		"dict":     func() { cfg.Dict = flagCfg.Dict },
		"map-bias": func() { cfg.MapBias = flagCfg.MapBias },
		"cmplog":   func() { cfg.Cmplog = flagCfg.Cmplog },
		"foreign":  func() { cfg.ForeignDirs = flagCfg.ForeignDirs },
		"metrics":  func() { cfg.MetricsAddr = flagCfg.MetricsAddr },
		"verbosity": func() {
			cfg.Verbosity = flagCfg.Verbosity
		},
	}
	for name, apply := range set {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}
