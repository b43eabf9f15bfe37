// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config holds the campaign configuration shared by the
// launcher and the workers. Values come from a TOML file, command line
// flags layered on top, or both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// Target is the instrumented binary; TargetArgs may contain "@@"
	// which is substituted with the current input file path. Without
	// "@@" the input arrives on stdin.
	Target     string   `toml:"target"`
	TargetArgs []string `toml:"target_args"`

	// OutDir holds queue/ and crashes/ plus worker scratch files.
	OutDir string `toml:"out_dir"`

	// Cores selects the CPU set to fuzz on, e.g. "0-3,6" or "all".
	// One worker process is launched per core; the first core in the
	// set becomes the main node.
	Cores string `toml:"cores"`

	// InputDirs seed the campaign; each file is one test case.
	InputDirs []string `toml:"input_dirs"`

	// Port is the TCP port of the intra-host event bus.
	Port int `toml:"port"`

	// TimeoutSec is the per-execution timeout; runs exceeding it are
	// classified as hangs.
	TimeoutSec float64 `toml:"timeout_sec"`

	// Dict is an optional token dictionary in AFL format.
	Dict string `toml:"dict"`

	// MapBias is added to the probed coverage map size.
	MapBias int `toml:"map_bias"`

	// Cmplog disables comparison tracing when false even if the target
	// supports it.
	Cmplog bool `toml:"cmplog"`

	// ForeignDirs are external corpus directories periodically scanned
	// for new inputs by the main node.
	ForeignDirs []string `toml:"foreign_dirs"`

	// MetricsAddr, when set, serves prometheus metrics over HTTP in
	// the launcher process.
	MetricsAddr string `toml:"metrics_addr"`

	Verbosity int `toml:"verbosity"`
}

// Default returns a config with the documented defaults filled in;
// flag and file values overwrite them.
func Default() *Config {
	return &Config{
		OutDir:     "scorch-out",
		Cores:      "all",
		Port:       4000,
		TimeoutSec: 1,
		Cmplog:     true,
	}
}

// LoadFile layers the TOML file at path over cfg.
func LoadFile(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file %v: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in config file %v: %v", path, undecoded)
	}
	return nil
}

// Validate checks the config for a runnable campaign and normalizes
// paths to absolute so that re-executed workers agree with the launcher.
func (cfg *Config) Validate() error {
	if cfg.Target == "" {
		return fmt.Errorf("no target binary specified")
	}
	if st, err := os.Stat(cfg.Target); err != nil || st.IsDir() {
		return fmt.Errorf("target binary %v is not an executable file", cfg.Target)
	}
	abs, err := filepath.Abs(cfg.Target)
	if err != nil {
		return err
	}
	cfg.Target = abs
	if cfg.OutDir == "" {
		return fmt.Errorf("no output directory specified")
	}
	if cfg.OutDir, err = filepath.Abs(cfg.OutDir); err != nil {
		return err
	}
	if cfg.Port <= 0 || cfg.Port > 0xffff {
		return fmt.Errorf("illegal bus port %v", cfg.Port)
	}
	if cfg.TimeoutSec <= 0 {
		return fmt.Errorf("illegal execution timeout %v", cfg.TimeoutSec)
	}
	if cfg.MapBias < 0 {
		return fmt.Errorf("illegal map size bias %v", cfg.MapBias)
	}
	if _, err := ParseCores(cfg.Cores, runtime.NumCPU()); err != nil {
		return err
	}
	return nil
}

func (cfg *Config) QueueDir() string {
	return filepath.Join(cfg.OutDir, "queue")
}

func (cfg *Config) CrashDir() string {
	return filepath.Join(cfg.OutDir, "crashes")
}

func (cfg *Config) BusAddr() string {
	return fmt.Sprintf("127.0.0.1:%v", cfg.Port)
}

// ParseCores expands a core set spec like "0-3,6" into a sorted list
// of distinct core ids. "all" means every core up to ncpu.
func ParseCores(spec string, ncpu int) ([]int, error) {
	if spec == "" || spec == "all" {
		cores := make([]int, ncpu)
		for i := range cores {
			cores[i] = i
		}
		return cores, nil
	}
	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		lo, hi, found := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || first < 0 {
			return nil, fmt.Errorf("illegal core set %q", spec)
		}
		last := first
		if found {
			if last, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || last < first {
				return nil, fmt.Errorf("illegal core set %q", spec)
			}
		}
		for i := first; i <= last; i++ {
			seen[i] = true
		}
	}
	cores := make([]int, 0, len(seen))
	for c := range seen {
		cores = append(cores, c)
	}
	sort.Ints(cores)
	return cores, nil
}
