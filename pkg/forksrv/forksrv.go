// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package forksrv drives the target binary through the forkserver
// re-exec protocol: the target is started once as a persistent,
// deferred-start child and reused across executions via a lightweight
// pipe handshake, with coverage exchanged through shared memory.
package forksrv

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/scorchfuzz/scorch/pkg/cover"
	"github.com/scorchfuzz/scorch/pkg/log"
	"github.com/scorchfuzz/scorch/pkg/osutil"
	"github.com/scorchfuzz/scorch/pkg/shmem"
)

// Environment variables understood by afl-instrumented targets.
const (
	EnvShmID       = "__AFL_SHM_ID"
	EnvCmplogShmID = "__AFL_CMPLOG_SHM_ID"
	EnvDumpMapSize = "AFL_DUMP_MAP_SIZE"
)

// The target expects the control pipe on fd 198 and reports on fd 199.
const (
	ctlFD = 198
	stFD  = ctlFD + 1
)

// Status classifies one execution.
type Status int

const (
	StatusNormal Status = iota
	StatusCrash
	StatusHang
)

func (s Status) String() string {
	switch s {
	case StatusCrash:
		return "crash"
	case StatusHang:
		return "hang"
	default:
		return "normal"
	}
}

// Result is the outcome of one execution: a coverage map snapshot taken
// after the child signaled completion, the elapsed wall-clock time and
// the exit classification. The shared region itself is never exposed.
type Result struct {
	Status  Status
	Elapsed time.Duration
	Cover   []byte
}

// ProbeMapSize invokes the target once with a request to report its
// coverage map size and returns that size plus bias. The result is
// fixed for the lifetime of a worker.
func ProbeMapSize(bin string, bias int) (int, error) {
	cmd := osutil.Command(bin)
	cmd.Env = append(os.Environ(), EnvDumpMapSize+"=1")
	output, err := osutil.Run(10*time.Second, cmd)
	if err != nil && len(output) == 0 {
		return 0, fmt.Errorf("map size probe gave no output: %w", err)
	}
	text := strings.TrimSpace(string(output))
	size, perr := strconv.Atoi(text)
	if perr != nil || size <= 0 {
		return 0, fmt.Errorf("target returned illegal map size %q", text)
	}
	return size + bias, nil
}

// Config describes one execution channel instance.
type Config struct {
	Bin       string
	Args      []string // "@@" is replaced with the input file path
	Timeout   time.Duration
	MapSize   int
	InputFile string
	// Cmplog, when set, is exported to the child for comparison tracing.
	// The segment is owned by the caller.
	Cmplog *shmem.Segment
}

// Executor owns one persistent target child and the shared coverage
// region handed to it. Not safe for concurrent use: one executor
// belongs to exactly one worker loop.
type Executor struct {
	cfg   Config
	shm   *shmem.Segment
	input *os.File

	proc     *os.Process
	ctlPipe  *os.File // wakes the forkserver up for the next run
	stPipe   *os.File // reports forked child pid and wait status
	restarts int
}

func New(cfg Config) (*Executor, error) {
	if cfg.MapSize <= 0 {
		return nil, fmt.Errorf("invalid coverage map size %v", cfg.MapSize)
	}
	shm, err := shmem.Create(cfg.MapSize)
	if err != nil {
		return nil, err
	}
	input, err := os.OpenFile(cfg.InputFile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		shm.Close()
		return nil, fmt.Errorf("failed to create input file: %w", err)
	}
	e := &Executor{cfg: cfg, shm: shm, input: input}
	if err := e.start(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// start launches the forkserver child and completes the handshake.
func (e *Executor) start() error {
	ctlR, ctlW, err := os.Pipe()
	if err != nil {
		return err
	}
	stR, stW, err := os.Pipe()
	if err != nil {
		ctlR.Close()
		ctlW.Close()
		return err
	}

	args := make([]string, len(e.cfg.Args))
	useStdin := true
	for i, a := range e.cfg.Args {
		if a == "@@" {
			a = e.cfg.InputFile
			useStdin = false
		}
		args[i] = a
	}
	cmd := osutil.Command(e.cfg.Bin, args...)
	cmd.Env = append(os.Environ(), EnvShmID+"="+e.shm.EnvValue())
	if e.cfg.Cmplog != nil {
		cmd.Env = append(cmd.Env, EnvCmplogShmID+"="+e.cfg.Cmplog.EnvValue())
	}
	if useStdin {
		cmd.Stdin = e.input
	}
	cmd.Stdout = log.VerboseWriter(3)
	cmd.Stderr = log.VerboseWriter(3)

	// The target expects the protocol pipes on fixed descriptors, pad
	// the intermediate slots with the null device.
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		ctlR.Close()
		ctlW.Close()
		stR.Close()
		stW.Close()
		return err
	}
	defer devNull.Close()
	extra := make([]*os.File, stFD-3+1)
	for i := range extra {
		extra[i] = devNull
	}
	extra[ctlFD-3] = ctlR
	extra[stFD-3] = stW
	cmd.ExtraFiles = extra

	if err := cmd.Start(); err != nil {
		ctlR.Close()
		ctlW.Close()
		stR.Close()
		stW.Close()
		return fmt.Errorf("failed to start target %v: %w", e.cfg.Bin, err)
	}
	// Child-side ends live on in the child.
	ctlR.Close()
	stW.Close()

	e.proc = cmd.Process
	e.ctlPipe = ctlW
	e.stPipe = stR
	go cmd.Wait() // reap on exit, errors surface through the pipes

	// Handshake: the forkserver reports in once it is ready.
	if err := e.stPipe.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	var hello [4]byte
	if _, err := readFull(e.stPipe, hello[:]); err != nil {
		return fmt.Errorf("forkserver handshake failed: %w", err)
	}
	log.Logf(2, "forkserver up (pid %v, hello %x)", e.proc.Pid, hello)
	return nil
}

func (e *Executor) stop() {
	if e.proc != nil {
		e.proc.Kill()
		e.proc = nil
	}
	if e.ctlPipe != nil {
		e.ctlPipe.Close()
		e.ctlPipe = nil
	}
	if e.stPipe != nil {
		e.stPipe.Close()
		e.stPipe = nil
	}
}

// restart tears the child down and brings a fresh one up, reusing the
// same shared memory region.
func (e *Executor) restart() error {
	e.stop()
	e.restarts++
	return e.start()
}

// Run executes one input. The coverage map is reset before the run so
// hitcounts are run-local; the snapshot in the result is taken only
// after the child signals completion.
func (e *Executor) Run(data []byte) (*Result, error) {
	if e.proc == nil {
		if err := e.restart(); err != nil {
			return nil, err
		}
	}
	cover.Reset(e.shm.Mem())
	if err := e.writeInput(data); err != nil {
		return nil, err
	}

	start := time.Now()
	var wake [4]byte
	if err := e.ctlPipe.SetWriteDeadline(time.Now().Add(e.cfg.Timeout)); err != nil {
		return nil, err
	}
	if _, err := e.ctlPipe.Write(wake[:]); err != nil {
		// The forkserver died, bring it back and report the input as a crash
		// observed at the channel boundary.
		if rerr := e.restart(); rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("forkserver went away: %w", err)
	}

	if err := e.stPipe.SetReadDeadline(time.Now().Add(e.cfg.Timeout)); err != nil {
		return nil, err
	}
	var buf [4]byte
	if _, err := readFull(e.stPipe, buf[:]); err != nil {
		return e.onHang(start, 0, err)
	}
	childPid := int(binary.LittleEndian.Uint32(buf[:]))

	if _, err := readFull(e.stPipe, buf[:]); err != nil {
		return e.onHang(start, childPid, err)
	}
	elapsed := time.Since(start)

	status := StatusNormal
	if ws := unix.WaitStatus(binary.LittleEndian.Uint32(buf[:])); ws.Signaled() {
		status = StatusCrash
	}
	return &Result{
		Status:  status,
		Elapsed: elapsed,
		Cover:   append([]byte{}, e.shm.Mem()...),
	}, nil
}

// onHang handles an execution that exceeded the timeout: the stuck run
// child is killed and the forkserver respawned. A hang is a classified
// outcome, not an executor failure.
func (e *Executor) onHang(start time.Time, childPid int, cause error) (*Result, error) {
	if !os.IsTimeout(cause) {
		if err := e.restart(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("forkserver protocol error: %w", cause)
	}
	if childPid > 0 {
		unix.Kill(childPid, unix.SIGKILL)
	}
	if err := e.restart(); err != nil {
		return nil, err
	}
	return &Result{
		Status:  StatusHang,
		Elapsed: time.Since(start),
		Cover:   append([]byte{}, e.shm.Mem()...),
	}, nil
}

func (e *Executor) writeInput(data []byte) error {
	if err := e.input.Truncate(0); err != nil {
		return err
	}
	if _, err := e.input.WriteAt(data, 0); err != nil {
		return err
	}
	// Rewind so a stdin-reading target sees the fresh input.
	_, err := e.input.Seek(0, 0)
	return err
}

// Restarts reports how many times the child had to be respawned.
func (e *Executor) Restarts() int {
	return e.restarts
}

// MapSize returns the fixed coverage map size of this channel.
func (e *Executor) MapSize() int {
	return e.cfg.MapSize
}

func (e *Executor) Close() {
	e.stop()
	if e.input != nil {
		e.input.Close()
		os.Remove(e.cfg.InputFile)
		e.input = nil
	}
	if e.shm != nil {
		e.shm.Close()
		e.shm = nil
	}
}

func readFull(f *os.File, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := f.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}
