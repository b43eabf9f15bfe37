// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package shmem manages SysV shared memory segments that carry the
// coverage map and the comparison log between the fuzzer and the target.
// A segment is exclusively owned by the worker that created it and is
// handed to exactly one child process via an environment variable
// holding the segment id.
package shmem

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

type Segment struct {
	id   int
	mem  []byte
	size int
}

// Create allocates a new private shared memory segment of the given size
// and attaches it into the current process.
func Create(size int) (*Segment, error) {
	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, size, unix.IPC_CREAT|unix.IPC_EXCL|0600)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate shared memory of size %v: %w", size, err)
	}
	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return nil, fmt.Errorf("failed to attach shared memory segment %v: %w", id, err)
	}
	return &Segment{id: id, mem: mem, size: size}, nil
}

// Mem returns the attached region. The region is written by the target
// child while a run is in flight and must only be read back after the
// child signals completion.
func (seg *Segment) Mem() []byte {
	return seg.mem
}

func (seg *Segment) Size() int {
	return seg.size
}

func (seg *Segment) ID() int {
	return seg.id
}

// WriteEnv exports the segment id to the environment so that the next
// spawned target picks it up.
func (seg *Segment) WriteEnv(key string) error {
	return os.Setenv(key, strconv.Itoa(seg.id))
}

// EnvValue returns the value that identifies the segment to the target.
func (seg *Segment) EnvValue() string {
	return strconv.Itoa(seg.id)
}

// Close detaches the region and marks the segment for removal.
func (seg *Segment) Close() error {
	if seg.mem == nil {
		return nil
	}
	err := unix.SysvShmDetach(seg.mem)
	if _, err1 := unix.SysvShmCtl(seg.id, unix.IPC_RMID, nil); err == nil {
		err = err1
	}
	seg.mem = nil
	return err
}
