// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package bus implements the intra-host event bus that connects fuzzing
// workers. A single broker runs inside the launcher process and fans
// every event out to all clients except the sender. Frames on the wire
// are length-prefixed msgpack.
package bus

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/scorchfuzz/scorch/pkg/signal"
)

type EventType int

const (
	// EventHello is the first frame a client sends; it registers the
	// client id with the broker and is not fanned out.
	EventHello EventType = iota
	// EventNewInput carries an accepted test case and its coverage
	// signal so that other workers can import it without re-execution.
	EventNewInput
	// EventStats carries a periodic counter snapshot for the monitor.
	EventStats
	// EventObjective announces a crashing input.
	EventObjective
)

func (t EventType) String() string {
	switch t {
	case EventHello:
		return "hello"
	case EventNewInput:
		return "new input"
	case EventStats:
		return "stats"
	case EventObjective:
		return "objective"
	}
	return fmt.Sprintf("event %v", int(t))
}

type Event struct {
	Type   EventType         `msgpack:"type"`
	Client string            `msgpack:"client"`
	Data   []byte            `msgpack:"data,omitempty"`
	Signal signal.Serial     `msgpack:"signal,omitempty"`
	Meta   map[string]uint64 `msgpack:"meta,omitempty"`
}

// Meta keys for EventNewInput.
const (
	MetaExecTimeNS = "exec_time_ns"
	MetaNewSignal  = "new_signal"
)

// maxFrameSize caps a single frame. Test cases are bounded well below
// this by the mutation pipeline; anything bigger is a protocol error.
const maxFrameSize = 32 << 20

func writeFrame(w io.Writer, ev *Event) error {
	body, err := msgpack.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("event frame too large: %v bytes", len(body))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFrame(r io.Reader) (*Event, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("event frame too large: %v bytes", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	ev := new(Event)
	if err := msgpack.Unmarshal(body, ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}
