// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bus

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/scorchfuzz/scorch/pkg/log"
)

// Client is one worker's end of the bus. Incoming events are delivered
// on Events(); publishing is safe from multiple goroutines.
type Client struct {
	id     string
	conn   net.Conn
	events chan Event

	mu     sync.Mutex // serializes frame writes
	closed bool
}

// Dial connects to the broker at addr and registers a fresh client id.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus at %v: %w", addr, err)
	}
	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		events: make(chan Event, peerQueueLen),
	}
	if err := writeFrame(conn, &Event{Type: EventHello, Client: c.id}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus handshake failed: %w", err)
	}
	go c.reader()
	return c, nil
}

func (c *Client) ID() string {
	return c.id
}

// Events returns the stream of events published by other clients.
// The channel is closed when the connection goes away.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Publish sends ev to the broker, stamping it with the client id.
func (c *Client) Publish(ev Event) error {
	ev.Client = c.id
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("bus client is closed")
	}
	return writeFrame(c.conn, &ev)
}

func (c *Client) reader() {
	defer close(c.events)
	for {
		ev, err := readFrame(c.conn)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				log.Logf(1, "bus: connection to broker lost: %v", err)
			}
			return
		}
		select {
		case c.events <- *ev:
		default:
			// The worker is not draining; dropping is better than
			// stalling the read loop and backpressuring the broker.
			log.Logf(1, "bus: local event queue full, dropping %v", ev.Type)
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
