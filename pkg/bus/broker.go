// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bus

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/scorchfuzz/scorch/pkg/log"
)

// peerQueueLen bounds how many frames can be queued for one client.
// When the queue is full new frames are dropped for that client only;
// a stuck worker must never stall the others.
const peerQueueLen = 256

type peer struct {
	id    string
	conn  net.Conn
	send  chan []byte
	done  chan struct{}
	close sync.Once
}

func (p *peer) stop() {
	p.close.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// Broker accepts worker connections and fans events out between them.
type Broker struct {
	ln      net.Listener
	onEvent func(Event)

	mu    sync.Mutex
	peers map[string]*peer
}

// NewBroker starts listening on addr. onEvent, if non-nil, observes
// every event that passes through the broker (the launcher's monitor
// consumes Stats and Objective this way).
func NewBroker(addr string, onEvent func(Event)) (*Broker, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %v: %w", addr, err)
	}
	return &Broker{
		ln:      ln,
		onEvent: onEvent,
		peers:   make(map[string]*peer),
	}, nil
}

func (b *Broker) Addr() string {
	return b.ln.Addr().String()
}

// Serve runs the accept loop until ctx is cancelled.
func (b *Broker) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.ln.Close()
	}()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("broker accept failed: %w", err)
		}
		go b.handle(conn)
	}
}

func (b *Broker) handle(conn net.Conn) {
	hello, err := readFrame(conn)
	if err != nil || hello.Type != EventHello || hello.Client == "" {
		log.Logf(1, "bus: rejecting connection from %v: bad hello", conn.RemoteAddr())
		conn.Close()
		return
	}
	p := &peer{
		id:   hello.Client,
		conn: conn,
		send: make(chan []byte, peerQueueLen),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.peers[p.id] = p
	b.mu.Unlock()
	log.Logf(1, "bus: client %v connected", p.id)
	go b.writer(p)
	b.reader(p)
}

func (b *Broker) reader(p *peer) {
	defer b.drop(p)
	for {
		ev, err := readFrame(p.conn)
		if err != nil {
			log.Logf(1, "bus: client %v disconnected: %v", p.id, err)
			return
		}
		ev.Client = p.id
		if b.onEvent != nil {
			b.onEvent(*ev)
		}
		b.fanout(ev)
	}
}

func (b *Broker) writer(p *peer) {
	for {
		select {
		case frame := <-p.send:
			if _, err := p.conn.Write(frame); err != nil {
				log.Logf(1, "bus: write to client %v failed: %v", p.id, err)
				b.drop(p)
				return
			}
		case <-p.done:
			return
		}
	}
}

// fanout delivers ev to every client except its sender. Frames are
// serialized once and queued per peer.
func (b *Broker) fanout(ev *Event) {
	var buf frameBuffer
	if err := writeFrame(&buf, ev); err != nil {
		log.Logf(0, "bus: failed to serialize event: %v", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, p := range b.peers {
		if id == ev.Client {
			continue
		}
		select {
		case p.send <- buf.data:
		default:
			log.Logf(1, "bus: client %v queue full, dropping %v", id, ev.Type)
		}
	}
}

func (b *Broker) drop(p *peer) {
	b.mu.Lock()
	if b.peers[p.id] == p {
		delete(b.peers, p.id)
	}
	b.mu.Unlock()
	p.stop()
}

// Clients returns the number of currently registered clients.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

func (b *Broker) Close() error {
	err := b.ln.Close()
	b.mu.Lock()
	peers := make([]*peer, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	b.peers = make(map[string]*peer)
	b.mu.Unlock()
	for _, p := range peers {
		p.stop()
	}
	return err
}

type frameBuffer struct {
	data []byte
}

func (b *frameBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
