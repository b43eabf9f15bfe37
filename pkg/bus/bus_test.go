// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bus

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorchfuzz/scorch/pkg/signal"
)

func TestFrameRoundtrip(t *testing.T) {
	ev := &Event{
		Type:   EventNewInput,
		Client: "client-1",
		Data:   []byte("test case"),
		Signal: signal.FromRaw([]uint32{1, 5, 9}).Serialize(),
		Meta: map[string]uint64{
			MetaExecTimeNS: 12345,
			MetaNewSignal:  3,
		},
	}
	buf := new(bytes.Buffer)
	require.NoError(t, writeFrame(buf, ev))
	got, err := readFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, ev.Client, got.Client)
	assert.Equal(t, ev.Data, got.Data)
	assert.Equal(t, ev.Meta, got.Meta)
	assert.True(t, ev.Signal.Deserialize().Equal(got.Signal.Deserialize()))
}

func TestFrameTruncated(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, writeFrame(buf, &Event{Type: EventStats}))
	raw := buf.Bytes()
	_, err := readFrame(bytes.NewReader(raw[:len(raw)-1]))
	assert.Error(t, err)
}

func startBroker(t *testing.T, onEvent func(Event)) *Broker {
	t.Helper()
	b, err := NewBroker("127.0.0.1:0", onEvent)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		b.Close()
		<-done
	})
	return b
}

func waitClients(t *testing.T, b *Broker, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return b.Clients() == n
	}, 5*time.Second, time.Millisecond)
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	panic("unreachable")
}

func TestFanout(t *testing.T) {
	b := startBroker(t, nil)
	c1, err := Dial(b.Addr())
	require.NoError(t, err)
	defer c1.Close()
	c2, err := Dial(b.Addr())
	require.NoError(t, err)
	defer c2.Close()
	waitClients(t, b, 2)

	require.NoError(t, c1.Publish(Event{Type: EventNewInput, Data: []byte("hello")}))
	ev := recvEvent(t, c2)
	assert.Equal(t, EventNewInput, ev.Type)
	assert.Equal(t, c1.ID(), ev.Client)
	assert.Equal(t, []byte("hello"), ev.Data)

	// The sender must not hear its own event.
	select {
	case ev := <-c1.Events():
		t.Fatalf("sender received its own event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMonitorObservesEvents(t *testing.T) {
	var mu sync.Mutex
	var seen []EventType
	b := startBroker(t, func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})
	c, err := Dial(b.Addr())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Publish(Event{Type: EventStats, Meta: map[string]uint64{"execs": 100}}))
	require.NoError(t, c.Publish(Event{Type: EventObjective, Data: []byte("crash")}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []EventType{EventStats, EventObjective}, seen)
	mu.Unlock()
}

func TestPeerLossDoesNotAffectOthers(t *testing.T) {
	b := startBroker(t, nil)
	c1, err := Dial(b.Addr())
	require.NoError(t, err)
	defer c1.Close()
	c2, err := Dial(b.Addr())
	require.NoError(t, err)
	c3, err := Dial(b.Addr())
	require.NoError(t, err)
	defer c3.Close()
	waitClients(t, b, 3)

	// Kill one client, then the remaining pair must still exchange events.
	c2.Close()
	assert.Eventually(t, func() bool {
		require.NoError(t, c1.Publish(Event{Type: EventStats}))
		select {
		case _, ok := <-c3.Events():
			return ok
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
