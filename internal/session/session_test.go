package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/netviz/internal/producer"
	"github.com/banshee-data/netviz/internal/protocol"
	"github.com/banshee-data/netviz/internal/scene"
	"github.com/banshee-data/netviz/internal/scheduler"
	"github.com/banshee-data/netviz/internal/transport"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = transport.RetryConfig{MaxRetries: 1, RetryDelay: time.Millisecond}
	cfg.InputLayer = protocol.LayerInfo{Name: "input", Type: "Input", OutputShape: [4]int{1, 3, 2, 2}}
	return cfg
}

func script(t *testing.T) [][]byte {
	t.Helper()
	payloads, err := producer.EncodeAll(
		protocol.TopologyInit{Layers: []protocol.LayerInfo{{Name: "conv1", Type: "Conv2d", OutputShape: [4]int{1, 2, 2, 2}}}},
		protocol.InputImage{Width: 2, Height: 2, Pixels: []uint8{255, 0, 0, 0, 255, 0, 0, 0, 255, 255, 255, 255}},
	)
	require.NoError(t, err)
	payloads = append(payloads,
		[]byte(`{"type":"unknown_type","data":{"x":1}}`),
		[]byte(`{"type":"conv_step","data":`),
	)
	more, err := producer.EncodeAll(
		protocol.ConvStep{InputLayer: "input", OutputLayer: "conv1", KernelSize: 2, OutputCoord: [3]int{1, 1, 0}, OutputValue: 1.5, Min: -2, Range: 4},
		protocol.Complete{},
	)
	require.NoError(t, err)
	return append(payloads, more...)
}

func serve(t *testing.T, payloads [][]byte, hold bool) *producer.Server {
	t.Helper()
	srv, err := producer.Listen("127.0.0.1:0")
	require.NoError(t, err)
	srv.HoldOpen = hold
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeOne(ctx, producer.Paced(payloads, producer.Pacing{}))
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-done
	})
	return srv
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// tickUntil ticks s until cond holds.
func tickUntil(t *testing.T, s *Session, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		if s.Tick() != scheduler.StatusApplied {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSession_EndToEnd(t *testing.T) {
	srv := serve(t, script(t), false)

	s := New(testConfig())
	defer s.Shutdown()
	_, err := uuid.Parse(s.ID())
	require.NoError(t, err)

	require.NoError(t, s.StartConnecting("127.0.0.1", srv.Port()))
	assert.Equal(t, EventConnected, nextEvent(t, s).Kind)

	tickUntil(t, s, func() bool { return s.Scheduler().Complete() })

	m := s.Model()
	assert.Equal(t, []string{"input", "conv1"}, m.Layers())
	n, err := m.Neuron("conv1", scene.Coord{C: 1, Y: 1, X: 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.875, n.Normalized, 1e-12)

	// bottom-left pixel (255,255,255) lands in row 0 after the flip
	px, err := m.Neuron("input", scene.Coord{C: 2, Y: 0, X: 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, px.Value)

	ev := nextEvent(t, s)
	assert.Equal(t, EventDisconnected, ev.Kind)
	assert.ErrorIs(t, ev.Err, transport.ErrDisconnected)
	assert.Equal(t, StateDisconnected, s.State())

	st := s.Status()
	assert.Equal(t, uint64(1), st.UnknownTypes)
	assert.Equal(t, uint64(1), st.DecodeErrors)
	assert.Equal(t, uint64(4), st.Scheduler.Applied)
	assert.Equal(t, uint64(6), st.Transport.Frames)
	assert.True(t, st.Complete)
	assert.Equal(t, srv.Addr().String(), st.Addr)
}

func TestSession_ConnectFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := New(testConfig())
	defer s.Shutdown()
	require.NoError(t, s.StartConnecting("127.0.0.1", port))

	ev := nextEvent(t, s)
	assert.Equal(t, EventConnectFailed, ev.Kind)
	assert.ErrorIs(t, ev.Err, transport.ErrRetriesExhausted)
	var ce *transport.ConnectError
	require.ErrorAs(t, ev.Err, &ce)
	assert.Equal(t, 2, ce.Attempts)
	assert.Equal(t, StateFailed, s.State())
}

func TestSession_StartTwice(t *testing.T) {
	srv := serve(t, nil, true)
	s := New(testConfig())
	defer s.Shutdown()

	require.NoError(t, s.StartConnecting("127.0.0.1", srv.Port()))
	assert.ErrorIs(t, s.StartConnecting("127.0.0.1", srv.Port()), ErrAlreadyStarted)
}

func TestSession_ShutdownIdempotent(t *testing.T) {
	srv := serve(t, nil, true)

	var mu sync.Mutex
	var states []State
	cfg := testConfig()
	cfg.OnState = func(st State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	}
	s := New(cfg)
	require.NoError(t, s.StartConnecting("127.0.0.1", srv.Port()))
	assert.Equal(t, EventConnected, nextEvent(t, s).Kind)

	s.Shutdown()
	s.Shutdown()

	// no disconnect event for an intentional close
	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.Equal(t, StateShutdown, s.State())
	assert.Equal(t, scheduler.StatusStopped, s.Tick())
	assert.ErrorIs(t, s.StartConnecting("127.0.0.1", srv.Port()), ErrShutdown)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateShutdown}, states)
}

func TestSession_ShutdownBeforeStart(t *testing.T) {
	s := New(testConfig())
	s.Shutdown()
	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestSession_PauseBuffers(t *testing.T) {
	payloads, err := producer.EncodeAll(
		protocol.TopologyInit{},
		protocol.ExplanationUpdate{Title: "one"},
		protocol.ExplanationUpdate{Title: "two"},
	)
	require.NoError(t, err)
	srv := serve(t, payloads, true)

	var titles []string
	cfg := testConfig()
	cfg.Explanations = scheduler.ExplanationFunc(func(title, _ string) { titles = append(titles, title) })
	s := New(cfg)
	defer s.Shutdown()

	s.Pause()
	require.NoError(t, s.StartConnecting("127.0.0.1", srv.Port()))
	require.Eventually(t, func() bool { return s.Status().Inbox.Depth == 3 }, 5*time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		assert.Equal(t, scheduler.StatusPaused, s.Tick())
	}
	assert.True(t, s.Status().Paused)
	assert.Empty(t, titles)

	s.Resume()
	tickUntil(t, s, func() bool { return len(titles) == 2 })
	assert.Equal(t, []string{"one", "two"}, titles)
}

func TestSession_TapAndAttach(t *testing.T) {
	client, server := net.Pipe()

	var mu sync.Mutex
	var tapped []string
	cfg := testConfig()
	cfg.Tap = transport.FrameSinkFunc(func(p []byte) {
		mu.Lock()
		defer mu.Unlock()
		tapped = append(tapped, string(p))
	})
	s := New(cfg)
	defer s.Shutdown()
	require.NoError(t, s.Attach(transport.NewConn(client)))
	assert.Equal(t, EventConnected, nextEvent(t, s).Kind)

	go func() {
		transport.WriteFrame(server, []byte(`{"type":"nope"}`))
		transport.WriteFrame(server, []byte(`{"type":"visualization_complete"}`))
		server.Close()
	}()

	assert.Equal(t, EventDisconnected, nextEvent(t, s).Kind)
	mu.Lock()
	assert.Equal(t, []string{`{"type":"nope"}`, `{"type":"visualization_complete"}`}, tapped)
	mu.Unlock()

	tickUntil(t, s, func() bool { return s.Scheduler().Complete() })
}

func TestSession_DoFromOtherGoroutine(t *testing.T) {
	s := New(testConfig())
	defer s.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, time.Millisecond)

	var n int
	err := s.Do(context.Background(), func(v *scheduler.View) { n = v.Model.Len() })
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSession_ConfiguredID(t *testing.T) {
	cfg := testConfig()
	cfg.ID = "fixed-id"
	s := New(cfg)
	defer s.Shutdown()
	assert.Equal(t, "fixed-id", s.ID())
	assert.Equal(t, "fixed-id", s.Status().ID)

	other := New(testConfig())
	defer other.Shutdown()
	assert.NotEqual(t, s.ID(), other.ID())
	assert.Len(t, other.ID(), 36)
}
