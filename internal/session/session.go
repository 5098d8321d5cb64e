// Package session wires one producer connection to one scene: the transport
// goroutine decodes frames into the inbox and the host ticks the scheduler.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/netviz/internal/inbox"
	"github.com/banshee-data/netviz/internal/layout"
	"github.com/banshee-data/netviz/internal/monitoring"
	"github.com/banshee-data/netviz/internal/protocol"
	"github.com/banshee-data/netviz/internal/scene"
	"github.com/banshee-data/netviz/internal/scheduler"
	"github.com/banshee-data/netviz/internal/transport"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrShutdown       = errors.New("session shut down")
)

// Config holds everything a session needs besides the producer address.
type Config struct {
	// ID names the session in logs and captures. Empty picks a random UUID.
	ID            string
	Retry         transport.RetryConfig
	InboxCapacity int
	Overflow      inbox.OverflowPolicy
	MaxFrameSize  int
	InputLayer    protocol.LayerInfo
	Layout        layout.Params
	Explanations  scheduler.ExplanationSink
	// Tap sees every raw frame before decoding, e.g. a capture recorder.
	Tap transport.FrameSink
	// OnState is called from the transport goroutine on every transition.
	OnState func(State)
}

// DefaultConfig matches the reference client.
func DefaultConfig() Config {
	return Config{
		Retry:        transport.DefaultRetryConfig(),
		Overflow:     inbox.DropNewest,
		MaxFrameSize: transport.DefaultMaxFrameSize,
		InputLayer:   protocol.SyntheticInputLayer,
		Layout:       layout.DefaultParams(),
	}
}

// Session is one connection to a producer and the scene it builds.
type Session struct {
	id      string
	cfg     Config
	inbox   *inbox.Queue[protocol.Command]
	model   *scene.Model
	watcher *layout.Watcher
	sched   *scheduler.Scheduler
	events  chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	started   bool
	addr      string
	conn      *transport.Conn
	startedAt time.Time

	shutdownOnce sync.Once

	decodeErrors atomic.Uint64
	unknownTypes atomic.Uint64
}

// New builds an idle session.
func New(cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	q := inbox.New[protocol.Command](cfg.InboxCapacity, cfg.Overflow)
	m := scene.NewModel()
	w := layout.NewWatcher(cfg.Layout)
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:      id,
		cfg:     cfg,
		inbox:   q,
		model:   m,
		watcher: w,
		sched: scheduler.New(q, m, scheduler.Options{
			InputLayer:   cfg.InputLayer,
			Explanations: cfg.Explanations,
			Layout:       w,
		}),
		events: make(chan Event, 16),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID is a random identifier for logs and captures.
func (s *Session) ID() string { return s.id }

// Events delivers lifecycle events. The channel is closed by Shutdown.
func (s *Session) Events() <-chan Event { return s.events }

// StartConnecting dials host:port in the background with the configured
// retry policy and starts reading once connected. Failures arrive on Events.
func (s *Session) StartConnecting(host string, port int) error {
	if err := s.begin(); err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = transportAddr(host, port)
	s.mu.Unlock()
	s.setState(StateConnecting)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn, err := transport.Dial(s.ctx, host, port, s.cfg.Retry)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			monitoring.Logf("[session %s] %v", s.id, err)
			s.setState(StateFailed)
			s.emit(Event{Kind: EventConnectFailed, Err: err})
			return
		}
		s.serve(conn)
	}()
	return nil
}

// Attach starts reading from an already open connection, such as a serial
// link.
func (s *Session) Attach(conn *transport.Conn) error {
	if err := s.begin(); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(conn)
	}()
	return nil
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateShutdown {
		return ErrShutdown
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.startedAt = time.Now()
	return nil
}

func (s *Session) serve(conn *transport.Conn) {
	conn.SetMaxFrameSize(s.cfg.MaxFrameSize)

	s.mu.Lock()
	if s.state == StateShutdown {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.setState(StateConnected)
	s.emit(Event{Kind: EventConnected})

	err := conn.Run(s.ctx, transport.FrameSinkFunc(s.handleFrame))
	if s.ctx.Err() != nil {
		return
	}
	if err == nil {
		err = transport.ErrDisconnected
	}
	conn.Close()
	monitoring.Logf("[session %s] disconnected: %v", s.id, err)
	s.setState(StateDisconnected)
	s.emit(Event{Kind: EventDisconnected, Err: err})
}

// handleFrame runs on the transport goroutine.
func (s *Session) handleFrame(payload []byte) {
	if s.cfg.Tap != nil {
		s.cfg.Tap.HandleFrame(payload)
	}
	cmd, err := protocol.Decode(payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			s.unknownTypes.Add(1)
			monitoring.Debugf("[session %s] ignoring %v", s.id, err)
			return
		}
		s.decodeErrors.Add(1)
		monitoring.Logf("[session %s] dropping frame: %v", s.id, err)
		return
	}
	if !s.inbox.Push(cmd) {
		monitoring.Debugf("[session %s] inbox full, dropped %s", s.id, cmd.Type())
	}
}

// Shutdown stops reading, closes the connection and stops the scheduler.
// Safe to call more than once and from any goroutine.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.state = StateShutdown
		conn := s.conn
		s.mu.Unlock()

		s.cancel()
		if conn != nil {
			conn.Close()
		}
		s.sched.Stop()
		s.inbox.Close()
		s.wg.Wait()

		if s.cfg.OnState != nil {
			s.cfg.OnState(StateShutdown)
		}
		close(s.events)
		monitoring.Logf("[session %s] shut down", s.id)
	})
}

// Pause stops applying commands; frames keep arriving.
func (s *Session) Pause() { s.sched.Pause() }

// Resume continues applying commands in arrival order.
func (s *Session) Resume() { s.sched.Resume() }

// Tick applies at most one command. Call it from one goroutine only.
func (s *Session) Tick() scheduler.Status { return s.sched.Tick() }

// Run ticks on an interval until ctx is done or the session shuts down.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	return s.sched.Run(ctx, interval)
}

// Do runs fn on the ticking goroutine; see scheduler.Scheduler.Do.
func (s *Session) Do(ctx context.Context, fn func(*scheduler.View)) error {
	return s.sched.Do(ctx, fn)
}

// Model returns the scene. Only the ticking goroutine may use it.
func (s *Session) Model() *scene.Model { return s.model }

// Layout returns the layout watcher. Only the ticking goroutine may use it.
func (s *Session) Layout() *layout.Watcher { return s.watcher }

// Scheduler exposes the underlying scheduler.
func (s *Session) Scheduler() *scheduler.Scheduler { return s.sched }

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == StateShutdown {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}

// emit never blocks the transport goroutine.
func (s *Session) emit(ev Event) {
	ev.Time = time.Now()
	select {
	case s.events <- ev:
	default:
		monitoring.Logf("[session %s] event channel full, dropped %s", s.id, ev.Kind)
	}
}
