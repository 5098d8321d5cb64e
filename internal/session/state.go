package session

import (
	"net"
	"strconv"
	"time"

	"github.com/banshee-data/netviz/internal/inbox"
	"github.com/banshee-data/netviz/internal/scheduler"
	"github.com/banshee-data/netviz/internal/transport"
)

// State is the connection lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// EventKind identifies a lifecycle event.
type EventKind int

const (
	EventConnected EventKind = iota
	// EventConnectFailed carries a *transport.ConnectError.
	EventConnectFailed
	// EventDisconnected carries transport.ErrDisconnected or the framing
	// error that ended the stream.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is sent on Session.Events.
type Event struct {
	Kind EventKind
	Err  error
	Time time.Time
}

// Status is a point-in-time summary safe to read from any goroutine.
type Status struct {
	ID           string          `json:"id"`
	State        State           `json:"state"`
	Addr         string          `json:"addr,omitempty"`
	StartedAt    time.Time       `json:"started_at,omitempty"`
	Paused       bool            `json:"paused"`
	Complete     bool            `json:"complete"`
	Inbox        inbox.Stats     `json:"inbox"`
	Scheduler    scheduler.Stats `json:"scheduler"`
	Transport    transport.Stats `json:"transport"`
	DecodeErrors uint64          `json:"decode_errors"`
	UnknownTypes uint64          `json:"unknown_types"`
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status collects counters from every stage.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:        s.id,
		State:     s.state,
		Addr:      s.addr,
		StartedAt: s.startedAt,
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		st.Transport = conn.Stats()
		if st.Addr == "" {
			st.Addr = conn.RemoteAddr()
		}
	}
	st.Paused = s.sched.Paused()
	st.Complete = s.sched.Complete()
	st.Inbox = s.inbox.Stats()
	st.Scheduler = s.sched.Stats()
	st.DecodeErrors = s.decodeErrors.Load()
	st.UnknownTypes = s.unknownTypes.Load()
	return st
}

func transportAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
