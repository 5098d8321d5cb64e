package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/netviz/internal/monitoring"
)

// ErrDisconnected is returned by Run when the peer closes the stream.
var ErrDisconnected = errors.New("peer disconnected")

// FrameSink receives each payload in arrival order. HandleFrame is called
// from the read goroutine; every payload is a fresh slice the sink may keep.
type FrameSink interface {
	HandleFrame(payload []byte)
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(payload []byte)

func (f FrameSinkFunc) HandleFrame(payload []byte) { f(payload) }

// Tee fans each frame out to every sink in order.
func Tee(sinks ...FrameSink) FrameSink {
	return FrameSinkFunc(func(p []byte) {
		for _, s := range sinks {
			if s != nil {
				s.HandleFrame(p)
			}
		}
	})
}

// Stats counts traffic on a connection.
type Stats struct {
	Frames uint64 `json:"frames"`
	Bytes  uint64 `json:"bytes"`
}

// Conn wraps a byte stream carrying frames.
type Conn struct {
	rwc          io.ReadWriteCloser
	maxFrameSize int

	writeMu sync.Mutex

	closing   bool
	closingMu sync.Mutex
	closeOnce sync.Once
	closeErr  error

	frames atomic.Uint64
	bytes  atomic.Uint64
}

// NewConn wraps any stream, a TCP socket or a serial port.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{rwc: rwc, maxFrameSize: DefaultMaxFrameSize}
}

// SetMaxFrameSize changes the per-frame cap. n <= 0 disables it.
func (c *Conn) SetMaxFrameSize(n int) { c.maxFrameSize = n }

// RemoteAddr returns the peer address for socket-backed connections.
func (c *Conn) RemoteAddr() string {
	if nc, ok := c.rwc.(net.Conn); ok {
		return nc.RemoteAddr().String()
	}
	return ""
}

func (c *Conn) isClosing() bool {
	c.closingMu.Lock()
	defer c.closingMu.Unlock()
	return c.closing
}

// Run reads frames until the stream ends and hands each one to sink. It
// returns ErrDisconnected on a clean EOF, nil when the read failed because
// Close was called or ctx was cancelled, and the read error otherwise.
func (c *Conn) Run(ctx context.Context, sink FrameSink) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		payload, err := readFrame(c.rwc, c.maxFrameSize)
		if err != nil {
			if c.isClosing() {
				return nil
			}
			if err == io.EOF {
				monitoring.Logf("[transport] peer closed the connection")
				return ErrDisconnected
			}
			monitoring.Logf("[transport] read failed: %v", err)
			return err
		}
		c.frames.Add(1)
		c.bytes.Add(uint64(HeaderSize + len(payload)))
		sink.HandleFrame(payload)
	}
}

// WriteFrame sends one frame. Safe for concurrent use.
func (c *Conn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.rwc, payload)
}

// Close stops the read loop and closes the stream. Repeated calls return
// the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closingMu.Lock()
		c.closing = true
		c.closingMu.Unlock()
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// Stats returns frames and bytes read so far.
func (c *Conn) Stats() Stats {
	return Stats{Frames: c.frames.Load(), Bytes: c.bytes.Load()}
}
