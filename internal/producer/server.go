package producer

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/banshee-data/netviz/internal/monitoring"
	"github.com/banshee-data/netviz/internal/transport"
)

// DefaultAddr is where the reference director listens.
const DefaultAddr = "127.0.0.1:65432"

// Server accepts one consumer at a time and streams a Source to it.
type Server struct {
	ln net.Listener
	// HoldOpen keeps the connection open after the last frame until the
	// peer hangs up or ctx ends, as the director does while the client is
	// still animating.
	HoldOpen bool
}

// Listen binds addr. Use "127.0.0.1:0" for an ephemeral port.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln}, nil
}

// Addr is the bound address.
func (s *Server) Addr() *net.TCPAddr { return s.ln.Addr().(*net.TCPAddr) }

// Port is the bound port.
func (s *Server) Port() int { return s.Addr().Port }

// Close stops accepting.
func (s *Server) Close() error { return s.ln.Close() }

// ServeOne waits for a consumer, sends every frame of src and closes the
// connection. It returns the number of frames written.
func (s *Server) ServeOne(ctx context.Context, src Source) (int, error) {
	stopAccept := context.AfterFunc(ctx, func() { s.ln.Close() })
	nc, err := s.ln.Accept()
	stopAccept()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}
	conn := transport.NewConn(nc)
	defer conn.Close()
	stopConn := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopConn()

	monitoring.Logf("[producer] consumer connected from %s", nc.RemoteAddr())

	sent := 0
	for {
		fr, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sent, err
		}
		if err := conn.WriteFrame(fr.Payload); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			monitoring.Logf("[producer] connection lost after %d frames: %v", sent, err)
			return sent, err
		}
		sent++
		if err := sleep(ctx, fr.Delay); err != nil {
			return sent, err
		}
	}
	monitoring.Logf("[producer] sent %d frames", sent)

	if s.HoldOpen {
		// the consumer never writes; a read returns once it hangs up
		conn.Run(ctx, transport.FrameSinkFunc(func([]byte) {}))
	}
	return sent, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
