package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/banshee-data/netviz/internal/monitoring"
)

// ErrRetriesExhausted is wrapped by every ConnectError.
var ErrRetriesExhausted = errors.New("connection retries exhausted")

// RetryConfig controls connection establishment. MaxRetries counts retries
// after the first attempt, so MaxRetries=0 means a single attempt.
type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultRetryConfig returns five retries one second apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, RetryDelay: time.Second}
}

// ConnectError is returned by Dial once every attempt has failed.
type ConnectError struct {
	Addr     string
	Attempts int
	Err      error // last dial error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %d attempts failed: %v", e.Addr, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Err} }

// dialer is swapped in tests.
var dialer = func(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// Dial connects to host:port, waiting RetryDelay between attempts. Context
// cancellation aborts both an in-flight attempt and the wait between them.
func Dial(ctx context.Context, host string, port int, rc RetryConfig) (*Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if rc.MaxRetries < 0 {
		rc.MaxRetries = 0
	}

	var lastErr error
	for attempt := 1; attempt <= rc.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		nc, err := dialer(ctx, addr)
		if err == nil {
			monitoring.Logf("[transport] connected to %s (attempt %d)", addr, attempt)
			return NewConn(nc), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt > rc.MaxRetries {
			break
		}
		monitoring.Logf("[transport] connect %s failed (attempt %d/%d): %v; retrying in %v",
			addr, attempt, rc.MaxRetries+1, err, rc.RetryDelay)

		t := time.NewTimer(rc.RetryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, &ConnectError{Addr: addr, Attempts: rc.MaxRetries + 1, Err: lastErr}
}
