package scheduler

import (
	"context"
	"time"
)

// DefaultTickInterval approximates one display frame.
const DefaultTickInterval = 16 * time.Millisecond

// Run ticks until ctx is done or the scheduler is stopped. It is the
// headless stand-in for a render loop.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if s.Tick() == StatusStopped {
			return nil
		}
	}
}
