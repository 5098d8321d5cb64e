package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/netviz/internal/layout"
	"github.com/banshee-data/netviz/internal/scene"
)

// View is what a Do callback may read or change. It is valid only for the
// duration of the callback.
type View struct {
	Model       *scene.Model
	Layout      *layout.Watcher
	Focus       *Focus
	Explanation Explanation
}

const (
	reqPending int32 = iota
	reqRunning
	reqAbandoned
)

type request struct {
	fn    func(*View)
	state atomic.Int32
	err   error
	done  chan struct{}
}

// Do runs fn on the ticking goroutine during the next Tick and waits for it.
// fn never runs after Do has returned.
func (s *Scheduler) Do(ctx context.Context, fn func(*View)) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	r := &request{fn: fn, done: make(chan struct{})}
	s.reqMu.Lock()
	s.requests = append(s.requests, r)
	s.reqMu.Unlock()
	if s.stopped.Load() {
		s.failRequests(ErrStopped)
	}

	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		if r.state.CompareAndSwap(reqPending, reqAbandoned) {
			return ctx.Err()
		}
		<-r.done
		return r.err
	}
}

func (s *Scheduler) takeRequests() []*request {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	reqs := s.requests
	s.requests = nil
	return reqs
}

func (s *Scheduler) serveRequests() {
	reqs := s.takeRequests()
	if len(reqs) == 0 {
		return
	}
	v := &View{Model: s.model, Layout: s.watcher, Focus: s.focus, Explanation: s.explanation}
	for _, r := range reqs {
		if !r.state.CompareAndSwap(reqPending, reqRunning) {
			continue
		}
		r.fn(v)
		close(r.done)
	}
}

func (s *Scheduler) failRequests(err error) {
	for _, r := range s.takeRequests() {
		if r.state.CompareAndSwap(reqPending, reqRunning) {
			r.err = err
			close(r.done)
		}
	}
}
