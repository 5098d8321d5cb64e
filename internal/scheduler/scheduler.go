// Package scheduler replays decoded commands against the scene model, one
// command per Tick. The goroutine calling Tick is the only writer to the
// model; every other goroutine reaches it through Do.
package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/netviz/internal/inbox"
	"github.com/banshee-data/netviz/internal/layout"
	"github.com/banshee-data/netviz/internal/monitoring"
	"github.com/banshee-data/netviz/internal/protocol"
	"github.com/banshee-data/netviz/internal/scene"
)

// ErrStopped is returned by Do once the scheduler has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// Status is the outcome of one Tick.
type Status int

const (
	// StatusApplied means one command was taken from the inbox. More may
	// be waiting.
	StatusApplied Status = iota
	StatusIdle
	StatusPaused
	StatusComplete
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusIdle:
		return "idle"
	case StatusPaused:
		return "paused"
	case StatusComplete:
		return "complete"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ExplanationSink displays narrative text.
type ExplanationSink interface {
	Explain(title, text string)
}

// ExplanationFunc adapts a function to ExplanationSink.
type ExplanationFunc func(title, text string)

func (f ExplanationFunc) Explain(title, text string) { f(title, text) }

// Options configures a Scheduler. The zero value is usable.
type Options struct {
	// InputLayer is created ahead of every topology. Defaults to
	// protocol.SyntheticInputLayer.
	InputLayer protocol.LayerInfo
	// Explanations receives explanation_update text. Optional.
	Explanations ExplanationSink
	// Layout is refreshed at the end of each Tick when set.
	Layout *layout.Watcher
}

// Stats counts what the scheduler did with popped commands.
type Stats struct {
	Applied   uint64 `json:"applied"`
	Failed    uint64 `json:"failed"`
	Discarded uint64 `json:"discarded"`
	Pending   int    `json:"pending"`
}

// Scheduler applies commands from an inbox to a scene model.
type Scheduler struct {
	inbox   *inbox.Queue[protocol.Command]
	model   *scene.Model
	input   protocol.LayerInfo
	explain ExplanationSink
	watcher *layout.Watcher

	paused   atomic.Bool
	stopped  atomic.Bool
	complete atomic.Bool

	applied   atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64

	// owned by the ticking goroutine
	focus       *Focus
	explanation Explanation
	tornDown    bool

	reqMu    sync.Mutex
	requests []*request
}

// New returns a scheduler reading from q and writing to m.
func New(q *inbox.Queue[protocol.Command], m *scene.Model, opts Options) *Scheduler {
	if opts.InputLayer.Name == "" {
		opts.InputLayer = protocol.SyntheticInputLayer
	}
	return &Scheduler{
		inbox:   q,
		model:   m,
		input:   opts.InputLayer,
		explain: opts.Explanations,
		watcher: opts.Layout,
	}
}

// Tick serves pending Do requests and then applies at most one command.
// Checks run in order: stopped, complete, paused, then the inbox.
func (s *Scheduler) Tick() Status {
	if s.stopped.Load() {
		s.failRequests(ErrStopped)
		s.teardown()
		return StatusStopped
	}
	s.serveRequests()
	defer s.refreshLayout()

	if s.complete.Load() {
		if n := s.inbox.Drain(); n > 0 {
			s.discarded.Add(uint64(n))
			monitoring.Debugf("[scheduler] discarded %d commands after completion", n)
		}
		return StatusComplete
	}
	if s.paused.Load() {
		return StatusPaused
	}
	cmd, ok := s.inbox.Pop()
	if !ok {
		return StatusIdle
	}
	if err := s.apply(cmd); err != nil {
		s.failed.Add(1)
		monitoring.Logf("[scheduler] dropped %s: %v", cmd.Type(), err)
	} else {
		s.applied.Add(1)
	}
	return StatusApplied
}

// teardown releases the scene once the session has ended. It runs on the
// ticking goroutine, the only writer of the model.
func (s *Scheduler) teardown() {
	if s.tornDown {
		return
	}
	s.tornDown = true
	s.model.Reset()
	s.focus = nil
	if s.watcher != nil {
		s.watcher.Invalidate()
	}
}

func (s *Scheduler) refreshLayout() {
	if s.watcher != nil && s.watcher.Update(s.model) {
		monitoring.Debugf("[scheduler] layout recomputed for %d layers", s.model.Len())
	}
}

// Pause stops command application. The transport keeps reading and the
// inbox keeps growing.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume undoes Pause.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Paused reports whether Pause is in effect.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// Complete reports whether visualization_complete has been applied.
func (s *Scheduler) Complete() bool { return s.complete.Load() }

// Stop makes every later Tick return StatusStopped and fails waiting Do calls.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
	s.failRequests(ErrStopped)
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool { return s.stopped.Load() }

func (s *Scheduler) Stats() Stats {
	return Stats{
		Applied:   s.applied.Load(),
		Failed:    s.failed.Load(),
		Discarded: s.discarded.Load(),
		Pending:   s.inbox.Len(),
	}
}

// Model returns the scene. Only the ticking goroutine may use it.
func (s *Scheduler) Model() *scene.Model { return s.model }

// Focus returns the last conv or pool region, nil before the first step.
// Only the ticking goroutine may call it.
func (s *Scheduler) Focus() *Focus { return s.focus }

// Explanation is the latest explanation_update.
type Explanation struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// LastExplanation returns the latest explanation. Only the ticking
// goroutine may call it.
func (s *Scheduler) LastExplanation() Explanation { return s.explanation }
