package capture

import (
	"sync"
	"time"

	"github.com/banshee-data/netviz/internal/monitoring"
)

// Recorder writes every frame it sees into one capture session. It is a
// transport.FrameSink meant to be used as a tee ahead of decoding.
type Recorder struct {
	store     *Store
	sessionID string
	now       func() time.Time

	mu     sync.Mutex
	seq    int64
	errors int
	closed bool
}

// NewRecorder starts a capture session row and returns its recorder.
func NewRecorder(store *Store, sessionID, addr string) (*Recorder, error) {
	r := &Recorder{store: store, sessionID: sessionID, now: time.Now}
	if err := store.BeginSession(sessionID, addr, r.now()); err != nil {
		return nil, err
	}
	return r, nil
}

// HandleFrame stores payload. Write failures are logged and counted; the
// live session never stalls on capture.
func (r *Recorder) HandleFrame(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.seq++
	f := Frame{
		SessionID:  r.sessionID,
		Seq:        r.seq,
		ReceivedAt: r.now(),
		Type:       FrameType(payload),
		Payload:    append([]byte(nil), payload...),
	}
	if err := r.store.InsertFrame(f); err != nil {
		r.errors++
		if r.errors == 1 || r.errors%100 == 0 {
			monitoring.Logf("[capture] failed to store frame %d (%d failures): %v", f.Seq, r.errors, err)
		}
	}
}

// Count returns how many frames were offered to the recorder.
func (r *Recorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Close stamps the session end. Later frames are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.store.EndSession(r.sessionID, r.now())
}
