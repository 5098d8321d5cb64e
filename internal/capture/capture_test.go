package capture

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/netviz/internal/producer"
	"github.com/banshee-data/netviz/internal/protocol"
	"github.com/banshee-data/netviz/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// stepClock returns a clock that starts at base and advances by the given
// steps, repeating the last one.
func stepClock(base time.Time, steps ...time.Duration) func() time.Time {
	now := base
	i := 0
	return func() time.Time {
		t := now
		if len(steps) > 0 {
			now = now.Add(steps[min(i, len(steps)-1)])
			i++
		}
		return t
	}
}

func TestOpenMigrates(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// reopening an up-to-date database is a no-op
	require.NoError(t, s.MigrateUp())

	require.NoError(t, s.MigrateDown())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	require.NoError(t, s.MigrateUp())
}

func TestRecorderRoundTrip(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	r := &Recorder{store: s, sessionID: "sess-1", now: stepClock(base, 0, 10*time.Second, 1500*time.Millisecond, time.Second)}
	require.NoError(t, s.BeginSession("sess-1", "127.0.0.1:65432", r.now()))

	payloads, err := producer.EncodeAll(
		protocol.TopologyInit{Layers: []protocol.LayerInfo{{Name: "0", Type: "Conv2d", OutputShape: [4]int{1, 1, 2, 2}}}},
		protocol.ExplanationUpdate{Title: "t", Text: "x"},
	)
	require.NoError(t, err)
	for _, p := range payloads {
		r.HandleFrame(p)
	}
	r.HandleFrame([]byte("not json"))
	require.NoError(t, r.Close())
	r.HandleFrame(payloads[0]) // ignored after close
	assert.Equal(t, int64(3), r.Count())

	frames, err := s.Frames("sess-1")
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{frames[0].Seq, frames[1].Seq, frames[2].Seq})
	assert.Equal(t, protocol.TypeTopologyInit, frames[0].Type)
	assert.Equal(t, protocol.TypeExplanationUpdate, frames[1].Type)
	assert.Equal(t, "", frames[2].Type)
	assert.Equal(t, payloads[1], frames[1].Payload)
	assert.True(t, base.Equal(frames[0].ReceivedAt))
	assert.True(t, base.Add(10*time.Second).Equal(frames[1].ReceivedAt))

	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].ID)
	assert.Equal(t, 3, sessions[0].Frames)
	require.NotNil(t, sessions[0].EndedAt)
}

func TestSourceReplaysTiming(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.BeginSession("a", "", base))

	offsets := []time.Duration{0, 10 * time.Second, 11500 * time.Millisecond}
	for i, off := range offsets {
		require.NoError(t, s.InsertFrame(Frame{
			SessionID:  "a",
			Seq:        int64(i + 1),
			ReceivedAt: base.Add(off),
			Payload:    []byte{byte('a' + i)},
		}))
	}

	tests := []struct {
		name   string
		maxGap time.Duration
		want   []time.Duration
	}{
		{"recorded", 0, []time.Duration{10 * time.Second, 1500 * time.Millisecond, 0}},
		{"capped", 2 * time.Second, []time.Duration{2 * time.Second, 1500 * time.Millisecond, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := s.Source("a", tt.maxGap)
			require.NoError(t, err)
			var got []time.Duration
			var payloads string
			for {
				fr, err := src.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				got = append(got, fr.Delay)
				payloads += string(fr.Payload)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "abc", payloads)
		})
	}
}

func TestUnknownSession(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Frames("missing")
	assert.True(t, errors.Is(err, ErrNoSuchSession))

	err = s.EndSession("missing", time.Now())
	assert.True(t, errors.Is(err, ErrNoSuchSession))

	// a known session without frames is not an error
	require.NoError(t, s.BeginSession("empty", "", time.Now()))
	frames, err := s.Frames("empty")
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestNewRecorderDuplicateSession(t *testing.T) {
	s := openTestStore(t)
	_, err := NewRecorder(s, "dup", "")
	require.NoError(t, err)
	_, err = NewRecorder(s, "dup", "")
	assert.Error(t, err)
}

func TestAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	get := func() []SessionInfo {
		rec := testutil.NewTestRecorder()
		mux.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/debug/captures", nil))
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
		var out []SessionInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	assert.Empty(t, get())

	_, err := NewRecorder(s, "x", "127.0.0.1:65432")
	require.NoError(t, err)
	got := get()
	require.Len(t, got, 1)
	assert.Equal(t, "127.0.0.1:65432", got[0].Addr)
	assert.Nil(t, got[0].EndedAt)
}
