package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/netviz/internal/capture"
	"github.com/banshee-data/netviz/internal/pcapframes"
	"github.com/banshee-data/netviz/internal/protocol"
)

func testFrames() []pcapframes.Frame {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []pcapframes.Frame{
		{Stream: 0, Time: base, Payload: []byte(`{ "type": "topology_init", "data": [] }`)},
		{Stream: 0, Time: base.Add(time.Second), Payload: []byte("\x00garbage")},
		{Stream: 1, Time: base.Add(2 * time.Second), Payload: []byte(`{"type":"visualization_complete"}`)},
		{Stream: 0, Time: base.Add(3 * time.Second), Payload: []byte(`{"type":"visualization_complete"}`)},
	}
}

func TestWriteJSONLines(t *testing.T) {
	var buf bytes.Buffer
	skipped, err := writeJSONLines(&buf, testFrames())
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, `{"type":"topology_init","data":[]}
{"type":"visualization_complete"}
{"type":"visualization_complete"}
`, buf.String())
}

func TestImportFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.db")
	res := &pcapframes.Result{Frames: testFrames(), Streams: 2}

	ids, err := importFrames(path, "session.pcap", res)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	store, err := capture.Open(path)
	require.NoError(t, err)
	defer store.Close()

	frames, err := store.Frames(ids[0])
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, protocol.TypeTopologyInit, frames[0].Type)
	assert.Equal(t, "", frames[1].Type)
	assert.Equal(t, int64(3), frames[2].Seq)

	sessions, err := store.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		require.NotNil(t, s.EndedAt)
	}
	// newest first: stream 1 began two seconds after stream 0
	assert.Equal(t, ids[1], sessions[0].ID)
	assert.Equal(t, "pcap:session.pcap#1", sessions[0].Addr)
}
