// Package testutil provides shared test helpers and command fixtures.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/netviz/internal/protocol"
	"github.com/banshee-data/netviz/internal/transport"
)

// LoopbackAddr is the RemoteAddr given to test requests. tsweb debug routes
// refuse non-local callers.
const LoopbackAddr = "127.0.0.1:12345"

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a request that appears to come from localhost.
func NewTestRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = LoopbackAddr
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// TinyTopology declares one 2-channel 2x2 conv layer and one 2-channel 1x1
// pool layer.
func TinyTopology() protocol.TopologyInit {
	return protocol.TopologyInit{Layers: []protocol.LayerInfo{
		{Name: "0", Type: "Conv2d", OutputShape: [4]int{1, 2, 2, 2}},
		{Name: "1", Type: "MaxPool2d", OutputShape: [4]int{1, 2, 1, 1}},
	}}
}

// Payloads encodes cmds into wire payloads.
func Payloads(t testing.TB, cmds ...protocol.Command) [][]byte {
	t.Helper()
	out := make([][]byte, 0, len(cmds))
	for _, cmd := range cmds {
		p, err := protocol.Encode(cmd)
		AssertNoError(t, err)
		out = append(out, p)
	}
	return out
}

// Stream encodes cmds as a contiguous length-prefixed byte stream.
func Stream(t testing.TB, cmds ...protocol.Command) []byte {
	t.Helper()
	var out []byte
	for _, p := range Payloads(t, cmds...) {
		out = transport.AppendFrame(out, p)
	}
	return out
}
