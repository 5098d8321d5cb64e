// Package producer serves recorded or scripted frames to a visualiser over
// TCP, standing in for the model-side director process.
package producer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/netviz/internal/protocol"
)

// Frame is one payload and how long to wait after sending it.
type Frame struct {
	Payload []byte
	Delay   time.Duration
}

// Source yields frames in send order and io.EOF once exhausted.
type Source interface {
	Next() (Frame, error)
}

// Frames is a Source over a fixed list.
type Frames struct {
	frames []Frame
	pos    int
}

// NewFrames returns a source over frames.
func NewFrames(frames []Frame) *Frames { return &Frames{frames: frames} }

func (f *Frames) Next() (Frame, error) {
	if f.pos >= len(f.frames) {
		return Frame{}, io.EOF
	}
	fr := f.frames[f.pos]
	f.pos++
	return fr, nil
}

// Len returns the number of frames not yet sent.
func (f *Frames) Len() int { return len(f.frames) - f.pos }

// Scale returns the unsent frames with every delay multiplied by factor.
func (f *Frames) Scale(factor float64) *Frames {
	out := make([]Frame, 0, f.Len())
	for _, fr := range f.frames[f.pos:] {
		fr.Delay = time.Duration(float64(fr.Delay) * factor)
		out = append(out, fr)
	}
	return NewFrames(out)
}

// Pacing reproduces the director's sleeps: a long pause after the topology
// so the client can build the scene, then a fixed gap between frames.
type Pacing struct {
	AfterTopology time.Duration
	Between       time.Duration
}

// DirectorPacing is the timing of the reference producer script.
func DirectorPacing() Pacing {
	return Pacing{AfterTopology: 10 * time.Second, Between: 1500 * time.Millisecond}
}

// Scale multiplies both delays by f, e.g. 0.1 for a fast replay.
func (p Pacing) Scale(f float64) Pacing {
	return Pacing{
		AfterTopology: time.Duration(float64(p.AfterTopology) * f),
		Between:       time.Duration(float64(p.Between) * f),
	}
}

func (p Pacing) delayFor(payload []byte) time.Duration {
	var env protocol.Envelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Type == protocol.TypeTopologyInit {
		return p.AfterTopology
	}
	return p.Between
}

// Paced attaches pacing delays to raw payloads. The last frame gets none.
func Paced(payloads [][]byte, p Pacing) *Frames {
	frames := make([]Frame, len(payloads))
	for i, pl := range payloads {
		frames[i] = Frame{Payload: pl}
		if i < len(payloads)-1 {
			frames[i].Delay = p.delayFor(pl)
		}
	}
	return NewFrames(frames)
}

// EncodeAll encodes commands into payloads.
func EncodeAll(cmds ...protocol.Command) ([][]byte, error) {
	out := make([][]byte, 0, len(cmds))
	for i, c := range cmds {
		b, err := protocol.Encode(c)
		if err != nil {
			return nil, fmt.Errorf("command %d (%s): %w", i, c.Type(), err)
		}
		out = append(out, b)
	}
	return out, nil
}

// ReadJSONLines reads one envelope per line. Blank lines and lines starting
// with # are skipped. Lines are compacted but otherwise sent as written, so
// fixtures may contain unknown or malformed commands on purpose.
func ReadJSONLines(r io.Reader) ([][]byte, error) {
	var out [][]byte
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64<<20)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, text); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, buf.Bytes())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
