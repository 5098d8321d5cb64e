package scheduler

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/netviz/internal/layout"
	"github.com/banshee-data/netviz/internal/scene"
)

// FocusKind tells a kernel highlight from a pooling window.
type FocusKind string

const (
	FocusConv FocusKind = "conv"
	FocusPool FocusKind = "pool"
)

// Focus is the input-layer region that produced the most recent output
// neuron.
type Focus struct {
	Kind        FocusKind `json:"kind"`
	InputLayer  string    `json:"input_layer"`
	OutputLayer string    `json:"output_layer"`
	Row         int       `json:"row"`
	Col         int       `json:"col"`
	Size        int       `json:"size"`
	// Channel is the output channel. Pool windows sit on that channel of
	// the input layer; conv kernels span every input channel.
	Channel int     `json:"channel"`
	Winner  *[2]int `json:"winner,omitempty"`
	// Center is the region centre in the input layer's local frame.
	Center r3.Vec `json:"center"`
}

func (s *Scheduler) spacing() layout.Params {
	if s.watcher != nil {
		return s.watcher.Params()
	}
	return layout.DefaultParams()
}

func (s *Scheduler) focusFor(kind FocusKind, input, output string, start [2]int, size int, out [3]int) (*Focus, error) {
	desc, ok := s.model.Descriptor(input)
	if !ok {
		return nil, &scene.LayerError{Layer: input, Op: "focus", Err: scene.ErrUnknownLayer}
	}
	f := &Focus{
		Kind:        kind,
		InputLayer:  input,
		OutputLayer: output,
		Row:         start[0],
		Col:         start[1],
		Size:        size,
		Channel:     out[0],
	}
	f.Center = regionCenter(desc.Shape, f, s.spacing())
	return f, nil
}

// regionCenter places a size x size window whose top-left neuron is at
// (Row, Col). Conv kernels sit at z=0; pool windows on the output channel.
func regionCenter(in scene.Shape, f *Focus, p layout.Params) r3.Vec {
	half := float64(f.Size) / 2
	c := r3.Vec{
		X: (float64(f.Col) + half - float64(in.Width)/2) * p.NeuronSpacing,
		Y: (float64(f.Row) + half - float64(in.Height)/2) * p.NeuronSpacing,
	}
	if f.Kind == FocusPool {
		c.Z = (float64(f.Channel) - float64(in.Channels)/2) * p.ChannelSpacing
	}
	return c
}
