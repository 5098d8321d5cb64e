// Package scene holds the layered neuron model that the animation scheduler
// mutates. A Model has exactly one writer: the goroutine that ticks the
// scheduler. Other goroutines must go through the session's inspection hook.
package scene

import (
	"fmt"
	"strings"
)

// InputLayerName is the name of the synthetic layer that receives the input
// image. Producers never declare it.
const InputLayerName = "input"

// LayerKind groups producer layer classes into the families the renderer
// styles differently.
type LayerKind int

const (
	KindOther LayerKind = iota
	KindInput
	KindConv
	KindPool
	KindActivation
)

func (k LayerKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindConv:
		return "conv"
	case KindPool:
		return "pool"
	case KindActivation:
		return "activation"
	default:
		return "other"
	}
}

// MarshalText lets LayerKind render as its name in JSON.
func (k LayerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// KindFromType maps a producer layer class name such as "Conv2d" to a kind.
func KindFromType(typ string) LayerKind {
	switch strings.ToLower(typ) {
	case "input":
		return KindInput
	case "conv1d", "conv2d", "conv3d":
		return KindConv
	case "maxpool2d", "avgpool2d", "adaptiveavgpool2d", "adaptivemaxpool2d":
		return KindPool
	case "relu", "relu6", "leakyrelu", "sigmoid", "tanh", "gelu", "elu", "softmax":
		return KindActivation
	default:
		return KindOther
	}
}

// Shape is the neuron grid extent of a layer.
type Shape struct {
	Channels int `json:"channels"`
	Height   int `json:"height"`
	Width    int `json:"width"`
}

// Size returns the number of neurons.
func (s Shape) Size() int { return s.Channels * s.Height * s.Width }

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.Channels, s.Height, s.Width)
}

// MaxLayerNeurons caps the grid a single layer may declare.
const MaxLayerNeurons = 1 << 24

// checkSize validates every dimension and returns the neuron count. The
// product is built one factor at a time so it cannot overflow.
func (s Shape) checkSize() (int, error) {
	if s.Channels <= 0 || s.Height <= 0 || s.Width <= 0 {
		return 0, fmt.Errorf("shape %s has a non-positive dimension", s)
	}
	n := 1
	for _, d := range []int{s.Channels, s.Height, s.Width} {
		if d > MaxLayerNeurons/n {
			return 0, fmt.Errorf("shape %s exceeds %d neurons", s, MaxLayerNeurons)
		}
		n *= d
	}
	return n, nil
}

// LayerDescriptor declares a layer. It does not change after CreateLayer.
type LayerDescriptor struct {
	Name  string    `json:"name"`
	Kind  LayerKind `json:"kind"`
	Type  string    `json:"type"`
	Shape Shape     `json:"shape"`
}

// Coord addresses one neuron as [channel][row][col].
type Coord struct {
	C, Y, X int
}

func (c Coord) String() string {
	return fmt.Sprintf("[%d,%d,%d]", c.C, c.Y, c.X)
}

func (c Coord) in(s Shape) bool {
	return c.C >= 0 && c.C < s.Channels &&
		c.Y >= 0 && c.Y < s.Height &&
		c.X >= 0 && c.X < s.Width
}

// NeuronState is the value last written to a neuron and its [0,1] rescaling.
type NeuronState struct {
	Value      float64 `json:"value"`
	Normalized float64 `json:"normalized"`
}
