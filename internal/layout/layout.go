// Package layout computes 3D positions for every neuron in a scene from the
// spacing parameters. Layers stack along +Z; inside a layer X runs along
// columns, Y along rows and Z along channels, all centred on the layer origin.
package layout

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/netviz/internal/scene"
)

// Params are the spacing knobs exposed to the UI.
type Params struct {
	NeuronSpacing  float64 `json:"neuron_spacing"`
	ChannelSpacing float64 `json:"channel_spacing"`
	LayerSpacing   float64 `json:"layer_spacing"`
}

// Slider limits of the reference UI.
const (
	MinNeuronSpacing  = 0.1
	MaxNeuronSpacing  = 2.0
	MinChannelSpacing = 0.1
	MaxChannelSpacing = 5.0
	MinLayerSpacing   = 1.0
	MaxLayerSpacing   = 20.0
)

// DefaultParams returns the spacing the reference UI starts with.
func DefaultParams() Params {
	return Params{NeuronSpacing: 0.2, ChannelSpacing: 0.8, LayerSpacing: 5}
}

// Validate checks each parameter against its slider range.
func (p Params) Validate() error {
	check := func(name string, v, lo, hi float64) error {
		if math.IsNaN(v) || v < lo || v > hi {
			return fmt.Errorf("%s must be between %g and %g, got %g", name, lo, hi, v)
		}
		return nil
	}
	if err := check("neuron_spacing", p.NeuronSpacing, MinNeuronSpacing, MaxNeuronSpacing); err != nil {
		return err
	}
	if err := check("channel_spacing", p.ChannelSpacing, MinChannelSpacing, MaxChannelSpacing); err != nil {
		return err
	}
	return check("layer_spacing", p.LayerSpacing, MinLayerSpacing, MaxLayerSpacing)
}

// changed reports whether any parameter moved by more than the UI's
// 0.001 dead band.
func (p Params) changed(q Params) bool {
	const eps = 0.001
	return math.Abs(p.NeuronSpacing-q.NeuronSpacing) > eps ||
		math.Abs(p.ChannelSpacing-q.ChannelSpacing) > eps ||
		math.Abs(p.LayerSpacing-q.LayerSpacing) > eps
}

// LayerLayout places one layer.
type LayerLayout struct {
	Name   string
	Shape  scene.Shape
	Offset float64
	// Local holds neuron positions relative to the layer origin, indexed
	// like the scene grid: (c*H + y)*W + x.
	Local []r3.Vec
}

// Origin returns the layer origin in world space.
func (l LayerLayout) Origin() r3.Vec {
	return r3.Vec{Z: l.Offset}
}

// Local position of the neuron at coord.
func (l LayerLayout) LocalAt(c scene.Coord) r3.Vec {
	return l.Local[(c.C*l.Shape.Height+c.Y)*l.Shape.Width+c.X]
}

// World position of the neuron at coord.
func (l LayerLayout) WorldAt(c scene.Coord) r3.Vec {
	return r3.Add(l.Origin(), l.LocalAt(c))
}

// Layout is the result of one Recompute.
type Layout struct {
	Params Params
	Layers []LayerLayout
	index  map[string]int
}

// Layer looks up a layer by name.
func (l *Layout) Layer(name string) (LayerLayout, bool) {
	if l == nil {
		return LayerLayout{}, false
	}
	i, ok := l.index[name]
	if !ok {
		return LayerLayout{}, false
	}
	return l.Layers[i], true
}

// Depth is the extent of the whole stack along Z.
func (l *Layout) Depth() float64 {
	if l == nil || len(l.Layers) == 0 {
		return 0
	}
	last := l.Layers[len(l.Layers)-1]
	return last.Offset + float64(last.Shape.Channels)*l.Params.ChannelSpacing
}

// NeuronPosition returns a neuron's position relative to its layer origin.
func NeuronPosition(s scene.Shape, c scene.Coord, p Params) r3.Vec {
	return r3.Vec{
		X: (float64(c.X) - float64(s.Width)/2) * p.NeuronSpacing,
		Y: (float64(c.Y) - float64(s.Height)/2) * p.NeuronSpacing,
		Z: (float64(c.C) - float64(s.Channels)/2) * p.ChannelSpacing,
	}
}

// Recompute lays out every layer of m in stack order and stores each
// layer's stacking offset back into m. Offsets accumulate
// LayerSpacing + channels*ChannelSpacing for every preceding layer. The
// result depends only on the topology and p.
func Recompute(m *scene.Model, p Params) *Layout {
	out := &Layout{Params: p, index: make(map[string]int)}
	offset := 0.0
	for _, name := range m.Layers() {
		desc, _ := m.Descriptor(name)
		s := desc.Shape

		ll := LayerLayout{Name: name, Shape: s, Offset: offset, Local: make([]r3.Vec, 0, s.Size())}
		for c := 0; c < s.Channels; c++ {
			for y := 0; y < s.Height; y++ {
				for x := 0; x < s.Width; x++ {
					ll.Local = append(ll.Local, NeuronPosition(s, scene.Coord{C: c, Y: y, X: x}, p))
				}
			}
		}
		_ = m.SetOffset(name, offset)

		out.index[name] = len(out.Layers)
		out.Layers = append(out.Layers, ll)
		offset += p.LayerSpacing + float64(s.Channels)*p.ChannelSpacing
	}
	return out
}

// Watcher re-runs Recompute when the parameters move or the topology grows,
// mirroring the per-frame check the reference UI performs.
type Watcher struct {
	params Params
	layers int
	last   *Layout
}

// NewWatcher starts from p with no layout computed.
func NewWatcher(p Params) *Watcher {
	return &Watcher{params: p, layers: -1}
}

// Params returns the parameters the next Update will use.
func (w *Watcher) Params() Params { return w.params }

// SetParams stores new parameters. They take effect on the next Update.
func (w *Watcher) SetParams(p Params) { w.params = p }

// Invalidate forces the next Update to recompute.
func (w *Watcher) Invalidate() { w.layers = -1 }

// Current returns the last computed layout, nil before the first Update.
func (w *Watcher) Current() *Layout { return w.last }

// Update recomputes if needed and reports whether it did.
func (w *Watcher) Update(m *scene.Model) bool {
	if w.last != nil && w.layers == m.Len() && !w.params.changed(w.last.Params) {
		return false
	}
	w.last = Recompute(m, w.params)
	w.layers = m.Len()
	return true
}
