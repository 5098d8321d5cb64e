package scene

import (
	"math"
)

type layer struct {
	desc    LayerDescriptor
	neurons []NeuronState
	offset  float64
}

func (l *layer) index(c Coord) int {
	s := l.desc.Shape
	return (c.C*s.Height+c.Y)*s.Width + c.X
}

// Model owns every layer's descriptor, neuron grid and stacking offset.
// It is not safe for concurrent use.
type Model struct {
	layers map[string]*layer
	order  []string
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{layers: make(map[string]*layer)}
}

// CreateLayer appends a layer to the stack with a zeroed grid.
func (m *Model) CreateLayer(desc LayerDescriptor) error {
	if _, ok := m.layers[desc.Name]; ok {
		return layerErr("create", desc.Name, ErrDuplicateLayer, "")
	}
	size, err := desc.Shape.checkSize()
	if err != nil {
		return layerErr("create", desc.Name, ErrInvalidShape, "%v", err)
	}
	m.layers[desc.Name] = &layer{
		desc:    desc,
		neurons: make([]NeuronState, size),
	}
	m.order = append(m.order, desc.Name)
	return nil
}

// SetNeuronValue stores raw at coord and its normalization against the
// window [lo, lo+rng], clamped to [0,1].
func (m *Model) SetNeuronValue(name string, coord Coord, raw, lo, rng float64) error {
	l, ok := m.layers[name]
	if !ok {
		return layerErr("set", name, ErrUnknownLayer, "")
	}
	if !coord.in(l.desc.Shape) {
		return layerErr("set", name, ErrCoordOutOfRange, "%s outside %s", coord, l.desc.Shape)
	}
	l.neurons[l.index(coord)] = NeuronState{Value: raw, Normalized: Normalize(raw, lo, rng)}
	return nil
}

// BulkSetLayer writes every neuron of a layer. values must match the layer
// shape exactly; nothing is written otherwise.
func (m *Model) BulkSetLayer(name string, values [][][]float64, lo, rng float64) error {
	l, ok := m.layers[name]
	if !ok {
		return layerErr("bulk set", name, ErrUnknownLayer, "")
	}
	s := l.desc.Shape
	if len(values) != s.Channels {
		return layerErr("bulk set", name, ErrShapeMismatch, "got %d channels, want %s", len(values), s)
	}
	for c, plane := range values {
		if len(plane) != s.Height {
			return layerErr("bulk set", name, ErrShapeMismatch, "channel %d has %d rows, want %s", c, len(plane), s)
		}
		for y, row := range plane {
			if len(row) != s.Width {
				return layerErr("bulk set", name, ErrShapeMismatch, "row [%d,%d] has %d columns, want %s", c, y, len(row), s)
			}
		}
	}

	i := 0
	for _, plane := range values {
		for _, row := range plane {
			for _, v := range row {
				l.neurons[i] = NeuronState{Value: v, Normalized: Normalize(v, lo, rng)}
				i++
			}
		}
	}
	return nil
}

// MapImageToInputLayer copies an interleaved RGB image into the input layer.
// Row y of the layer reads source row height-1-y, so the image is stored
// bottom-up; channel c takes byte c of each pixel. Values are scaled to [0,1].
func (m *Model) MapImageToInputLayer(pixels []uint8, width, height int) error {
	l, ok := m.layers[InputLayerName]
	if !ok {
		return layerErr("map image", InputLayerName, ErrUnknownLayer, "")
	}
	s := l.desc.Shape
	if s.Channels != 3 || s.Width != width || s.Height != height {
		return layerErr("map image", InputLayerName, ErrShapeMismatch, "image %dx%d RGB, layer %s", width, height, s)
	}
	if len(pixels) != width*height*3 {
		return layerErr("map image", InputLayerName, ErrShapeMismatch, "got %d bytes, want %d", len(pixels), width*height*3)
	}

	for c := 0; c < 3; c++ {
		for y := 0; y < height; y++ {
			src := (height - 1 - y) * width
			for x := 0; x < width; x++ {
				v := float64(pixels[(src+x)*3+c]) / 255
				l.neurons[l.index(Coord{C: c, Y: y, X: x})] = NeuronState{Value: v, Normalized: v}
			}
		}
	}
	return nil
}

// Normalize rescales raw into [0,1] against [lo, lo+rng]. A zero or
// non-finite window maps everything to 0.
func Normalize(raw, lo, rng float64) float64 {
	if rng == 0 || math.IsNaN(rng) || math.IsInf(rng, 0) {
		return 0
	}
	n := (raw - lo) / rng
	if math.IsNaN(n) {
		return 0
	}
	return math.Max(0, math.Min(1, n))
}

// Layers returns layer names in stack order.
func (m *Model) Layers() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the number of layers.
func (m *Model) Len() int { return len(m.order) }

// Has reports whether a layer exists.
func (m *Model) Has(name string) bool {
	_, ok := m.layers[name]
	return ok
}

// Descriptor returns the declaration of a layer.
func (m *Model) Descriptor(name string) (LayerDescriptor, bool) {
	l, ok := m.layers[name]
	if !ok {
		return LayerDescriptor{}, false
	}
	return l.desc, true
}

// Neuron returns the state at coord.
func (m *Model) Neuron(name string, coord Coord) (NeuronState, error) {
	l, ok := m.layers[name]
	if !ok {
		return NeuronState{}, layerErr("get", name, ErrUnknownLayer, "")
	}
	if !coord.in(l.desc.Shape) {
		return NeuronState{}, layerErr("get", name, ErrCoordOutOfRange, "%s outside %s", coord, l.desc.Shape)
	}
	return l.neurons[l.index(coord)], nil
}

// Grid returns a copy of a layer's neurons as [channel][row][col].
func (m *Model) Grid(name string) ([][][]NeuronState, error) {
	l, ok := m.layers[name]
	if !ok {
		return nil, layerErr("grid", name, ErrUnknownLayer, "")
	}
	s := l.desc.Shape
	out := make([][][]NeuronState, s.Channels)
	i := 0
	for c := range out {
		out[c] = make([][]NeuronState, s.Height)
		for y := range out[c] {
			out[c][y] = make([]NeuronState, s.Width)
			i += copy(out[c][y], l.neurons[i:i+s.Width])
		}
	}
	return out, nil
}

// Offset returns a layer's position along the stacking axis.
func (m *Model) Offset(name string) (float64, bool) {
	l, ok := m.layers[name]
	if !ok {
		return 0, false
	}
	return l.offset, true
}

// SetOffset records a layer's stacking offset. The layout engine owns the
// value; the model only stores it.
func (m *Model) SetOffset(name string, offset float64) error {
	l, ok := m.layers[name]
	if !ok {
		return layerErr("offset", name, ErrUnknownLayer, "")
	}
	l.offset = offset
	return nil
}

// Reset removes every layer.
func (m *Model) Reset() {
	m.layers = make(map[string]*layer)
	m.order = nil
}
