package scene

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LayerStats summarises the raw values of one layer.
type LayerStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	// Active counts neurons whose normalized value is above zero.
	Active int `json:"active"`
}

// Stats computes LayerStats for a layer.
func (m *Model) Stats(name string) (LayerStats, error) {
	l, ok := m.layers[name]
	if !ok {
		return LayerStats{}, layerErr("stats", name, ErrUnknownLayer, "")
	}
	values := make([]float64, len(l.neurons))
	active := 0
	for i, n := range l.neurons {
		values[i] = n.Value
		if n.Normalized > 0 {
			active++
		}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		std = 0
	}
	return LayerStats{
		Count:  len(values),
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   mean,
		StdDev: std,
		Active: active,
	}, nil
}

// NormalizedValues returns the normalized values of one channel in row-major
// order, or of every channel when channel is negative.
func (m *Model) NormalizedValues(name string, channel int) ([]float64, error) {
	l, ok := m.layers[name]
	if !ok {
		return nil, layerErr("values", name, ErrUnknownLayer, "")
	}
	s := l.desc.Shape
	neurons := l.neurons
	if channel >= 0 {
		if channel >= s.Channels {
			return nil, layerErr("values", name, ErrCoordOutOfRange, "channel %d outside %s", channel, s)
		}
		plane := s.Height * s.Width
		neurons = neurons[channel*plane : (channel+1)*plane]
	}
	out := make([]float64, len(neurons))
	for i, n := range neurons {
		out[i] = n.Normalized
	}
	return out, nil
}

// LayerSnapshot is the JSON view of one layer without its neuron grid.
type LayerSnapshot struct {
	LayerDescriptor
	Offset float64    `json:"offset"`
	Stats  LayerStats `json:"stats"`
}

// Snapshot describes every layer in stack order.
func (m *Model) Snapshot() []LayerSnapshot {
	out := make([]LayerSnapshot, 0, len(m.order))
	for _, name := range m.order {
		l := m.layers[name]
		st, _ := m.Stats(name)
		out = append(out, LayerSnapshot{LayerDescriptor: l.desc, Offset: l.offset, Stats: st})
	}
	return out
}
