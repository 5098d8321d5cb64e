package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode renders cmd as a frame payload. Decode(Encode(cmd)) yields a command
// equal to cmd for every field the wire schema defines.
func Encode(cmd Command) ([]byte, error) {
	var data interface{}
	switch c := cmd.(type) {
	case TopologyInit:
		layers := make([]wireLayer, len(c.Layers))
		for i, l := range c.Layers {
			layers[i] = wireLayer{Name: l.Name, Type: l.Type, OutputShape: l.OutputShape[:]}
		}
		data = layers
	case InputImage:
		pixels := make([]int, len(c.Pixels))
		for i, p := range c.Pixels {
			pixels[i] = int(p)
		}
		data = wireInputImage{Pixels: pixels, Width: c.Width, Height: c.Height}
	case LayerUpdate:
		data = wireLayerUpdate{LayerName: c.Layer, Values: c.Values, Min: &c.Min, Range: &c.Range}
	case ConvStep:
		data = wireStep{
			InputLayer:  c.InputLayer,
			OutputLayer: c.OutputLayer,
			InputStart:  c.InputStart[:],
			KernelSize:  c.KernelSize,
			OutputCoord: c.OutputCoord[:],
			OutputValue: c.OutputValue,
			Min:         &c.Min,
			Range:       &c.Range,
		}
	case PoolStep:
		w := wireStep{
			InputLayer:  c.InputLayer,
			OutputLayer: c.OutputLayer,
			InputStart:  c.InputStart[:],
			KernelSize:  c.KernelSize,
			PoolSize:    &c.PoolSize,
			OutputCoord: c.OutputCoord[:],
			OutputValue: c.OutputValue,
			Min:         &c.Min,
			Range:       &c.Range,
		}
		if c.Winner != nil {
			w.Winner = c.Winner[:]
		}
		data = w
	case ExplanationUpdate:
		data = wireExplanation{Title: c.Title, Text: c.Text}
	case Complete:
		return json.Marshal(Envelope{Type: TypeComplete})
	default:
		return nil, fmt.Errorf("encode: unsupported command %T", cmd)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Type(), err)
	}
	return json.Marshal(Envelope{Type: cmd.Type(), Data: raw})
}
