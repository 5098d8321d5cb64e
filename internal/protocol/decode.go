package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var jsonNull = []byte("null")

// Decode parses one frame payload into a Command.
//
// visualization_complete never needs data. Any other type without data
// returns ErrMissingData; types this package does not know return
// ErrUnknownType. Both, like ErrMalformed, only invalidate this frame.
func Decode(payload []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, malformed("", err)
	}
	if env.Type == "" {
		return nil, malformed("", errors.New("envelope without type"))
	}
	if env.Type == TypeComplete {
		return Complete{}, nil
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return nil, &DecodeError{Type: env.Type, Err: ErrMissingData}
	}

	switch env.Type {
	case TypeTopologyInit:
		return decodeTopology(data)
	case TypeInputImage:
		return decodeInputImage(data)
	case TypeLayerUpdate, typeActivationUpdate:
		return decodeLayerUpdate(env.Type, data)
	case TypeConvStep:
		return decodeConvStep(data)
	case TypePoolStep:
		return decodePoolStep(data)
	case TypeExplanationUpdate:
		var w wireExplanation
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, malformed(env.Type, err)
		}
		return ExplanationUpdate{Title: w.Title, Text: w.Text}, nil
	default:
		return nil, &DecodeError{Type: env.Type, Err: ErrUnknownType}
	}
}

func decodeTopology(data []byte) (Command, error) {
	var layers []wireLayer
	if err := json.Unmarshal(data, &layers); err != nil {
		return nil, malformed(TypeTopologyInit, err)
	}
	cmd := TopologyInit{Layers: make([]LayerInfo, 0, len(layers))}
	for _, l := range layers {
		info, err := l.info()
		if err != nil {
			return nil, malformed(TypeTopologyInit, err)
		}
		cmd.Layers = append(cmd.Layers, info)
	}
	return cmd, nil
}

func decodeInputImage(data []byte) (Command, error) {
	var w wireInputImage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, malformed(TypeInputImage, err)
	}
	if w.Width <= 0 || w.Height <= 0 {
		return nil, malformed(TypeInputImage, fmt.Errorf("invalid image size %dx%d", w.Width, w.Height))
	}
	pixels := make([]uint8, len(w.Pixels))
	for i, p := range w.Pixels {
		if p < 0 || p > 255 {
			return nil, malformed(TypeInputImage, fmt.Errorf("pixel %d out of byte range: %d", i, p))
		}
		pixels[i] = uint8(p)
	}
	return InputImage{Width: w.Width, Height: w.Height, Pixels: pixels}, nil
}

func decodeLayerUpdate(typ string, data []byte) (Command, error) {
	var w wireLayerUpdate
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, malformed(typ, err)
	}
	name := w.LayerName
	if name == "" {
		name = w.Legacy
	}
	if name == "" {
		return nil, malformed(typ, errors.New("layer_name is required"))
	}
	cmd := LayerUpdate{Layer: name, Values: w.Values}
	if w.Min != nil && w.Range != nil {
		cmd.Min, cmd.Range = *w.Min, *w.Range
	} else {
		cmd.Min, cmd.Range = valuesRange(w.Values)
	}
	return cmd, nil
}

func decodeConvStep(data []byte) (Command, error) {
	var w wireStep
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, malformed(TypeConvStep, err)
	}
	start, out, err := w.coords()
	if err != nil {
		return nil, malformed(TypeConvStep, err)
	}
	lo, rng := stepRange(w.Min, w.Range)
	return ConvStep{
		InputLayer:  w.InputLayer,
		OutputLayer: w.OutputLayer,
		InputStart:  start,
		KernelSize:  w.KernelSize,
		OutputCoord: out,
		OutputValue: w.OutputValue,
		Min:         lo,
		Range:       rng,
	}, nil
}

func decodePoolStep(data []byte) (Command, error) {
	var w wireStep
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, malformed(TypePoolStep, err)
	}
	start, out, err := w.coords()
	if err != nil {
		return nil, malformed(TypePoolStep, err)
	}
	if w.PoolSize == nil {
		return nil, malformed(TypePoolStep, errors.New("pool_size is required"))
	}
	lo, rng := stepRange(w.Min, w.Range)
	cmd := PoolStep{
		InputLayer:  w.InputLayer,
		OutputLayer: w.OutputLayer,
		InputStart:  start,
		KernelSize:  w.KernelSize,
		PoolSize:    *w.PoolSize,
		OutputCoord: out,
		OutputValue: w.OutputValue,
		Min:         lo,
		Range:       rng,
	}
	if w.Winner != nil {
		if len(w.Winner) != 2 {
			return nil, malformed(TypePoolStep, fmt.Errorf("winner_coord_in_patch has %d values, want 2", len(w.Winner)))
		}
		cmd.Winner = &[2]int{w.Winner[0], w.Winner[1]}
	}
	return cmd, nil
}
