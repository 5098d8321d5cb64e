package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// Envelope is the outer document of every frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wireLayer struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	OutputShape []int  `json:"output_shape"`
}

type wireInputImage struct {
	Pixels []int `json:"pixels"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
}

type wireLayerUpdate struct {
	LayerName string        `json:"layer_name"`
	Legacy    string        `json:"layer_name_to_update,omitempty"`
	Values    [][][]float64 `json:"activations"`
	Min       *float64      `json:"min_val,omitempty"`
	Range     *float64      `json:"val_range,omitempty"`
}

type wireStep struct {
	InputLayer  string   `json:"input_layer_name"`
	OutputLayer string   `json:"output_layer_name"`
	InputStart  []int    `json:"input_start_coords"`
	KernelSize  int      `json:"kernel_size"`
	PoolSize    *int     `json:"pool_size,omitempty"`
	OutputCoord []int    `json:"output_coord"`
	OutputValue float64  `json:"output_value"`
	Min         *float64 `json:"min_val,omitempty"`
	Range       *float64 `json:"val_range,omitempty"`
	Winner      []int    `json:"winner_coord_in_patch,omitempty"`
}

type wireExplanation struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (w wireLayer) info() (LayerInfo, error) {
	if w.Name == "" {
		return LayerInfo{}, fmt.Errorf("layer without name")
	}
	if len(w.OutputShape) != 4 {
		return LayerInfo{}, fmt.Errorf("layer %q: output_shape has %d dims, want 4", w.Name, len(w.OutputShape))
	}
	var shape [4]int
	copy(shape[:], w.OutputShape)
	return LayerInfo{Name: w.Name, Type: w.Type, OutputShape: shape}, nil
}

func (w wireStep) coords() (start [2]int, out [3]int, err error) {
	if len(w.InputStart) != 2 {
		return start, out, fmt.Errorf("input_start_coords has %d values, want 2", len(w.InputStart))
	}
	if len(w.OutputCoord) != 3 {
		return start, out, fmt.Errorf("output_coord has %d values, want 3", len(w.OutputCoord))
	}
	copy(start[:], w.InputStart)
	copy(out[:], w.OutputCoord)
	return start, out, nil
}

// stepRange returns the producer's normalization window, or the identity
// window [0, 1] when the producer omitted it.
func stepRange(lo, rng *float64) (float64, float64) {
	m, r := 0.0, 1.0
	if lo != nil {
		m = *lo
	}
	if rng != nil {
		r = *rng
	}
	return m, r
}

// valuesRange derives a normalization window from the values themselves.
// Early producers sent layer_update without min_val/val_range.
func valuesRange(values [][][]float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, plane := range values {
		for _, row := range plane {
			for _, v := range row {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0
	}
	return lo, hi - lo
}
