package producer

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/netviz/internal/protocol"
)

// ReferenceTopology is the feature extractor of the small CIFAR-10 network
// the reference director streams: two conv/relu/pool blocks over a 32x32 RGB
// image.
func ReferenceTopology() protocol.TopologyInit {
	return protocol.TopologyInit{Layers: []protocol.LayerInfo{
		{Name: "0", Type: "Conv2d", OutputShape: [4]int{1, 8, 32, 32}},
		{Name: "1", Type: "ReLU", OutputShape: [4]int{1, 8, 32, 32}},
		{Name: "2", Type: "MaxPool2d", OutputShape: [4]int{1, 8, 16, 16}},
		{Name: "3", Type: "Conv2d", OutputShape: [4]int{1, 16, 16, 16}},
		{Name: "4", Type: "ReLU", OutputShape: [4]int{1, 16, 16, 16}},
		{Name: "5", Type: "MaxPool2d", OutputShape: [4]int{1, 16, 8, 8}},
	}}
}

// WalkthroughOptions shapes a synthetic session.
type WalkthroughOptions struct {
	Topology protocol.TopologyInit
	// StepsPerLayer is how many conv or pool steps precede each layer's
	// full update.
	StepsPerLayer int
	Seed          uint64
}

// DefaultWalkthroughOptions streams the reference topology with a handful of
// steps per layer.
func DefaultWalkthroughOptions() WalkthroughOptions {
	return WalkthroughOptions{Topology: ReferenceTopology(), StepsPerLayer: 4, Seed: 1}
}

// Walkthrough builds a complete session without a model: topology, a
// gradient input image, then per layer an explanation, some steps and a
// full layer_update, and finally visualization_complete. Conv activations
// are random; ReLU and MaxPool layers are computed from the layer before
// them so the stream stays self-consistent. The same options always yield
// the same commands.
func Walkthrough(opts WalkthroughOptions) ([]protocol.Command, error) {
	topo := opts.Topology
	if len(topo.Layers) == 0 {
		return nil, fmt.Errorf("walkthrough needs at least one layer")
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	in := protocol.SyntheticInputLayer
	cmds := []protocol.Command{topo, gradientImage(in.Width(), in.Height())}

	prevName := in.Name
	var prev [][][]float64
	for _, l := range topo.Layers {
		c, h, w := l.Channels(), l.Height(), l.Width()
		if c <= 0 || h <= 0 || w <= 0 {
			return nil, fmt.Errorf("layer %q has empty shape %v", l.Name, l.OutputShape)
		}

		var values [][][]float64
		pooled := false
		switch {
		case l.Type == "ReLU" && sameShape(prev, c, h, w):
			values = grid(c, h, w, func(ch, y, x int) float64 { return math.Max(0, prev[ch][y][x]) })
		case l.Type == "MaxPool2d" && len(prev) == c && len(prev[0]) >= 2*h && len(prev[0][0]) >= 2*w:
			pooled = true
			values = grid(c, h, w, func(ch, y, x int) float64 {
				return max(prev[ch][2*y][2*x], prev[ch][2*y][2*x+1], prev[ch][2*y+1][2*x], prev[ch][2*y+1][2*x+1])
			})
		default:
			values = grid(c, h, w, func(int, int, int) float64 { return rng.NormFloat64() })
		}
		lo, hi := bounds(values)
		span := hi - lo
		if span == 0 {
			span = 1
		}

		cmds = append(cmds, protocol.ExplanationUpdate{
			Title: fmt.Sprintf("Layer %s: %s", l.Name, l.Type),
			Text:  fmt.Sprintf("%d channels of %dx%d activations", c, h, w),
		})

		for i := 0; i < opts.StepsPerLayer; i++ {
			ch, y, x := rng.IntN(c), rng.IntN(h), rng.IntN(w)
			switch l.Type {
			case "Conv2d":
				cmds = append(cmds, protocol.ConvStep{
					InputLayer:  prevName,
					OutputLayer: l.Name,
					InputStart:  [2]int{max(0, y-1), max(0, x-1)},
					KernelSize:  3,
					OutputCoord: [3]int{ch, y, x},
					OutputValue: values[ch][y][x],
					Min:         lo,
					Range:       span,
				})
			case "MaxPool2d":
				winner := [2]int{rng.IntN(2), rng.IntN(2)}
				if pooled {
					winner = argmax2x2(prev[ch], 2*y, 2*x)
				}
				cmds = append(cmds, protocol.PoolStep{
					InputLayer:  prevName,
					OutputLayer: l.Name,
					InputStart:  [2]int{2 * y, 2 * x},
					KernelSize:  2,
					PoolSize:    2,
					OutputCoord: [3]int{ch, y, x},
					OutputValue: values[ch][y][x],
					Min:         lo,
					Range:       span,
					Winner:      &winner,
				})
			}
		}

		cmds = append(cmds, protocol.LayerUpdate{Layer: l.Name, Values: values, Min: lo, Range: span})
		prevName, prev = l.Name, values
	}
	return append(cmds, protocol.Complete{}), nil
}

func gradientImage(w, h int) protocol.InputImage {
	px := make([]uint8, 0, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px = append(px, uint8(255*x/max(1, w-1)), uint8(255*y/max(1, h-1)), 128)
		}
	}
	return protocol.InputImage{Width: w, Height: h, Pixels: px}
}

func grid(c, h, w int, f func(ch, y, x int) float64) [][][]float64 {
	out := make([][][]float64, c)
	for ch := range out {
		out[ch] = make([][]float64, h)
		for y := range out[ch] {
			out[ch][y] = make([]float64, w)
			for x := range out[ch][y] {
				out[ch][y][x] = f(ch, y, x)
			}
		}
	}
	return out
}

func sameShape(v [][][]float64, c, h, w int) bool {
	return len(v) == c && len(v[0]) == h && len(v[0][0]) == w
}

func bounds(v [][][]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, plane := range v {
		for _, row := range plane {
			for _, x := range row {
				lo, hi = math.Min(lo, x), math.Max(hi, x)
			}
		}
	}
	return lo, hi
}

func argmax2x2(plane [][]float64, y, x int) [2]int {
	best := [2]int{0, 0}
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			if plane[y+dy][x+dx] > plane[y+best[0]][x+best[1]] {
				best = [2]int{dy, dx}
			}
		}
	}
	return best
}
