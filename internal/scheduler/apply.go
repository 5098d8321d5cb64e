package scheduler

import (
	"errors"
	"fmt"

	"github.com/banshee-data/netviz/internal/monitoring"
	"github.com/banshee-data/netviz/internal/protocol"
	"github.com/banshee-data/netviz/internal/scene"
)

func (s *Scheduler) apply(cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.TopologyInit:
		return s.applyTopology(c)
	case protocol.InputImage:
		return s.model.MapImageToInputLayer(c.Pixels, c.Width, c.Height)
	case protocol.LayerUpdate:
		return s.model.BulkSetLayer(c.Layer, c.Values, c.Min, c.Range)
	case protocol.ConvStep:
		f, err := s.focusFor(FocusConv, c.InputLayer, c.OutputLayer, c.InputStart, c.KernelSize, c.OutputCoord)
		if err != nil {
			return err
		}
		if err := s.model.SetNeuronValue(c.OutputLayer, coordOf(c.OutputCoord), c.OutputValue, c.Min, c.Range); err != nil {
			return err
		}
		s.focus = f
		return nil
	case protocol.PoolStep:
		f, err := s.focusFor(FocusPool, c.InputLayer, c.OutputLayer, c.InputStart, c.PoolSize, c.OutputCoord)
		if err != nil {
			return err
		}
		if err := s.model.SetNeuronValue(c.OutputLayer, coordOf(c.OutputCoord), c.OutputValue, c.Min, c.Range); err != nil {
			return err
		}
		if c.Winner != nil {
			w := *c.Winner
			f.Winner = &w
		}
		s.focus = f
		return nil
	case protocol.ExplanationUpdate:
		s.explanation = Explanation{Title: c.Title, Text: c.Text}
		if s.explain != nil {
			s.explain.Explain(c.Title, c.Text)
		}
		return nil
	case protocol.Complete:
		s.complete.Store(true)
		monitoring.Logf("[scheduler] visualization complete after %d commands", s.applied.Load()+s.failed.Load())
		return nil
	default:
		return fmt.Errorf("unhandled command %T", cmd)
	}
}

// applyTopology creates the input layer and then every declared layer.
// Each layer succeeds or fails on its own; the errors are joined.
func (s *Scheduler) applyTopology(t protocol.TopologyInit) error {
	var errs []error
	for _, info := range append([]protocol.LayerInfo{s.input}, t.Layers...) {
		if err := s.model.CreateLayer(descriptorOf(info)); err != nil {
			errs = append(errs, err)
		}
	}
	monitoring.Logf("[scheduler] topology: %d layers declared, %d in model", len(t.Layers), s.model.Len())
	return errors.Join(errs...)
}

func descriptorOf(info protocol.LayerInfo) scene.LayerDescriptor {
	kind := scene.KindFromType(info.Type)
	if info.Name == scene.InputLayerName {
		kind = scene.KindInput
	}
	return scene.LayerDescriptor{
		Name:  info.Name,
		Kind:  kind,
		Type:  info.Type,
		Shape: scene.Shape{Channels: info.Channels(), Height: info.Height(), Width: info.Width()},
	}
}

func coordOf(c [3]int) scene.Coord {
	return scene.Coord{C: c[0], Y: c[1], X: c[2]}
}
