package layout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/netviz/internal/scene"
)

func testModel(t *testing.T) *scene.Model {
	t.Helper()
	m := scene.NewModel()
	require.NoError(t, m.CreateLayer(scene.LayerDescriptor{Name: "input", Shape: scene.Shape{Channels: 3, Height: 4, Width: 4}}))
	require.NoError(t, m.CreateLayer(scene.LayerDescriptor{Name: "0", Shape: scene.Shape{Channels: 8, Height: 4, Width: 4}}))
	require.NoError(t, m.CreateLayer(scene.LayerDescriptor{Name: "1", Shape: scene.Shape{Channels: 8, Height: 2, Width: 2}}))
	return m
}

func TestRecompute_Offsets(t *testing.T) {
	m := testModel(t)
	p := Params{NeuronSpacing: 0.2, ChannelSpacing: 0.5, LayerSpacing: 5}
	l := Recompute(m, p)

	require.Len(t, l.Layers, 3)
	assert.Equal(t, 0.0, l.Layers[0].Offset)
	assert.InDelta(t, 5+3*0.5, l.Layers[1].Offset, 1e-12)
	assert.InDelta(t, 5+3*0.5+5+8*0.5, l.Layers[2].Offset, 1e-12)

	for _, ll := range l.Layers {
		off, ok := m.Offset(ll.Name)
		require.True(t, ok)
		assert.Equal(t, ll.Offset, off, "offset stored back for %s", ll.Name)
	}
	assert.InDelta(t, l.Layers[2].Offset+8*0.5, l.Depth(), 1e-12)
}

func TestRecompute_NeuronPositions(t *testing.T) {
	m := testModel(t)
	p := Params{NeuronSpacing: 0.2, ChannelSpacing: 0.8, LayerSpacing: 5}
	l := Recompute(m, p)

	in, ok := l.Layer("input")
	require.True(t, ok)
	// (x - W/2)*ns, (y - H/2)*ns, (c - C/2)*cs with float division
	got := in.LocalAt(scene.Coord{C: 0, Y: 0, X: 0})
	assert.InDelta(t, -0.4, got.X, 1e-12)
	assert.InDelta(t, -0.4, got.Y, 1e-12)
	assert.InDelta(t, -1.2, got.Z, 1e-12)

	got = in.LocalAt(scene.Coord{C: 2, Y: 3, X: 1})
	assert.InDelta(t, -0.2, got.X, 1e-12)
	assert.InDelta(t, 0.2, got.Y, 1e-12)
	assert.InDelta(t, 0.4, got.Z, 1e-12)

	second, _ := l.Layer("0")
	world := second.WorldAt(scene.Coord{C: 4, Y: 2, X: 2})
	assert.InDelta(t, 0, world.X, 1e-12)
	assert.InDelta(t, 0, world.Y, 1e-12)
	assert.InDelta(t, second.Offset, world.Z, 1e-12)
}

func TestRecompute_Idempotent(t *testing.T) {
	m := testModel(t)
	p := DefaultParams()

	first := Recompute(m, p)
	second := Recompute(m, p)
	if diff := cmp.Diff(first.Layers, second.Layers); diff != "" {
		t.Fatalf("layout changed between identical runs (-first +second):\n%s", diff)
	}
}

func TestRecompute_Empty(t *testing.T) {
	l := Recompute(scene.NewModel(), DefaultParams())
	assert.Empty(t, l.Layers)
	assert.Equal(t, 0.0, l.Depth())
	_, ok := l.Layer("input")
	assert.False(t, ok)
}

func TestNeuronPosition_OddShape(t *testing.T) {
	s := scene.Shape{Channels: 1, Height: 3, Width: 3}
	got := NeuronPosition(s, scene.Coord{Y: 1, X: 1}, Params{NeuronSpacing: 1, ChannelSpacing: 1})
	assert.Equal(t, r3.Vec{X: -0.5, Y: -0.5, Z: -0.5}, got)
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	bad := []Params{
		{NeuronSpacing: 0.05, ChannelSpacing: 0.8, LayerSpacing: 5},
		{NeuronSpacing: 0.2, ChannelSpacing: 6, LayerSpacing: 5},
		{NeuronSpacing: 0.2, ChannelSpacing: 0.8, LayerSpacing: 0.5},
	}
	for _, p := range bad {
		assert.Error(t, p.Validate(), "%+v", p)
	}
}

func TestWatcher(t *testing.T) {
	m := testModel(t)
	w := NewWatcher(DefaultParams())
	assert.Nil(t, w.Current())

	assert.True(t, w.Update(m), "first update computes")
	assert.False(t, w.Update(m), "nothing changed")

	p := w.Params()
	p.LayerSpacing += 0.0005
	w.SetParams(p)
	assert.False(t, w.Update(m), "change inside the dead band is ignored")

	p.LayerSpacing += 1
	w.SetParams(p)
	assert.True(t, w.Update(m))
	assert.Equal(t, p, w.Current().Params)

	require.NoError(t, m.CreateLayer(scene.LayerDescriptor{Name: "2", Shape: scene.Shape{Channels: 1, Height: 1, Width: 1}}))
	assert.True(t, w.Update(m), "new layer triggers recompute")
	assert.Len(t, w.Current().Layers, 4)

	w.Invalidate()
	assert.True(t, w.Update(m))
}
