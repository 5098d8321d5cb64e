package protocol

// Wire type discriminants.
const (
	TypeTopologyInit      = "topology_init"
	TypeInputImage        = "input_image_data"
	TypeLayerUpdate       = "layer_update"
	TypeConvStep          = "conv_step"
	TypePoolStep          = "pool_step"
	TypeExplanationUpdate = "explanation_update"
	TypeComplete          = "visualization_complete"

	// typeActivationUpdate is the older name for layer_update used by early
	// producers. It carries layer_name_to_update instead of layer_name.
	typeActivationUpdate = "activation_update"
)

// Command is one decoded envelope. The concrete types below are the only
// implementations.
type Command interface {
	// Type returns the wire discriminant.
	Type() string
	isCommand()
}

// LayerInfo is one entry of a topology_init array.
type LayerInfo struct {
	Name string
	// Type is the producer's layer class name, e.g. "Conv2d" or "ReLU".
	Type string
	// OutputShape is [batch, channels, height, width].
	OutputShape [4]int
}

// Channels returns the channel dimension of the output shape.
func (l LayerInfo) Channels() int { return l.OutputShape[1] }

// Height returns the row dimension of the output shape.
func (l LayerInfo) Height() int { return l.OutputShape[2] }

// Width returns the column dimension of the output shape.
func (l LayerInfo) Width() int { return l.OutputShape[3] }

// SyntheticInputLayer is inserted ahead of every declared topology. Its shape
// matches the 32x32 RGB images the reference producer sends.
var SyntheticInputLayer = LayerInfo{
	Name:        "input",
	Type:        "Input",
	OutputShape: [4]int{1, 3, 32, 32},
}

// TopologyInit declares the network layers in stack order.
type TopologyInit struct {
	Layers []LayerInfo
}

// InputImage carries the raw input image as interleaved RGB bytes, row major
// from the top row.
type InputImage struct {
	Width  int
	Height int
	Pixels []uint8
}

// LayerUpdate replaces every activation of a layer.
type LayerUpdate struct {
	Layer  string
	Values [][][]float64
	Min    float64
	Range  float64
}

// ConvStep reports one output neuron produced by a convolution kernel placed
// at InputStart (row, col) on the input layer.
type ConvStep struct {
	InputLayer  string
	OutputLayer string
	InputStart  [2]int
	KernelSize  int
	OutputCoord [3]int
	OutputValue float64
	Min         float64
	Range       float64
}

// PoolStep reports one output neuron produced by a pooling window.
type PoolStep struct {
	InputLayer  string
	OutputLayer string
	InputStart  [2]int
	KernelSize  int
	PoolSize    int
	OutputCoord [3]int
	OutputValue float64
	Min         float64
	Range       float64
	// Winner is the (row, col) of the selected element inside the window
	// when the producer reports it.
	Winner *[2]int
}

// ExplanationUpdate is narrative text for the display sink.
type ExplanationUpdate struct {
	Title string
	Text  string
}

// Complete marks the end of a visualization session.
type Complete struct{}

func (TopologyInit) Type() string      { return TypeTopologyInit }
func (InputImage) Type() string        { return TypeInputImage }
func (LayerUpdate) Type() string       { return TypeLayerUpdate }
func (ConvStep) Type() string          { return TypeConvStep }
func (PoolStep) Type() string          { return TypePoolStep }
func (ExplanationUpdate) Type() string { return TypeExplanationUpdate }
func (Complete) Type() string          { return TypeComplete }

func (TopologyInit) isCommand()      {}
func (InputImage) isCommand()        {}
func (LayerUpdate) isCommand()       {}
func (ConvStep) isCommand()          {}
func (PoolStep) isCommand()          {}
func (ExplanationUpdate) isCommand() {}
func (Complete) isCommand()          {}
