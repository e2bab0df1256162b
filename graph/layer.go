package graph

import (
	"fmt"

	"github.com/sugarme/bisenet/shape"
)

// Layer is a stateless shape transform. Learnable state is described by
// Params and owned by whoever materializes the graph, never by the layer.
type Layer interface {
	// Kind names the layer type, e.g. "Conv2D".
	Kind() string
	// Infer returns the output shape for the given input shapes.
	Infer(in ...shape.Shape) (shape.Shape, error)
	// Params lists the parameter blobs the layer needs for the given inputs.
	Params(in ...shape.Shape) []ParamSpec
}

// ParamSpec describes one parameter blob.
type ParamSpec struct {
	Name      string
	Dims      []int
	Trainable bool
}

// Size returns the number of scalars in the blob.
func (p ParamSpec) Size() int {
	n := 1
	for _, d := range p.Dims {
		n *= d
	}
	return n
}

// Padding selects the convolution and pooling border mode.
type Padding int

const (
	// Valid uses no padding; output = floor((in-k)/s)+1.
	Valid Padding = iota
	// Same pads so that output = ceil(in/s).
	Same
)

func (p Padding) String() string {
	switch p {
	case Valid:
		return "valid"
	case Same:
		return "same"
	default:
		return fmt.Sprintf("Padding(%d)", int(p))
	}
}

// ParsePadding converts "valid" or "same" into a Padding.
func ParsePadding(s string) (Padding, error) {
	switch s {
	case "valid", "":
		return Valid, nil
	case "same":
		return Same, nil
	}
	return Valid, &shape.ConfigurationError{Field: "padding", Value: s, Reason: "expected valid or same"}
}

// Activation functions.
const (
	ReLU    = "relu"
	Sigmoid = "sigmoid"
	Linear  = "linear"
)

func windowOut(op string, in shape.Shape, k, s int, p Padding) (int, int, error) {
	if p == Same {
		return (in.Height + s - 1) / s, (in.Width + s - 1) / s, nil
	}
	if in.Height < k || in.Width < k {
		return 0, 0, &shape.ShapeMismatchError{
			Op:     op,
			Shapes: []shape.Shape{in},
			Reason: fmt.Sprintf("window %dx%d larger than input", k, k),
		}
	}
	return (in.Height-k)/s + 1, (in.Width-k)/s + 1, nil
}

func single(kind string, in []shape.Shape) (shape.Shape, error) {
	if len(in) != 1 {
		return shape.Shape{}, &shape.ConfigurationError{Field: kind + " inputs", Value: len(in), Reason: "expected exactly 1"}
	}
	if !in[0].Valid() {
		return shape.Shape{}, &shape.ConfigurationError{Field: kind + " input", Value: in[0], Reason: "dimensions must be positive"}
	}
	return in[0], nil
}

func checkWindow(kind string, kernel, stride int, p Padding) error {
	if err := shape.Positive(kind+" kernel", kernel); err != nil {
		return err
	}
	if err := shape.Positive(kind+" stride", stride); err != nil {
		return err
	}
	if p != Valid && p != Same {
		return &shape.ConfigurationError{Field: kind + " padding", Value: p, Reason: "expected valid or same"}
	}
	return nil
}

// Conv2D is a square-kernel 2D convolution.
type Conv2D struct {
	Filters int
	Kernel  int
	Stride  int
	Padding Padding
	Bias    bool
}

func (l *Conv2D) Kind() string { return "Conv2D" }

func (l *Conv2D) Infer(in ...shape.Shape) (shape.Shape, error) {
	x, err := single(l.Kind(), in)
	if err != nil {
		return x, err
	}
	if err := shape.Positive("Conv2D filters", l.Filters); err != nil {
		return x, err
	}
	if err := checkWindow(l.Kind(), l.Kernel, l.Stride, l.Padding); err != nil {
		return x, err
	}
	h, w, err := windowOut(l.Kind(), x, l.Kernel, l.Stride, l.Padding)
	if err != nil {
		return x, err
	}
	return x.WithSpatial(h, w).WithChannels(l.Filters), nil
}

func (l *Conv2D) Params(in ...shape.Shape) []ParamSpec {
	ps := []ParamSpec{{Name: "kernel", Dims: []int{l.Kernel, l.Kernel, in[0].Channels, l.Filters}, Trainable: true}}
	if l.Bias {
		ps = append(ps, ParamSpec{Name: "bias", Dims: []int{l.Filters}, Trainable: true})
	}
	return ps
}

// SeparableConv2D is a depthwise convolution followed by a 1x1 pointwise one.
type SeparableConv2D struct {
	Filters int
	Kernel  int
	Stride  int
	Padding Padding
	Bias    bool
}

func (l *SeparableConv2D) Kind() string { return "SeparableConv2D" }

func (l *SeparableConv2D) Infer(in ...shape.Shape) (shape.Shape, error) {
	conv := Conv2D{Filters: l.Filters, Kernel: l.Kernel, Stride: l.Stride, Padding: l.Padding}
	return conv.Infer(in...)
}

func (l *SeparableConv2D) Params(in ...shape.Shape) []ParamSpec {
	c := in[0].Channels
	ps := []ParamSpec{
		{Name: "depthwise_kernel", Dims: []int{l.Kernel, l.Kernel, c, 1}, Trainable: true},
		{Name: "pointwise_kernel", Dims: []int{1, 1, c, l.Filters}, Trainable: true},
	}
	if l.Bias {
		ps = append(ps, ParamSpec{Name: "bias", Dims: []int{l.Filters}, Trainable: true})
	}
	return ps
}

// DefaultBatchNormEps matches the Keras default epsilon.
const DefaultBatchNormEps = 0.001

// BatchNorm normalizes per channel. Moving statistics are parameters of the
// graph, not of the layer value.
type BatchNorm struct {
	Eps float64
}

func (l *BatchNorm) Kind() string { return "BatchNormalization" }

func (l *BatchNorm) Infer(in ...shape.Shape) (shape.Shape, error) {
	x, err := single(l.Kind(), in)
	if err != nil {
		return x, err
	}
	if l.Eps < 0 {
		return x, &shape.ConfigurationError{Field: "BatchNormalization eps", Value: l.Eps, Reason: "must not be negative"}
	}
	return x, nil
}

func (l *BatchNorm) Params(in ...shape.Shape) []ParamSpec {
	c := in[0].Channels
	return []ParamSpec{
		{Name: "gamma", Dims: []int{c}, Trainable: true},
		{Name: "beta", Dims: []int{c}, Trainable: true},
		{Name: "moving_mean", Dims: []int{c}},
		{Name: "moving_variance", Dims: []int{c}},
	}
}

// Activation applies an elementwise nonlinearity.
type Activation struct {
	Fn string
}

func (l *Activation) Kind() string { return "Activation" }

func (l *Activation) Infer(in ...shape.Shape) (shape.Shape, error) {
	x, err := single(l.Kind(), in)
	if err != nil {
		return x, err
	}
	switch l.Fn {
	case ReLU, Sigmoid, Linear:
		return x, nil
	}
	return x, &shape.ConfigurationError{Field: "activation", Value: l.Fn, Reason: "expected relu, sigmoid or linear"}
}

func (l *Activation) Params(in ...shape.Shape) []ParamSpec { return nil }

// AvgPool2D averages over square windows.
type AvgPool2D struct {
	Pool    int
	Stride  int
	Padding Padding
}

func (l *AvgPool2D) Kind() string { return "AveragePooling2D" }

func (l *AvgPool2D) Infer(in ...shape.Shape) (shape.Shape, error) {
	return pool(l.Kind(), l.Pool, l.Stride, l.Padding, in)
}

func (l *AvgPool2D) Params(in ...shape.Shape) []ParamSpec { return nil }

// MaxPool2D takes the maximum over square windows.
type MaxPool2D struct {
	Pool    int
	Stride  int
	Padding Padding
}

func (l *MaxPool2D) Kind() string { return "MaxPooling2D" }

func (l *MaxPool2D) Infer(in ...shape.Shape) (shape.Shape, error) {
	return pool(l.Kind(), l.Pool, l.Stride, l.Padding, in)
}

func (l *MaxPool2D) Params(in ...shape.Shape) []ParamSpec { return nil }

func pool(kind string, size, stride int, p Padding, in []shape.Shape) (shape.Shape, error) {
	x, err := single(kind, in)
	if err != nil {
		return x, err
	}
	if err := checkWindow(kind, size, stride, p); err != nil {
		return x, err
	}
	h, w, err := windowOut(kind, x, size, stride, p)
	if err != nil {
		return x, err
	}
	return x.WithSpatial(h, w), nil
}

// GlobalAvgPool2D collapses the spatial dimensions to 1x1, keeping rank 4.
type GlobalAvgPool2D struct{}

func (l *GlobalAvgPool2D) Kind() string { return "GlobalAveragePooling2D" }

func (l *GlobalAvgPool2D) Infer(in ...shape.Shape) (shape.Shape, error) {
	x, err := single(l.Kind(), in)
	if err != nil {
		return x, err
	}
	return x.WithSpatial(1, 1), nil
}

func (l *GlobalAvgPool2D) Params(in ...shape.Shape) []ParamSpec { return nil }

// UpSampling2D repeats pixels by an integer factor (nearest neighbor).
type UpSampling2D struct {
	Factor int
}

func (l *UpSampling2D) Kind() string { return "UpSampling2D" }

func (l *UpSampling2D) Infer(in ...shape.Shape) (shape.Shape, error) {
	x, err := single(l.Kind(), in)
	if err != nil {
		return x, err
	}
	if err := shape.Positive("UpSampling2D factor", l.Factor); err != nil {
		return x, err
	}
	return x.WithSpatial(x.Height*l.Factor, x.Width*l.Factor), nil
}

func (l *UpSampling2D) Params(in ...shape.Shape) []ParamSpec { return nil }

// Resize bilinearly resamples to a fixed spatial size.
type Resize struct {
	Height int
	Width  int
}

func (l *Resize) Kind() string { return "Resize" }

func (l *Resize) Infer(in ...shape.Shape) (shape.Shape, error) {
	x, err := single(l.Kind(), in)
	if err != nil {
		return x, err
	}
	if err := shape.Positive("Resize height", l.Height); err != nil {
		return x, err
	}
	if err := shape.Positive("Resize width", l.Width); err != nil {
		return x, err
	}
	return x.WithSpatial(l.Height, l.Width), nil
}

func (l *Resize) Params(in ...shape.Shape) []ParamSpec { return nil }

// Preprocess computes (x*Scale + Offset - Mean[c]) / Std[c] per channel.
// Mean and Std are optional; when set they need one entry per channel.
type Preprocess struct {
	Scale  float64
	Offset float64
	Mean   []float64
	Std    []float64
}

func (l *Preprocess) Kind() string { return "Preprocess" }

func (l *Preprocess) Infer(in ...shape.Shape) (shape.Shape, error) {
	x, err := single(l.Kind(), in)
	if err != nil {
		return x, err
	}
	if l.Scale == 0 {
		return x, &shape.ConfigurationError{Field: "Preprocess scale", Value: l.Scale, Reason: "must not be zero"}
	}
	if (len(l.Mean) != 0 || len(l.Std) != 0) && (len(l.Mean) != x.Channels || len(l.Std) != x.Channels) {
		return x, shape.Mismatch(l.Kind(), fmt.Sprintf("mean/std need %d entries", x.Channels), x)
	}
	for _, sd := range l.Std {
		if sd == 0 {
			return x, &shape.ConfigurationError{Field: "Preprocess std", Value: l.Std, Reason: "must not contain zero"}
		}
	}
	return x, nil
}

func (l *Preprocess) Params(in ...shape.Shape) []ParamSpec { return nil }

// Concat joins inputs along the channel axis.
type Concat struct{}

func (l *Concat) Kind() string { return "Concatenate" }

func (l *Concat) Infer(in ...shape.Shape) (shape.Shape, error) {
	if len(in) < 2 {
		return shape.Shape{}, &shape.ConfigurationError{Field: "Concatenate inputs", Value: len(in), Reason: "expected at least 2"}
	}
	out := in[0]
	for _, s := range in[1:] {
		if !s.SpatialEqual(in[0]) {
			return shape.Shape{}, shape.Mismatch(l.Kind(), "non-channel dimensions differ", in...)
		}
		out.Channels += s.Channels
	}
	return out, nil
}

func (l *Concat) Params(in ...shape.Shape) []ParamSpec { return nil }

// Add sums its inputs elementwise. With Broadcast set, a 1x1 spatial
// operand is broadcast over the others.
type Add struct {
	Broadcast bool
}

func (l *Add) Kind() string { return "Add" }

func (l *Add) Infer(in ...shape.Shape) (shape.Shape, error) {
	return elementwise(l.Kind(), l.Broadcast, in)
}

func (l *Add) Params(in ...shape.Shape) []ParamSpec { return nil }

// Multiply multiplies its inputs elementwise. Broadcast as in Add.
type Multiply struct {
	Broadcast bool
}

func (l *Multiply) Kind() string { return "Multiply" }

func (l *Multiply) Infer(in ...shape.Shape) (shape.Shape, error) {
	return elementwise(l.Kind(), l.Broadcast, in)
}

func (l *Multiply) Params(in ...shape.Shape) []ParamSpec { return nil }

func elementwise(kind string, broadcast bool, in []shape.Shape) (shape.Shape, error) {
	if len(in) < 2 {
		return shape.Shape{}, &shape.ConfigurationError{Field: kind + " inputs", Value: len(in), Reason: "expected at least 2"}
	}
	out := in[0]
	for _, s := range in[1:] {
		if !broadcast {
			if !s.Equal(out) {
				return shape.Shape{}, shape.Mismatch(kind, "operands must have identical shapes", in...)
			}
			continue
		}
		if s.Batch != out.Batch || s.Channels != out.Channels {
			return shape.Shape{}, shape.Mismatch(kind, "batch and channels must agree", in...)
		}
		h, ok := broadcastDim(out.Height, s.Height)
		if !ok {
			return shape.Shape{}, shape.Mismatch(kind, "height not broadcastable", in...)
		}
		w, ok := broadcastDim(out.Width, s.Width)
		if !ok {
			return shape.Shape{}, shape.Mismatch(kind, "width not broadcastable", in...)
		}
		out = out.WithSpatial(h, w)
	}
	return out, nil
}

func broadcastDim(a, b int) (int, bool) {
	switch {
	case a == b:
		return a, true
	case a == 1:
		return b, true
	case b == 1:
		return a, true
	}
	return 0, false
}
