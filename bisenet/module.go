package bisenet

import (
	"fmt"

	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

// Conv configures the convolution of a ConvBnAct block.
type Conv struct {
	Filters int
	Kernel  int
	Stride  int
	Padding graph.Padding
}

// NewConv returns a Conv with the stem defaults: 2x2 kernel, stride 1,
// valid padding.
func NewConv(filters int) Conv {
	return Conv{Filters: filters, Kernel: 2, Stride: 1, Padding: graph.Valid}
}

// ConvBnAct applies convolution, batch normalization and activation, in
// that order.
func ConvBnAct(b *graph.Builder, name string, x graph.Tensor, c Conv, act string) graph.Tensor {
	x = b.Apply(graph.Join(name, "conv"), &graph.Conv2D{
		Filters: c.Filters,
		Kernel:  c.Kernel,
		Stride:  c.Stride,
		Padding: c.Padding,
		Bias:    true,
	}, x)
	x = b.Apply(graph.Join(name, "bn"), &graph.BatchNorm{Eps: graph.DefaultBatchNormEps}, x)
	return b.Apply(graph.Join(name, "act"), &graph.Activation{Fn: act}, x)
}

// ConvAct applies a stride 1 convolution and an activation. With pooling
// set, a 1x1 average pool runs first; it leaves the shape unchanged.
func ConvAct(b *graph.Builder, name string, x graph.Tensor, filters, kernel int, act string, pooling bool) graph.Tensor {
	if pooling {
		x = b.Apply(graph.Join(name, "pool"), &graph.AvgPool2D{Pool: 1, Stride: 1, Padding: graph.Same}, x)
	}
	x = b.Apply(graph.Join(name, "conv"), &graph.Conv2D{
		Filters: filters,
		Kernel:  kernel,
		Stride:  1,
		Bias:    true,
	}, x)
	return b.Apply(graph.Join(name, "act"), &graph.Activation{Fn: act}, x)
}

// ARM is the attention refinement module: a sigmoid gate computed from
// the (1x1 pooled) input rescales every channel of the input.
// The output has the shape of x.
func ARM(b *graph.Builder, name string, x graph.Tensor, channels int) graph.Tensor {
	pooled := b.Apply(graph.Join(name, "pool"), &graph.AvgPool2D{Pool: 1, Stride: 1, Padding: graph.Same}, x)
	gate := ConvBnAct(b, graph.Join(name, "gate"), pooled, Conv{Filters: channels, Kernel: 1, Stride: 1}, graph.Sigmoid)
	return b.Apply(graph.Join(name, "mul"), &graph.Multiply{}, x, gate)
}

// SpatialPath stacks one stride 2 ConvBnAct per channel count, so the
// output is downsampled 2^len(channels) times.
func SpatialPath(b *graph.Builder, name string, x graph.Tensor, channels []int) graph.Tensor {
	for i, c := range channels {
		conv := NewConv(c)
		conv.Stride = 2
		x = ConvBnAct(b, graph.Join(name, fmt.Sprintf("conv%d", i+1)), x, conv, graph.ReLU)
	}
	return x
}

// upsample resamples x to the spatial size of ref with nearest neighbor.
// Equal sizes pass through unchanged.
func upsample(b *graph.Builder, name string, x graph.Tensor, ref shape.Shape) graph.Tensor {
	if !x.Defined() {
		return x
	}
	xs := x.Shape()
	if xs.Height == ref.Height && xs.Width == ref.Width {
		return x
	}
	if ref.Height%xs.Height != 0 || ref.Width%xs.Width != 0 || ref.Height/xs.Height != ref.Width/xs.Width {
		b.Fail(shape.Mismatch(name, "target is not an integer multiple of the input", xs, ref))
		return graph.Tensor{}
	}
	return b.Apply(name, &graph.UpSampling2D{Factor: ref.Height / xs.Height}, x)
}
