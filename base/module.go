package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Identity is a nn.Module placeholder.
// It forwards the input tensor as such.
type Identity struct{}

// Forward implement nn.Module for Identity struct
func (i *Identity) Forward(x *ts.Tensor) *ts.Tensor {
	return x.MustShallowClone()
}

// Forward implement nn.ModuleT for Identity struct.
func (i *Identity) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return x.MustShallowClone()
}

// NewIdentity creates a new Identity struct.
func NewIdentity() *Identity {
	return &Identity{}
}

// Conv2d creates Conv2D module.
func Conv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// Conv2dNoBias creates Conv2D with no bias.
func Conv2dNoBias(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Bias = false
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// BatchNorm2d creates a BatchNorm with the given epsilon.
func BatchNorm2d(p *nn.Path, c int64, eps float64) *nn.BatchNorm {
	config := nn.DefaultBatchNormConfig()
	config.Eps = eps
	return nn.BatchNorm2D(p, c, config)
}

// SeparableConv2d is a depthwise convolution (one filter per input channel)
// followed by a 1x1 pointwise convolution.
type SeparableConv2d struct {
	Depthwise *nn.Conv2D
	Pointwise *nn.Conv2D
}

// NewSeparableConv2d creates a SeparableConv2d. Weights live under
// `depthwise` and `pointwise` sub paths.
func NewSeparableConv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64, bias bool) *SeparableConv2d {
	dwConfig := nn.DefaultConv2DConfig()
	dwConfig.Bias = false
	dwConfig.Groups = cIn
	dwConfig.Stride = []int64{stride, stride}
	dwConfig.Padding = []int64{padding, padding}

	pwConfig := nn.DefaultConv2DConfig()
	pwConfig.Bias = bias

	return &SeparableConv2d{
		Depthwise: nn.NewConv2D(p.Sub("depthwise"), cIn, cIn, ksize, dwConfig),
		Pointwise: nn.NewConv2D(p.Sub("pointwise"), cIn, cOut, 1, pwConfig),
	}
}

// ForwardT implements ts.ModuleT for SeparableConv2d.
func (m *SeparableConv2d) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	dw := m.Depthwise.ForwardT(x, train)
	pw := m.Pointwise.ForwardT(dw, train)
	dw.MustDrop()

	return pw
}

// Normalize computes (x*scale + offset - mean)/std per channel on NCHW
// tensors. mean and std may be nil. They are kept on CPU and moved to the
// input's device on each forward.
type Normalize struct {
	scale  float64
	offset float64
	mean   *ts.Tensor
	std    *ts.Tensor
}

// NewNormalize creates a Normalize module.
func NewNormalize(scale, offset float64, mean, std []float64) *Normalize {
	n := &Normalize{
		scale:  scale,
		offset: offset,
	}
	if len(mean) > 0 {
		c := int64(len(mean))
		n.mean = ts.MustOfSlice(toFloat32(mean)).MustView([]int64{1, c, 1, 1}, true)
		n.std = ts.MustOfSlice(toFloat32(std)).MustView([]int64{1, c, 1, 1}, true)
	}
	return n
}

func toFloat32(vals []float64) []float32 {
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(v)
	}
	return out
}

// ForwardT implements ts.ModuleT for Normalize.
func (n *Normalize) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	scaled := x.MustMul1(ts.FloatScalar(n.scale), false)
	out := scaled.MustAdd1(ts.FloatScalar(n.offset), true)
	if n.mean == nil {
		return out
	}

	device := x.MustDevice()
	mean := n.mean.MustTo(device, false)
	std := n.std.MustTo(device, false)
	defer mean.MustDrop()
	defer std.MustDrop()

	// x = (x - mean)/sd
	return out.MustSub(mean, true).MustDiv(std, true)
}
