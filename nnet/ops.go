package nnet

import (
	"fmt"
	"strings"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/bisenet/base"
	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

// op runs one graph node. Returned tensors are always newly allocated.
type op interface {
	forward(in []*ts.Tensor, train bool) *ts.Tensor
}

type unary struct {
	m ts.ModuleT
}

func (u unary) forward(in []*ts.Tensor, train bool) *ts.Tensor {
	return u.m.ForwardT(in[0], train)
}

type concat struct{}

func (concat) forward(in []*ts.Tensor, train bool) *ts.Tensor {
	xs := make([]ts.Tensor, len(in))
	for i, x := range in {
		xs[i] = *x
	}
	return ts.MustCat(xs, 1)
}

type add struct{}

func (add) forward(in []*ts.Tensor, train bool) *ts.Tensor {
	sum := in[0].MustAdd(in[1], false)
	for _, x := range in[2:] {
		sum = sum.MustAdd(x, true)
	}
	return sum
}

type mul struct{}

func (mul) forward(in []*ts.Tensor, train bool) *ts.Tensor {
	prod := in[0].MustMul(in[1], false)
	for _, x := range in[2:] {
		prod = prod.MustMul(x, true)
	}
	return prod
}

// path maps a scoped node name such as "context/arm16/gate/conv" onto
// nested var store paths.
func path(root *nn.Path, name string) *nn.Path {
	p := root
	for _, part := range strings.Split(name, "/") {
		p = p.Sub(part)
	}
	return p
}

func unsupported(n *graph.Node, reason string) error {
	return &shape.ConfigurationError{Field: "layer " + n.Name, Value: n.Kind(), Reason: reason}
}

// padding returns the symmetric padding libtorch needs to reproduce the
// inferred output size of a square window op.
func padding(n *graph.Node, kernel, stride int, p graph.Padding) (int64, error) {
	var pad int
	if p == graph.Same {
		if kernel%2 == 0 {
			return 0, unsupported(n, "same padding needs an odd kernel")
		}
		pad = (kernel - 1) / 2
	}
	in := n.Inputs[0].Shape
	h := (in.Height+2*pad-kernel)/stride + 1
	w := (in.Width+2*pad-kernel)/stride + 1
	if h != n.Shape.Height || w != n.Shape.Width {
		return 0, unsupported(n, fmt.Sprintf("symmetric padding %d gives %dx%d, want %dx%d", pad, h, w, n.Shape.Height, n.Shape.Width))
	}
	return int64(pad), nil
}

func activation(fn string) ts.ModuleT {
	return nn.NewFuncT(func(xs *ts.Tensor, train bool) *ts.Tensor {
		switch fn {
		case graph.Sigmoid:
			return xs.MustSigmoid(false)
		case graph.ReLU:
			return xs.MustRelu(false)
		default:
			return xs.MustShallowClone()
		}
	})
}

// newOp creates the gotch module for n under p.
func newOp(p *nn.Path, n *graph.Node) (op, error) {
	in := n.Inputs[0].Shape
	cIn := int64(in.Channels)
	out := []int64{int64(n.Shape.Height), int64(n.Shape.Width)}

	switch l := n.Layer.(type) {
	case *graph.Conv2D:
		pad, err := padding(n, l.Kernel, l.Stride, l.Padding)
		if err != nil {
			return nil, err
		}
		if l.Bias {
			return unary{base.Conv2d(p, cIn, int64(l.Filters), int64(l.Kernel), pad, int64(l.Stride))}, nil
		}
		return unary{base.Conv2dNoBias(p, cIn, int64(l.Filters), int64(l.Kernel), pad, int64(l.Stride))}, nil

	case *graph.SeparableConv2D:
		pad, err := padding(n, l.Kernel, l.Stride, l.Padding)
		if err != nil {
			return nil, err
		}
		return unary{base.NewSeparableConv2d(p, cIn, int64(l.Filters), int64(l.Kernel), pad, int64(l.Stride), l.Bias)}, nil

	case *graph.BatchNorm:
		return unary{base.BatchNorm2d(p, cIn, l.Eps)}, nil

	case *graph.Activation:
		return unary{activation(l.Fn)}, nil

	case *graph.AvgPool2D:
		if l.Pool == 1 && l.Stride == 1 {
			return unary{base.NewIdentity()}, nil
		}
		// non-overlapping windows tiling the input equal adaptive pooling
		if l.Pool != l.Stride || l.Padding != graph.Valid || in.Height%l.Pool != 0 || in.Width%l.Pool != 0 {
			return nil, unsupported(n, "only 1x1 or non-overlapping tiling average pools are supported")
		}
		return unary{nn.NewFuncT(func(xs *ts.Tensor, train bool) *ts.Tensor {
			return xs.MustAdaptiveAvgPool2d(out, false)
		})}, nil

	case *graph.MaxPool2D:
		pad, err := padding(n, l.Pool, l.Stride, l.Padding)
		if err != nil {
			return nil, err
		}
		k, s, pd := int64(l.Pool), int64(l.Stride), pad
		return unary{nn.NewFuncT(func(xs *ts.Tensor, train bool) *ts.Tensor {
			return xs.MustMaxPool2d([]int64{k, k}, []int64{s, s}, []int64{pd, pd}, []int64{1, 1}, false, false)
		})}, nil

	case *graph.GlobalAvgPool2D:
		return unary{nn.NewFuncT(func(xs *ts.Tensor, train bool) *ts.Tensor {
			return xs.MustAdaptiveAvgPool2d([]int64{1, 1}, false)
		})}, nil

	case *graph.UpSampling2D:
		// interpolation using `nearest` algorithm
		return unary{nn.NewFuncT(func(xs *ts.Tensor, train bool) *ts.Tensor {
			return xs.MustUpsampleNearest2d(out, nil, nil, false)
		})}, nil

	case *graph.Resize:
		// interpolation using `bilinear` algorithm
		return unary{nn.NewFuncT(func(xs *ts.Tensor, train bool) *ts.Tensor {
			return xs.MustUpsampleBilinear2d(out, false, nil, nil, false)
		})}, nil

	case *graph.Preprocess:
		return unary{base.NewNormalize(l.Scale, l.Offset, l.Mean, l.Std)}, nil

	case *graph.Concat:
		return concat{}, nil

	case *graph.Add:
		return add{}, nil

	case *graph.Multiply:
		return mul{}, nil
	}

	return nil, unsupported(n, "no libtorch implementation")
}
