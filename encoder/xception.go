package encoder

import (
	"fmt"

	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

// Xception is the Xception image classifier without its top, laid out with
// the Keras layer names so taps such as "block13_pool" resolve as expected.
// Ref. https://arxiv.org/abs/1610.02357
type Xception struct{}

// NewXception creates an Xception encoder.
func NewXception() *Xception {
	return &Xception{}
}

func (e *Xception) Name() string { return "xception" }

// ShallowLayer is the last 16x down map: block13 before its pooling.
func (e *Xception) ShallowLayer() string { return "block13_sepconv2_bn" }

func (e *Xception) MinInput() int { return 71 }

// Preprocess scales pixels from 0..255 into -1..1.
func (e *Xception) Preprocess(b *graph.Builder, scope string, x graph.Tensor, size shape.Shape) graph.Tensor {
	x = resizeTo(b, graph.Join(scope, "resize"), x, size)
	return b.Apply(graph.Join(scope, "preprocess"), &graph.Preprocess{Scale: 1 / 127.5, Offset: -1}, x)
}

type xceptionBuilder struct {
	b     *graph.Builder
	scope string
	f     *Features
}

func (x *xceptionBuilder) apply(name string, l graph.Layer, in ...graph.Tensor) graph.Tensor {
	return x.f.add(name, x.b.Apply(graph.Join(x.scope, name), l, in...))
}

func (x *xceptionBuilder) convBn(name string, h graph.Tensor, filters, kernel, stride int, p graph.Padding) graph.Tensor {
	h = x.apply(name, &graph.Conv2D{Filters: filters, Kernel: kernel, Stride: stride, Padding: p}, h)
	return x.apply(name+"_bn", &graph.BatchNorm{Eps: graph.DefaultBatchNormEps}, h)
}

func (x *xceptionBuilder) sepBn(name string, h graph.Tensor, filters int) graph.Tensor {
	h = x.apply(name, &graph.SeparableConv2D{Filters: filters, Kernel: 3, Stride: 1, Padding: graph.Same}, h)
	return x.apply(name+"_bn", &graph.BatchNorm{Eps: graph.DefaultBatchNormEps}, h)
}

func (x *xceptionBuilder) relu(name string, h graph.Tensor) graph.Tensor {
	return x.apply(name, &graph.Activation{Fn: graph.ReLU}, h)
}

// downBlock is an entry flow block: two separable convs, a strided max pool
// and a strided 1x1 projection on the shortcut.
func (x *xceptionBuilder) downBlock(block string, h graph.Tensor, first, second int, preAct bool) graph.Tensor {
	res := x.convBn(block+"_res_conv", h, second, 1, 2, graph.Same)
	if preAct {
		h = x.relu(block+"_sepconv1_act", h)
	}
	h = x.sepBn(block+"_sepconv1", h, first)
	h = x.relu(block+"_sepconv2_act", h)
	h = x.sepBn(block+"_sepconv2", h, second)
	h = x.apply(block+"_pool", &graph.MaxPool2D{Pool: 3, Stride: 2, Padding: graph.Same}, h)
	return x.apply(block+"_add", &graph.Add{}, h, res)
}

// Build adds the Xception layers on top of a preprocessed image.
func (e *Xception) Build(b *graph.Builder, scope string, in graph.Tensor) *Features {
	x := &xceptionBuilder{b: b, scope: scope, f: newFeatures(e.Name())}
	if !checkInput(b, e.Name(), in, e.MinInput()) {
		return x.f
	}

	// entry flow
	h := x.convBn("block1_conv1", in, 32, 3, 2, graph.Valid)
	h = x.relu("block1_conv1_act", h)
	h = x.convBn("block1_conv2", h, 64, 3, 1, graph.Valid)
	h = x.relu("block1_conv2_act", h)

	h = x.downBlock("block2", h, 128, 128, false)
	h = x.downBlock("block3", h, 256, 256, true)
	h = x.downBlock("block4", h, 728, 728, true)

	// middle flow
	for i := 5; i <= 12; i++ {
		block := fmt.Sprintf("block%d", i)
		res := h
		for j := 1; j <= 3; j++ {
			conv := fmt.Sprintf("%s_sepconv%d", block, j)
			h = x.relu(conv+"_act", h)
			h = x.sepBn(conv, h, 728)
		}
		h = x.apply(block+"_add", &graph.Add{}, h, res)
	}

	// exit flow
	h = x.downBlock("block13", h, 728, 1024, true)
	h = x.sepBn("block14_sepconv1", h, 1536)
	h = x.relu("block14_sepconv1_act", h)
	h = x.sepBn("block14_sepconv2", h, 2048)
	x.relu("block14_sepconv2_act", h)

	return x.f
}
