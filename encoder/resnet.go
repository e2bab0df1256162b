package encoder

import (
	"fmt"

	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

// ResNet34 is the torchvision ResNet34 without its classifier. Layer names
// follow the torchvision state dict ("layer3/5/bn2", ...).
type ResNet34 struct{}

// NewResNet34 creates a ResNet34 encoder.
func NewResNet34() *ResNet34 {
	return &ResNet34{}
}

func (e *ResNet34) Name() string { return "resnet34" }

// ShallowLayer is the output of layer3 (16x down, 256 channels).
func (e *ResNet34) ShallowLayer() string { return "layer3" }

func (e *ResNet34) MinInput() int { return 32 }

// Preprocess normalizes with the ImageNet RGB mean and standard deviation.
func (e *ResNet34) Preprocess(b *graph.Builder, scope string, x graph.Tensor, size shape.Shape) graph.Tensor {
	x = resizeTo(b, graph.Join(scope, "resize"), x, size)
	return b.Apply(graph.Join(scope, "preprocess"), &graph.Preprocess{
		Scale: 1.0 / 255,
		Mean:  []float64{0.485, 0.456, 0.406}, // image RGB mean
		Std:   []float64{0.229, 0.224, 0.225}, // image RGB standard error
	}, x)
}

type resnetBuilder struct {
	b     *graph.Builder
	scope string
	f     *Features
}

func (r *resnetBuilder) apply(name string, l graph.Layer, in ...graph.Tensor) graph.Tensor {
	return r.f.add(name, r.b.Apply(graph.Join(r.scope, name), l, in...))
}

func (r *resnetBuilder) convBn(conv, bn string, x graph.Tensor, cOut, ksize, stride int) graph.Tensor {
	x = r.apply(conv, &graph.Conv2D{Filters: cOut, Kernel: ksize, Stride: stride, Padding: graph.Same}, x)
	return r.apply(bn, &graph.BatchNorm{Eps: 1e-5}, x)
}

func (r *resnetBuilder) basicBlock(path string, x graph.Tensor, cIn, cOut, stride int) graph.Tensor {
	h := r.convBn(path+"/conv1", path+"/bn1", x, cOut, 3, stride)
	h = r.apply(path+"/relu1", &graph.Activation{Fn: graph.ReLU}, h)
	h = r.convBn(path+"/conv2", path+"/bn2", h, cOut, 3, 1)

	shortcut := x
	if stride != 1 || cIn != cOut {
		shortcut = r.convBn(path+"/downsample/0", path+"/downsample/1", x, cOut, 1, stride)
	}
	h = r.apply(path+"/add", &graph.Add{}, h, shortcut)
	return r.apply(path+"/relu2", &graph.Activation{Fn: graph.ReLU}, h)
}

func (r *resnetBuilder) basicLayer(path string, x graph.Tensor, cIn, cOut, stride, cnt int) graph.Tensor {
	x = r.basicBlock(path+"/0", x, cIn, cOut, stride)
	for blockIndex := 1; blockIndex < cnt; blockIndex++ {
		x = r.basicBlock(fmt.Sprintf("%s/%d", path, blockIndex), x, cOut, cOut, 1)
	}
	r.f.taps[path] = x
	return x
}

// Build adds the ResNet34 layers on top of a preprocessed image.
func (e *ResNet34) Build(b *graph.Builder, scope string, in graph.Tensor) *Features {
	r := &resnetBuilder{b: b, scope: scope, f: newFeatures(e.Name())}
	if !checkInput(b, e.Name(), in, e.MinInput()) {
		return r.f
	}

	// NOTE. `conv1` and `bn1` are at root of pretrained model
	x := r.convBn("conv1", "bn1", in, 64, 7, 2)
	x = r.apply("relu", &graph.Activation{Fn: graph.ReLU}, x)
	x = r.apply("maxpool", &graph.MaxPool2D{Pool: 3, Stride: 2, Padding: graph.Same}, x)
	r.f.taps["layer0"] = x

	x = r.basicLayer("layer1", x, 64, 64, 1, 3)
	x = r.basicLayer("layer2", x, 64, 128, 2, 4)
	x = r.basicLayer("layer3", x, 128, 256, 2, 6)
	r.basicLayer("layer4", x, 256, 512, 2, 3)

	return r.f
}
