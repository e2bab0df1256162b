package encoder

import (
	"fmt"
	"sort"

	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

// Encoder is the pretrained backbone of a segmentation model. It contributes
// layers to a graph and exposes its intermediate feature maps by name.
type Encoder interface {
	Name() string
	// Preprocess maps a raw 0..255 image onto the input distribution the
	// encoder was trained with, resizing to size first when needed.
	Preprocess(b *graph.Builder, scope string, x graph.Tensor, size shape.Shape) graph.Tensor
	// Build adds the encoder layers on top of x.
	Build(b *graph.Builder, scope string, x graph.Tensor) *Features
	// ShallowLayer names the default 16x down feature map.
	ShallowLayer() string
	// MinInput is the smallest supported input height and width.
	MinInput() int
}

// New returns the encoder registered under name.
func New(name string) (Encoder, error) {
	switch name {
	case "xception":
		return NewXception(), nil
	case "resnet34":
		return NewResNet34(), nil
	}
	return nil, &shape.ConfigurationError{Field: "backbone", Value: name, Reason: "expected xception or resnet34"}
}

// Features holds the named taps of a built encoder.
type Features struct {
	model string
	taps  map[string]graph.Tensor
	out   graph.Tensor
}

func newFeatures(model string) *Features {
	return &Features{model: model, taps: make(map[string]graph.Tensor)}
}

func (f *Features) add(name string, t graph.Tensor) graph.Tensor {
	f.taps[name] = t
	f.out = t
	return t
}

// Layer returns the output of the named layer.
func (f *Features) Layer(name string) (graph.Tensor, error) {
	t, ok := f.taps[name]
	if !ok || !t.Defined() {
		return graph.Tensor{}, &shape.UnknownLayerError{Model: f.model, Layer: name}
	}
	return t, nil
}

// Output returns the final feature map.
func (f *Features) Output() graph.Tensor {
	return f.out
}

// Names lists the available layer names.
func (f *Features) Names() []string {
	names := make([]string, 0, len(f.taps))
	for n := range f.taps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resizeTo bilinearly resamples x unless it already has the target size.
func resizeTo(b *graph.Builder, name string, x graph.Tensor, size shape.Shape) graph.Tensor {
	s := x.Shape()
	if s.Height == size.Height && s.Width == size.Width {
		return x
	}
	return b.Apply(name, &graph.Resize{Height: size.Height, Width: size.Width}, x)
}

func checkInput(b *graph.Builder, model string, x graph.Tensor, min int) bool {
	s := x.Shape()
	if !x.Defined() {
		return false
	}
	if s.Height < min || s.Width < min {
		b.Fail(&shape.ConfigurationError{Field: model + " input", Value: s, Reason: fmt.Sprintf("height and width must be at least %d", min)})
		return false
	}
	if s.Channels != 3 {
		b.Fail(&shape.ConfigurationError{Field: model + " input", Value: s, Reason: "expected 3 channels"})
		return false
	}
	return true
}
