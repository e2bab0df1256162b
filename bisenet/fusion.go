package bisenet

import (
	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

// FusionOptions tunes the channel reduction of FFM.
type FusionOptions struct {
	Stride  int
	Padding graph.Padding
}

// DefaultFusionOptions reduces with a stride 2, same padded 3x3 conv.
func DefaultFusionOptions() FusionOptions {
	return FusionOptions{Stride: 2, Padding: graph.Same}
}

// FFM is the feature fusion module. Spatial and context features are
// concatenated and reduced to classes channels; a sigmoid gate computed
// from the reduced map then yields reduced*gate + reduced.
func FFM(b *graph.Builder, name string, sp, cp graph.Tensor, classes int, opts FusionOptions) graph.Tensor {
	if classes <= 0 {
		b.Fail(&shape.ConfigurationError{Field: "classes", Value: classes, Reason: "must be positive"})
		return graph.Tensor{}
	}
	ffm := b.Apply(graph.Join(name, "concat"), &graph.Concat{}, sp, cp)
	conv := ConvBnAct(b, graph.Join(name, "reduce"), ffm, Conv{
		Filters: classes,
		Kernel:  3,
		Stride:  opts.Stride,
		Padding: opts.Padding,
	}, graph.ReLU)

	gate := ConvAct(b, graph.Join(name, "gate1"), conv, classes, 1, graph.ReLU, true)
	gate = ConvAct(b, graph.Join(name, "gate2"), gate, classes, 1, graph.Sigmoid, false)

	mul := b.Apply(graph.Join(name, "mul"), &graph.Multiply{}, conv, gate)
	return b.Apply(graph.Join(name, "add"), &graph.Add{}, conv, mul)
}
