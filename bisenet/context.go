package bisenet

import (
	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

// Tail merge modes for the global context branch of ContextPath.
const (
	// MergeBroadcast adds the 1x1 pooled summary to every position.
	MergeBroadcast = "broadcast"
	// MergeStrict requires identical operand shapes and therefore fails
	// whenever the pooled summary is not already full size.
	MergeStrict = "strict"
)

// ContextOptions tunes ContextPath.
type ContextOptions struct {
	TailMerge string
}

// ContextPath merges a shallow (16x down) and a deep (32x down) backbone
// feature map:
//
//	tail    = gap(deep) + up(deep)
//	context = up2(concat(up(arm(deep)), up(arm(shallow)), tail))
//
// where up resamples to the shallow resolution and up2 doubles it.
func ContextPath(b *graph.Builder, name string, shallow, deep graph.Tensor, opts ContextOptions) graph.Tensor {
	if !shallow.Defined() || !deep.Defined() {
		return graph.Tensor{}
	}
	var broadcast bool
	switch opts.TailMerge {
	case MergeBroadcast, "":
		broadcast = true
	case MergeStrict:
	default:
		b.Fail(&shape.ConfigurationError{Field: "tail merge", Value: opts.TailMerge, Reason: "expected broadcast or strict"})
		return graph.Tensor{}
	}
	ref := shallow.Shape()

	// Combine the global average pooled and upsampled deep features
	tailAvg := b.Apply(graph.Join(name, "tail_avg"), &graph.GlobalAvgPool2D{}, deep)
	tailUp := upsample(b, graph.Join(name, "tail_up"), deep, ref)
	tail := b.Apply(graph.Join(name, "tail"), &graph.Add{Broadcast: broadcast}, tailAvg, tailUp)

	arm16 := ARM(b, graph.Join(name, "arm16"), shallow, shallow.Shape().Channels)
	arm32 := ARM(b, graph.Join(name, "arm32"), deep, deep.Shape().Channels)
	up16 := upsample(b, graph.Join(name, "arm16_up"), arm16, ref)
	up32 := upsample(b, graph.Join(name, "arm32_up"), arm32, ref)

	ctx := b.Apply(graph.Join(name, "concat"), &graph.Concat{}, up32, up16)
	ctx = b.Apply(graph.Join(name, "concat_tail"), &graph.Concat{}, ctx, tail)

	return b.Apply(graph.Join(name, "upsample"), &graph.UpSampling2D{Factor: 2}, ctx)
}
