// Package bisenet builds the BiSeNet real-time segmentation network on a
// pretrained encoder.
//
// A spatial path of three stride 2 conv blocks keeps detail at 8x down.
// A context path refines the encoder's 16x and 32x down maps with attention
// refinement modules and merges them with a global pooled summary. The
// feature fusion module gates the concatenation of both paths into class
// logits, which are upsampled back towards the input resolution.
//
// Ref. https://arxiv.org/abs/1808.00897
package bisenet

import (
	"github.com/sugarme/bisenet/encoder"
	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

// Graph input and output names.
const (
	InputImage    = "image"
	InputBackbone = "backbone_image"

	OutputSegmentation = "segmentation"
	OutputFeatures16x  = "features_16x"
	OutputFeatures32x  = "features_32x"
)

// Config holds everything Build needs.
type Config struct {
	// Input is the raw image shape fed to both inputs.
	Input shape.Shape
	// BackboneInput is the resolution the encoder runs at.
	BackboneInput shape.Shape
	Classes       int
	Backbone      string
	// ShallowLayer names the 16x down encoder tap; empty selects the
	// encoder default.
	ShallowLayer    string
	TailMerge       string
	SpatialChannels []int
	Fusion          FusionOptions
	OutputUpsample  int
}

// DefaultConfig returns the reference configuration: 224x224 RGB input,
// 32 classes, Xception encoder.
func DefaultConfig() Config {
	return Config{
		Input:           shape.New(224, 224, 3),
		BackboneInput:   shape.New(224, 224, 3),
		Classes:         32,
		Backbone:        "xception",
		TailMerge:       MergeBroadcast,
		SpatialChannels: []int{32, 64, 156},
		Fusion:          DefaultFusionOptions(),
		OutputUpsample:  16,
	}
}

// Validate checks the settings that do not depend on inferred shapes.
func (c Config) Validate() error {
	if !c.Input.Valid() {
		return &shape.ConfigurationError{Field: "input", Value: c.Input, Reason: "dimensions must be positive"}
	}
	if !c.BackboneInput.Valid() {
		return &shape.ConfigurationError{Field: "backbone input", Value: c.BackboneInput, Reason: "dimensions must be positive"}
	}
	if err := shape.Positive("classes", c.Classes); err != nil {
		return err
	}
	if err := shape.Positive("output upsample", c.OutputUpsample); err != nil {
		return err
	}
	if err := shape.Positive("fusion stride", c.Fusion.Stride); err != nil {
		return err
	}
	if len(c.SpatialChannels) == 0 {
		return &shape.ConfigurationError{Field: "spatial channels", Value: c.SpatialChannels, Reason: "must not be empty"}
	}
	for _, ch := range c.SpatialChannels {
		if err := shape.Positive("spatial channels", ch); err != nil {
			return err
		}
	}
	switch c.TailMerge {
	case MergeBroadcast, MergeStrict:
	default:
		return &shape.ConfigurationError{Field: "tail merge", Value: c.TailMerge, Reason: "expected broadcast or strict"}
	}
	return nil
}

// Build constructs the BiSeNet graph described by cfg. It either returns a
// complete graph or the first construction error.
func Build(cfg Config) (*graph.Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc, err := encoder.New(cfg.Backbone)
	if err != nil {
		return nil, err
	}

	b := graph.NewBuilder()
	image := b.Input(InputImage, cfg.Input)
	raw := b.Input(InputBackbone, cfg.Input)

	// Spatial path
	sp := SpatialPath(b, "spatial", image, cfg.SpatialChannels)

	// Context path
	x := enc.Preprocess(b, "preprocess", raw, cfg.BackboneInput)
	features := enc.Build(b, "backbone", x)
	if err := b.Err(); err != nil {
		return nil, err
	}
	tap := cfg.ShallowLayer
	if tap == "" {
		tap = enc.ShallowLayer()
	}
	shallow, err := features.Layer(tap) // 16x down
	if err != nil {
		return nil, err
	}
	deep := features.Output() // 32x down
	cp := ContextPath(b, "context", shallow, deep, ContextOptions{TailMerge: cfg.TailMerge})

	// Feature fusion and upsampling to input size
	ffm := FFM(b, "fusion", sp, cp, cfg.Classes, cfg.Fusion)
	out := b.Apply("head/upsample", &graph.UpSampling2D{Factor: cfg.OutputUpsample}, ffm)

	b.Output(OutputSegmentation, out)
	b.Output(OutputFeatures16x, shallow)
	b.Output(OutputFeatures32x, deep)

	return b.Build()
}
