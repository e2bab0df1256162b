// Package config loads run settings from an HCL file and BISENET_*
// environment variables.
//
// A file may reference resolution presets:
//
//	input    = resolution.camvid
//	classes  = 12
//	backbone = "xception"
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	"github.com/zclconf/go-cty/cty"

	"github.com/sugarme/bisenet/bisenet"
	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

// EnvPrefix prefixes every environment override, e.g. BISENET_CLASSES.
const EnvPrefix = "bisenet"

// Devices.
const (
	CPU  = "cpu"
	CUDA = "cuda"
)

// Resolutions are the presets exposed to config files as resolution.<name>,
// each [height, width, channels].
var Resolutions = map[string][]int{
	"imagenet":   {224, 224, 3},
	"camvid":     {360, 480, 3},
	"cityscapes": {512, 1024, 3},
	"ade20k":     {512, 512, 3},
}

// File is the on-disk and environment layout. Nil and empty values mean
// unset; an explicit 0 is kept so validation can reject it.
type File struct {
	Input           []int  `hcl:"input,optional" split_words:"true"`
	BackboneInput   []int  `hcl:"backbone_input,optional" split_words:"true"`
	Classes         *int   `hcl:"classes,optional" split_words:"true"`
	Backbone        string `hcl:"backbone,optional" split_words:"true"`
	ShallowLayer    string `hcl:"shallow_layer,optional" split_words:"true"`
	TailMerge       string `hcl:"tail_merge,optional" split_words:"true"`
	SpatialChannels []int  `hcl:"spatial_channels,optional" split_words:"true"`
	FusionStride    *int   `hcl:"fusion_stride,optional" split_words:"true"`
	FusionPadding   string `hcl:"fusion_padding,optional" split_words:"true"`
	OutputUpsample  *int   `hcl:"output_upsample,optional" split_words:"true"`
	Weights         string `hcl:"weights,optional" split_words:"true"`
	LoadFrom        string `hcl:"load_from,optional" split_words:"true"`
	Device          string `hcl:"device,optional" split_words:"true"`
}

// Config holds the model configuration and runtime settings.
type Config struct {
	Model bisenet.Config
	// Weights is an optional .ot weights file.
	Weights  string
	LoadFrom string
	Device   string
}

// Default returns the reference model on CPU with no weights.
func Default() *Config {
	return &Config{
		Model:    bisenet.DefaultConfig(),
		LoadFrom: "scratch",
		Device:   CPU,
	}
}

// Load reads path, applies environment overrides and validates the
// result. An empty path starts from Default.
func Load(path string) (*Config, error) {
	var f File
	if path != "" {
		if err := decodeFile(path, &f); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, &f); err != nil {
		return nil, errors.Wrap(err, "environment")
	}

	cfg := Default()
	if err := cfg.Apply(f); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func evalContext() *hcl.EvalContext {
	presets := make(map[string]cty.Value, len(Resolutions))
	for name, dims := range Resolutions {
		vals := make([]cty.Value, len(dims))
		for i, d := range dims {
			vals[i] = cty.NumberIntVal(int64(d))
		}
		presets[name] = cty.TupleVal(vals)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"resolution": cty.ObjectVal(presets),
		},
	}
}

func decodeFile(path string, f *File) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return errors.Wrapf(diags, "parse config %s", path)
	}
	diags = gohcl.DecodeBody(file.Body, evalContext(), f)
	if diags.HasErrors() {
		return errors.Wrapf(diags, "decode config %s", path)
	}
	return nil
}

func toShape(field string, dims []int) (shape.Shape, error) {
	if len(dims) != 3 {
		return shape.Shape{}, &shape.ConfigurationError{Field: field, Value: dims, Reason: "expected [height, width, channels]"}
	}
	return shape.New(dims[0], dims[1], dims[2]), nil
}

// Apply overlays the set fields of f. Setting only the input also moves the
// backbone input, so both paths keep running at the same resolution.
func (c *Config) Apply(f File) error {
	m := &c.Model
	if f.Input != nil {
		s, err := toShape("input", f.Input)
		if err != nil {
			return err
		}
		m.Input = s
		m.BackboneInput = s
	}
	if f.BackboneInput != nil {
		s, err := toShape("backbone_input", f.BackboneInput)
		if err != nil {
			return err
		}
		m.BackboneInput = s
	}
	if f.Classes != nil {
		m.Classes = *f.Classes
	}
	if f.Backbone != "" {
		m.Backbone = f.Backbone
	}
	if f.ShallowLayer != "" {
		m.ShallowLayer = f.ShallowLayer
	}
	if f.TailMerge != "" {
		m.TailMerge = f.TailMerge
	}
	if f.SpatialChannels != nil {
		m.SpatialChannels = f.SpatialChannels
	}
	if f.FusionStride != nil {
		m.Fusion.Stride = *f.FusionStride
	}
	if f.FusionPadding != "" {
		p, err := graph.ParsePadding(f.FusionPadding)
		if err != nil {
			return err
		}
		m.Fusion.Padding = p
	}
	if f.OutputUpsample != nil {
		m.OutputUpsample = *f.OutputUpsample
	}
	if f.Weights != "" {
		c.Weights = f.Weights
	}
	if f.LoadFrom != "" {
		c.LoadFrom = f.LoadFrom
	}
	if f.Device != "" {
		c.Device = f.Device
	}
	return nil
}

// Validate checks the model settings and the runtime options.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	switch c.LoadFrom {
	case "checkpoint", "scratch":
	default:
		return &shape.ConfigurationError{Field: "load_from", Value: c.LoadFrom, Reason: "expected checkpoint or scratch"}
	}
	switch c.Device {
	case CPU, CUDA:
	default:
		return &shape.ConfigurationError{Field: "device", Value: c.Device, Reason: fmt.Sprintf("expected %s or %s", CPU, CUDA)}
	}
	return nil
}

// TorchDevice maps Device to a gotch device. CUDA falls back to CPU when
// no GPU is available.
func (c *Config) TorchDevice() gotch.Device {
	if c.Device == CUDA && gotch.CUDA.IsAvailable() {
		return gotch.NewCuda()
	}
	return gotch.CPU
}
