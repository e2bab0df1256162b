package bisenet_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/bisenet/bisenet"
	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

func outputShape(t *testing.T, g *graph.Graph, name string) shape.Shape {
	t.Helper()
	n, err := g.Output(name)
	require.NoError(t, err)
	return n.Shape
}

func TestSpatialPath(t *testing.T) {
	for _, hw := range [][2]int{{224, 224}, {256, 512}, {8, 8}, {96, 160}} {
		t.Run(fmt.Sprintf("%dx%d", hw[0], hw[1]), func(t *testing.T) {
			b := graph.NewBuilder()
			x := b.Input("image", shape.New(hw[0], hw[1], 3))
			sp := bisenet.SpatialPath(b, "spatial", x, []int{32, 64, 156})
			require.NoError(t, b.Err())
			assert.Equal(t, shape.New(hw[0]/8, hw[1]/8, 156), sp.Shape())
		})
	}
}

func TestARMPreservesShape(t *testing.T) {
	for _, s := range []shape.Shape{shape.New(14, 14, 1024), shape.New(7, 7, 2048), shape.New(3, 5, 1)} {
		b := graph.NewBuilder()
		x := b.Input("features", s)
		y := bisenet.ARM(b, "arm", x, s.Channels)
		require.NoError(t, b.Err())
		assert.Equal(t, s, y.Shape())
	}
}

func TestARMChannelMismatch(t *testing.T) {
	b := graph.NewBuilder()
	x := b.Input("features", shape.New(14, 14, 1024))
	bisenet.ARM(b, "arm", x, 2048)
	var mm *shape.ShapeMismatchError
	assert.True(t, errors.As(b.Err(), &mm))
}

func TestFFMChannels(t *testing.T) {
	tests := []struct {
		sp, cp  int
		classes int
	}{
		{156, 5120, 32},
		{1, 1, 1},
		{64, 3, 19},
		{300, 700, 150},
	}
	for _, tt := range tests {
		b := graph.NewBuilder()
		sp := b.Input("sp", shape.New(28, 28, tt.sp))
		cp := b.Input("cp", shape.New(28, 28, tt.cp))
		out := bisenet.FFM(b, "fusion", sp, cp, tt.classes, bisenet.DefaultFusionOptions())
		require.NoError(t, b.Err())
		assert.Equal(t, shape.New(14, 14, tt.classes), out.Shape())
	}
}

func TestFFMInvalidClasses(t *testing.T) {
	b := graph.NewBuilder()
	sp := b.Input("sp", shape.New(28, 28, 4))
	cp := b.Input("cp", shape.New(28, 28, 4))
	bisenet.FFM(b, "fusion", sp, cp, 0, bisenet.DefaultFusionOptions())
	var cfgErr *shape.ConfigurationError
	assert.True(t, errors.As(b.Err(), &cfgErr))
}

func TestBuildReferenceShapes(t *testing.T) {
	g, err := bisenet.Build(bisenet.DefaultConfig())
	require.NoError(t, err)

	sp, err := g.Node("spatial/conv3/act")
	require.NoError(t, err)
	assert.Equal(t, shape.New(28, 28, 156), sp.Shape)

	assert.Equal(t, shape.New(14, 14, 1024), outputShape(t, g, bisenet.OutputFeatures16x))
	assert.Equal(t, shape.New(7, 7, 2048), outputShape(t, g, bisenet.OutputFeatures32x))
	assert.Equal(t, shape.New(224, 224, 32), outputShape(t, g, bisenet.OutputSegmentation))

	cp, err := g.Node("context/upsample")
	require.NoError(t, err)
	assert.Equal(t, shape.New(28, 28, 5120), cp.Shape)

	var inputs []string
	for _, n := range g.Inputs() {
		inputs = append(inputs, n.Name)
	}
	assert.Equal(t, []string{bisenet.InputImage, bisenet.InputBackbone}, inputs)

	var outputs []string
	for _, o := range g.Outputs() {
		outputs = append(outputs, o.Name)
	}
	assert.Equal(t, []string{bisenet.OutputSegmentation, bisenet.OutputFeatures16x, bisenet.OutputFeatures32x}, outputs)

	assert.Equal(t, 27691252, g.ParamCount())
}

func TestBuildIsDeterministic(t *testing.T) {
	describe := func() []string {
		g, err := bisenet.Build(bisenet.DefaultConfig())
		require.NoError(t, err)
		var out []string
		for _, n := range g.Nodes() {
			out = append(out, fmt.Sprintf("%s %s %v", n.Name, n.Kind(), n.Shape))
		}
		return out
	}
	if diff := cmp.Diff(describe(), describe()); diff != "" {
		t.Errorf("graphs differ (-first +second):\n%s", diff)
	}
}

func TestStrictTailMergeFails(t *testing.T) {
	cfg := bisenet.DefaultConfig()
	cfg.TailMerge = bisenet.MergeStrict
	_, err := bisenet.Build(cfg)
	var mm *shape.ShapeMismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, "Add", mm.Op)
	assert.Contains(t, err.Error(), "context/tail")
}

func TestContextPathIndivisible(t *testing.T) {
	b := graph.NewBuilder()
	shallow := b.Input("shallow", shape.New(14, 14, 1024))
	deep := b.Input("deep", shape.New(5, 5, 2048))
	out := bisenet.ContextPath(b, "context", shallow, deep, bisenet.ContextOptions{})
	assert.False(t, out.Defined())
	var mm *shape.ShapeMismatchError
	assert.True(t, errors.As(b.Err(), &mm))
}

func TestContextPathUnknownMerge(t *testing.T) {
	b := graph.NewBuilder()
	shallow := b.Input("shallow", shape.New(14, 14, 8))
	deep := b.Input("deep", shape.New(7, 7, 16))
	bisenet.ContextPath(b, "context", shallow, deep, bisenet.ContextOptions{TailMerge: "tile"})
	var cfgErr *shape.ConfigurationError
	assert.True(t, errors.As(b.Err(), &cfgErr))
}

func TestUnknownShallowLayer(t *testing.T) {
	cfg := bisenet.DefaultConfig()
	cfg.ShallowLayer = "block99_pool"
	_, err := bisenet.Build(cfg)
	var unknown *shape.UnknownLayerError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "block99_pool", unknown.Layer)
}

func TestPooledTapDoesNotAlign(t *testing.T) {
	// block13_pool is already 32x down, so the context path ends at 16x
	// while the spatial path is at 8x.
	cfg := bisenet.DefaultConfig()
	cfg.ShallowLayer = "block13_pool"
	_, err := bisenet.Build(cfg)
	var mm *shape.ShapeMismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, "Concatenate", mm.Op)
}

func TestValidFusionPadding(t *testing.T) {
	cfg := bisenet.DefaultConfig()
	cfg.Fusion.Padding = graph.Valid
	g, err := bisenet.Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, shape.New(208, 208, 32), outputShape(t, g, bisenet.OutputSegmentation))
}

func TestConfigValidate(t *testing.T) {
	var cfgErr *shape.ConfigurationError
	mutate := []func(*bisenet.Config){
		func(c *bisenet.Config) { c.Classes = 0 },
		func(c *bisenet.Config) { c.Classes = -3 },
		func(c *bisenet.Config) { c.SpatialChannels = nil },
		func(c *bisenet.Config) { c.SpatialChannels = []int{32, 0, 156} },
		func(c *bisenet.Config) { c.OutputUpsample = 0 },
		func(c *bisenet.Config) { c.TailMerge = "tile" },
		func(c *bisenet.Config) { c.Input = shape.New(0, 224, 3) },
		func(c *bisenet.Config) { c.Backbone = "vgg16" },
	}
	for i, m := range mutate {
		cfg := bisenet.DefaultConfig()
		m(&cfg)
		_, err := bisenet.Build(cfg)
		assert.True(t, errors.As(err, &cfgErr), "case %d: %v", i, err)
	}
}

func TestResNet34Backbone(t *testing.T) {
	cfg := bisenet.DefaultConfig()
	cfg.Backbone = "resnet34"
	cfg.Input = shape.New(256, 256, 3)
	cfg.BackboneInput = shape.New(256, 256, 3)
	cfg.Classes = 2
	g, err := bisenet.Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, shape.New(256, 256, 2), outputShape(t, g, bisenet.OutputSegmentation))
	assert.Equal(t, shape.New(16, 16, 256), outputShape(t, g, bisenet.OutputFeatures16x))
	assert.Equal(t, shape.New(8, 8, 512), outputShape(t, g, bisenet.OutputFeatures32x))
}

func TestBackboneResize(t *testing.T) {
	// the backbone runs at its own resolution, so the two paths no longer meet
	cfg := bisenet.DefaultConfig()
	cfg.Input = shape.New(448, 448, 3)
	_, err := bisenet.Build(cfg)
	var mm *shape.ShapeMismatchError
	require.True(t, errors.As(err, &mm))

	cfg.BackboneInput = cfg.Input
	g, err := bisenet.Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, shape.New(448, 448, 32), outputShape(t, g, bisenet.OutputSegmentation))
	_, err = g.Node("preprocess/resize")
	assert.Error(t, err)
}
