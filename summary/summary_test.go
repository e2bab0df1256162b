package summary_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/bisenet/bisenet"
	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
	"github.com/sugarme/bisenet/summary"
)

func smallGraph(t *testing.T) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder()
	x := b.Input("image", shape.New(8, 8, 3))
	y := bisenet.ConvBnAct(b, "stem", x, bisenet.NewConv(4), graph.ReLU)
	y = b.Apply("head/pool", &graph.GlobalAvgPool2D{}, y)
	b.Output("out", y)
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestTable(t *testing.T) {
	df := summary.Table(smallGraph(t))
	assert.Equal(t, 5, df.Nrow())
	assert.Equal(t, []string{"image", "stem/conv", "stem/bn", "stem/act", "head/pool"}, df.Col(summary.ColLayer).Records())
	assert.Equal(t, "(None, 7, 7, 4)", df.Col(summary.ColShape).Records()[1])
	assert.Equal(t, "image", df.Col(summary.ColConnectedTo).Records()[1])

	params, err := df.Col(summary.ColParams).Int()
	require.NoError(t, err)
	// conv 2*2*3*4+4, bn 4*4
	assert.Equal(t, []int{0, 52, 16, 0, 0}, params)
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, summary.WriteText(&buf, smallGraph(t)))
	out := buf.String()
	assert.Contains(t, out, "Output Shape")
	assert.Contains(t, out, "Total params: 68\n")
	assert.Contains(t, out, "Trainable params: 60\n")
	assert.Contains(t, out, "Non-trainable params: 8\n")

	lines := strings.Split(out, "\n")
	kind := strings.Index(lines[0], "Kind")
	require.Positive(t, kind)
	assert.True(t, strings.HasPrefix(lines[1], "==="))
	for _, row := range lines[2:7] {
		require.Greater(t, len(row), kind, row)
		assert.Equal(t, "  ", row[kind-2:kind], row)
		assert.NotEqual(t, byte(' '), row[kind], row)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, summary.WriteCSV(&buf, smallGraph(t)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Layer,Kind,Output Shape,Params,Connected to", lines[0])
}

func TestScopes(t *testing.T) {
	got := summary.Scopes(smallGraph(t))
	want := []summary.Scope{{Name: "stem", Params: 68}, {Name: "head", Params: 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("scopes mismatch (-want +got):\n%s", diff)
	}
}

func TestScopesReferenceModel(t *testing.T) {
	g, err := bisenet.Build(bisenet.DefaultConfig())
	require.NoError(t, err)

	total := 0
	var names []string
	for _, s := range summary.Scopes(g) {
		total += s.Params
		names = append(names, s.Name)
	}
	assert.Equal(t, g.ParamCount(), total)
	assert.Equal(t, []string{"spatial", "preprocess", "backbone", "context", "fusion", "head"}, names)
}

func TestPlotParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.png")
	require.NoError(t, summary.PlotParams(smallGraph(t), path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.Size() > 0)
}
