// Package summary reports the layers and parameters of a graph.
package summary

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sugarme/bisenet/graph"
)

// Column names of the summary table.
const (
	ColLayer       = "Layer"
	ColKind        = "Kind"
	ColShape       = "Output Shape"
	ColParams      = "Params"
	ColConnectedTo = "Connected to"
)

// Table returns one row per node in topological order.
func Table(g *graph.Graph) dataframe.DataFrame {
	nodes := g.Nodes()
	var (
		names  = make([]string, len(nodes))
		kinds  = make([]string, len(nodes))
		shapes = make([]string, len(nodes))
		params = make([]int, len(nodes))
		inputs = make([]string, len(nodes))
	)
	for i, n := range nodes {
		names[i] = n.Name
		kinds[i] = n.Kind()
		shapes[i] = n.Shape.String()
		params[i] = n.ParamCount()
		in := make([]string, len(n.Inputs))
		for j, src := range n.Inputs {
			in[j] = src.Name
		}
		inputs[i] = strings.Join(in, " ")
	}

	return dataframe.New(
		series.New(names, series.String, ColLayer),
		series.New(kinds, series.String, ColKind),
		series.New(shapes, series.String, ColShape),
		series.New(params, series.Int, ColParams),
		series.New(inputs, series.String, ColConnectedTo),
	)
}

// WriteText prints the table with parameter totals, in the layout of a
// Keras model summary.
func WriteText(w io.Writer, g *graph.Graph) error {
	var table bytes.Buffer
	tw := tabwriter.NewWriter(&table, 0, 0, 2, ' ', 0)
	for _, r := range Table(g).Records() {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	header, rows, _ := strings.Cut(table.String(), "\n")
	width := 0
	for _, line := range strings.Split(table.String(), "\n") {
		if len(line) > width {
			width = len(line)
		}
	}
	rule := strings.Repeat("=", width)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n%s%s\n", header, rule, rows, rule)
	trainable := g.TrainableParamCount()
	fmt.Fprintf(&b, "Total params: %d\n", g.ParamCount())
	fmt.Fprintf(&b, "Trainable params: %d\n", trainable)
	fmt.Fprintf(&b, "Non-trainable params: %d\n", g.ParamCount()-trainable)

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteCSV writes the table as CSV with a header row.
func WriteCSV(w io.Writer, g *graph.Graph) error {
	df := Table(g)
	return df.WriteCSV(w)
}

// Scope is the parameter total of one top level name scope.
type Scope struct {
	Name   string
	Params int
}

// Scopes sums parameters by the first element of node names, in the
// order the scopes were built.
func Scopes(g *graph.Graph) []Scope {
	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	var scopes []Scope
	index := make(map[string]int)
	for _, n := range nodes {
		if n.IsInput() {
			continue
		}
		name := strings.SplitN(n.Name, "/", 2)[0]
		i, ok := index[name]
		if !ok {
			i = len(scopes)
			index[name] = i
			scopes = append(scopes, Scope{Name: name})
		}
		scopes[i].Params += n.ParamCount()
	}
	return scopes
}

// PlotParams saves a bar chart of the parameters per scope. The image
// format follows the file extension.
func PlotParams(g *graph.Graph, path string) error {
	scopes := Scopes(g)
	values := make(plotter.Values, len(scopes))
	names := make([]string, len(scopes))
	for i, s := range scopes {
		values[i] = float64(s.Params)
		names[i] = s.Name
	}

	p := plot.New()
	p.Title.Text = "Parameters per scope"
	p.Y.Label.Text = "Params"

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return errors.Wrap(err, "bar chart")
	}
	p.Add(bars)
	p.NominalX(names...)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot %q", path)
	}
	return nil
}
