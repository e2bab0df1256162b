// Package nnet runs layer graphs on libtorch through gotch.
//
// Graph shapes are channels last; tensors here are NCHW. Variables are
// registered under the node names, with every "/" opening a sub path, so
// "context/arm16/gate/conv" owns "context.arm16.gate.conv.weight".
package nnet

import (
	"log"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/bisenet/graph"
	"github.com/sugarme/bisenet/shape"
)

// Net is a graph compiled to gotch modules.
type Net struct {
	g   *graph.Graph
	ops map[int64]op
}

// New registers the variables of every layer of g under p.
func New(p *nn.Path, g *graph.Graph) (*Net, error) {
	net := &Net{g: g, ops: make(map[int64]op)}
	for _, n := range g.Nodes() {
		if n.IsInput() {
			continue
		}
		o, err := newOp(path(p, n.Name), n)
		if err != nil {
			return nil, err
		}
		net.ops[n.ID] = o
	}
	return net, nil
}

// Graph returns the compiled graph.
func (net *Net) Graph() *graph.Graph {
	return net.g
}

// Forward runs the graph on NCHW inputs keyed by input name and returns
// every named output. Intermediate tensors are dropped as soon as their
// last user has run. Caller owns the returned tensors.
func (net *Net) Forward(inputs map[string]*ts.Tensor, train bool) (map[string]*ts.Tensor, error) {
	values := make(map[int64]*ts.Tensor)
	keep := make(map[int64]bool)
	for _, n := range net.g.Inputs() {
		x, ok := inputs[n.Name]
		if !ok {
			return nil, &shape.UnknownLayerError{Model: "input", Layer: n.Name}
		}
		got, err := shape.FromNCHW(x.MustSize())
		if err != nil {
			return nil, errors.Wrapf(err, "input %q", n.Name)
		}
		if !n.Shape.Matches(got) {
			return nil, shape.Mismatch(n.Name, "input tensor does not match the graph input", n.Shape, got)
		}
		values[n.ID] = x
		keep[n.ID] = true
	}
	for _, o := range net.g.Outputs() {
		keep[o.Node.ID] = true
	}

	pending := make(map[int64]int)
	for _, n := range net.g.Nodes() {
		pending[n.ID] = len(net.g.Users(n))
	}

	for _, n := range net.g.Nodes() {
		if n.IsInput() {
			continue
		}
		in := make([]*ts.Tensor, len(n.Inputs))
		for i, src := range n.Inputs {
			in[i] = values[src.ID]
		}
		values[n.ID] = net.ops[n.ID].forward(in, train)

		for _, src := range n.Inputs {
			pending[src.ID]--
			if pending[src.ID] == 0 && !keep[src.ID] {
				values[src.ID].MustDrop()
				delete(values, src.ID)
			}
		}
	}

	out := make(map[string]*ts.Tensor, len(net.g.Outputs()))
	for _, o := range net.g.Outputs() {
		x := values[o.Node.ID]
		if _, dup := out[o.Name]; dup {
			continue
		}
		if o.Node.IsInput() {
			x = x.MustShallowClone()
		}
		out[o.Name] = x
	}
	return out, nil
}

// ForwardT implements ts.ModuleT. The input feeds every graph input and
// the first graph output is returned; the others are dropped.
func (net *Net) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	inputs := make(map[string]*ts.Tensor)
	for _, n := range net.g.Inputs() {
		inputs[n.Name] = x
	}
	outputs, err := net.Forward(inputs, train)
	if err != nil {
		log.Fatalf("Forward failed: %v\n", err)
	}

	first := outputs[net.g.Outputs()[0].Name]
	dropped := make(map[*ts.Tensor]bool)
	for _, t := range outputs {
		if t != first && !dropped[t] {
			t.MustDrop()
			dropped[t] = true
		}
	}
	return first
}

// ParamCount returns the number of scalars in the trainable variables
// held by vs.
func ParamCount(vs *nn.VarStore) int {
	total := 0
	for _, v := range vs.TrainableVariables() {
		n := 1
		for _, d := range v.MustSize() {
			n *= int(d)
		}
		total += n
	}
	return total
}
