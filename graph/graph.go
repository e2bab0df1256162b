// Package graph builds static layer graphs over shape descriptors.
//
// A Builder threads typed Tensor handles through composition functions and
// infers every output shape as nodes are added. The resulting Graph is
// immutable, ordered topologically and owns the parameter descriptors of
// its layers.
package graph

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/sugarme/bisenet/shape"
)

// Node is one layer application, or a graph input when Layer is nil.
type Node struct {
	ID     int64
	Name   string
	Layer  Layer
	Inputs []*Node
	Shape  shape.Shape
	Params []ParamSpec
}

// Kind returns the layer kind, or "InputLayer" for inputs.
func (n *Node) Kind() string {
	if n.Layer == nil {
		return "InputLayer"
	}
	return n.Layer.Kind()
}

// IsInput reports whether n is a graph input.
func (n *Node) IsInput() bool {
	return n.Layer == nil
}

// ParamCount returns the number of scalars held by n.
func (n *Node) ParamCount() int {
	total := 0
	for _, p := range n.Params {
		total += p.Size()
	}
	return total
}

// InputShapes returns the shapes feeding n.
func (n *Node) InputShapes() []shape.Shape {
	shapes := make([]shape.Shape, len(n.Inputs))
	for i, in := range n.Inputs {
		shapes[i] = in.Shape
	}
	return shapes
}

// Output is a named graph output.
type Output struct {
	Name string
	Node *Node
}

// Graph is an immutable DAG of layer nodes.
type Graph struct {
	order   []*Node
	byName  map[string]*Node
	inputs  []*Node
	outputs []Output
	users   map[int64][]*Node
	dag     *simple.DirectedGraph
}

// vertex adapts a Node to gonum.
type vertex struct {
	*Node
}

func (v vertex) ID() int64 { return v.Node.ID }

func (v vertex) DOTID() string { return strconv.Quote(v.Name) }

func (v vertex) Attributes() []encoding.Attribute {
	return []encoding.Attribute{
		{Key: "shape", Value: "record"},
		{Key: "label", Value: strconv.Quote(fmt.Sprintf("{%s|%s|%s}", v.Name, v.Kind(), v.Shape))},
	}
}

func newGraph(nodes []*Node, inputs []*Node, outputs []Output) (*Graph, error) {
	dag := simple.NewDirectedGraph()
	for _, n := range nodes {
		dag.AddNode(vertex{n})
	}
	users := make(map[int64][]*Node)
	for _, n := range nodes {
		for _, in := range n.Inputs {
			// repeated operands (x*x) still need one edge only
			if !dag.HasEdgeFromTo(in.ID, n.ID) {
				dag.SetEdge(dag.NewEdge(dag.Node(in.ID), dag.Node(n.ID)))
			}
			users[in.ID] = append(users[in.ID], n)
		}
	}

	sorted, err := topo.SortStabilized(dag, func(ns []gonum.Node) {
		sort.Slice(ns, func(i, j int) bool { return ns[i].ID() < ns[j].ID() })
	})
	if err != nil {
		return nil, errors.Wrap(err, "graph is not acyclic")
	}

	g := &Graph{
		order:   make([]*Node, len(sorted)),
		byName:  make(map[string]*Node, len(nodes)),
		inputs:  inputs,
		outputs: outputs,
		users:   users,
		dag:     dag,
	}
	for i, v := range sorted {
		g.order[i] = v.(vertex).Node
	}
	for _, n := range nodes {
		g.byName[n.Name] = n
	}
	return g, nil
}

// Nodes returns all nodes in topological order.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.order...)
}

// Inputs returns the declared inputs in declaration order.
func (g *Graph) Inputs() []*Node {
	return append([]*Node(nil), g.inputs...)
}

// Outputs returns the declared outputs in declaration order.
func (g *Graph) Outputs() []Output {
	return append([]Output(nil), g.outputs...)
}

// Node looks up a node by name.
func (g *Graph) Node(name string) (*Node, error) {
	n, ok := g.byName[name]
	if !ok {
		return nil, &shape.UnknownLayerError{Model: "graph", Layer: name}
	}
	return n, nil
}

// Output looks up an output node by its output name.
func (g *Graph) Output(name string) (*Node, error) {
	for _, o := range g.outputs {
		if o.Name == name {
			return o.Node, nil
		}
	}
	return nil, &shape.UnknownLayerError{Model: "graph outputs", Layer: name}
}

// Users returns the nodes consuming n, one entry per operand use.
func (g *Graph) Users(n *Node) []*Node {
	return g.users[n.ID]
}

// ParamCount returns the number of scalars across all layers.
func (g *Graph) ParamCount() int {
	total := 0
	for _, n := range g.order {
		total += n.ParamCount()
	}
	return total
}

// TrainableParamCount returns the number of trainable scalars.
func (g *Graph) TrainableParamCount() int {
	total := 0
	for _, n := range g.order {
		for _, p := range n.Params {
			if p.Trainable {
				total += p.Size()
			}
		}
	}
	return total
}

// WriteDOT renders g in Graphviz DOT format.
func (g *Graph) WriteDOT(w io.Writer, name string) error {
	b, err := dot.Marshal(g.dag, name, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal dot")
	}
	_, err = w.Write(b)
	return err
}
