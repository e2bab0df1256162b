package graph

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/sugarme/bisenet/shape"
)

// Tensor is a handle to a node output while a graph is being built.
type Tensor struct {
	node *Node
}

// Shape returns the inferred shape of t.
func (t Tensor) Shape() shape.Shape {
	if t.node == nil {
		return shape.Shape{}
	}
	return t.node.Shape
}

// Name returns the producing node's name.
func (t Tensor) Name() string {
	if t.node == nil {
		return ""
	}
	return t.node.Name
}

// Defined reports whether t refers to a node.
func (t Tensor) Defined() bool {
	return t.node != nil
}

// Builder assembles a Graph. The first error is kept and every later call
// becomes a no-op, so composition code can chain calls and check once.
type Builder struct {
	nodes   []*Node
	byName  map[string]*Node
	inputs  []*Node
	outputs []Output
	err     error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{byName: make(map[string]*Node)}
}

// Err returns the first error recorded by b.
func (b *Builder) Err() error {
	return b.err
}

// Fail records err unless an earlier error is already recorded.
func (b *Builder) Fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

// Join composes a scoped node name.
func Join(parts ...string) string {
	var keep []string
	for _, p := range parts {
		if p != "" {
			keep = append(keep, p)
		}
	}
	return strings.Join(keep, "/")
}

func (b *Builder) checkName(name string) error {
	if name == "" {
		return &shape.ConfigurationError{Field: "node name", Value: `""`, Reason: "must not be empty"}
	}
	if strings.Contains(name, ".") {
		return &shape.ConfigurationError{Field: "node name", Value: name, Reason: "must not contain '.'"}
	}
	if _, ok := b.byName[name]; ok {
		return &shape.ConfigurationError{Field: "node name", Value: name, Reason: "already defined"}
	}
	return nil
}

func (b *Builder) add(n *Node) Tensor {
	n.ID = int64(len(b.nodes))
	b.nodes = append(b.nodes, n)
	b.byName[n.Name] = n
	return Tensor{node: n}
}

// Input declares a named graph input.
func (b *Builder) Input(name string, s shape.Shape) Tensor {
	if b.err != nil {
		return Tensor{}
	}
	if err := b.checkName(name); err != nil {
		b.Fail(err)
		return Tensor{}
	}
	if !s.Valid() {
		b.Fail(&shape.ConfigurationError{Field: "input " + name, Value: s, Reason: "dimensions must be positive"})
		return Tensor{}
	}
	t := b.add(&Node{Name: name, Shape: s})
	b.inputs = append(b.inputs, t.node)
	return t
}

// Apply adds a node computing l over the given inputs.
func (b *Builder) Apply(name string, l Layer, in ...Tensor) Tensor {
	if b.err != nil {
		return Tensor{}
	}
	if err := b.checkName(name); err != nil {
		b.Fail(err)
		return Tensor{}
	}
	shapes := make([]shape.Shape, len(in))
	parents := make([]*Node, len(in))
	for i, t := range in {
		if !t.Defined() || b.byName[t.node.Name] != t.node {
			b.Fail(&shape.ConfigurationError{Field: "input of " + name, Value: t.Name(), Reason: "tensor does not belong to this graph"})
			return Tensor{}
		}
		shapes[i] = t.node.Shape
		parents[i] = t.node
	}
	out, err := l.Infer(shapes...)
	if err != nil {
		b.Fail(errors.Wrapf(err, "%s (%s)", name, l.Kind()))
		return Tensor{}
	}
	return b.add(&Node{
		Name:   name,
		Layer:  l,
		Inputs: parents,
		Shape:  out,
		Params: l.Params(shapes...),
	})
}

// Output exposes t under name.
func (b *Builder) Output(name string, t Tensor) {
	if b.err != nil {
		return
	}
	if !t.Defined() {
		b.Fail(&shape.ConfigurationError{Field: "output", Value: name, Reason: "tensor is undefined"})
		return
	}
	for _, o := range b.outputs {
		if o.Name == name {
			b.Fail(&shape.ConfigurationError{Field: "output", Value: name, Reason: "already defined"})
			return
		}
	}
	b.outputs = append(b.outputs, Output{Name: name, Node: t.node})
}

// Build freezes the graph. It fails if any earlier call failed or if no
// outputs were declared.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.inputs) == 0 {
		return nil, &shape.ConfigurationError{Field: "graph", Value: "inputs", Reason: "no inputs declared"}
	}
	if len(b.outputs) == 0 {
		return nil, &shape.ConfigurationError{Field: "graph", Value: "outputs", Reason: "no outputs declared"}
	}
	return newGraph(b.nodes, b.inputs, b.outputs)
}
