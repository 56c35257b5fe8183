package graph

import (
	"errors"
	"fmt"

	"github.com/ikawaha/rdn.go/tensor"
)

// ErrShape is returned when the inputs of an operation have incompatible shapes.
var ErrShape = errors.New("incompatible shape")

// Builder constructs a graph node by node, inferring the shape of each node.
// The first error is kept and every later call becomes a no-op returning nil,
// so a whole topology can be described before checking Err or Model.
type Builder struct {
	nodes []*Node
	names map[string]*Node
	err   error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		names: map[string]*Node{},
	}
}

// Err returns the first error encountered by the builder.
func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) fail(format string, a ...interface{}) *Node {
	if b.err == nil {
		b.err = fmt.Errorf(format, a...)
	}
	return nil
}

func (b *Builder) ok(name string, inputs ...*Node) bool {
	if b.err != nil {
		return false
	}
	if name == "" {
		b.fail("empty node name")
		return false
	}
	if _, dup := b.names[name]; dup {
		b.fail("duplicate node name: %s", name)
		return false
	}
	for _, in := range inputs {
		if in == nil {
			b.fail("%s: nil input", name)
			return false
		}
		if b.names[in.Name] != in {
			b.fail("%s: input %s belongs to another graph", name, in.Name)
			return false
		}
	}
	return true
}

func (b *Builder) add(n *Node) *Node {
	n.ID = len(b.nodes)
	b.nodes = append(b.nodes, n)
	b.names[n.Name] = n
	return n
}

// Input adds the input placeholder. Height and width may be tensor.Dynamic.
func (b *Builder) Input(name string, shape tensor.Shape) *Node {
	if !b.ok(name) {
		return nil
	}
	if shape.C <= 0 || (shape.H <= 0 && shape.H != tensor.Dynamic) || (shape.W <= 0 && shape.W != tensor.Dynamic) {
		return b.fail("%s: invalid input shape %v: %w", name, shape, ErrShape)
	}
	return b.add(&Node{
		Name:  name,
		Kind:  InputKind,
		Shape: shape,
	})
}

// Conv2D adds a stride 1 convolution with a square kernel and a bias.
// Parameters are allocated with zero values; see Model.InitWeights.
func (b *Builder) Conv2D(name string, x *Node, filters, kernelSize int, padding Padding) *Node {
	if !b.ok(name, x) {
		return nil
	}
	if filters <= 0 || kernelSize <= 0 {
		return b.fail("%s: invalid convolution filters=%d, kernel=%d", name, filters, kernelSize)
	}
	shape := tensor.Shape{H: x.Shape.H, W: x.Shape.W, C: filters}
	if padding == Valid {
		shape.H = shrink(x.Shape.H, kernelSize-1)
		shape.W = shrink(x.Shape.W, kernelSize-1)
		if shape.H == 0 || shape.W == 0 {
			return b.fail("%s: kernel %d larger than input %v: %w", name, kernelSize, x.Shape, ErrShape)
		}
	}
	return b.add(&Node{
		Name:   name,
		Kind:   Conv2DKind,
		Inputs: []*Node{x},
		Shape:  shape,
		Conv: &Conv2D{
			Filters: filters,
			KH:      kernelSize,
			KW:      kernelSize,
			Padding: padding,
			Kernel:  make([]float64, kernelSize*kernelSize*x.Shape.C*filters),
			Bias:    make([]float64, filters),
		},
	})
}

func shrink(v, d int) int {
	if v == tensor.Dynamic {
		return v
	}
	if v-d <= 0 {
		return 0
	}
	return v - d
}

// ReLU adds a rectified linear activation.
func (b *Builder) ReLU(name string, x *Node) *Node {
	if !b.ok(name, x) {
		return nil
	}
	return b.add(&Node{
		Name:   name,
		Kind:   ReLUKind,
		Inputs: []*Node{x},
		Shape:  x.Shape,
	})
}

// Concat adds a concatenation of xs along the channel axis.
func (b *Builder) Concat(name string, xs ...*Node) *Node {
	if !b.ok(name, xs...) {
		return nil
	}
	if len(xs) == 0 {
		return b.fail("%s: no inputs to concatenate", name)
	}
	shape := xs[0].Shape
	for _, x := range xs[1:] {
		if x.Shape.H != shape.H || x.Shape.W != shape.W {
			return b.fail("%s: spatial size %v <> %v: %w", name, x.Shape, shape, ErrShape)
		}
		shape.C += x.Shape.C
	}
	return b.add(&Node{
		Name:   name,
		Kind:   ConcatKind,
		Inputs: append([]*Node(nil), xs...),
		Shape:  shape,
	})
}

// Add adds an element-wise sum of xs.
func (b *Builder) Add(name string, xs ...*Node) *Node {
	if !b.ok(name, xs...) {
		return nil
	}
	if len(xs) < 2 {
		return b.fail("%s: add needs at least 2 inputs, got %d", name, len(xs))
	}
	for _, x := range xs[1:] {
		if x.Shape != xs[0].Shape {
			return b.fail("%s: shape %v <> %v: %w", name, x.Shape, xs[0].Shape, ErrShape)
		}
	}
	return b.add(&Node{
		Name:   name,
		Kind:   AddKind,
		Inputs: append([]*Node(nil), xs...),
		Shape:  xs[0].Shape,
	})
}

// UpSampling2D adds a nearest neighbour upsampling by the specified factor.
func (b *Builder) UpSampling2D(name string, x *Node, size int) *Node {
	if !b.ok(name, x) {
		return nil
	}
	if size <= 0 {
		return b.fail("%s: invalid upsampling size %d", name, size)
	}
	return b.add(&Node{
		Name:   name,
		Kind:   UpSamplingKind,
		Inputs: []*Node{x},
		Shape:  tensor.Shape{H: grow(x.Shape.H, size), W: grow(x.Shape.W, size), C: x.Shape.C},
		Scale:  size,
	})
}

// DepthToSpace adds a pixel shuffle moving blockSize*blockSize channel groups into
// blockSize x blockSize spatial blocks.
func (b *Builder) DepthToSpace(name string, x *Node, blockSize int) *Node {
	if !b.ok(name, x) {
		return nil
	}
	if blockSize <= 0 {
		return b.fail("%s: invalid block size %d", name, blockSize)
	}
	if x.Shape.C%(blockSize*blockSize) != 0 {
		return b.fail("%s: channels %d not divisible by %d: %w", name, x.Shape.C, blockSize*blockSize, ErrShape)
	}
	return b.add(&Node{
		Name:   name,
		Kind:   DepthToSpaceKind,
		Inputs: []*Node{x},
		Shape: tensor.Shape{
			H: grow(x.Shape.H, blockSize),
			W: grow(x.Shape.W, blockSize),
			C: x.Shape.C / (blockSize * blockSize),
		},
		Scale: blockSize,
	})
}

func grow(v, f int) int {
	if v == tensor.Dynamic {
		return v
	}
	return v * f
}

// Model finalizes the graph between in and out. Nodes that out does not depend on are dropped.
func (b *Builder) Model(name string, in, out *Node) (*Model, error) {
	if b.err != nil {
		return nil, b.err
	}
	if in == nil || out == nil {
		return nil, fmt.Errorf("model %s: nil input or output", name)
	}
	if in.Kind != InputKind || b.names[in.Name] != in {
		return nil, fmt.Errorf("model %s: %s is not an input of this graph", name, in.Name)
	}
	if b.names[out.Name] != out {
		return nil, fmt.Errorf("model %s: %s is not a node of this graph", name, out.Name)
	}

	reachable := make([]bool, len(b.nodes))
	reachable[out.ID] = true
	for i := out.ID; i >= 0; i-- {
		if !reachable[i] {
			continue
		}
		for _, p := range b.nodes[i].Inputs {
			reachable[p.ID] = true
		}
	}
	for i, n := range b.nodes {
		if reachable[i] && n.Kind == InputKind && n != in {
			return nil, fmt.Errorf("model %s: output depends on extra input %s", name, n.Name)
		}
	}
	if !reachable[in.ID] {
		return nil, fmt.Errorf("model %s: output %s does not depend on input %s", name, out.Name, in.Name)
	}

	m := &Model{
		name:   name,
		byName: map[string]*Node{},
	}
	for i, n := range b.nodes {
		if reachable[i] {
			m.nodes = append(m.nodes, n)
			m.byName[n.Name] = n
		}
	}
	m.input, m.output = in, out
	m.index()
	return m, nil
}
