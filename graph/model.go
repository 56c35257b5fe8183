package graph

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Model is an immutable topology with a single input and a single output.
// Only the parameters of its convolution nodes change after construction.
type Model struct {
	name   string
	nodes  []*Node // topological order
	byName map[string]*Node
	input  *Node
	output *Node

	pos     map[*Node]int
	lastUse []int // position of the last consumer of each node
}

func (m *Model) index() {
	m.pos = make(map[*Node]int, len(m.nodes))
	for i, n := range m.nodes {
		m.pos[n] = i
	}
	m.lastUse = make([]int, len(m.nodes))
	for i, n := range m.nodes {
		m.lastUse[i] = -1
		for _, p := range n.Inputs {
			m.lastUse[m.pos[p]] = i
		}
	}
}

// Name returns the name of the model.
func (m *Model) Name() string {
	return m.name
}

// Input returns the input node.
func (m *Model) Input() *Node {
	return m.input
}

// Output returns the output node.
func (m *Model) Output() *Node {
	return m.output
}

// Nodes returns all nodes in topological order.
func (m *Model) Nodes() []*Node {
	return append([]*Node(nil), m.nodes...)
}

// Node returns the node with the specified name.
func (m *Model) Node(name string) (*Node, bool) {
	n, ok := m.byName[name]
	return n, ok
}

// Layers returns the nodes holding learnable parameters in topological order.
func (m *Model) Layers() []*Node {
	var ret []*Node
	for _, n := range m.nodes {
		if n.Conv != nil {
			ret = append(ret, n)
		}
	}
	return ret
}

// Consumers returns the nodes reading the output of n.
func (m *Model) Consumers(n *Node) []*Node {
	var ret []*Node
	for _, c := range m.nodes {
		for _, p := range c.Inputs {
			if p == n {
				ret = append(ret, c)
				break
			}
		}
	}
	return ret
}

// ParamCount returns the total number of learnable parameters.
func (m *Model) ParamCount() int {
	var sum int
	for _, n := range m.nodes {
		sum += n.ParamCount()
	}
	return sum
}

// InitWeights initializes kernels with Glorot uniform values and biases with zeros.
func (m *Model) InitWeights(seed uint64) {
	src := rand.NewSource(seed)
	for _, n := range m.Layers() {
		c := n.Conv
		fanIn := c.KH * c.KW * c.InChannels()
		fanOut := c.KH * c.KW * c.Filters
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		dist := distuv.Uniform{
			Min: -limit,
			Max: limit,
			Src: src,
		}
		for i := range c.Kernel {
			c.Kernel[i] = dist.Rand()
		}
		for i := range c.Bias {
			c.Bias[i] = 0
		}
	}
}

// Summary writes a layer table in the style of a Keras model summary.
func (m *Model) Summary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Model: %q\n", m.name)
	fmt.Fprintln(tw, "Layer (type)\tOutput Shape\tParam #\tConnected to")
	for _, n := range m.nodes {
		var from string
		for i, p := range n.Inputs {
			if i > 0 {
				from += ", "
			}
			from += p.Name
		}
		fmt.Fprintf(tw, "%s (%s)\t%v\t%d\t%s\n", n.Name, n.Kind, n.Shape, n.ParamCount(), from)
	}
	fmt.Fprintf(tw, "Total params: %d\n", m.ParamCount())
	return tw.Flush()
}
