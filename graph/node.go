// Package graph defines an immutable computation graph of convolutional layers and a CPU executor for it.
package graph

import (
	"fmt"

	"github.com/ikawaha/rdn.go/tensor"
)

// Kind is the type of operation a node performs.
type Kind int

const (
	// InputKind is the graph input placeholder.
	InputKind Kind = iota + 1
	// Conv2DKind is a 2D convolution with bias.
	Conv2DKind
	// ReLUKind is the rectified linear activation.
	ReLUKind
	// ConcatKind concatenates its inputs along the channel axis.
	ConcatKind
	// AddKind adds its inputs element-wise.
	AddKind
	// UpSamplingKind repeats every pixel scale x scale times.
	UpSamplingKind
	// DepthToSpaceKind rearranges channel blocks into spatial blocks.
	DepthToSpaceKind
)

// String returns string representation of a kind.
func (k Kind) String() string {
	switch k {
	case InputKind:
		return "InputLayer"
	case Conv2DKind:
		return "Conv2D"
	case ReLUKind:
		return "Activation"
	case ConcatKind:
		return "Concatenate"
	case AddKind:
		return "Add"
	case UpSamplingKind:
		return "UpSampling2D"
	case DepthToSpaceKind:
		return "DepthToSpace"
	}
	return fmt.Sprintf("unknown kind=%d", int(k))
}

// Padding is the border handling of a convolution.
type Padding int

const (
	// Valid applies the kernel only where it fits entirely inside the input.
	Valid Padding = iota
	// Same zero-pads the input so the output keeps the spatial size.
	Same
)

// Conv2D holds the hyperparameters and the parameters of a convolution node.
type Conv2D struct {
	Filters int
	KH      int
	KW      int
	Padding Padding
	// Kernel is laid out as [KH][KW][in][Filters].
	Kernel []float64
	Bias   []float64
}

// InChannels returns the number of input channels implied by the kernel size.
func (c *Conv2D) InChannels() int {
	if c.KH*c.KW*c.Filters == 0 {
		return 0
	}
	return len(c.Kernel) / (c.KH * c.KW * c.Filters)
}

// Node represents an operation and the tensor it produces.
type Node struct {
	ID     int
	Name   string
	Kind   Kind
	Inputs []*Node
	Shape  tensor.Shape

	// Conv is set for Conv2DKind nodes.
	Conv *Conv2D
	// Scale is the factor of UpSamplingKind and the block size of DepthToSpaceKind nodes.
	Scale int
}

// String returns a short description of the node.
func (n *Node) String() string {
	return fmt.Sprintf("%s (%s) %v", n.Name, n.Kind, n.Shape)
}

// ParamCount returns the number of learnable parameters of the node.
func (n *Node) ParamCount() int {
	if n.Conv == nil {
		return 0
	}
	return len(n.Conv.Kernel) + len(n.Conv.Bias)
}
