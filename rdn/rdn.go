// Package rdn builds the residual dense network (RDN) for single image super-resolution.
//
// The network maps a low resolution image (input node "LR") to an image enlarged by
// the scale factor (output node "SR"):
//
//	LR -> F_m1 -> F_0 -> RDB x D -> GFF_1 -> GFF_2 -> (+ F_m1) -> UPN -> SR
//
// Each residual dense block densely connects C convolutions of growth rate G,
// fuses them back to G0 channels with a 1x1 convolution and adds the block input.
package rdn

import (
	"errors"
	"fmt"

	"github.com/ikawaha/rdn.go/graph"
	"github.com/ikawaha/rdn.go/tensor"
)

var (
	// ErrConfiguration is returned when the network cannot be built from its options.
	ErrConfiguration = errors.New("configuration error")
	// ErrMissingHyperparameter is returned when a hyperparameter mapping lacks a required key.
	ErrMissingHyperparameter = errors.New("missing hyperparameter")
)

const (
	// InputName is the name of the low resolution input node.
	InputName = "LR"
	// OutputName is the name of the super-resolved output node.
	OutputName = "SR"
	// ModelName is the name of the built model.
	ModelName = "generator"
	// InputChannels is the number of channels of the low resolution input.
	InputChannels = 3
)

// Params are the architecture hyperparameters.
type Params struct {
	C     int `yaml:"C" json:"C"`   // convolutions per residual dense block
	D     int `yaml:"D" json:"D"`   // number of residual dense blocks
	G     int `yaml:"G" json:"G"`   // growth rate
	G0    int `yaml:"G0" json:"G0"` // global feature width
	Scale int `yaml:"x" json:"x"`   // upscaling factor
}

// Validate checks that every hyperparameter is positive.
func (p Params) Validate() error {
	for _, v := range []struct {
		key string
		val int
	}{
		{"C", p.C}, {"D", p.D}, {"G", p.G}, {"G0", p.G0}, {"x", p.Scale},
	} {
		if v.val <= 0 {
			return fmt.Errorf("hyperparameter %s must be positive, got %d", v.key, v.val)
		}
	}
	return nil
}

// ParamsFromMap reads the hyperparameters from a mapping with keys C, D, G, G0 and x.
func ParamsFromMap(m map[string]int) (Params, error) {
	get := func(key string) (int, error) {
		v, ok := m[key]
		if !ok {
			return 0, fmt.Errorf("%s: %w", key, ErrMissingHyperparameter)
		}
		return v, nil
	}
	var (
		p   Params
		err error
	)
	for _, v := range []struct {
		key string
		dst *int
	}{
		{"C", &p.C}, {"D", &p.D}, {"G", &p.G}, {"G0", &p.G0}, {"x", &p.Scale},
	} {
		if *v.dst, err = get(v.key); err != nil {
			return Params{}, err
		}
	}
	return p, nil
}

// Option represents an option of the network builder.
type Option func(b *builder) error

// Channels sets the number of channels of the super-resolved output. The default is 3.
// The low resolution input always has InputChannels channels.
func Channels(n int) Option {
	return func(b *builder) error {
		if n <= 0 {
			return fmt.Errorf("invalid number of channels %d: %w", n, ErrConfiguration)
		}
		b.channels = n
		return nil
	}
}

// KernelSize sets the kernel size of the feature convolutions. The default is 3.
func KernelSize(k int) Option {
	return func(b *builder) error {
		if k <= 0 || k%2 == 0 {
			return fmt.Errorf("kernel size must be a positive odd number, got %d: %w", k, ErrConfiguration)
		}
		b.kernelSize = k
		return nil
	}
}

// Upscale sets the upscaling strategy by tag: "ups" or "shuffle".
func Upscale(tag string) Option {
	return func(b *builder) error {
		u, err := ParseUpscaling(tag)
		if err != nil {
			return err
		}
		b.upscaling = u
		return nil
	}
}

// WithUpscaling sets the upscaling strategy. The default is UpSampling.
func WithUpscaling(u Upscaling) Option {
	return func(b *builder) error {
		if err := u.validate(); err != nil {
			return err
		}
		b.upscaling = u
		return nil
	}
}

// RDN is a built residual dense network.
type RDN struct {
	Params     Params
	Channels   int
	KernelSize int
	Upscaling  Upscaling
	PatchSize  int
	Model      *graph.Model
	// BlockOutputs are the outputs of the residual dense blocks in order.
	BlockOutputs []*graph.Node
}

// WeightsName returns the conventional base name of the weights of this network.
func (r *RDN) WeightsName() string {
	return r.Params.WeightsName()
}

type builder struct {
	Params
	channels   int
	kernelSize int
	upscaling  Upscaling
	g          *graph.Builder
}

// Build constructs the network. A patch size of 0 leaves the input height and width dynamic.
// The hyperparameters are expected to be validated by their supplier.
func Build(p Params, patchSize int, opts ...Option) (*RDN, error) {
	b := &builder{
		Params:     p,
		channels:   3,
		kernelSize: 3,
		upscaling:  UpSampling,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if patchSize < 0 {
		return nil, fmt.Errorf("invalid patch size %d: %w", patchSize, ErrConfiguration)
	}
	size := tensor.Dynamic
	if patchSize > 0 {
		size = patchSize
	}

	b.g = graph.NewBuilder()
	in := b.g.Input(InputName, tensor.Shape{H: size, W: size, C: InputChannels})
	fm1 := b.conv("F_m1", in, b.G0, b.kernelSize)
	f0 := b.conv("F_0", fm1, b.G0, b.kernelSize)
	fd, blocks := b.rdbs(f0)
	// global feature fusion
	gff1 := b.conv("GFF_1", fd, b.G0, 1)
	gff2 := b.conv("GFF_2", gff1, b.G0, b.kernelSize)
	// global residual learning adds the first shallow features
	fdf := b.g.Add("FDF", gff2, fm1)
	fu := b.upn(fdf)
	sr := b.conv(OutputName, fu, b.channels, b.kernelSize)

	m, err := b.g.Model(ModelName, in, sr)
	if err != nil {
		return nil, fmt.Errorf("build rdn: %w", err)
	}
	return &RDN{
		Params:       p,
		Channels:     b.channels,
		KernelSize:   b.kernelSize,
		Upscaling:    b.upscaling,
		PatchSize:    patchSize,
		Model:        m,
		BlockOutputs: blocks,
	}, nil
}

func (b *builder) conv(name string, x *graph.Node, filters, kernelSize int) *graph.Node {
	return b.g.Conv2D(name, x, filters, kernelSize, graph.Same)
}

// rdbs appends D residual dense blocks and returns the concatenation of their outputs
// together with the outputs themselves.
func (b *builder) rdbs(x *graph.Node) (*graph.Node, []*graph.Node) {
	blocks := make([]*graph.Node, 0, b.D)
	in := x
	for d := 1; d <= b.D; d++ {
		// x = [in, F_d_1(in), F_d_2([in, F_d_1]), ...]
		dense := []*graph.Node{in}
		cur := in
		for c := 1; c <= b.C; c++ {
			f := b.conv(fmt.Sprintf("F_%d_%d", d, c), cur, b.G, b.kernelSize)
			f = b.g.ReLU(fmt.Sprintf("F_%d_%d_Relu", d, c), f)
			dense = append(dense, f)
			cur = b.g.Concat(fmt.Sprintf("RDB_Concat_%d_%d", d, c), dense...)
		}
		// local feature fusion
		lff := b.g.Conv2D(fmt.Sprintf("LFF_%d", d), cur, b.G0, 1, graph.Valid)
		// local residual learning
		in = b.g.Add(fmt.Sprintf("LRL_%d", d), lff, in)
		blocks = append(blocks, in)
	}
	return b.g.Concat("LRLs_Concat", blocks...), blocks
}

func (b *builder) upn(x *graph.Node) *graph.Node {
	x = b.g.Conv2D("UPN1", x, 64, 5, graph.Same)
	x = b.g.ReLU("UPN1_Relu", x)
	x = b.g.Conv2D("UPN2", x, 32, 3, graph.Same)
	x = b.g.ReLU("UPN2_Relu", x)
	return b.upscaling.build(b.g, x, b.channels, b.Scale)
}
