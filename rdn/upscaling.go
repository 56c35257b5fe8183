package rdn

import (
	"fmt"

	"github.com/ikawaha/rdn.go/graph"
)

// Upscaling is the strategy of the layer that enlarges the feature maps.
// Trained weights only fit the strategy they were trained with.
type Upscaling int

const (
	// UpSampling expands the channels with a convolution and repeats pixels.
	// Kept for weights trained before pixel shuffle was introduced.
	UpSampling Upscaling = iota + 1
	// PixelShuffle expands the channels with a convolution and moves them into space.
	PixelShuffle
)

// ParseUpscaling returns the strategy of the specified tag.
func ParseUpscaling(tag string) (Upscaling, error) {
	switch tag {
	case "ups", "sub-pixel-conv+upsample":
		return UpSampling, nil
	case "shuffle", "pixel-shuffle":
		return PixelShuffle, nil
	}
	return 0, fmt.Errorf("invalid choice of upscaling layer %q: %w", tag, ErrConfiguration)
}

// String returns the tag of the strategy.
func (u Upscaling) String() string {
	switch u {
	case UpSampling:
		return "ups"
	case PixelShuffle:
		return "shuffle"
	}
	return fmt.Sprintf("unknown upscaling=%d", int(u))
}

// MarshalText implements encoding.TextMarshaler.
func (u Upscaling) MarshalText() ([]byte, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Upscaling) UnmarshalText(b []byte) error {
	v, err := ParseUpscaling(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

func (u Upscaling) validate() error {
	switch u {
	case UpSampling, PixelShuffle:
		return nil
	}
	return fmt.Errorf("invalid choice of upscaling layer %d: %w", int(u), ErrConfiguration)
}

// build appends the channel expanding convolution and the strategy's rearrangement.
func (u Upscaling) build(b *graph.Builder, x *graph.Node, channels, scale int) *graph.Node {
	x = b.Conv2D("UPN3", x, channels*scale*scale, 3, graph.Same)
	switch u {
	case UpSampling:
		return b.UpSampling2D("UPsample", x, scale)
	case PixelShuffle:
		return b.DepthToSpace("PixelShuffle", x, scale)
	}
	panic(fmt.Sprintf("unreachable: %v", u))
}
