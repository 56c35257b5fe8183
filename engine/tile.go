package engine

import (
	"fmt"

	"github.com/ikawaha/rdn.go/tensor"
)

// Tile is a patch of an image fed to the network.
type Tile struct {
	// X and Y are the position of the core of the tile in the source image.
	X, Y int
	// Tensor is the core extended by the padding on each side.
	Tensor *tensor.Tensor
}

// Tiling describes how an image is split into overlapping patches.
// Each patch is a core of Core x Core pixels surrounded by Padding pixels,
// so neighbouring patches overlap by 2*Padding pixels.
type Tiling struct {
	Patch   int
	Padding int
	Core    int
	BlocksW int
	BlocksH int
	Width   int
	Height  int
}

// NewTiling returns the tiling of a width x height image into patch x patch tiles.
func NewTiling(width, height, patch, padding int) (Tiling, error) {
	core := patch - 2*padding
	if padding < 0 || core <= 0 {
		return Tiling{}, fmt.Errorf("patch size %d too small for padding %d", patch, padding)
	}
	return Tiling{
		Patch:   patch,
		Padding: padding,
		Core:    core,
		BlocksW: (width + core - 1) / core,
		BlocksH: (height + core - 1) / core,
		Width:   width,
		Height:  height,
	}, nil
}

// Blocking divides the image into tiles. Pixels beyond the border are extrapolated
// by repeating the edge, so every tile has exactly the patch size.
func (t Tiling) Blocking(x *tensor.Tensor) []Tile {
	padded := x.Pad(
		t.Padding,
		t.Padding+t.BlocksW*t.Core-t.Width,
		t.Padding+t.BlocksH*t.Core-t.Height,
		t.Padding,
	)
	tiles := make([]Tile, 0, t.BlocksW*t.BlocksH)
	for b := 0; b < t.BlocksW*t.BlocksH; b++ {
		y, x := (b/t.BlocksW)*t.Core, (b%t.BlocksW)*t.Core
		tiles = append(tiles, Tile{
			X:      x,
			Y:      y,
			Tensor: padded.Crop(y, x, t.Patch, t.Patch),
		})
	}
	return tiles
}

// Deblocking combines the scaled outputs of the tiles, dropping the padding of each.
func (t Tiling) Deblocking(tiles []Tile, scale int) (*tensor.Tensor, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tiles")
	}
	c := tiles[0].Tensor.Shape.C
	out := tensor.New(t.Height*scale, t.Width*scale, c)
	want := tensor.Shape{H: t.Patch * scale, W: t.Patch * scale, C: c}
	for _, tile := range tiles {
		if tile.Tensor.Shape != want {
			return nil, fmt.Errorf("tile at (%d, %d): shape %v, want %v", tile.X, tile.Y, tile.Tensor.Shape, want)
		}
		core := tile.Tensor.Crop(t.Padding*scale, t.Padding*scale, t.Core*scale, t.Core*scale)
		out.Paste(core, tile.Y*scale, tile.X*scale)
	}
	return out, nil
}
