package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannelImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}

	t.Run("whole image", func(t *testing.T) {
		ci, opaque, err := NewChannelImage(src)
		require.NoError(t, err)
		assert.True(t, opaque)
		assert.Equal(t, 4, ci.Width)
		assert.Equal(t, 3, ci.Height)
		assert.Equal(t, src.Pix, ci.Buffer)
	})
	t.Run("sub image", func(t *testing.T) {
		sub := src.SubImage(image.Rect(1, 1, 3, 3))
		ci, _, err := NewChannelImage(sub)
		require.NoError(t, err)
		assert.Equal(t, 2, ci.Width)
		assert.Equal(t, 2, ci.Height)
		assert.Equal(t, []uint8{1, 1, 2, 255}, ci.Buffer[:4])
	})
	t.Run("gray image", func(t *testing.T) {
		g := image.NewGray(image.Rect(0, 0, 2, 2))
		g.SetGray(1, 0, color.Gray{Y: 200})
		ci, opaque, err := NewChannelImage(g)
		require.NoError(t, err)
		assert.True(t, opaque)
		assert.Equal(t, []uint8{200, 200, 200, 255}, ci.Buffer[4:8])
	})
	t.Run("empty image", func(t *testing.T) {
		_, _, err := NewChannelImage(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
		assert.Error(t, err)
	})
}

func TestChannelDecomposeCompose(t *testing.T) {
	img := ChannelImage{
		Width:  2,
		Height: 1,
		Buffer: []uint8{1, 2, 3, 4, 5, 6, 7, 8},
	}
	r, g, b, a := ChannelDecompose(img)
	assert.Equal(t, []uint8{1, 5}, r.Buffer)
	assert.Equal(t, []uint8{2, 6}, g.Buffer)
	assert.Equal(t, []uint8{3, 7}, b.Buffer)
	assert.Equal(t, []uint8{4, 8}, a.Buffer)
	assert.Equal(t, img, ChannelCompose(r, g, b, a))
}

func TestNormalizedTensor(t *testing.T) {
	r := ChannelImage{Width: 2, Height: 1, Buffer: []uint8{0, 255}}
	g := ChannelImage{Width: 2, Height: 1, Buffer: []uint8{51, 102}}
	x, err := NewNormalizedTensor(r, g)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.2, 1, 0.4}, x.Data, 1e-12)

	assert.Equal(t, r, NewDenormalizedChannelImage(x, 0))
	assert.Equal(t, g, NewDenormalizedChannelImage(x, 1))

	// clipping
	x.Data[0], x.Data[2] = -0.5, 1.5
	assert.Equal(t, []uint8{0, 255}, NewDenormalizedChannelImage(x, 0).Buffer)

	_, err = NewNormalizedTensor(r, ChannelImage{Width: 1, Height: 1, Buffer: []uint8{0}})
	assert.Error(t, err)
	_, err = NewNormalizedTensor()
	assert.Error(t, err)
}

func TestChannelImage_Resize(t *testing.T) {
	img := ChannelImage{Width: 2, Height: 2, Buffer: []uint8{1, 2, 3, 4}}
	got := img.Resize(2)
	want := []uint8{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	assert.Equal(t, want, got.Buffer)
	assert.Equal(t, img, img.Resize(1))

	tests := []struct {
		scale int
		want  []uint8
	}{
		{scale: 3, want: []uint8{0, 0, 0, 1, 1, 1, 2, 2, 2}},
		{scale: 4, want: []uint8{0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("x%d", tt.scale), func(t *testing.T) {
			row := ChannelImage{Width: 3, Height: 1, Buffer: []uint8{0, 1, 2}}
			got := row.Resize(tt.scale)
			assert.Equal(t, 3*tt.scale, got.Width)
			assert.Equal(t, tt.scale, got.Height)
			for y := 0; y < tt.scale; y++ {
				assert.Equal(t, tt.want, got.Buffer[y*got.Width:(y+1)*got.Width], "row %d", y)
			}
		})
	}
}

func TestChannelImage_ImageNRGBA(t *testing.T) {
	want := color.NRGBA{R: 200, G: 40, B: 10, A: 100}

	t.Run("nrgba", func(t *testing.T) {
		src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
		src.SetNRGBA(0, 0, want)
		src.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
		ci, opaque, err := NewChannelImage(src)
		require.NoError(t, err)
		assert.False(t, opaque)
		got := ci.ImageNRGBA()
		assert.Equal(t, want, got.NRGBAAt(0, 0))
		assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 255}, got.NRGBAAt(1, 0))
	})
	t.Run("premultiplied input", func(t *testing.T) {
		src := image.NewRGBA(image.Rect(0, 0, 1, 1))
		src.Set(0, 0, want)
		ci, _, err := NewChannelImage(src)
		require.NoError(t, err)
		got := ci.ImageNRGBA().NRGBAAt(0, 0)
		assert.Equal(t, want.A, got.A)
		assert.InDelta(t, want.R, got.R, 2)
		assert.InDelta(t, want.G, got.G, 2)
		assert.InDelta(t, want.B, got.B, 2)
	})
	t.Run("png round trip", func(t *testing.T) {
		src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
		src.SetNRGBA(0, 0, want)
		ci, _, err := NewChannelImage(src)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, ci.ImageNRGBA()))
		img, err := png.Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, color.NRGBAModel.Convert(img.At(0, 0)))
	})
}
