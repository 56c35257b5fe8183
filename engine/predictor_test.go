package engine

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikawaha/rdn.go/graph"
	"github.com/ikawaha/rdn.go/rdn"
	"github.com/ikawaha/rdn.go/tensor"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 20), G: uint8(y * 30), B: uint8((x + y) * 10), A: uint8(255 - x)})
		}
	}
	return img
}

// pointwise returns a network whose output pixels only depend on one input pixel,
// so tiled and whole image predictions agree exactly.
func pointwise(t testing.TB) *rdn.RDN {
	t.Helper()
	b := graph.NewBuilder()
	x := b.Input(rdn.InputName, tensor.Shape{H: tensor.Dynamic, W: tensor.Dynamic, C: 3})
	y := b.Conv2D("UPN3", x, 12, 1, graph.Valid)
	z := b.DepthToSpace("PixelShuffle", y, 2)
	m, err := b.Model(rdn.ModelName, x, z)
	require.NoError(t, err)
	m.InitWeights(5)
	return &rdn.RDN{
		Params:   rdn.Params{Scale: 2},
		Channels: 3,
		Model:    m,
	}
}

func TestNewPredictor(t *testing.T) {
	fixed, err := rdn.Build(smallParams, 8)
	require.NoError(t, err)

	tests := []struct {
		name string
		net  *rdn.RDN
		opts []Option
	}{
		{name: "no network"},
		{name: "parallel", net: newNetwork(t, 1), opts: []Option{Parallel(0)}},
		{name: "patch size", net: newNetwork(t, 1), opts: []Option{PatchSize(-1)}},
		{name: "padding", net: newNetwork(t, 1), opts: []Option{Padding(-1)}},
		{name: "patch too small", net: newNetwork(t, 1), opts: []Option{PatchSize(4), Padding(2)}},
		{name: "patch conflict", net: fixed, opts: []Option{PatchSize(16)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPredictor(tt.net, tt.opts...)
			assert.Error(t, err)
		})
	}

	p, err := NewPredictor(fixed, PatchSize(8))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Scale())
}

func TestPredictor_Predict_Tiled(t *testing.T) {
	net := pointwise(t)
	whole, err := NewPredictor(net)
	require.NoError(t, err)
	tiled, err := NewPredictor(net, PatchSize(6), Padding(1), Parallel(3))
	require.NoError(t, err)

	x := gradient(13, 9, 3)
	want, err := whole.Predict(context.Background(), x)
	require.NoError(t, err)
	got, err := tiled.Predict(context.Background(), x)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{H: 26, W: 18, C: 3}, got.Shape)
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-12)
}

func TestPredictor_ScaleUp(t *testing.T) {
	fixed, err := rdn.Build(smallParams, 8, rdn.Upscale("shuffle"))
	require.NoError(t, err)
	fixed.Model.InitWeights(1)

	withScale := func(scale int, opts ...rdn.Option) *rdn.RDN {
		p := smallParams
		p.Scale = scale
		net, err := rdn.Build(p, 0, opts...)
		require.NoError(t, err)
		net.Model.InitWeights(1)
		return net
	}

	tests := []struct {
		name  string
		net   *rdn.RDN
		scale int
	}{
		{name: "dynamic", net: newNetwork(t, 1), scale: 2},
		{name: "fixed patch", net: fixed, scale: 2},
		{name: "x3", net: withScale(3), scale: 3},
		{name: "x4 shuffle", net: withScale(4, rdn.Upscale("shuffle")), scale: 4},
		{name: "one channel", net: withScale(2, rdn.Channels(1)), scale: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPredictor(tt.net, Parallel(2))
			require.NoError(t, err)
			src := testImage(11, 7)
			ci, err := p.ScaleUp(context.Background(), src)
			require.NoError(t, err)
			assert.Equal(t, 11*tt.scale, ci.Width)
			assert.Equal(t, 7*tt.scale, ci.Height)
			require.Len(t, ci.Buffer, 11*7*tt.scale*tt.scale*4)

			// alpha is resized by the nearest neighbour
			img := ci.ImageNRGBA()
			for y := 0; y < ci.Height; y++ {
				for x := 0; x < ci.Width; x++ {
					require.Equal(t, src.NRGBAAt(x/tt.scale, y/tt.scale).A, img.NRGBAAt(x, y).A, "(%d, %d)", x, y)
				}
			}
			if tt.net.Channels == 1 {
				c := img.NRGBAAt(5, 3)
				assert.Equal(t, c.R, c.G)
				assert.Equal(t, c.R, c.B)
			}
		})
	}
}

func TestPredictor_Verbose(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewPredictor(newNetwork(t, 1), Verbose(true), LogOutput(&buf), PatchSize(8))
	require.NoError(t, err)
	_, err = p.ScaleUp(context.Background(), testImage(9, 9))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "scaling ...")
	assert.Contains(t, buf.String(), "# of goroutines")

	buf.Reset()
	p, err = NewPredictor(newNetwork(t, 1), LogOutput(&buf))
	require.NoError(t, err)
	_, err = p.ScaleUp(context.Background(), testImage(4, 4))
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestPredictor_Canceled(t *testing.T) {
	p, err := NewPredictor(newNetwork(t, 1), PatchSize(8))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.ScaleUp(ctx, testImage(16, 16))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredictor_ScaleUpGIF(t *testing.T) {
	p, err := NewPredictor(newNetwork(t, 1))
	require.NoError(t, err)
	frame := image.NewPaletted(image.Rect(0, 0, 6, 4), palette.Plan9)
	g := &gif.GIF{
		Image:  []*image.Paletted{frame, frame},
		Delay:  []int{0, 0},
		Config: image.Config{Width: 6, Height: 4, ColorModel: color.Palette(palette.Plan9)},
	}
	got, err := p.ScaleUpGIF(context.Background(), g)
	require.NoError(t, err)
	require.Len(t, got.Image, 2)
	assert.Equal(t, image.Rect(0, 0, 12, 8), got.Image[0].Bounds())
	assert.Equal(t, 12, got.Config.Width)
	assert.Equal(t, 8, got.Config.Height)
}

func TestPredictor_PredictDir(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "predictions")
	for _, name := range []string{"a.png", "b.png"} {
		fp, err := os.Create(filepath.Join(in, name))
		require.NoError(t, err)
		require.NoError(t, png.Encode(fp, testImage(5, 3)))
		require.NoError(t, fp.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("skip"), 0o644))

	p, err := NewPredictor(newNetwork(t, 1))
	require.NoError(t, err)
	require.NoError(t, p.PredictDir(context.Background(), in, out))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	img, format, err := DecodeImageFile(filepath.Join(out, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 10, 6), img.Bounds())

	assert.Error(t, p.PredictDir(context.Background(), filepath.Join(in, "missing"), out))
}

func BenchmarkPredictor(b *testing.B) {
	net, err := rdn.Build(rdn.Params{C: 3, D: 4, G: 16, G0: 16, Scale: 2}, 0)
	if err != nil {
		b.Fatalf("failed to build the network: %s", err)
	}
	net.Model.InitWeights(1)
	img := testImage(48, 48)

	for _, tt := range []struct {
		name  string
		patch int
	}{
		{name: "whole", patch: 0},
		{name: "tiled", patch: 24},
	} {
		b.Run(tt.name, func(b *testing.B) {
			p, err := NewPredictor(net, PatchSize(tt.patch))
			if err != nil {
				b.Fatalf("failed to create the predictor: %s", err)
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := p.ScaleUp(context.Background(), img); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
