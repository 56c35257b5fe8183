package cmd

import (
	"flag"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikawaha/rdn.go/engine"
	"github.com/ikawaha/rdn.go/rdn"
)

func TestOption_Parse(t *testing.T) {
	const weights = "weights/rdn-C1-D2-G2-G04-x2-weights.json"
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "weights", args: []string{"-w", weights}},
		{name: "full", args: []string{"-i", "in.png", "-o", "out.png", "-w", weights, "-u", "shuffle", "-p", "16", "-j", "2", "-v"}},
		{name: "config training", args: []string{"-c", "config.yml", "-train"}},
		{name: "config prediction", args: []string{"-c", "config.yml", "-predict"}},
		{name: "config without session", args: []string{"-c", "config.yml"}, wantErr: true},
		{name: "config with both sessions", args: []string{"-c", "config.yml", "-train", "-predict"}, wantErr: true},
		{name: "session without config", args: []string{"-predict", "-w", weights}, wantErr: true},
		{name: "no weights", args: []string{"-i", "in.png"}, wantErr: true},
		{name: "unnamed weights", args: []string{"-w", "weights.json"}, wantErr: true},
		{name: "unknown upscaling", args: []string{"-w", weights, "-u", "nearest"}, wantErr: true},
		{name: "negative patch", args: []string{"-w", weights, "-p", "-1"}, wantErr: true},
		{name: "no goroutines", args: []string{"-w", weights, "-j", "0"}, wantErr: true},
		{name: "extra argument", args: []string{"-w", weights, "extra"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := newOption(io.Discard, flag.ContinueOnError)
			err := opt.parse(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("weights name", func(t *testing.T) {
		opt := newOption(io.Discard, flag.ContinueOnError)
		require.NoError(t, opt.parse([]string{"-w", weights}))
		assert.Equal(t, rdn.Params{C: 1, D: 2, G: 2, G0: 4, Scale: 2}, opt.params)
	})
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	net, err := rdn.Build(rdn.Params{C: 1, D: 2, G: 2, G0: 4, Scale: 2}, 0, rdn.Upscale("shuffle"))
	require.NoError(t, err)
	net.Model.InitWeights(3)
	weights := filepath.Join(dir, net.WeightsName()+".json")
	require.NoError(t, engine.SaveModelFile(weights, net.Model))

	input := filepath.Join(dir, "in.png")
	fp, err := os.Create(input)
	require.NoError(t, err)
	require.NoError(t, png.Encode(fp, image.NewNRGBA(image.Rect(0, 0, 7, 5))))
	require.NoError(t, fp.Close())

	t.Run("scale up", func(t *testing.T) {
		output := filepath.Join(dir, "out.png")
		err := Run([]string{"-i", input, "-o", output, "-w", weights, "-u", "shuffle", "-p", "6", "-j", "2"})
		require.NoError(t, err)
		img, format, err := engine.DecodeImageFile(output)
		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, image.Rect(0, 0, 14, 10), img.Bounds())
	})

	t.Run("summary", func(t *testing.T) {
		output := filepath.Join(dir, "summary.txt")
		require.NoError(t, Run([]string{"-o", output, "-w", weights, "-summary"}))
		b, err := os.ReadFile(output)
		require.NoError(t, err)
		assert.Contains(t, string(b), "Total params")
		assert.Contains(t, string(b), "UPN3")
	})

	t.Run("weights of another architecture", func(t *testing.T) {
		b, err := os.ReadFile(weights)
		require.NoError(t, err)
		other := filepath.Join(dir, "rdn-C1-D2-G3-G04-x2-weights.json")
		require.NoError(t, os.WriteFile(other, b, 0o644))
		err = Run([]string{"-i", input, "-o", filepath.Join(dir, "other.png"), "-w", other})
		assert.ErrorIs(t, err, engine.ErrWeightsMismatch)
	})
}
