package engine

import (
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ikawaha/rdn.go/rdn"
	"github.com/ikawaha/rdn.go/tensor"
)

// DefaultPadding is the number of pixels each tile borrows from its neighbours.
const DefaultPadding = 2

// Option represents an option of the predictor.
type Option func(p *Predictor) error

// Parallel sets the option that specifies the limit number of concurrency.
func Parallel(n int) Option {
	return func(p *Predictor) error {
		if n < 1 {
			return fmt.Errorf("an integer value less than 1")
		}
		p.parallel = n
		return nil
	}
}

// Verbose sets the verbose option.
func Verbose(v bool) Option {
	return func(p *Predictor) error {
		p.verbose = v
		return nil
	}
}

// LogOutput sets the log output destination.
func LogOutput(w io.Writer) Option {
	return func(p *Predictor) error {
		p.logOutput = w
		return nil
	}
}

// PatchSize sets the size of the tiles the image is split into. 0 processes the whole image at once.
// A network built with a fixed input size always uses its own size.
func PatchSize(n int) Option {
	return func(p *Predictor) error {
		if n < 0 {
			return fmt.Errorf("invalid patch size %d", n)
		}
		p.patchSize = n
		return nil
	}
}

// Padding sets the overlap of the tiles on each side.
func Padding(n int) Option {
	return func(p *Predictor) error {
		if n < 0 {
			return fmt.Errorf("invalid padding %d", n)
		}
		p.padding = n
		return nil
	}
}

// Predictor super-resolves images with a residual dense network.
type Predictor struct {
	net       *rdn.RDN
	patchSize int
	padding   int
	parallel  int
	verbose   bool
	logOutput io.Writer
}

// NewPredictor creates a predictor. The weights of the network must already be loaded.
func NewPredictor(net *rdn.RDN, opts ...Option) (*Predictor, error) {
	if net == nil || net.Model == nil {
		return nil, fmt.Errorf("no network")
	}
	ret := &Predictor{
		net:       net,
		padding:   DefaultPadding,
		logOutput: os.Stderr,
		parallel:  runtime.NumCPU(),
		verbose:   false,
	}
	for _, opt := range opts {
		if err := opt(ret); err != nil {
			return nil, err
		}
	}
	if net.PatchSize > 0 {
		if ret.patchSize != 0 && ret.patchSize != net.PatchSize {
			return nil, fmt.Errorf("patch size %d, the network input is fixed to %d", ret.patchSize, net.PatchSize)
		}
		ret.patchSize = net.PatchSize
	}
	if ret.patchSize > 0 && ret.patchSize-2*ret.padding <= 0 {
		return nil, fmt.Errorf("patch size %d too small for padding %d", ret.patchSize, ret.padding)
	}
	switch net.Channels {
	case 1, 3:
	default:
		return nil, fmt.Errorf("unsupported number of channels: %d", net.Channels)
	}
	return ret, nil
}

// Scale returns the upscaling factor.
func (p Predictor) Scale() int {
	return p.net.Params.Scale
}

func (p Predictor) printf(format string, a ...interface{}) {
	if p.verbose {
		fmt.Fprintf(p.logOutput, format, a...)
	}
}

func (p Predictor) println(a ...interface{}) {
	if p.verbose {
		fmt.Fprintln(p.logOutput, a...)
	}
}

// ScaleUpGIF scales up every frame of the GIF.
func (p Predictor) ScaleUpGIF(ctx context.Context, img *gif.GIF) (*gif.GIF, error) {
	frames := make([]*image.Paletted, 0, len(img.Image))
	for _, v := range img.Image {
		ci, err := p.ScaleUp(ctx, v)
		if err != nil {
			return nil, err
		}
		frames = append(frames, ci.ImagePaletted(v.Palette))
	}
	img.Image = frames
	img.Config.Width *= p.Scale()
	img.Config.Height *= p.Scale()
	return img, nil
}

// ScaleUp super-resolves the image. The alpha channel is resized by the nearest neighbour.
// A network with a single output channel yields a gray image.
func (p Predictor) ScaleUp(ctx context.Context, img image.Image) (ChannelImage, error) {
	ci, _, err := NewChannelImage(img)
	if err != nil {
		return ChannelImage{}, err
	}

	// decompose
	p.println("decomposing channels ...")
	r, g, b, a := ChannelDecompose(ci)

	p.println("scaling ...")
	out, err := p.convert(ctx, r, g, b)
	if err != nil {
		return ChannelImage{}, err
	}
	if len(out) == 1 {
		// gray output
		r, g, b = out[0], out[0], out[0]
	} else {
		r, g, b = out[0], out[1], out[2]
	}

	// alpha channel
	a = a.Resize(p.Scale())
	if len(a.Buffer) != len(r.Buffer) {
		return ChannelImage{}, fmt.Errorf("channel image size must be same, A=%d, R=%d", len(a.Buffer), len(r.Buffer))
	}

	// recompose
	p.println("composing channels ...")
	return ChannelCompose(r, g, b, a), nil
}

func (p Predictor) convert(ctx context.Context, channels ...ChannelImage) ([]ChannelImage, error) {
	x, err := NewNormalizedTensor(channels...)
	if err != nil {
		return nil, err
	}
	y, err := p.Predict(ctx, x)
	if err != nil {
		return nil, err
	}
	ret := make([]ChannelImage, y.Shape.C)
	for i := range ret {
		ret[i] = NewDenormalizedChannelImage(y, i)
	}
	return ret, nil
}

// Predict runs the network on a normalized image tensor, tile by tile when a patch size is set.
func (p Predictor) Predict(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	m := p.net.Model
	if p.patchSize == 0 {
		return m.Forward(ctx, x)
	}
	tiling, err := NewTiling(x.Shape.W, x.Shape.H, p.patchSize, p.padding)
	if err != nil {
		return nil, err
	}
	tiles := tiling.Blocking(x)
	if p.parallel > 0 {
		p.printf("# of goroutines: %d\n", p.parallel)
	}

	digits := int(math.Log10(float64(len(tiles)))) + 2
	fmtStr := fmt.Sprintf("%%%dd/%%%dd", digits, digits) + " (%.1f%%)"
	p.printf(fmtStr, 0, len(tiles), 0.0)

	var done int64
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.parallel)
	for i := range tiles {
		eg.Go(func() error {
			out, err := m.Forward(ctx, tiles[i].Tensor)
			if err != nil {
				return fmt.Errorf("tile (%d, %d): %w", tiles[i].X, tiles[i].Y, err)
			}
			tiles[i].Tensor = out
			n := atomic.AddInt64(&done, 1)
			p.printf("\x1b[2K\r"+fmtStr, n, len(tiles), float32(n)/float32(len(tiles))*100)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		p.println()
		return nil, err
	}
	p.println()

	// de-blocking
	return tiling.Deblocking(tiles, p.Scale())
}

// PredictDir super-resolves every PNG, JPEG and GIF image of inDir and writes the results
// to outDir as PNG files of the same base name.
func (p Predictor) PredictDir(ctx context.Context, inDir, outDir string) error {
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".gif":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, f := range files {
		p.println("processing", f, "...")
		img, _, err := DecodeImageFile(filepath.Join(inDir, f))
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		ci, err := p.ScaleUp(ctx, img)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		name := strings.TrimSuffix(f, filepath.Ext(f)) + ".png"
		if err := writePNG(filepath.Join(outDir, name), ci.ImageNRGBA()); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(fp, img); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}
