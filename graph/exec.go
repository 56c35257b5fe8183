package graph

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ikawaha/rdn.go/tensor"
)

// maxColumnBuffer limits the number of elements of the im2col buffer built at once.
const maxColumnBuffer = 1 << 21

// Forward evaluates the model on x and returns the output tensor.
// The model is only read, so Forward may be called concurrently.
func (m *Model) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, fmt.Errorf("nil input")
	}
	if !m.input.Shape.Accepts(x.Shape) {
		return nil, fmt.Errorf("input %v, model expects %v: %w", x.Shape, m.input.Shape, ErrShape)
	}
	values := make([]*tensor.Tensor, len(m.nodes))
	for i, n := range m.nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		args := make([]*tensor.Tensor, len(n.Inputs))
		for j, p := range n.Inputs {
			args[j] = values[m.pos[p]]
		}
		v, err := eval(n, x, args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Name, err)
		}
		values[i] = v
		for _, p := range n.Inputs {
			if k := m.pos[p]; m.lastUse[k] == i {
				values[k] = nil
			}
		}
	}
	return values[m.pos[m.output]], nil
}

func eval(n *Node, in *tensor.Tensor, args []*tensor.Tensor) (*tensor.Tensor, error) {
	switch n.Kind {
	case InputKind:
		return in, nil
	case Conv2DKind:
		return conv2D(args[0], n.Conv)
	case ReLUKind:
		return relu(args[0]), nil
	case ConcatKind:
		return concat(args)
	case AddKind:
		return add(args)
	case UpSamplingKind:
		return upSampling(args[0], n.Scale), nil
	case DepthToSpaceKind:
		return depthToSpace(args[0], n.Scale)
	}
	return nil, fmt.Errorf("unsupported node kind: %v", n.Kind)
}

// conv2D computes a stride 1 convolution as a matrix product of image patches (im2col)
// and the kernel, a band of output rows at a time.
func conv2D(x *tensor.Tensor, c *Conv2D) (*tensor.Tensor, error) {
	in := x.Shape.C
	if in != c.InChannels() {
		return nil, fmt.Errorf("input channels %d <> kernel channels %d: %w", in, c.InChannels(), ErrShape)
	}
	outH, outW := x.Shape.H, x.Shape.W
	padTop, padLeft := (c.KH-1)/2, (c.KW-1)/2
	if c.Padding == Valid {
		outH, outW = x.Shape.H-c.KH+1, x.Shape.W-c.KW+1
		padTop, padLeft = 0, 0
	}
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("kernel %dx%d larger than input %v: %w", c.KH, c.KW, x.Shape, ErrShape)
	}

	out := tensor.New(outH, outW, c.Filters)
	patch := c.KH * c.KW * in
	kernel := mat.NewDense(patch, c.Filters, c.Kernel)
	result := mat.NewDense(outH*outW, c.Filters, out.Data)

	if c.KH == 1 && c.KW == 1 {
		result.Mul(mat.NewDense(outH*outW, in, x.Data), kernel)
	} else {
		band := maxColumnBuffer / (outW * patch)
		if band < 1 {
			band = 1
		}
		if band > outH {
			band = outH
		}
		cols := make([]float64, band*outW*patch)
		for y0 := 0; y0 < outH; y0 += band {
			rows := band
			if y0+rows > outH {
				rows = outH - y0
			}
			buf := cols[:rows*outW*patch]
			im2col(buf, x, y0, rows, outW, c.KH, c.KW, padTop, padLeft)
			view := result.Slice(y0*outW, (y0+rows)*outW, 0, c.Filters).(*mat.Dense)
			view.Mul(mat.NewDense(rows*outW, patch, buf), kernel)
		}
	}

	for i := 0; i < outH*outW; i++ {
		px := out.Data[i*c.Filters : (i+1)*c.Filters]
		for o, b := range c.Bias {
			px[o] += b
		}
	}
	return out, nil
}

// im2col fills buf with one row per output pixel of the band starting at output row y0.
// Each row holds the kh x kw x C input patch; positions outside the input stay zero.
func im2col(buf []float64, x *tensor.Tensor, y0, rows, outW, kh, kw, padTop, padLeft int) {
	in := x.Shape.C
	patch := kh * kw * in
	for i := range buf {
		buf[i] = 0
	}
	for oy := 0; oy < rows; oy++ {
		for ox := 0; ox < outW; ox++ {
			row := buf[(oy*outW+ox)*patch : (oy*outW+ox+1)*patch]
			for dy := 0; dy < kh; dy++ {
				iy := y0 + oy + dy - padTop
				if iy < 0 || iy >= x.Shape.H {
					continue
				}
				for dx := 0; dx < kw; dx++ {
					ix := ox + dx - padLeft
					if ix < 0 || ix >= x.Shape.W {
						continue
					}
					copy(row[(dy*kw+dx)*in:(dy*kw+dx+1)*in], x.Pixel(iy, ix))
				}
			}
		}
	}
}

func relu(x *tensor.Tensor) *tensor.Tensor {
	ret := &tensor.Tensor{Shape: x.Shape, Data: make([]float64, len(x.Data))}
	for i, v := range x.Data {
		if v > 0 {
			ret.Data[i] = v
		}
	}
	return ret
}

func concat(xs []*tensor.Tensor) (*tensor.Tensor, error) {
	h, w := xs[0].Shape.H, xs[0].Shape.W
	var c int
	for _, x := range xs {
		if x.Shape.H != h || x.Shape.W != w {
			return nil, fmt.Errorf("concat %v and %v: %w", xs[0].Shape, x.Shape, ErrShape)
		}
		c += x.Shape.C
	}
	ret := tensor.New(h, w, c)
	for i := 0; i < h*w; i++ {
		dst := ret.Data[i*c : (i+1)*c]
		off := 0
		for _, x := range xs {
			xc := x.Shape.C
			copy(dst[off:off+xc], x.Data[i*xc:(i+1)*xc])
			off += xc
		}
	}
	return ret, nil
}

func add(xs []*tensor.Tensor) (*tensor.Tensor, error) {
	ret := xs[0].Clone()
	for _, x := range xs[1:] {
		if x.Shape != ret.Shape {
			return nil, fmt.Errorf("add %v and %v: %w", ret.Shape, x.Shape, ErrShape)
		}
		for i, v := range x.Data {
			ret.Data[i] += v
		}
	}
	return ret, nil
}

func upSampling(x *tensor.Tensor, size int) *tensor.Tensor {
	ret := tensor.New(x.Shape.H*size, x.Shape.W*size, x.Shape.C)
	for y := 0; y < ret.Shape.H; y++ {
		for xx := 0; xx < ret.Shape.W; xx++ {
			copy(ret.Pixel(y, xx), x.Pixel(y/size, xx/size))
		}
	}
	return ret
}

// depthToSpace moves channel group (i*bs+j) of pixel (y, x) to pixel (y*bs+i, x*bs+j).
func depthToSpace(x *tensor.Tensor, bs int) (*tensor.Tensor, error) {
	if x.Shape.C%(bs*bs) != 0 {
		return nil, fmt.Errorf("channels %d not divisible by %d: %w", x.Shape.C, bs*bs, ErrShape)
	}
	c := x.Shape.C / (bs * bs)
	ret := tensor.New(x.Shape.H*bs, x.Shape.W*bs, c)
	for y := 0; y < x.Shape.H; y++ {
		for xx := 0; xx < x.Shape.W; xx++ {
			src := x.Pixel(y, xx)
			for i := 0; i < bs; i++ {
				for j := 0; j < bs; j++ {
					g := (i*bs + j) * c
					copy(ret.Pixel(y*bs+i, xx*bs+j), src[g:g+c])
				}
			}
		}
	}
	return ret, nil
}
