// Package tensor provides dense float64 feature maps in height, width, channel order.
package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Dynamic marks a spatial dimension whose size is only known at execution time.
const Dynamic = -1

// Shape represents the height, width and channel count of a feature map.
type Shape struct {
	H int
	W int
	C int
}

// Known reports whether both spatial dimensions are fixed.
func (s Shape) Known() bool {
	return s.H != Dynamic && s.W != Dynamic
}

// Size returns the number of elements, or Dynamic if a dimension is unknown.
func (s Shape) Size() int {
	if !s.Known() {
		return Dynamic
	}
	return s.H * s.W * s.C
}

// Accepts reports whether a concrete shape is compatible with s.
func (s Shape) Accepts(o Shape) bool {
	return (s.H == Dynamic || s.H == o.H) &&
		(s.W == Dynamic || s.W == o.W) &&
		s.C == o.C
}

// String returns the shape in (H, W, C) form, with None for dynamic dimensions.
func (s Shape) String() string {
	dim := func(v int) string {
		if v == Dynamic {
			return "None"
		}
		return strconv.Itoa(v)
	}
	return "(" + strings.Join([]string{dim(s.H), dim(s.W), dim(s.C)}, ", ") + ")"
}

// Tensor represents a feature map. Data is laid out row by row, channels innermost.
type Tensor struct {
	Shape Shape
	Data  []float64
}

// New returns a zero tensor of the specified size.
func New(h, w, c int) *Tensor {
	if h <= 0 || w <= 0 || c <= 0 {
		panic(fmt.Sprintf("tensor: invalid size (%d, %d, %d)", h, w, c))
	}
	return &Tensor{
		Shape: Shape{H: h, W: w, C: c},
		Data:  make([]float64, h*w*c),
	}
}

// FromSlice wraps data as a tensor of the specified size.
func FromSlice(data []float64, h, w, c int) (*Tensor, error) {
	if h <= 0 || w <= 0 || c <= 0 {
		return nil, fmt.Errorf("invalid size (%d, %d, %d)", h, w, c)
	}
	if len(data) != h*w*c {
		return nil, fmt.Errorf("data length %d <> %d*%d*%d", len(data), h, w, c)
	}
	return &Tensor{
		Shape: Shape{H: h, W: w, C: c},
		Data:  data,
	}, nil
}

// Index returns the buffer position of the element at (y, x, c).
func (t *Tensor) Index(y, x, c int) int {
	return (y*t.Shape.W+x)*t.Shape.C + c
}

// At returns the element at (y, x, c).
func (t *Tensor) At(y, x, c int) float64 {
	return t.Data[t.Index(y, x, c)]
}

// Set sets the element at (y, x, c).
func (t *Tensor) Set(y, x, c int, v float64) {
	t.Data[t.Index(y, x, c)] = v
}

// Pixel returns the channel vector at (y, x). The slice shares the tensor buffer.
func (t *Tensor) Pixel(y, x int) []float64 {
	i := (y*t.Shape.W + x) * t.Shape.C
	return t.Data[i : i+t.Shape.C : i+t.Shape.C]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	d := make([]float64, len(t.Data))
	copy(d, t.Data)
	return &Tensor{Shape: t.Shape, Data: d}
}

// Pad returns a tensor extended on each side by repeating the border pixels.
func (t *Tensor) Pad(top, right, bottom, left int) *Tensor {
	if top < 0 || right < 0 || bottom < 0 || left < 0 {
		panic(fmt.Sprintf("tensor: negative padding (%d, %d, %d, %d)", top, right, bottom, left))
	}
	h, w := t.Shape.H, t.Shape.W
	ret := New(h+top+bottom, w+left+right, t.Shape.C)
	for y := 0; y < ret.Shape.H; y++ {
		sy := clamp(y-top, 0, h-1)
		for x := 0; x < ret.Shape.W; x++ {
			sx := clamp(x-left, 0, w-1)
			copy(ret.Pixel(y, x), t.Pixel(sy, sx))
		}
	}
	return ret
}

// Crop returns the h x w region whose upper left corner is (y, x).
func (t *Tensor) Crop(y, x, h, w int) *Tensor {
	if y < 0 || x < 0 || y+h > t.Shape.H || x+w > t.Shape.W {
		panic(fmt.Sprintf("tensor: crop (%d, %d, %d, %d) out of %v", y, x, h, w, t.Shape))
	}
	ret := New(h, w, t.Shape.C)
	row := w * t.Shape.C
	for i := 0; i < h; i++ {
		src := t.Index(y+i, x, 0)
		copy(ret.Data[i*row:(i+1)*row], t.Data[src:src+row])
	}
	return ret
}

// Paste copies src into t with its upper left corner at (y, x). Parts outside t are dropped.
func (t *Tensor) Paste(src *Tensor, y, x int) {
	if src.Shape.C != t.Shape.C {
		panic(fmt.Sprintf("tensor: paste channels %d <> %d", src.Shape.C, t.Shape.C))
	}
	for i := 0; i < src.Shape.H; i++ {
		ty := y + i
		if ty < 0 || ty >= t.Shape.H {
			continue
		}
		for j := 0; j < src.Shape.W; j++ {
			tx := x + j
			if tx < 0 || tx >= t.Shape.W {
				continue
			}
			copy(t.Pixel(ty, tx), src.Pixel(i, j))
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
