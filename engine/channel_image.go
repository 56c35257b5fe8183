package engine

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/ikawaha/rdn.go/tensor"
)

// ChannelImage represents a discrete image.
type ChannelImage struct {
	Width  int
	Height int
	Buffer []uint8
}

// NewChannelImageWidthHeight returns a channel image of specific width and height.
func NewChannelImageWidthHeight(width, height int) ChannelImage {
	return ChannelImage{
		Width:  width,
		Height: height,
		Buffer: make([]uint8, width*height), // note. it is necessary to register all values less than 0 as 0 and greater than 255 as 255
	}
}

// NewChannelImage returns a non-premultiplied RGBA channel image corresponding to the specified image.
func NewChannelImage(img image.Image) (ChannelImage, bool, error) {
	r := img.Bounds()
	if r.Empty() {
		return ChannelImage{}, false, fmt.Errorf("empty image: %v", r)
	}
	var (
		b      []uint8
		opaque bool
	)
	switch t := img.(type) {
	case *image.NRGBA:
		b, opaque = tightPix(t.Pix, t.Stride, t.PixOffset(r.Min.X, r.Min.Y), r), t.Opaque()
	case *image.RGBA, *image.YCbCr, *image.Paletted, *image.Gray, *image.Gray16, *image.RGBA64, *image.NRGBA64, *image.CMYK:
		dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
		b, opaque = dst.Pix, dst.Opaque()
	default:
		return ChannelImage{}, false, fmt.Errorf("unknown image format: %T", t)
	}
	return ChannelImage{
		Width:  r.Dx(),
		Height: r.Dy(),
		Buffer: b,
	}, opaque, nil
}

func tightPix(pix []uint8, stride, offset int, r image.Rectangle) []uint8 {
	row := r.Dx() * 4
	b := make([]uint8, 0, row*r.Dy())
	for y := 0; y < r.Dy(); y++ {
		i := offset + y*stride
		b = append(b, pix[i:i+row]...)
	}
	return b
}

// NewDenormalizedChannelImage returns a channel image of channel c of the tensor,
// mapping [0, 1] to [0, 255] and clipping values outside.
func NewDenormalizedChannelImage(t *tensor.Tensor, c int) ChannelImage {
	img := NewChannelImageWidthHeight(t.Shape.W, t.Shape.H)
	for i := range img.Buffer {
		v := int(math.Round(t.Data[i*t.Shape.C+c] * 255.0))
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		img.Buffer[i] = uint8(v)
	}
	return img
}

// NewNormalizedTensor returns a tensor stacking the channel images, mapping [0, 255] to [0, 1].
func NewNormalizedTensor(channels ...ChannelImage) (*tensor.Tensor, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channel images")
	}
	w, h := channels[0].Width, channels[0].Height
	t := tensor.New(h, w, len(channels))
	for c, img := range channels {
		if img.Width != w || img.Height != h {
			return nil, fmt.Errorf("channel image size must be same, %dx%d <> %dx%d", img.Width, img.Height, w, h)
		}
		if len(img.Buffer) != w*h {
			return nil, fmt.Errorf("invalid image channel: width*height=%d <> len(buffer)=%d", w*h, len(img.Buffer))
		}
		for i, v := range img.Buffer {
			t.Data[i*len(channels)+c] = float64(v) / 255.0
		}
	}
	return t, nil
}

// ImageNRGBA converts the channel image to an image.NRGBA sharing its buffer.
func (c ChannelImage) ImageNRGBA() *image.NRGBA {
	r := image.Rect(0, 0, c.Width, c.Height)
	return &image.NRGBA{
		Pix:    c.Buffer,
		Stride: r.Dx() * 4,
		Rect:   r,
	}
}

// ImagePaletted converts the chanel image to an image.Paletted and return it.
func (c ChannelImage) ImagePaletted(p color.Palette) *image.Paletted {
	src := c.ImageNRGBA()
	ret := image.NewPaletted(src.Bounds(), p)
	draw.Draw(ret, ret.Bounds(), src, image.Point{}, draw.Src)
	return ret
}

// ChannelDecompose decomposes a channel image to R, G, B and Alpha channels.
func ChannelDecompose(img ChannelImage) (r, g, b, a ChannelImage) {
	r = NewChannelImageWidthHeight(img.Width, img.Height)
	g = NewChannelImageWidthHeight(img.Width, img.Height)
	b = NewChannelImageWidthHeight(img.Width, img.Height)
	a = NewChannelImageWidthHeight(img.Width, img.Height)
	for i := 0; i < img.Width*img.Height; i++ {
		r.Buffer[i] = img.Buffer[i*4]
		g.Buffer[i] = img.Buffer[i*4+1]
		b.Buffer[i] = img.Buffer[i*4+2]
		a.Buffer[i] = img.Buffer[i*4+3]
	}
	return r, g, b, a
}

// ChannelCompose composes R, G, B and Alpha channels to the one channel image.
func ChannelCompose(r, g, b, a ChannelImage) ChannelImage {
	width := r.Width
	height := r.Height
	img := make([]uint8, width*height*4)
	for i := 0; i < width*height; i++ {
		img[i*4] = r.Buffer[i]
		img[i*4+1] = g.Buffer[i]
		img[i*4+2] = b.Buffer[i]
		img[i*4+3] = a.Buffer[i]
	}
	return ChannelImage{
		Width:  width,
		Height: height,
		Buffer: img,
	}
}

// Resize returns an image enlarged by an integer factor, repeating every pixel scale x scale times.
func (c ChannelImage) Resize(scale int) ChannelImage {
	if scale == 1 {
		return c
	}
	width := c.Width
	scaledWidth := width * scale
	scaledHeight := c.Height * scale
	scaledImage := NewChannelImageWidthHeight(scaledWidth, scaledHeight)
	for h := 0; h < scaledHeight; h++ {
		for w := 0; w < scaledWidth; w++ {
			scaledImage.Buffer[w+h*scaledWidth] = c.Buffer[w/scale+(h/scale)*width]
		}
	}
	return scaledImage
}
