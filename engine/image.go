package engine

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
)

// ReadImageFile reads the image file named by filename and returns the contents and the image format.
func ReadImageFile(r io.Reader) ([]byte, string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(b))
	return b, format, err
}

// DecodeImageFile decodes a PNG, JPEG or GIF file. An empty path reads stdin.
func DecodeImageFile(path string) (image.Image, string, error) {
	in := os.Stdin
	if path != "" {
		fp, err := os.Open(path)
		if err != nil {
			return nil, "", err
		}
		defer fp.Close()
		in = fp
	}
	b, format, err := ReadImageFile(in)
	if err != nil {
		return nil, "", err
	}
	switch format {
	case "jpeg", "png", "gif":
	default:
		return nil, "", fmt.Errorf("unsupported image type: %s", format)
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	return img, format, err
}
