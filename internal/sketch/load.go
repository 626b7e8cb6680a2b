// Package sketch loads hand-drawn sketches and turns them into edge maps
// suitable as generator input.
package sketch

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels bounds the declared size of a sketch. Headers are checked
// before any pixel data is decoded.
const MaxPixels = 6000 * 6000

var errEmptyFile = errors.New("file is empty")

// Load reads the image at path and returns it as grayscale.
func Load(path string) (*image.Gray, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	img, err := decode(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return img, nil
}

// Decode reads a grayscale sketch from r. name is only used in errors.
func Decode(r io.Reader, name string) (*image.Gray, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	img, err := decode(data)
	if err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	return img, nil
}

func decode(data []byte) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, errEmptyFile
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("image has no pixels")
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("image is too large: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return ToGray(img), nil
}

// ToGray returns a single-channel copy of img anchored at the origin.
// Gray inputs are copied too so callers never share pixel buffers.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
