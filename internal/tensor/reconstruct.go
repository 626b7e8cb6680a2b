package tensor

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Denormalize maps a generator output value from [-1,1] to a pixel value.
// Out of range values are clamped to [0,255] before the integer
// conversion; the fractional part is truncated.
func Denormalize(v float32) uint8 {
	p := (v + 1) / 2 * 255
	switch {
	case math.IsNaN(float64(p)):
		return 0
	case p <= 0:
		return 0
	case p >= 255:
		return 255
	}
	return uint8(p)
}

// Reconstruct turns a (1,C,H,W) output tensor into an image. Three
// channels give an RGBA image, one channel a grayscale image.
func Reconstruct(t *Tensor) (image.Image, error) {
	if len(t.Shape) != 4 || t.Shape[0] != 1 {
		return nil, fmt.Errorf("tensor: reconstruct expects shape (1,C,H,W), got %s", t.Shape)
	}
	if t.Shape.Elements() != len(t.Data) {
		return nil, fmt.Errorf("tensor: shape %s does not match %d values", t.Shape, len(t.Data))
	}
	c, h, w := int(t.Shape[1]), int(t.Shape[2]), int(t.Shape[3])
	plane := h * w

	switch c {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i := 0; i < plane; i++ {
			img.Pix[i] = Denormalize(t.Data[i])
		}
		return img, nil
	case 3:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				img.SetRGBA(x, y, color.RGBA{
					R: Denormalize(t.Data[i]),
					G: Denormalize(t.Data[plane+i]),
					B: Denormalize(t.Data[2*plane+i]),
					A: 255,
				})
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("tensor: cannot reconstruct image with %d channels", c)
	}
}
