package tensor

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/sketch-api/internal/sketch"
)

// InputSize is the square side the generators were trained on.
const InputSize = 512

// Prepare converts an image to the (1,1,512,512) generator input.
func Prepare(img image.Image) *Tensor {
	return PrepareSize(img, InputSize)
}

// PrepareSize flattens img to one channel, resizes it bilinearly to
// size x size and maps pixel values from [0,255] to [-1,1].
func PrepareSize(img image.Image, size int) *Tensor {
	gray := sketch.ToGray(img)
	resized := resize.Resize(uint(size), uint(size), gray, resize.Bilinear)

	t := New(1, 1, int64(size), int64(size))
	bounds := resized.Bounds()
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			var v uint8
			if g, ok := resized.(*image.Gray); ok {
				v = g.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y
			} else {
				v = color.GrayModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray).Y
			}
			t.Data[y*size+x] = Normalize(v)
		}
	}
	return t
}

// Normalize maps a pixel value to [-1,1].
func Normalize(v uint8) float32 {
	return (float32(v)/255 - 0.5) / 0.5
}
