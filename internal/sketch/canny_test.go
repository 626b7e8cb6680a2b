//go:build !gocv

package sketch

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReflect101(t *testing.T) {
	tests := []struct{ i, n, want int }{
		{-1, 5, 1},
		{-2, 5, 2},
		{0, 5, 0},
		{4, 5, 4},
		{5, 5, 3},
		{6, 5, 2},
		{-3, 1, 0},
		{2, 2, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reflect101(tt.i, tt.n), "reflect101(%d, %d)", tt.i, tt.n)
	}
}

func TestGaussianBlurPreservesFlat(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 7, 5))
	for i := range img.Pix {
		img.Pix[i] = 77
	}
	out := gaussianBlur(img)
	for _, v := range out.Pix {
		assert.Equal(t, uint8(77), v)
	}
}

func TestGaussianBlurImpulse(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 9, 9))
	img.Pix[4*9+4] = 255
	out := gaussianBlur(img)

	// centre weight is 6*6/256 of the impulse
	assert.Equal(t, uint8((255*36+128)>>8), out.GrayAt(4, 4).Y)
	assert.Equal(t, out.GrayAt(3, 4).Y, out.GrayAt(5, 4).Y)
	assert.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
}

func TestCannyVerticalStep(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 6))
	for y := 0; y < 6; y++ {
		for x := 5; x < 10; x++ {
			img.Pix[y*img.Stride+x] = 255
		}
	}
	out := canny(img, 50, 150)

	// one thin vertical line, no edges far from the step
	for y := 0; y < 6; y++ {
		var row int
		for x := 0; x < 10; x++ {
			if out.GrayAt(x, y).Y == 255 {
				row++
				assert.InDelta(t, 4.5, float64(x), 1)
			}
		}
		assert.Equal(t, 1, row, "row %d", y)
	}
}

func TestCannyWeakEdgesNeedStrongNeighbour(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 6))
	for y := 0; y < 6; y++ {
		for x := 5; x < 10; x++ {
			img.Pix[y*img.Stride+x] = 20
		}
	}
	// gradient magnitude of a 20 step is 80: above low, below high
	out := canny(img, 50, 150)
	for _, v := range out.Pix {
		assert.Equal(t, uint8(0), v)
	}

	out = canny(img, 50, 70)
	var count int
	for _, v := range out.Pix {
		if v == 255 {
			count++
		}
	}
	assert.Equal(t, 6, count)
}
