//go:build !gocv

package sketch

import "image"

// 5-tap binomial kernel OpenCV uses for a 5x5 blur with sigma 0.
var gaussian5 = [blurKernelSize]int32{1, 4, 6, 4, 1}

// tan(22.5 deg) in Q15, as in OpenCV's Canny.
const tg22 = 13573

func detectEdges(src *image.Gray, low, high int) (*image.Gray, error) {
	return canny(gaussianBlur(src), low, high), nil
}

// reflect101 mirrors an out of range index without repeating the border
// pixel: -1 -> 1, n -> n-2.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func gaussianBlur(src *image.Gray) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	half := blurKernelSize / 2

	rows := make([]int32, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		for x := 0; x < w; x++ {
			var sum int32
			for k := -half; k <= half; k++ {
				sum += gaussian5[k+half] * int32(row[reflect101(x+k, w)])
			}
			rows[y*w+x] = sum
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum int32
			for k := -half; k <= half; k++ {
				sum += gaussian5[k+half] * rows[reflect101(y+k, h)*w+x]
			}
			dst.Pix[y*dst.Stride+x] = uint8((sum + 128) >> 8)
		}
	}
	return dst
}

// canny marks edge pixels with 255. Gradients come from 3x3 Sobel
// operators with replicated borders, magnitude is |dx|+|dy|.
func canny(src *image.Gray, low, high int) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	px := func(x, y int) int32 {
		return int32(src.Pix[clampIndex(y, h)*src.Stride+clampIndex(x, w)])
	}

	dx := make([]int32, w*h)
	dy := make([]int32, w*h)
	// magnitude buffer padded by one pixel of zeros on every side
	pw := w + 2
	mag := make([]int32, pw*(h+2))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1)
			gy := px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1)
			dx[y*w+x] = gx
			dy[y*w+x] = gy
			mag[(y+1)*pw+x+1] = abs32(gx) + abs32(gy)
		}
	}

	const (
		none = iota
		weak
		strong
	)
	state := make([]uint8, w*h)
	stack := make([]int, 0, 1024)
	lo, hi := int32(low), int32(high)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			c := (y+1)*pw + x + 1
			m := mag[c]
			if m <= lo {
				continue
			}

			xs, ys := abs32(dx[i]), abs32(dy[i])
			tg22x := int64(xs) * tg22
			yv := int64(ys) << 15

			var local bool
			switch {
			case yv < tg22x:
				local = m > mag[c-1] && m >= mag[c+1]
			case yv > tg22x+int64(xs)<<16:
				local = m > mag[c-pw] && m >= mag[c+pw]
			default:
				s := 1
				if (dx[i] ^ dy[i]) < 0 {
					s = -1
				}
				local = m > mag[c-pw-s] && m > mag[c+pw+s]
			}
			if !local {
				continue
			}
			if m > hi {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}

	// hysteresis: grow strong edges into 8-connected weak candidates
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for ny := y - 1; ny <= y+1; ny++ {
			for nx := x - 1; nx <= x+1; nx++ {
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == weak {
					state[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for i, s := range state {
		if s == strong {
			dst.Pix[i] = 255
		}
	}
	return dst
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
