//go:build gocv

package sketch

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// detectEdges runs the blur and Canny steps through OpenCV.
func detectEdges(src *image.Gray, low, high int) (*image.Gray, error) {
	mat, err := gocv.ImageGrayToMatGray(src)
	if err != nil {
		return nil, fmt.Errorf("convert sketch to mat: %w", err)
	}
	defer mat.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(mat, &blurred, image.Pt(blurKernelSize, blurKernelSize), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, float32(low), float32(high))
	if edges.Empty() {
		return nil, fmt.Errorf("canny produced an empty mat")
	}

	out, err := edges.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert edges to image: %w", err)
	}
	if g, ok := out.(*image.Gray); ok {
		return g, nil
	}
	return ToGray(out), nil
}
