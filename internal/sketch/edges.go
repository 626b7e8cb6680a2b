package sketch

import (
	"errors"
	"fmt"
	"image"
)

// Canny thresholds and contrast gain applied to the edge map.
const (
	DefaultLowThreshold  = 50
	DefaultHighThreshold = 150
	DefaultContrastGain  = 1.5
	blurKernelSize       = 5
)

// EdgeOptions controls edge extraction.
type EdgeOptions struct {
	LowThreshold  int
	HighThreshold int
	// Contrast applies clip((e-128)*gain+128, 0, 255) to the edge map.
	Contrast     bool
	ContrastGain float64
}

// ErrEdgeExtraction is returned when an edge map cannot be computed.
var ErrEdgeExtraction = errors.New("sketch: edge extraction failed")

func DefaultEdgeOptions() EdgeOptions {
	return EdgeOptions{
		LowThreshold:  DefaultLowThreshold,
		HighThreshold: DefaultHighThreshold,
		Contrast:      true,
		ContrastGain:  DefaultContrastGain,
	}
}

// ExtractEdges blurs img with a 5x5 Gaussian, runs Canny edge detection
// and sharpens the contrast of the result. img is left untouched and the
// returned map has the same size.
func ExtractEdges(img *image.Gray) (*image.Gray, error) {
	return ExtractEdgesWith(img, DefaultEdgeOptions())
}

func ExtractEdgesWith(img *image.Gray, opts EdgeOptions) (*image.Gray, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEdgeExtraction, err)
	}
	edges, err := detectEdges(ToGray(img), opts.LowThreshold, opts.HighThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEdgeExtraction, err)
	}
	if opts.Contrast {
		shapeContrast(edges, opts.ContrastGain)
	}
	return edges, nil
}

func (o EdgeOptions) validate() error {
	if o.LowThreshold < 0 || o.HighThreshold < o.LowThreshold {
		return fmt.Errorf("invalid thresholds low=%d high=%d", o.LowThreshold, o.HighThreshold)
	}
	return nil
}

func shapeContrast(img *image.Gray, gain float64) {
	for i, v := range img.Pix {
		f := (float64(v)-128)*gain + 128
		switch {
		case f < 0:
			f = 0
		case f > 255:
			f = 255
		}
		img.Pix[i] = uint8(f)
	}
}
