package sketch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squareSketch draws a filled white square on a black background.
func squareSketch(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := h / 4; y < 3*h/4; y++ {
		for x := w / 4; x < 3*w/4; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sketch.png")

	rgba := image.NewRGBA(image.Rect(0, 0, 20, 10))
	rgba.Set(3, 4, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	writePNG(t, path, rgba)

	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())
	assert.Equal(t, uint8(255), img.GrayAt(3, 4).Y)
	assert.Equal(t, uint8(0), img.GrayAt(0, 0).Y)
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	corrupt := filepath.Join(dir, "corrupt.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not an image"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.png")},
		{"zero byte", empty},
		{"corrupt", corrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrImageLoad))

			var le *LoadError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.path, le.Path)
			assert.True(t, strings.Contains(err.Error(), tt.path))
		})
	}
}

func TestDecode(t *testing.T) {
	_, err := Decode(strings.NewReader(""), "upload.png")
	assert.ErrorIs(t, err, ErrImageLoad)
}

func TestExtractEdgesShapeAndRange(t *testing.T) {
	src := squareSketch(64, 48)
	edges, err := ExtractEdges(src)
	require.NoError(t, err)

	assert.Equal(t, src.Bounds(), edges.Bounds())

	var count int
	for _, v := range edges.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("unexpected edge value %d", v)
		}
		if v == 255 {
			count++
		}
	}
	assert.Greater(t, count, 0, "square outline should produce edges")

	// the centre of the square and the far corner are flat
	assert.Equal(t, uint8(0), edges.GrayAt(32, 24).Y)
	assert.Equal(t, uint8(0), edges.GrayAt(0, 0).Y)
}

func TestExtractEdgesIsPure(t *testing.T) {
	src := squareSketch(40, 40)
	before := append([]uint8(nil), src.Pix...)

	first, err := ExtractEdges(src)
	require.NoError(t, err)
	second, err := ExtractEdges(src)
	require.NoError(t, err)

	assert.Equal(t, before, src.Pix, "input must not be modified")
	assert.Equal(t, first.Pix, second.Pix, "repeated calls must be byte-identical")
}

func TestExtractEdgesFlatImage(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range flat.Pix {
		flat.Pix[i] = 200
	}
	edges, err := ExtractEdges(flat)
	require.NoError(t, err)
	for _, v := range edges.Pix {
		require.Equal(t, uint8(0), v)
	}
}

func TestExtractEdgesOffsetBounds(t *testing.T) {
	sub := squareSketch(64, 64).SubImage(image.Rect(8, 8, 40, 40)).(*image.Gray)
	edges, err := ExtractEdges(sub)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), edges.Bounds())
}

func TestShapeContrast(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 1))
	copy(img.Pix, []uint8{0, 100, 128, 255})
	shapeContrast(img, DefaultContrastGain)
	assert.Equal(t, []uint8{0, 86, 128, 255}, img.Pix)
}

func TestExtractEdgesWithoutContrast(t *testing.T) {
	opts := DefaultEdgeOptions()
	opts.Contrast = false
	edges, err := ExtractEdgesWith(squareSketch(32, 32), opts)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), edges.Bounds())
}

func TestExtractEdgesRejectsInvalidThresholds(t *testing.T) {
	tests := []struct {
		name      string
		low, high int
	}{
		{"negative low", -1, 150},
		{"high below low", 150, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultEdgeOptions()
			opts.LowThreshold, opts.HighThreshold = tt.low, tt.high
			edges, err := ExtractEdgesWith(squareSketch(16, 16), opts)
			assert.ErrorIs(t, err, ErrEdgeExtraction)
			assert.Nil(t, edges, "no edge map is returned on failure")
		})
	}
}

// pngHeader returns a PNG stream holding only a valid IHDR chunk that
// declares an 8-bit grayscale image of the given size.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 0, 0, 0, 0) // depth, gray, deflate, filter, no interlace

	_ = binary.Write(&buf, binary.BigEndian, uint32(len(chunk)-4))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestLoadRejectsOversizedImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.png")
	require.NoError(t, os.WriteFile(path, pngHeader(100000, 100000), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageLoad)
	assert.Contains(t, err.Error(), "too large")
}

func TestDecodeRejectsOversizedImage(t *testing.T) {
	_, err := Decode(bytes.NewReader(pngHeader(MaxPixels, 2)), "upload.png")
	assert.ErrorIs(t, err, ErrImageLoad)
	assert.Contains(t, err.Error(), "too large")
}

func TestToGrayCopies(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	out := ToGray(src)
	out.Pix[0] = 9
	assert.Equal(t, uint8(0), src.Pix[0])
}
