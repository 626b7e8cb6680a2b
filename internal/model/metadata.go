package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Brownie44l1/sketch-api/internal/tensor"
)

// DefaultMetadata is what a generator trained on 512x512 sketches exposes
// when no sidecar file says otherwise.
func DefaultMetadata() Metadata {
	return Metadata{
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 1, tensor.InputSize, tensor.InputSize},
		OutputShape: []int64{1, 3, tensor.InputSize, tensor.InputSize},
		ImageSize:   tensor.InputSize,
	}
}

// MetadataPath returns the sidecar location for a weight file.
func MetadataPath(weightPath string) string {
	return strings.TrimSuffix(weightPath, ".onnx") + ".json"
}

// LoadMetadata reads the sidecar at path. A missing file yields defaults;
// fields absent from the file keep their default values.
func LoadMetadata(path string, defaults Metadata) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	meta := defaults
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if meta.ImageSize == 0 && len(meta.InputShape) == 4 {
		meta.ImageSize = int(meta.InputShape[3])
	}
	return meta, nil
}

// CheckInput rejects tensors the model was not built for.
func (m Metadata) CheckInput(s tensor.Shape) error {
	if len(m.InputShape) == 0 {
		return nil
	}
	if len(s) != len(m.InputShape) {
		return fmt.Errorf("expected rank %d input, got shape %s", len(m.InputShape), s)
	}
	for i, d := range m.InputShape {
		// negative dims are dynamic axes
		if d >= 0 && s[i] != d {
			return fmt.Errorf("expected input shape %s, got %s", tensor.Shape(m.InputShape), s)
		}
	}
	return nil
}

// OutputShapeFor resolves dynamic output axes against the input shape.
func (m Metadata) OutputShapeFor(in tensor.Shape) tensor.Shape {
	out := make(tensor.Shape, len(m.OutputShape))
	for i, d := range m.OutputShape {
		if d < 0 && i < len(in) {
			d = in[i]
		}
		out[i] = d
	}
	return out
}
