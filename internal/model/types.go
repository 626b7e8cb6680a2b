package model

import (
	"context"

	"github.com/Brownie44l1/sketch-api/internal/tensor"
)

// Generator maps a normalized sketch tensor to an image tensor.
// Implementations must be safe for concurrent Forward calls and must not
// modify the input. Close waits for running Forward calls; later calls
// fail with ErrInference.
type Generator interface {
	ID() int
	Forward(ctx context.Context, in *tensor.Tensor) (*tensor.Tensor, error)
	Close() error
}

// Factory builds a generator from a weight file.
type Factory func(id int, weightPath string) (Generator, error)

// Variant ties a generator id to the architecture that can load its weights.
type Variant struct {
	ID      int
	Name    string
	Factory Factory
}

// Metadata describes the tensors a weight file expects. It is read from
// an optional generator_<id>.json sidecar next to the weights.
type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	ImageSize   int     `json:"image_size"`
}
