package model

import (
	"errors"
	"fmt"

	"github.com/Brownie44l1/sketch-api/internal/tensor"
)

var (
	// ErrModelNotFound is returned when a generator id has no registered
	// variant or no weight file.
	ErrModelNotFound = errors.New("model: generator not found")

	// ErrModelLoad is returned when a weight file exists but cannot be loaded.
	ErrModelLoad = errors.New("model: failed to load generator")

	// ErrInference is returned when a forward pass fails.
	ErrInference = errors.New("model: inference failed")

	// ErrRegistryClosed is returned by Resolve after Close.
	ErrRegistryClosed = errors.New("model: registry closed")

	errGeneratorClosed = errors.New("generator is closed")
)

// NotFoundError reports the generator id and the weight file that was
// looked up. Path is empty when the id has no registered variant.
type NotFoundError struct {
	ID   int
	Path string
}

func (e *NotFoundError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: no variant registered for id %d", ErrModelNotFound, e.ID)
	}
	return fmt.Sprintf("%v: id %d: weight file %s does not exist", ErrModelNotFound, e.ID, e.Path)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrModelNotFound }

// InferenceError carries the generator id and input shape of a failed pass.
type InferenceError struct {
	GeneratorID int
	Shape       tensor.Shape
	Err         error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%v: generator %d, input %s: %v", ErrInference, e.GeneratorID, e.Shape, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInference }
