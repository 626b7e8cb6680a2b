package sketch

import (
	"errors"
	"fmt"
)

// ErrImageLoad is returned when a sketch cannot be read or decoded.
var ErrImageLoad = errors.New("sketch: failed to load image")

// LoadError records the path that failed to load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrImageLoad, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrImageLoad }
