// Package storage writes generated artifacts under collision-free names.
package storage

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// File name prefixes of the two artifacts of a generation.
const (
	GeneratedPrefix = "generated_image"
	SketchPrefix    = "input_sketch"
	timeLayout      = "20060102_150405"
)

var ErrPersistence = errors.New("storage: failed to persist image")

// PersistenceError records the path that could not be written.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrPersistence, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Artifacts are the paths written for one generation.
type Artifacts struct {
	GeneratedPath string
	SketchPath    string
}

// Store writes PNG files. Names combine a second-resolution timestamp
// with a random suffix so calls within the same second never collide.
type Store struct {
	now    func() time.Time
	suffix func() string
}

func NewStore() *Store {
	return &Store{
		now:    time.Now,
		suffix: func() string { return uuid.NewString()[:8] },
	}
}

// Name builds a file name for prefix.
func (s *Store) Name(prefix string) string {
	return s.name(prefix, s.now().Format(timeLayout), s.suffix())
}

func (s *Store) name(prefix, stamp, suffix string) string {
	return fmt.Sprintf("%s_%s_%s.png", prefix, stamp, suffix)
}

// Persist encodes img as PNG into dir, creating dir if needed, and
// returns the written path.
func (s *Store) Persist(img image.Image, dir, prefix string) (string, error) {
	return s.write(img, filepath.Join(dir, s.Name(prefix)))
}

// PersistPair writes the generated image to outDir and the sketch used
// for it to sketchDir. Both names share one timestamp and suffix. When
// the second write fails the first file is removed.
func (s *Store) PersistPair(generated, sketch image.Image, outDir, sketchDir string) (Artifacts, error) {
	stamp, suffix := s.now().Format(timeLayout), s.suffix()
	genPath := filepath.Join(outDir, s.name(GeneratedPrefix, stamp, suffix))
	sketchPath := filepath.Join(sketchDir, s.name(SketchPrefix, stamp, suffix))

	if _, err := s.write(generated, genPath); err != nil {
		return Artifacts{}, err
	}
	if _, err := s.write(sketch, sketchPath); err != nil {
		_ = os.Remove(genPath)
		return Artifacts{}, err
	}
	return Artifacts{GeneratedPath: genPath, SketchPath: sketchPath}, nil
}

func (s *Store) write(img image.Image, path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &PersistenceError{Path: path, Err: err}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", &PersistenceError{Path: path, Err: err}
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return "", &PersistenceError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", &PersistenceError{Path: path, Err: err}
	}
	return path, nil
}
