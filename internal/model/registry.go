package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// WeightExt is the file extension of generator weights.
const WeightExt = ".onnx"

// Registry resolves generator ids to loaded generators. Loaded
// generators are cached for the life of the registry; concurrent cold
// lookups of one id share a single load, and a generator only becomes
// visible once its load has finished. After Close no generator is cached
// or loaded again.
type Registry struct {
	dir    string
	logger *zap.Logger

	mu       sync.RWMutex
	variants map[int]Variant
	loaded   map[int]Generator
	closed   bool
	loads    sync.WaitGroup

	group singleflight.Group
}

// NewRegistry creates a registry reading weights from dir.
func NewRegistry(dir string, logger *zap.Logger, variants ...Variant) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		dir:      dir,
		logger:   logger,
		variants: make(map[int]Variant),
		loaded:   make(map[int]Generator),
	}
	for _, v := range variants {
		r.Register(v)
	}
	return r
}

// Register adds or replaces a variant. A cached generator for the same id
// stays in use until evicted.
func (r *Registry) Register(v Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[v.ID] = v
}

// IDs returns the registered generator ids in ascending order.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.variants))
	for id := range r.variants {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// WeightPath is where the weights for id are expected.
func (r *Registry) WeightPath(id int) string {
	return filepath.Join(r.dir, fmt.Sprintf("generator_%d%s", id, WeightExt))
}

// Resolve returns the generator for id, loading it on first use.
func (r *Registry) Resolve(ctx context.Context, id int) (Generator, error) {
	r.mu.RLock()
	gen, ok := r.loaded[id]
	v, known := r.variants[id]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		return gen, nil
	}
	if !known {
		return nil, &NotFoundError{ID: id}
	}

	ch := r.group.DoChan(strconv.Itoa(id), func() (any, error) {
		return r.load(v)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Generator), nil
	}
}

func (r *Registry) load(v Variant) (Generator, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if gen, ok := r.loaded[v.ID]; ok {
		r.mu.Unlock()
		return gen, nil
	}
	r.loads.Add(1)
	r.mu.Unlock()
	defer r.loads.Done()

	path := r.WeightPath(v.ID)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{ID: v.ID, Path: path}
		}
		return nil, fmt.Errorf("%w: id %d: %v", ErrModelLoad, v.ID, err)
	}

	r.logger.Info("loading generator",
		zap.Int("generator_id", v.ID),
		zap.String("variant", v.Name),
		zap.String("path", path))

	gen, err := v.Factory(v.ID, path)
	if err != nil {
		r.logger.Error("generator load failed", zap.Int("generator_id", v.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: id %d: %v", ErrModelLoad, v.ID, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Info("registry closed during load, releasing generator", zap.Int("generator_id", v.ID))
		if err := gen.Close(); err != nil {
			r.logger.Warn("failed to release generator", zap.Int("generator_id", v.ID), zap.Error(err))
		}
		return nil, ErrRegistryClosed
	}
	r.loaded[v.ID] = gen
	r.mu.Unlock()

	r.logger.Info("generator ready", zap.Int("generator_id", v.ID))
	return gen, nil
}

// Evict drops a cached generator and releases it. Callers still holding
// the generator get errors from Forward once it is released.
func (r *Registry) Evict(id int) error {
	r.mu.Lock()
	gen, ok := r.loaded[id]
	delete(r.loaded, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return gen.Close()
}

// Close releases every cached generator. Loads already in progress are
// waited for and their generators released too.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	loaded := r.loaded
	r.loaded = make(map[int]Generator)
	r.mu.Unlock()

	r.loads.Wait()

	var errs []error
	for _, gen := range loaded {
		if err := gen.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
