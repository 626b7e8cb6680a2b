// Package pipeline turns a sketch file into a generated image.
package pipeline

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/sketch-api/internal/inference"
	"github.com/Brownie44l1/sketch-api/internal/model"
	"github.com/Brownie44l1/sketch-api/internal/sketch"
	"github.com/Brownie44l1/sketch-api/internal/storage"
	"github.com/Brownie44l1/sketch-api/internal/tensor"
)

// Resolver looks up generators by id.
type Resolver interface {
	Resolve(ctx context.Context, id int) (model.Generator, error)
}

// Request describes one generation.
type Request struct {
	SketchPath string
	OutputDir  string
	// SketchDir receives the processed sketch; empty means OutputDir.
	SketchDir       string
	EnhanceSketch   bool
	Ensemble        bool
	GeneratorID     int
	EnsembleSamples int
}

// DefaultRequest enables enhancement and ensembling with generator 1.
func DefaultRequest(sketchPath, outputDir string) Request {
	return Request{
		SketchPath:      sketchPath,
		OutputDir:       outputDir,
		EnhanceSketch:   true,
		Ensemble:        true,
		GeneratorID:     1,
		EnsembleSamples: inference.DefaultSamples,
	}
}

type Result struct {
	GeneratedPath string
	SketchPath    string
	GeneratorID   int
	// Samples is the number of forward passes averaged into the image.
	Samples  int
	Duration time.Duration
}

type Pipeline struct {
	resolver Resolver
	engine   *inference.Engine
	store    *storage.Store
	edges    sketch.EdgeOptions
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*Pipeline)

// WithInferenceTimeout bounds the inference step of each request.
func WithInferenceTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

func WithEdgeOptions(opts sketch.EdgeOptions) Option {
	return func(p *Pipeline) { p.edges = opts }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(resolver Resolver, engine *inference.Engine, store *storage.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		engine:   engine,
		store:    store,
		edges:    sketch.DefaultEdgeOptions(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate runs the full pipeline. The sketch is decoded before any
// generator is resolved, so unreadable input never costs a model load.
// Errors keep their kind: sketch.ErrImageLoad, sketch.ErrEdgeExtraction,
// model.ErrModelNotFound, model.ErrInference or storage.ErrPersistence.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := p.logger.With(
		zap.String("sketch", req.SketchPath),
		zap.Int("generator_id", req.GeneratorID))

	src, err := sketch.Load(req.SketchPath)
	if err != nil {
		log.Warn("sketch load failed", zap.Error(err))
		return nil, err
	}

	used := src
	if req.EnhanceSketch {
		if used, err = sketch.ExtractEdgesWith(src, p.edges); err != nil {
			log.Error("edge extraction failed", zap.Error(err))
			return nil, err
		}
	}
	input := tensor.Prepare(used)

	gen, err := p.resolver.Resolve(ctx, req.GeneratorID)
	if err != nil {
		log.Error("generator unavailable", zap.Error(err))
		return nil, err
	}

	out, err := p.infer(ctx, input, gen, req)
	if err != nil {
		log.Error("inference failed", zap.Error(err))
		return nil, err
	}

	img, err := tensor.Reconstruct(out)
	if err != nil {
		err = &model.InferenceError{GeneratorID: gen.ID(), Shape: out.Shape, Err: err}
		log.Error("reconstruction failed", zap.Error(err))
		return nil, err
	}

	artifacts, err := p.persist(img, used, req)
	if err != nil {
		log.Error("persist failed", zap.Error(err))
		return nil, err
	}

	samples := 1
	if req.Ensemble {
		samples = req.EnsembleSamples
		if samples <= 0 {
			samples = inference.DefaultSamples
		}
	}
	res := &Result{
		GeneratedPath: artifacts.GeneratedPath,
		SketchPath:    artifacts.SketchPath,
		GeneratorID:   gen.ID(),
		Samples:       samples,
		Duration:      time.Since(start),
	}
	log.Info("image generated",
		zap.String("generated", res.GeneratedPath),
		zap.String("input_sketch", res.SketchPath),
		zap.Int("samples", res.Samples),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (p *Pipeline) infer(ctx context.Context, in *tensor.Tensor, gen model.Generator, req Request) (*tensor.Tensor, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.engine.Infer(ctx, in, gen, req.Ensemble, req.EnsembleSamples)
}

func (p *Pipeline) persist(generated image.Image, used *image.Gray, req Request) (storage.Artifacts, error) {
	sketchDir := req.SketchDir
	if sketchDir == "" {
		sketchDir = req.OutputDir
	}
	return p.store.PersistPair(generated, used, req.OutputDir, sketchDir)
}
