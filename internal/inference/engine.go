// Package inference drives generators, optionally averaging several
// noised forward passes.
package inference

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Brownie44l1/sketch-api/internal/model"
	"github.com/Brownie44l1/sketch-api/internal/tensor"
)

const (
	DefaultSamples    = 3
	DefaultNoiseScale = 0.02
)

// NoiseSource fills dst with standard normal samples. Implementations
// must be safe for concurrent use.
type NoiseSource interface {
	Fill(dst []float32)
}

// NormalNoise draws from N(0,1) using the process-wide random source.
type NormalNoise struct {
	dist distuv.Normal
}

func NewNormalNoise() *NormalNoise {
	return &NormalNoise{dist: distuv.Normal{Mu: 0, Sigma: 1}}
}

func (n *NormalNoise) Fill(dst []float32) {
	for i := range dst {
		dst[i] = float32(n.dist.Rand())
	}
}

// Engine runs single or ensemble inference.
type Engine struct {
	noise       NoiseSource
	scale       float32
	parallelism int
	logger      *zap.Logger
}

type Option func(*Engine)

func WithNoise(src NoiseSource) Option {
	return func(e *Engine) { e.noise = src }
}

func WithNoiseScale(scale float32) Option {
	return func(e *Engine) { e.scale = scale }
}

// WithParallelism caps concurrent forward passes of one ensemble.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		noise:       NewNormalNoise(),
		scale:       DefaultNoiseScale,
		parallelism: runtime.GOMAXPROCS(0),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Infer runs gen on in. Without ensemble it is a single deterministic
// pass. With ensemble it averages samples passes, each on in plus
// independent Gaussian noise; samples <= 0 means DefaultSamples. Any
// failed pass fails the whole call. in is never modified.
func (e *Engine) Infer(ctx context.Context, in *tensor.Tensor, gen model.Generator, ensemble bool, samples int) (*tensor.Tensor, error) {
	if !ensemble {
		out, err := e.forward(ctx, gen, in)
		if err != nil {
			return nil, inferenceError(gen, in, err)
		}
		return out, nil
	}

	outs, err := e.Samples(ctx, in, gen, samples)
	if err != nil {
		return nil, err
	}
	mean, err := tensor.Mean(outs)
	if err != nil {
		return nil, inferenceError(gen, in, err)
	}
	return mean, nil
}

// Samples returns the outputs of the individual noised passes.
func (e *Engine) Samples(ctx context.Context, in *tensor.Tensor, gen model.Generator, samples int) ([]*tensor.Tensor, error) {
	if samples <= 0 {
		samples = DefaultSamples
	}

	e.logger.Debug("ensemble inference",
		zap.Int("generator_id", gen.ID()),
		zap.Int("samples", samples),
		zap.Stringer("shape", in.Shape))

	outs := make([]*tensor.Tensor, samples)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := 0; i < samples; i++ {
		i := i
		g.Go(func() error {
			noise := make([]float32, in.Len())
			e.noise.Fill(noise)
			noisy, err := in.AddScaled(noise, e.scale)
			if err != nil {
				return err
			}
			out, err := e.forward(gctx, gen, noisy)
			if err != nil {
				return fmt.Errorf("pass %d: %w", i, err)
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, inferenceError(gen, in, err)
	}
	return outs, nil
}

func (e *Engine) forward(ctx context.Context, gen model.Generator, in *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := gen.Forward(ctx, in)
	if err != nil {
		return nil, err
	}
	if out == nil || out.Shape.Elements() != len(out.Data) {
		return nil, errors.New("generator returned a malformed tensor")
	}
	return out, nil
}

func inferenceError(gen model.Generator, in *tensor.Tensor, err error) error {
	var ie *model.InferenceError
	if errors.As(err, &ie) {
		return err
	}
	return &model.InferenceError{GeneratorID: gen.ID(), Shape: in.Shape, Err: err}
}
