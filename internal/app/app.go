// Package app assembles the generation pipeline from configuration.
package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Brownie44l1/sketch-api/internal/config"
	"github.com/Brownie44l1/sketch-api/internal/inference"
	"github.com/Brownie44l1/sketch-api/internal/model"
	"github.com/Brownie44l1/sketch-api/internal/pipeline"
	"github.com/Brownie44l1/sketch-api/internal/storage"
)

type App struct {
	Registry *model.Registry
	Pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

// New builds the registry, engine, store and pipeline. Generators are
// registered but loaded lazily on first use. Extra variants replace the
// defaults with the same id.
func New(cfg *config.Config, logger *zap.Logger, extra ...model.Variant) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	variants := model.DefaultVariants(model.OnnxOptions{
		SharedLibraryPath: cfg.ONNXLibraryPath,
		NumThreads:        cfg.NumThreads,
		UseGPU:            cfg.UseGPU,
		GPUDeviceID:       cfg.GPUDeviceID,
		Logger:            logger.Named("onnx"),
	})
	registry := model.NewRegistry(cfg.ModelDir, logger.Named("registry"), append(variants, extra...)...)

	engine := inference.NewEngine(
		inference.WithNoiseScale(float32(cfg.NoiseScale)),
		inference.WithParallelism(cfg.EnsembleParallelism),
		inference.WithLogger(logger.Named("inference")),
	)

	p := pipeline.New(registry, engine, storage.NewStore(),
		pipeline.WithInferenceTimeout(cfg.InferenceTimeout),
		pipeline.WithLogger(logger.Named("pipeline")),
	)

	logger.Info("pipeline ready",
		zap.String("model_dir", cfg.ModelDir),
		zap.Ints("generators", registry.IDs()),
		zap.Int("ensemble_samples", cfg.EnsembleSamples),
		zap.Float64("noise_scale", cfg.NoiseScale),
		zap.Bool("gpu", cfg.UseGPU))

	return &App{Registry: registry, Pipeline: p, logger: logger}
}

// Close releases every loaded generator and the ONNX environment.
func (a *App) Close() error {
	var errs []error
	if err := a.Registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close generators: %w", err))
	}
	if err := model.DestroyRuntime(); err != nil {
		errs = append(errs, fmt.Errorf("destroy onnx runtime: %w", err))
	}
	return errors.Join(errs...)
}
