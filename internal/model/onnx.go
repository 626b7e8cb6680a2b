package model

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/sketch-api/internal/tensor"
)

var (
	runtimeOnce  sync.Once
	runtimeErr   error
	runtimeReady bool
)

// OnnxOptions configures ONNX Runtime sessions.
type OnnxOptions struct {
	// SharedLibraryPath points at libonnxruntime; empty uses the default.
	SharedLibraryPath string
	NumThreads        int
	UseGPU            bool
	GPUDeviceID       int
	// Logger receives load warnings such as a CPU fallback; nil discards them.
	Logger            *zap.Logger
}

func (o OnnxOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// useGPU runs enable and reports whether the CUDA provider is active. A
// failure leaves the session on the CPU provider and is logged.
func (o OnnxOptions) useGPU(id int, enable func() error) bool {
	if err := enable(); err != nil {
		o.logger().Warn("CUDA provider unavailable, falling back to CPU",
			zap.Int("generator_id", id),
			zap.Int("gpu_device_id", o.GPUDeviceID),
			zap.Error(err))
		return false
	}
	o.logger().Info("CUDA provider enabled",
		zap.Int("generator_id", id),
		zap.Int("gpu_device_id", o.GPUDeviceID))
	return true
}

func appendCUDA(sessOpts *ort.SessionOptions, deviceID int) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("create CUDA provider options: %w", err)
	}
	defer cudaOpts.Destroy()

	if err := cudaOpts.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
		return fmt.Errorf("configure CUDA device %d: %w", deviceID, err)
	}
	if err := sessOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("append CUDA provider: %w", err)
	}
	return nil
}

// InitRuntime initializes the ONNX Runtime environment once per process.
func InitRuntime(libPath string) error {
	runtimeOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		runtimeErr = ort.InitializeEnvironment()
		runtimeReady = runtimeErr == nil
	})
	return runtimeErr
}

// DestroyRuntime releases the environment. Call once at shutdown after all
// sessions are closed. It is a no-op if no generator was ever loaded.
func DestroyRuntime() error {
	if !runtimeReady {
		return nil
	}
	return ort.DestroyEnvironment()
}

// OnnxGenerator runs a generator exported to ONNX. A single session
// serves concurrent Forward calls; tensors are allocated per call. Close
// waits for running calls before destroying the session.
type OnnxGenerator struct {
	id   int
	meta Metadata

	mu      sync.RWMutex
	session *ort.DynamicAdvancedSession
}

// NewOnnxGenerator loads weightPath and its optional sidecar metadata.
func NewOnnxGenerator(id int, weightPath string, defaults Metadata, opts OnnxOptions) (*OnnxGenerator, error) {
	if err := InitRuntime(opts.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	meta, err := LoadMetadata(MetadataPath(weightPath), defaults)
	if err != nil {
		return nil, err
	}
	if inputs, outputs, err := ort.GetInputOutputInfo(weightPath); err == nil {
		meta = mergeModelInfo(meta, inputs, outputs)
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessOpts.Destroy()

	if opts.NumThreads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(opts.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}
	if opts.UseGPU {
		opts.useGPU(id, func() error { return appendCUDA(sessOpts, opts.GPUDeviceID) })
	}

	session, err := ort.NewDynamicAdvancedSession(weightPath,
		[]string{meta.InputName}, []string{meta.OutputName}, sessOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &OnnxGenerator{id: id, session: session, meta: meta}, nil
}

// mergeModelInfo takes fixed dimensions from the model file for the
// tensors named in meta.
func mergeModelInfo(meta Metadata, inputs, outputs []ort.InputOutputInfo) Metadata {
	for _, in := range inputs {
		if in.Name == meta.InputName && len(in.Dimensions) == 4 {
			meta.InputShape = withDefaults(in.Dimensions, meta.InputShape)
		}
	}
	for _, out := range outputs {
		if out.Name == meta.OutputName && len(out.Dimensions) == 4 {
			meta.OutputShape = withDefaults(out.Dimensions, meta.OutputShape)
		}
	}
	return meta
}

// withDefaults replaces dynamic axes in dims with the matching fallback
// entry. The batch axis is always 1.
func withDefaults(dims ort.Shape, fallback []int64) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d < 0 && i < len(fallback) {
			d = fallback[i]
		}
		out[i] = d
	}
	out[0] = 1
	return out
}

func (g *OnnxGenerator) ID() int { return g.id }

func (g *OnnxGenerator) Metadata() Metadata { return g.meta }

func (g *OnnxGenerator) Forward(ctx context.Context, in *tensor.Tensor) (*tensor.Tensor, error) {
	fail := func(err error) (*tensor.Tensor, error) {
		return nil, &InferenceError{GeneratorID: g.id, Shape: in.Shape, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := g.meta.CheckInput(in.Shape); err != nil {
		return fail(err)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.session == nil {
		return fail(errGeneratorClosed)
	}

	// the input buffer is only read by the runtime
	inputTensor, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
	if err != nil {
		return fail(fmt.Errorf("failed to create input tensor: %w", err))
	}
	defer inputTensor.Destroy()

	outShape := g.meta.OutputShapeFor(in.Shape)
	out := tensor.New(outShape...)
	outputTensor, err := ort.NewTensor(ort.NewShape(outShape...), out.Data)
	if err != nil {
		return fail(fmt.Errorf("failed to create output tensor: %w", err))
	}
	defer outputTensor.Destroy()

	if err := g.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	); err != nil {
		return fail(err)
	}
	return out, nil
}

func (g *OnnxGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	err := g.session.Destroy()
	g.session = nil
	return err
}

// OnnxFactory returns a Factory that loads ONNX weights with the given
// tensor defaults.
func OnnxFactory(defaults Metadata, opts OnnxOptions) Factory {
	return func(id int, weightPath string) (Generator, error) {
		return NewOnnxGenerator(id, weightPath, defaults, opts)
	}
}

// DefaultVariants lists the generators shipped with the service. Ids 1
// and 3 share an architecture trained with different data; id 2 uses the
// second architecture.
func DefaultVariants(opts OnnxOptions) []Variant {
	defaults := DefaultMetadata()
	return []Variant{
		{ID: 1, Name: "sketch-gan", Factory: OnnxFactory(defaults, opts)},
		{ID: 2, Name: "sketch-gan-2", Factory: OnnxFactory(defaults, opts)},
		{ID: 3, Name: "sketch-gan", Factory: OnnxFactory(defaults, opts)},
	}
}
