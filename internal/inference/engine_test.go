package inference

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/sketch-api/internal/model"
	"github.com/Brownie44l1/sketch-api/internal/tensor"
)

// tanhGenerator emits three channels derived from the input with a
// non-linear response so noised passes differ from one another.
type tanhGenerator struct {
	mu      sync.Mutex
	inputs  []*tensor.Tensor
	outputs []*tensor.Tensor
	failOn  int32
	calls   atomic.Int32
}

func (g *tanhGenerator) ID() int { return 1 }

func (g *tanhGenerator) Close() error { return nil }

func (g *tanhGenerator) Forward(_ context.Context, in *tensor.Tensor) (*tensor.Tensor, error) {
	n := g.calls.Add(1)
	if g.failOn > 0 && n == g.failOn {
		return nil, errors.New("device lost")
	}
	h, w := in.Shape[2], in.Shape[3]
	out := tensor.New(1, 3, h, w)
	plane := int(h * w)
	for i, v := range in.Data {
		out.Data[i] = float32(math.Tanh(float64(3 * v)))
		out.Data[plane+i] = -v
		out.Data[2*plane+i] = v * v
	}

	g.mu.Lock()
	g.inputs = append(g.inputs, in)
	g.outputs = append(g.outputs, out)
	g.mu.Unlock()
	return out, nil
}

func ramp(n int64) *tensor.Tensor {
	t := tensor.New(1, 1, n, n)
	for i := range t.Data {
		t.Data[i] = float32(i%17)/8 - 1
	}
	return t
}

func TestInferSingleIsDeterministic(t *testing.T) {
	gen := &tanhGenerator{}
	e := NewEngine()
	in := ramp(8)

	a, err := e.Infer(context.Background(), in, gen, false, 0)
	require.NoError(t, err)
	b, err := e.Infer(context.Background(), in, gen, false, 0)
	require.NoError(t, err)

	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, tensor.Shape{1, 3, 8, 8}, a.Shape)
	assert.Equal(t, int32(2), gen.calls.Load(), "one pass per call")
	assert.Same(t, in, gen.inputs[0], "single pass sees the unmodified input")
}

func TestInferEnsembleRunsSamplePasses(t *testing.T) {
	gen := &tanhGenerator{}
	e := NewEngine()
	in := ramp(8)
	before := append([]float32(nil), in.Data...)

	out, err := e.Infer(context.Background(), in, gen, true, 5)
	require.NoError(t, err)

	assert.Equal(t, int32(5), gen.calls.Load())
	assert.Equal(t, before, in.Data, "input must not be modified")
	assert.Equal(t, tensor.Shape{1, 3, 8, 8}, out.Shape)

	// every pass sees small, distinct noise
	for _, noisy := range gen.inputs {
		assert.NotSame(t, in, noisy)
		for i := range noisy.Data {
			assert.Less(t, math.Abs(float64(noisy.Data[i]-in.Data[i])), 0.2)
		}
	}
	assert.NotEqual(t, gen.inputs[0].Data, gen.inputs[1].Data)
}

func TestInferEnsembleWithinConvexHull(t *testing.T) {
	gen := &tanhGenerator{}
	e := NewEngine(WithParallelism(2))

	out, err := e.Infer(context.Background(), ramp(16), gen, true, 3)
	require.NoError(t, err)
	require.Len(t, gen.outputs, 3)

	for i, v := range out.Data {
		lo, hi := gen.outputs[0].Data[i], gen.outputs[0].Data[i]
		for _, o := range gen.outputs[1:] {
			lo = min(lo, o.Data[i])
			hi = max(hi, o.Data[i])
		}
		const eps = 1e-6
		if v < lo-eps || v > hi+eps {
			t.Fatalf("element %d: mean %f outside [%f, %f]", i, v, lo, hi)
		}
	}
}

func TestInferEnsembleDefaultSamples(t *testing.T) {
	gen := &tanhGenerator{}
	_, err := NewEngine().Infer(context.Background(), ramp(4), gen, true, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(DefaultSamples), gen.calls.Load())
}

type zeroNoise struct{}

func (zeroNoise) Fill(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
}

func TestInferEnsembleWithoutNoiseMatchesSingle(t *testing.T) {
	gen := &tanhGenerator{}
	e := NewEngine(WithNoise(zeroNoise{}))
	in := ramp(8)

	single, err := e.Infer(context.Background(), in, gen, false, 0)
	require.NoError(t, err)
	avg, err := e.Infer(context.Background(), in, gen, true, 3)
	require.NoError(t, err)

	assert.InDeltaSlice(t, single.Data, avg.Data, 1e-6)
}

func TestInferEnsembleFailureAbortsAll(t *testing.T) {
	gen := &tanhGenerator{failOn: 2}
	in := ramp(4)

	out, err := NewEngine(WithParallelism(1)).Infer(context.Background(), in, gen, true, 3)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, model.ErrInference))

	var ie *model.InferenceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 1, ie.GeneratorID)
	assert.Equal(t, in.Shape, ie.Shape)
	assert.Contains(t, err.Error(), "device lost")
}

func TestInferSingleFailure(t *testing.T) {
	gen := &tanhGenerator{failOn: 1}
	_, err := NewEngine().Infer(context.Background(), ramp(4), gen, false, 0)
	assert.ErrorIs(t, err, model.ErrInference)
}

func TestInferCancelledContext(t *testing.T) {
	gen := &tanhGenerator{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine().Infer(ctx, ramp(4), gen, true, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, model.ErrInference)
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestNormalNoiseStatistics(t *testing.T) {
	buf := make([]float32, 20000)
	NewNormalNoise().Fill(buf)

	var sum, sq float64
	for _, v := range buf {
		sum += float64(v)
		sq += float64(v) * float64(v)
	}
	mean := sum / float64(len(buf))
	variance := sq/float64(len(buf)) - mean*mean
	assert.InDelta(t, 0, mean, 0.05)
	assert.InDelta(t, 1, variance, 0.1)
}
