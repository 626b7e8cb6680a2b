package tensor

import (
	"fmt"
	"strings"
)

// Shape lists dimension sizes in NCHW order.
type Shape []int64

// Elements returns the number of values a tensor of this shape holds.
func (s Shape) Elements() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= int(d)
	}
	return n
}

func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Tensor is a dense float32 array in row-major NCHW layout.
type Tensor struct {
	Shape Shape
	Data  []float32
}

// New allocates a zeroed tensor.
func New(shape ...int64) *Tensor {
	s := append(Shape(nil), shape...)
	return &Tensor{Shape: s, Data: make([]float32, s.Elements())}
}

// FromData wraps data without copying. The length must match the shape.
func FromData(shape Shape, data []float32) (*Tensor, error) {
	if shape.Elements() != len(data) {
		return nil, fmt.Errorf("tensor: shape %s needs %d values, got %d", shape, shape.Elements(), len(data))
	}
	return &Tensor{Shape: append(Shape(nil), shape...), Data: data}, nil
}

func (t *Tensor) Len() int { return len(t.Data) }

func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append(Shape(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// AddScaled returns t + scale*noise as a new tensor.
func (t *Tensor) AddScaled(noise []float32, scale float32) (*Tensor, error) {
	if len(noise) != len(t.Data) {
		return nil, fmt.Errorf("tensor: noise has %d values, tensor has %d", len(noise), len(t.Data))
	}
	out := t.Clone()
	for i, v := range noise {
		out.Data[i] += v * scale
	}
	return out, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s", t.Shape)
}

// Mean averages tensors element-wise. All inputs must share a shape.
func Mean(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: mean of zero tensors")
	}
	out := New(ts[0].Shape...)
	for i, t := range ts {
		if !t.Shape.Equal(out.Shape) {
			return nil, fmt.Errorf("tensor: mean input %d has shape %s, want %s", i, t.Shape, out.Shape)
		}
		for j, v := range t.Data {
			out.Data[j] += v
		}
	}
	n := float32(len(ts))
	for j := range out.Data {
		out.Data[j] /= n
	}
	return out, nil
}
