// Package tensor holds the dense row-major arrays exchanged with the
// inference runtime.
package tensor

import (
	"fmt"
	"slices"
)

type DType string

const (
	Float32 DType = "FP32"
	Int64   DType = "INT64"
	Bytes   DType = "BYTES"
	Bool    DType = "BOOL"
)

type Tensor struct {
	Shape []int
	DType DType
	F32   []float32
	I64   []int64
	Str   []string
	Bool  []bool
}

func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func NewFloat32(shape []int, data []float32) (*Tensor, error) {
	if len(data) != NumElements(shape) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, NumElements(shape), len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), DType: Float32, F32: data}, nil
}

func NewInt64(shape []int, data []int64) (*Tensor, error) {
	if len(data) != NumElements(shape) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, NumElements(shape), len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), DType: Int64, I64: data}, nil
}

func NewBytes(shape []int, data []string) (*Tensor, error) {
	if len(data) != NumElements(shape) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, NumElements(shape), len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), DType: Bytes, Str: data}, nil
}

// Len returns the element count implied by the shape.
func (t *Tensor) Len() int {
	return NumElements(t.Shape)
}

// Dim returns the size of axis i, or 0 when the tensor has fewer axes.
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// SliceAxis1 keeps positions [0, n) along axis 1 of a rank-3 float tensor,
// e.g. the text-token prefix of an encoder's [batch, seq, hidden] output.
func (t *Tensor) SliceAxis1(n int) (*Tensor, error) {
	if t.DType != Float32 || len(t.Shape) != 3 {
		return nil, fmt.Errorf("SliceAxis1 needs a rank-3 %s tensor, got rank-%d %s", Float32, len(t.Shape), t.DType)
	}

	batch, seq, hidden := t.Shape[0], t.Shape[1], t.Shape[2]
	if n < 0 || n > seq {
		return nil, fmt.Errorf("cannot take %d positions from a sequence of %d", n, seq)
	}

	out := make([]float32, 0, batch*n*hidden)
	for b := 0; b < batch; b++ {
		start := b * seq * hidden
		out = append(out, t.F32[start:start+n*hidden]...)
	}

	return &Tensor{Shape: []int{batch, n, hidden}, DType: Float32, F32: out}, nil
}

// Row returns the i-th row of a rank-2 int64 tensor.
func (t *Tensor) Row(i int) ([]int64, error) {
	if t.DType != Int64 || len(t.Shape) != 2 {
		return nil, fmt.Errorf("Row needs a rank-2 %s tensor, got rank-%d %s", Int64, len(t.Shape), t.DType)
	}
	if i < 0 || i >= t.Shape[0] {
		return nil, fmt.Errorf("row %d out of range [0, %d)", i, t.Shape[0])
	}
	width := t.Shape[1]
	return t.I64[i*width : (i+1)*width], nil
}
