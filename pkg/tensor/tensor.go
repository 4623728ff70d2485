package tensor

import (
	"fmt"
	"unsafe"
)

// tensorError is a simple error type for the tensor package
type tensorError string

func (e tensorError) Error() string { return string(e) }

// Errors for tensor construction and access
const (
	ErrEmptyShape    = tensorError("tensor shape is empty")
	ErrSizeMismatch  = tensorError("data length does not match shape")
	ErrWrongType     = tensorError("operation requires a different precision")
	ErrNotBatched    = tensorError("layout has no batch dimension")
	ErrBatchOutRange = tensorError("batch index out of range")
)

// Tensor couples a shape, element precision, layout tag and raw bytes.
// Input tensors are produced by the preprocessor; output tensors are
// read-only views owned by the backend slot that produced them until
// the slot is reused.
type Tensor struct {
	Shape     Shape
	Precision Precision
	Layout    Layout
	Data      []byte
}

// New allocates a zeroed tensor for the given shape
func New(shape Shape, precision Precision, layout Layout) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, ErrEmptyShape
	}
	n := shape.Elems()
	if n <= 0 {
		return nil, fmt.Errorf("shape %v: %w", shape, ErrEmptyShape)
	}
	return &Tensor{
		Shape:     shape.Clone(),
		Precision: precision,
		Layout:    layout,
		Data:      make([]byte, n*precision.Size()),
	}, nil
}

// Wrap builds a tensor view over existing bytes, validating the length
func Wrap(shape Shape, precision Precision, layout Layout, data []byte) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, ErrEmptyShape
	}
	if len(data) != shape.Elems()*precision.Size() {
		return nil, fmt.Errorf("have %d bytes for shape %v %s: %w",
			len(data), shape, precision, ErrSizeMismatch)
	}
	return &Tensor{
		Shape:     shape.Clone(),
		Precision: precision,
		Layout:    layout,
		Data:      data,
	}, nil
}

// Elems returns the element count
func (t *Tensor) Elems() int {
	return t.Shape.Elems()
}

// ByteSize returns the expected byte length for the shape and precision
func (t *Tensor) ByteSize() int {
	return t.Shape.Elems() * t.Precision.Size()
}

// Batch returns the leading dimension for batched layouts, 1 otherwise
func (t *Tensor) Batch() int {
	if !t.Layout.Batched() {
		return 1
	}
	return t.Shape.Dim(0)
}

// UnbatchedSize returns the byte size of one batch element
func (t *Tensor) UnbatchedSize() int {
	b := t.Batch()
	if b <= 0 {
		return 0
	}
	return t.ByteSize() / b
}

// BatchBytes returns the raw bytes of batch element b
func (t *Tensor) BatchBytes(b int) ([]byte, error) {
	if b < 0 || b >= t.Batch() {
		return nil, ErrBatchOutRange
	}
	size := t.UnbatchedSize()
	return t.Data[b*size : (b+1)*size], nil
}

// Floats returns the data as a float32 slice without copying.
// The view aliases Data and is only valid while the tensor is.
func (t *Tensor) Floats() ([]float32, error) {
	if t.Precision != PrecisionFP32 {
		return nil, fmt.Errorf("%s tensor: %w", t.Precision, ErrWrongType)
	}
	if len(t.Data) == 0 {
		return nil, nil
	}
	n := len(t.Data) / 4
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.Data[0])), n), nil
}

// FromFloats allocates an FP32 tensor initialized from values
func FromFloats(shape Shape, layout Layout, values []float32) (*Tensor, error) {
	t, err := New(shape, PrecisionFP32, layout)
	if err != nil {
		return nil, err
	}
	if len(values) != t.Elems() {
		return nil, fmt.Errorf("have %d values for shape %v: %w", len(values), shape, ErrSizeMismatch)
	}
	dst, _ := t.Floats()
	copy(dst, values)
	return t, nil
}
