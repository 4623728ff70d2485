// Package backend abstracts the inference engine behind the request
// pool. A backend owns a fixed number of execution slots; each slot
// holds one batch worth of bound input and output memory.
package backend

import (
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

type backendError string

func (e backendError) Error() string { return string(e) }

const (
	// ErrSlotRange is returned for a slot index outside [0, Slots)
	ErrSlotRange = backendError("backend: slot index out of range")
	// ErrBatchRange is returned for a batch index outside [0, BatchSize)
	ErrBatchRange = backendError("backend: batch index out of range")
	// ErrOutputRange is returned for an output index the model lacks
	ErrOutputRange = backendError("backend: output index out of range")
	// ErrShapeMismatch is returned when a tensor does not fit the model input
	ErrShapeMismatch = backendError("backend: tensor shape mismatch")
	// ErrClosed is returned when using a closed backend
	ErrClosed = backendError("backend: closed")
)

// TensorInfo describes one bound input or output.
type TensorInfo struct {
	Name      string
	Shape     tensor.Shape
	Precision tensor.Precision
	Layout    tensor.Layout
}

// Backend executes batched inference. Execute may run concurrently on
// distinct slots; all calls touching one slot must be serialized by the
// caller. Output tensors alias slot memory and stay valid until the slot
// runs again.
type Backend interface {
	InputInfo() []TensorInfo
	OutputInfo() []TensorInfo
	SetInput(slot, batchIndex int, t *tensor.Tensor) error
	Execute(slot int) error
	Output(slot, index int) (*tensor.Tensor, error)
	Close() error
}
