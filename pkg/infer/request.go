package infer

import (
	"sync"

	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

// State tracks a request slot through its lifecycle
type State int

const (
	// StateFree means the slot holds nothing and can start a new batch
	StateFree State = iota
	// StateFilling means the slot is gathering samples toward a batch
	StateFilling
	// StateSubmitted means the slot's batch is executing on the backend
	StateSubmitted
	// StateCompleted means the slot holds results waiting for Poll
	StateCompleted
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateFilling:
		return "filling"
	case StateSubmitted:
		return "submitted"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// Sample is one frame, or one cropped region of a frame, queued for
// inference together with its prepared input tensor.
type Sample struct {
	// Frame is the source frame the input was prepared from.
	Frame *media.Frame
	// Crop is the source region within Frame, nil for the whole frame.
	Crop *media.Rect
	// Input is the prepared tensor bound to one batch position.
	Input *tensor.Tensor
	// Seq is the submitter's ordering key, carried through untouched.
	Seq uint64
	// Ref is an opaque submitter cookie, such as the detection an ROI
	// belongs to.
	Ref any
}

// Request is one inference slot of a pool. A slot cycles from free
// through filling and submitted to completed, then back to free once
// its result is released.
type Request struct {
	id      int
	state   State
	samples []Sample
	outputs []*tensor.Tensor
	err     error

	// doneSeq orders completed slots for Poll, oldest first.
	doneSeq uint64
	// claimed marks a completed slot already handed out by Poll.
	claimed bool
}

// Completed is one finished batch handed to the consumer. Samples is
// the batch in submission order, Outputs are the backend's output
// tensors and Err is the execution error, if any. The slot stays
// reserved, and Outputs stay valid, until Release.
type Completed struct {
	Samples []Sample
	Outputs []*tensor.Tensor
	Err     error

	pool *Pool
	req  *Request

	once sync.Once
}

// Slot returns the id of the request slot that produced this batch
func (c *Completed) Slot() int {
	return c.req.id
}

// Release returns the slot to service. Outputs must not be used
// afterward, as the backend may overwrite the slot's memory on its
// next execution. Release is idempotent.
func (c *Completed) Release() {
	c.once.Do(func() {
		c.pool.release(c.req)
	})
}
