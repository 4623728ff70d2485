package testutil

import (
	"errors"
	"sync"
	"time"

	"github.com/emergingrobotics/inferpipe/pkg/backend"
	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

// FakeBackend implements a mock inference backend for testing
type FakeBackend struct {
	mu            sync.Mutex
	inputs        []backend.TensorInfo
	outputs       []backend.TensorInfo
	bound         map[int][]*tensor.Tensor
	results       map[int][]*tensor.Tensor
	produce       func(slot int, bound []*tensor.Tensor) []*tensor.Tensor
	execOrder     []int
	executions    int
	execDelay     time.Duration
	failOnBind    bool
	failOnExecute bool
	closed        bool
}

// NewFakeBackend creates a fake backend with a single detection-style
// input and output
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		inputs: []backend.TensorInfo{{
			Name:      "data",
			Shape:     tensor.Shape{1, 3, 416, 416},
			Precision: tensor.PrecisionFP32,
			Layout:    tensor.LayoutNCHW,
		}},
		outputs: []backend.TensorInfo{{
			Name:      "detection_out",
			Shape:     tensor.Shape{1, 1, 200, 7},
			Precision: tensor.PrecisionFP32,
			Layout:    tensor.LayoutAny,
		}},
		bound:   make(map[int][]*tensor.Tensor),
		results: make(map[int][]*tensor.Tensor),
	}
}

// SetInputInfo replaces the advertised input descriptors
func (b *FakeBackend) SetInputInfo(info []backend.TensorInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs = info
}

// SetOutputInfo replaces the advertised output descriptors
func (b *FakeBackend) SetOutputInfo(info []backend.TensorInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = info
}

// SetProduce installs a hook that builds the outputs for each Execute.
// Without a hook every output is a zero tensor of the advertised shape.
func (b *FakeBackend) SetProduce(fn func(slot int, bound []*tensor.Tensor) []*tensor.Tensor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.produce = fn
}

// SetExecDelay makes every Execute sleep, simulating device latency
func (b *FakeBackend) SetExecDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.execDelay = d
}

// SetFailOnBind makes SetInput fail
func (b *FakeBackend) SetFailOnBind(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failOnBind = fail
}

// SetFailOnExecute makes Execute fail
func (b *FakeBackend) SetFailOnExecute(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failOnExecute = fail
}

// InputInfo returns the advertised input descriptors
func (b *FakeBackend) InputInfo() []backend.TensorInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputs
}

// OutputInfo returns the advertised output descriptors
func (b *FakeBackend) OutputInfo() []backend.TensorInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputs
}

// SetInput records the tensor bound to one batch position of a slot
func (b *FakeBackend) SetInput(slot, batchIndex int, t *tensor.Tensor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("fake backend closed")
	}
	if b.failOnBind {
		return errors.New("fake bind error")
	}

	bound := b.bound[slot]
	for len(bound) <= batchIndex {
		bound = append(bound, nil)
	}
	bound[batchIndex] = t
	b.bound[slot] = bound
	return nil
}

// Execute simulates running the slot and stores its outputs
func (b *FakeBackend) Execute(slot int) error {
	b.mu.Lock()
	delay := b.execDelay
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("fake backend closed")
	}

	b.executions++
	b.execOrder = append(b.execOrder, slot)

	if b.failOnExecute {
		return errors.New("fake execute error")
	}

	if b.produce != nil {
		b.results[slot] = b.produce(slot, b.bound[slot])
	} else {
		outs := make([]*tensor.Tensor, len(b.outputs))
		for i, info := range b.outputs {
			t, err := tensor.New(info.Shape.Clone(), info.Precision, info.Layout)
			if err != nil {
				return err
			}
			outs[i] = t
		}
		b.results[slot] = outs
	}
	b.bound[slot] = nil
	return nil
}

// Output returns one output tensor of a slot's last execution
func (b *FakeBackend) Output(slot, index int) (*tensor.Tensor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	outs, ok := b.results[slot]
	if !ok {
		return nil, errors.New("slot has no results")
	}
	if index < 0 || index >= len(outs) {
		return nil, errors.New("output index out of range")
	}
	return outs[index], nil
}

// Close marks the backend closed
func (b *FakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Executions returns the number of Execute calls
func (b *FakeBackend) Executions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executions
}

// ExecOrder returns slot ids in the order they were executed
func (b *FakeBackend) ExecOrder() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, len(b.execOrder))
	copy(out, b.execOrder)
	return out
}

// Bound returns the tensors currently bound to a slot
func (b *FakeBackend) Bound(slot int) []*tensor.Tensor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound[slot]
}

// MakeFrame creates a frame filled with a deterministic byte pattern
func MakeFrame(width, height int, format media.PixelFormat) *media.Frame {
	f, err := media.NewFrame(width, height, format)
	if err != nil {
		panic(err)
	}
	for p := range f.Data {
		for i := range f.Data[p] {
			f.Data[p][i] = byte((i*31 + p*7) % 256)
		}
	}
	return f
}

// SolidFrame creates a packed frame with every pixel set to the given
// channel values
func SolidFrame(width, height int, format media.PixelFormat, pixel []byte) *media.Frame {
	f, err := media.NewFrame(width, height, format)
	if err != nil {
		panic(err)
	}
	step := format.PixelSize()
	for y := 0; y < height; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := 0; x < width; x++ {
			copy(row[x*step:], pixel[:step])
		}
	}
	return f
}

// MakeFloatTensor builds an FP32 tensor from literal values
func MakeFloatTensor(shape tensor.Shape, layout tensor.Layout, values []float32) *tensor.Tensor {
	t, err := tensor.FromFloats(shape, layout, values)
	if err != nil {
		panic(err)
	}
	return t
}

// MakeDetectionTensor builds an SSD-style [1,1,maxRows,7] output from
// detection rows, padding the remainder with image id -1 so decoding
// stops after the real rows
func MakeDetectionTensor(rows [][]float32, maxRows int) *tensor.Tensor {
	values := make([]float32, maxRows*7)
	for i, row := range rows {
		if i >= maxRows {
			break
		}
		copy(values[i*7:], row)
	}
	for i := len(rows); i < maxRows; i++ {
		values[i*7] = -1
	}
	t, err := tensor.FromFloats(tensor.Shape{1, 1, maxRows, 7}, tensor.LayoutAny, values)
	if err != nil {
		panic(err)
	}
	return t
}
