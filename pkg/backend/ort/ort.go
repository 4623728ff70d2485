// Package ort implements the inference backend on ONNX Runtime. Each
// execution slot owns an AdvancedSession with pre-bound input and output
// tensors, so running a slot never allocates.
//
// The runtime environment is process global; hosts call
// onnxruntime_go.SetSharedLibraryPath and InitializeEnvironment before
// opening a backend and DestroyEnvironment when done.
package ort

import (
	"fmt"
	"sync"
	"unsafe"

	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/emergingrobotics/inferpipe/pkg/backend"
	"github.com/emergingrobotics/inferpipe/pkg/onnx"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
	"github.com/emergingrobotics/inferpipe/pkg/transform"
)

// Config describes an ONNX Runtime backend.
type Config struct {
	ModelPath string
	// Slots is the number of independent execution slots. Defaults to 1.
	Slots int
	// BatchSize images per slot execution. Defaults to 1. The model's
	// batch dimension must be dynamic or match.
	BatchSize int
	// Thread counts for the runtime; zero keeps the runtime default.
	IntraOpThreads int
	InterOpThreads int
	// InputName and OutputName override model introspection when set.
	InputName  string
	OutputName string
	// Mean and Scale normalize u8 samples into the float input as
	// (v - Mean) * Scale. A zero Scale means 1.
	Mean  float32
	Scale float32
}

type slot struct {
	session *onnxrt.AdvancedSession
	input   *onnxrt.Tensor[float32]
	output  *onnxrt.Tensor[float32]
}

// Backend runs inference through per-slot ONNX Runtime sessions.
type Backend struct {
	cfg      Config
	inName   string
	outName  string
	inDims   []int64
	outDims  []int64
	perImage int // input elements for one batch entry

	inputs  []backend.TensorInfo
	outputs []backend.TensorInfo

	slots []slot

	mu     sync.Mutex
	closed bool
}

// Open loads the model metadata, resolves IO shapes, and builds one
// session per slot with bound tensors.
func Open(cfg Config) (*Backend, error) {
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}

	info, err := onnx.Parse(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("model introspection: %w", err)
	}

	in, err := pickTensor(cfg.InputName, info.Input, info.DefaultInput)
	if err != nil {
		return nil, fmt.Errorf("model input: %w", err)
	}
	out, err := pickTensor(cfg.OutputName, info.Output, info.DefaultOutput)
	if err != nil {
		return nil, fmt.Errorf("model output: %w", err)
	}
	if in.ElemType != onnx.TypeFloat || out.ElemType != onnx.TypeFloat {
		return nil, fmt.Errorf("model IO must be float32, got %s in / %s out", in.ElemType, out.ElemType)
	}

	inDims, err := resolveDims(in, cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", in.Name, err)
	}
	outDims, err := resolveDims(out, cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", out.Name, err)
	}

	b := &Backend{
		cfg:     cfg,
		inName:  in.Name,
		outName: out.Name,
		inDims:  inDims,
		outDims: outDims,
	}
	b.perImage = int(elemCount(inDims)) / cfg.BatchSize
	b.inputs = []backend.TensorInfo{describe(in.Name, inDims)}
	b.outputs = []backend.TensorInfo{describe(out.Name, outDims)}

	options, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if cfg.IntraOpThreads > 0 {
		options.SetIntraOpNumThreads(cfg.IntraOpThreads)
	}
	if cfg.InterOpThreads > 0 {
		options.SetInterOpNumThreads(cfg.InterOpThreads)
	}

	for i := 0; i < cfg.Slots; i++ {
		s, err := newSlot(cfg.ModelPath, in.Name, out.Name, inDims, outDims, options)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		b.slots = append(b.slots, s)
	}
	return b, nil
}

func newSlot(modelPath, inName, outName string, inDims, outDims []int64, options *onnxrt.SessionOptions) (slot, error) {
	inputTensor, err := onnxrt.NewEmptyTensor[float32](onnxrt.NewShape(inDims...))
	if err != nil {
		return slot{}, fmt.Errorf("error creating input tensor: %w", err)
	}
	outputTensor, err := onnxrt.NewEmptyTensor[float32](onnxrt.NewShape(outDims...))
	if err != nil {
		inputTensor.Destroy()
		return slot{}, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := onnxrt.NewAdvancedSession(
		modelPath,
		[]string{inName},
		[]string{outName},
		[]onnxrt.ArbitraryTensor{inputTensor},
		[]onnxrt.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return slot{}, fmt.Errorf("error creating session: %w", err)
	}
	return slot{session: session, input: inputTensor, output: outputTensor}, nil
}

// InputInfo returns the bound input descriptions
func (b *Backend) InputInfo() []backend.TensorInfo { return b.inputs }

// OutputInfo returns the bound output descriptions
func (b *Backend) OutputInfo() []backend.TensorInfo { return b.outputs }

// SetInput writes one image tensor into a slot's bound input at the given
// batch position, normalizing u8 samples to float.
func (b *Backend) SetInput(slotIdx, batchIndex int, t *tensor.Tensor) error {
	s, err := b.slot(slotIdx)
	if err != nil {
		return err
	}
	if batchIndex < 0 || batchIndex >= b.cfg.BatchSize {
		return backend.ErrBatchRange
	}
	if t.Elems() != b.perImage {
		return fmt.Errorf("%w: got %d elements, input takes %d per image",
			backend.ErrShapeMismatch, t.Elems(), b.perImage)
	}

	dst := s.input.GetData()[batchIndex*b.perImage : (batchIndex+1)*b.perImage]

	switch t.Precision {
	case tensor.PrecisionU8:
		transform.NormalizeU8(t.Data, dst, b.cfg.Mean, b.cfg.Scale)
	case tensor.PrecisionFP32:
		src, err := t.Floats()
		if err != nil {
			return err
		}
		if b.cfg.Mean == 0 && b.cfg.Scale == 1 {
			copy(dst, src)
		} else {
			for i, v := range src {
				dst[i] = (v - b.cfg.Mean) * b.cfg.Scale
			}
		}
	default:
		return fmt.Errorf("%w: precision %s", backend.ErrShapeMismatch, t.Precision)
	}
	return nil
}

// Execute runs the slot's session. Distinct slots may execute in
// parallel; one slot must not.
func (b *Backend) Execute(slotIdx int) error {
	s, err := b.slot(slotIdx)
	if err != nil {
		return err
	}
	if err := s.session.Run(); err != nil {
		return fmt.Errorf("session run: %w", err)
	}
	return nil
}

// Output wraps the slot's bound output as a tensor. The data aliases the
// slot and is overwritten by the slot's next Execute.
func (b *Backend) Output(slotIdx, index int) (*tensor.Tensor, error) {
	s, err := b.slot(slotIdx)
	if err != nil {
		return nil, err
	}
	if index != 0 {
		return nil, backend.ErrOutputRange
	}

	data := s.output.GetData()
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
	return tensor.Wrap(toShape(b.outDims), tensor.PrecisionFP32, layoutOf(b.outDims), raw)
}

// Close destroys all sessions and bound tensors
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var lastErr error
	for _, s := range b.slots {
		if s.session != nil {
			if err := s.session.Destroy(); err != nil {
				lastErr = err
			}
		}
		if s.input != nil {
			s.input.Destroy()
		}
		if s.output != nil {
			s.output.Destroy()
		}
	}
	b.slots = nil
	return lastErr
}

func (b *Backend) slot(i int) (slot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return slot{}, backend.ErrClosed
	}
	if i < 0 || i >= len(b.slots) {
		return slot{}, backend.ErrSlotRange
	}
	return b.slots[i], nil
}

// pickTensor resolves a named or default IO tensor
func pickTensor(name string,
	byName func(string) (*onnx.TensorInfo, error),
	def func() (*onnx.TensorInfo, error)) (*onnx.TensorInfo, error) {
	if name != "" {
		return byName(name)
	}
	return def()
}

// resolveDims fixes the batch dimension and rejects other dynamic dims
func resolveDims(ti *onnx.TensorInfo, batchSize int) ([]int64, error) {
	if len(ti.Dims) == 0 {
		return nil, fmt.Errorf("no shape declared")
	}
	dims := make([]int64, len(ti.Dims))
	copy(dims, ti.Dims)

	if dims[0] == 0 {
		dims[0] = int64(batchSize)
	} else if dims[0] != int64(batchSize) {
		return nil, fmt.Errorf("model batch %d does not match configured batch %d", dims[0], batchSize)
	}
	for i := 1; i < len(dims); i++ {
		if dims[i] <= 0 {
			name := ""
			if i < len(ti.DimNames) {
				name = ti.DimNames[i]
			}
			return nil, fmt.Errorf("dynamic dimension %d (%q) is not supported", i, name)
		}
	}
	return dims, nil
}

func elemCount(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

func toShape(dims []int64) tensor.Shape {
	s := make(tensor.Shape, len(dims))
	for i, d := range dims {
		s[i] = int(d)
	}
	return s
}

// layoutOf guesses the layout from the rank, treating a small second
// dimension as channels-first
func layoutOf(dims []int64) tensor.Layout {
	switch len(dims) {
	case 4:
		if dims[1] <= 4 {
			return tensor.LayoutNCHW
		}
		return tensor.LayoutNHWC
	case 2:
		return tensor.LayoutNC
	case 1:
		return tensor.Layout1D
	}
	return tensor.LayoutAny
}

func describe(name string, dims []int64) backend.TensorInfo {
	return backend.TensorInfo{
		Name:      name,
		Shape:     toShape(dims),
		Precision: tensor.PrecisionFP32,
		Layout:    layoutOf(dims),
	}
}
