package preproc

import (
	"fmt"
	"sync/atomic"

	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/surface"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

// VideoOp is the hardware scale and convert capability behind the surface
// path. Implementations write the cropped region of src, scaled to the
// destination size, into the destination surface in its pixel format.
type VideoOp interface {
	Process(src *media.Frame, crop media.Rect, dst *surface.Surface) error
}

// SurfaceProcessor prepares tensors through a video memory surface filled
// by a VideoOp. The destination surface is allocated on first use and
// persists for the processor's lifetime. One Prepare may be in flight at
// a time; a concurrent call fails with ErrBusy.
type SurfaceProcessor struct {
	target Target
	op     VideoOp
	surf   *surface.Surface
	busy   atomic.Bool
}

// NewSurfaceProcessor creates a surface-backed preprocessor
func NewSurfaceProcessor(target Target, op VideoOp) (*SurfaceProcessor, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	if op == nil {
		return nil, fmt.Errorf("%w: nil video op", ErrBadTarget)
	}
	return &SurfaceProcessor{target: target, op: op}, nil
}

// Prepare clamps the crop, runs the video op into the surface, then maps
// the surface and copies its rows into a fresh tensor. The surface is
// unmapped on every path out.
func (p *SurfaceProcessor) Prepare(src *media.Frame, crop *media.Rect) (*tensor.Tensor, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.busy.Store(false)

	rect := src.Bounds()
	if crop != nil {
		var err error
		rect, err = ClampCrop(*crop, src.Width, src.Height)
		if err != nil {
			return nil, err
		}
	}

	if p.surf == nil {
		s, err := surface.Alloc(p.target.Width, p.target.Height, p.target.Format)
		if err != nil {
			return nil, err
		}
		p.surf = s
	}

	if err := p.op.Process(src, rect, p.surf); err != nil {
		return nil, fmt.Errorf("video op: %w", err)
	}

	data, err := p.surf.Map()
	if err != nil {
		return nil, err
	}
	defer p.surf.Unmap()

	return packedToTensor(data, p.surf.Pitch(), p.target.Format, p.target)
}

// Close releases the persistent surface
func (p *SurfaceProcessor) Close() error {
	if p.surf != nil {
		err := p.surf.Close()
		p.surf = nil
		return err
	}
	return nil
}
