// Package preproc converts decoded frames, or cropped regions of them,
// into the input tensors a model expects. A software path does the work
// on the CPU; a surface path drives a hardware scale engine through
// video memory.
package preproc

import (
	"fmt"

	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

// Target describes the tensor a model expects for one image.
type Target struct {
	Width  int
	Height int
	// Format fixes the channel order of the produced tensor. Must be a
	// packed format; NCHW targets additionally require three channels.
	Format    media.PixelFormat
	Layout    tensor.Layout    // LayoutNHWC or LayoutNCHW
	Precision tensor.Precision // PrecisionU8 or PrecisionFP32
}

// Preprocessor turns one frame region into a model input tensor. A nil
// crop selects the whole frame.
type Preprocessor interface {
	Prepare(src *media.Frame, crop *media.Rect) (*tensor.Tensor, error)
	Close() error
}

func (t Target) validate() error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrBadTarget, t.Width, t.Height)
	}
	if !t.Format.Packed() {
		return fmt.Errorf("%w: format %s is not packed", ErrBadTarget, t.Format)
	}
	switch t.Layout {
	case tensor.LayoutNHWC:
	case tensor.LayoutNCHW:
		if t.Format.PixelSize() != 3 {
			return fmt.Errorf("%w: NCHW needs a 3 channel format, got %s", ErrBadTarget, t.Format)
		}
	default:
		return fmt.Errorf("%w: layout %s", ErrBadTarget, t.Layout)
	}
	switch t.Precision {
	case tensor.PrecisionU8, tensor.PrecisionFP32:
	default:
		return fmt.Errorf("%w: precision %s", ErrBadTarget, t.Precision)
	}
	return nil
}

// shape returns the produced tensor shape, batch dimension included
func (t Target) shape() tensor.Shape {
	if t.Layout == tensor.LayoutNCHW {
		return tensor.Shape{1, 3, t.Height, t.Width}
	}
	return tensor.Shape{1, t.Height, t.Width, t.Format.PixelSize()}
}

// ClampCrop clamps a requested crop to the frame. Negative origins move
// to zero and extents pull in to the frame edge. A crop that starts past
// the frame, or is empty after clamping, is invalid.
func ClampCrop(r media.Rect, width, height int) (media.Rect, error) {
	if r.X0 < 0 {
		r.X0 = 0
	}
	if r.Y0 < 0 {
		r.Y0 = 0
	}
	if r.X0 >= width || r.Y0 >= height {
		return media.Rect{}, ErrInvalidRegion
	}
	if r.X1 > width {
		r.X1 = width
	}
	if r.Y1 > height {
		r.Y1 = height
	}
	if r.X1 <= r.X0 || r.Y1 <= r.Y0 {
		return media.Rect{}, ErrInvalidRegion
	}
	return r, nil
}

// rFirst reports whether the format stores red before blue
func rFirst(f media.PixelFormat) bool {
	switch f {
	case media.FormatRGB24, media.FormatRGBA, media.FormatRGBP:
		return true
	}
	return false
}
