package preproc

import (
	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
	"github.com/emergingrobotics/inferpipe/pkg/transform"
)

// packedToTensor converts one packed plane, already at target resolution,
// into a tensor in the target layout, channel order, and precision.
func packedToTensor(src []byte, srcStride int, srcFormat media.PixelFormat, target Target) (*tensor.Tensor, error) {
	w, h := target.Width, target.Height
	swap := rFirst(srcFormat) != rFirst(target.Format)
	srcCh := srcFormat.PixelSize()
	dstCh := target.Format.PixelSize()

	shape := target.shape()
	u8 := make([]byte, shape.Elems())

	switch target.Layout {
	case tensor.LayoutNHWC:
		dstStride := w * dstCh
		switch {
		case srcCh == 3 && dstCh == 3:
			if swap {
				transform.SwapRB24(src, u8, h, w, srcStride, dstStride)
			} else {
				transform.CopyPlane(src, u8, h, w*3, srcStride, dstStride)
			}
		case srcCh == 4 && dstCh == 4:
			if swap {
				transform.SwapRB32(src, u8, h, w, srcStride, dstStride)
			} else {
				transform.CopyPlane(src, u8, h, w*4, srcStride, dstStride)
			}
		case srcCh == 4 && dstCh == 3:
			transform.DropAlpha(src, u8, h, w, srcStride, dstStride, swap)
		case srcCh == 3 && dstCh == 4:
			transform.AddAlpha(src, u8, h, w, srcStride, dstStride, swap)
		default:
			return nil, ErrUnsupportedFormat
		}
	case tensor.LayoutNCHW:
		switch srcCh {
		case 3:
			transform.PackNCHW(src, u8, h, w, 3, srcStride, swap)
		case 4:
			transform.PackNCHWDropAlpha(src, u8, h, w, srcStride, swap)
		default:
			return nil, ErrUnsupportedFormat
		}
	}

	if target.Precision == tensor.PrecisionU8 {
		return tensor.Wrap(shape, tensor.PrecisionU8, target.Layout, u8)
	}

	out, err := tensor.New(shape, tensor.PrecisionFP32, target.Layout)
	if err != nil {
		return nil, err
	}
	f, err := out.Floats()
	if err != nil {
		return nil, err
	}
	transform.NormalizeU8(u8, f, 0, 1)
	return out, nil
}
