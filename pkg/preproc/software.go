package preproc

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"

	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
	"github.com/emergingrobotics/inferpipe/pkg/transform"
)

// Software scales and converts frames on the CPU. Staging buffers are
// reused across calls, so a Software value serializes its own Prepares.
type Software struct {
	target Target

	mu      sync.Mutex
	staging *image.RGBA // source region expanded to RGBA
	scaled  *image.RGBA // bilinear destination at target size
}

// NewSoftware creates a CPU preprocessor for the given target
func NewSoftware(target Target) (*Software, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	return &Software{target: target}, nil
}

// Prepare converts the frame, or the cropped region of it, into a fresh
// input tensor. When the region already matches the target resolution in
// a packed format the pixels move with a plane copy or channel swap and
// no scaling runs.
func (p *Software) Prepare(src *media.Frame, crop *media.Rect) (*tensor.Tensor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if src == nil || src.Format.Planes() == 0 {
		return nil, ErrUnsupportedFormat
	}

	region := src
	if crop != nil {
		rect, err := ClampCrop(*crop, src.Width, src.Height)
		if err != nil {
			return nil, err
		}
		region, err = src.Region(rect)
		if err != nil {
			return nil, err
		}
	}

	atSize := region.Width == p.target.Width && region.Height == p.target.Height

	// Fast path: packed pixels already at target resolution
	if atSize && region.Format.Packed() {
		return packedToTensor(region.Data[0], region.Stride[0], region.Format, p.target)
	}

	rgba, err := p.toStaging(region)
	if err != nil {
		return nil, err
	}
	if atSize {
		return packedToTensor(rgba.Pix, rgba.Stride, media.FormatRGBA, p.target)
	}

	if p.scaled == nil {
		p.scaled = image.NewRGBA(image.Rect(0, 0, p.target.Width, p.target.Height))
	}
	draw.BiLinear.Scale(p.scaled, p.scaled.Bounds(), rgba, rgba.Bounds(), draw.Src, nil)
	return packedToTensor(p.scaled.Pix, p.scaled.Stride, media.FormatRGBA, p.target)
}

// Close releases nothing; the staging buffers are plain Go memory
func (p *Software) Close() error { return nil }

// toStaging expands the region into the reused RGBA staging image
func (p *Software) toStaging(f *media.Frame) (*image.RGBA, error) {
	if p.staging == nil || p.staging.Rect.Dx() != f.Width || p.staging.Rect.Dy() != f.Height {
		p.staging = image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	}
	dst, stride := p.staging.Pix, p.staging.Stride

	switch f.Format {
	case media.FormatRGBA:
		transform.CopyPlane(f.Data[0], dst, f.Height, f.Width*4, f.Stride[0], stride)
	case media.FormatBGRA:
		transform.SwapRB32(f.Data[0], dst, f.Height, f.Width, f.Stride[0], stride)
	case media.FormatRGB24:
		transform.AddAlpha(f.Data[0], dst, f.Height, f.Width, f.Stride[0], stride, false)
	case media.FormatBGR24:
		transform.AddAlpha(f.Data[0], dst, f.Height, f.Width, f.Stride[0], stride, true)
	case media.FormatRGBP:
		transform.PlanesToRGBA(f.Data[0], f.Data[1], f.Data[2],
			f.Stride[0], f.Stride[1], f.Stride[2],
			dst, f.Height, f.Width, stride)
	case media.FormatNV12, media.FormatI420:
		p.yuvToStaging(f)
	default:
		return nil, ErrUnsupportedFormat
	}
	return p.staging, nil
}

// yuvToStaging expands 4:2:0 chroma and converts to RGBA
func (p *Software) yuvToStaging(f *media.Frame) {
	dst, stride := p.staging.Pix, p.staging.Stride
	for y := 0; y < f.Height; y++ {
		yrow := f.Data[0][y*f.Stride[0]:]
		drow := dst[y*stride:]
		cy := y / 2
		for x := 0; x < f.Width; x++ {
			var u, v uint8
			if f.Format == media.FormatNV12 {
				c := f.Data[1][cy*f.Stride[1]+(x/2)*2:]
				u, v = c[0], c[1]
			} else {
				u = f.Data[1][cy*f.Stride[1]+x/2]
				v = f.Data[2][cy*f.Stride[2]+x/2]
			}
			r, g, b := color.YCbCrToRGB(yrow[x], u, v)
			drow[x*4] = r
			drow[x*4+1] = g
			drow[x*4+2] = b
			drow[x*4+3] = 255
		}
	}
}
