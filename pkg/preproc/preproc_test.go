//go:build unit

package preproc

import (
	"errors"
	"testing"

	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/surface"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

func TestClampCrop(t *testing.T) {
	tests := []struct {
		name    string
		in      media.Rect
		want    media.Rect
		wantErr bool
	}{
		{"inside", media.Rect{X0: 10, Y0: 10, X1: 50, Y1: 40}, media.Rect{X0: 10, Y0: 10, X1: 50, Y1: 40}, false},
		{"negative origin", media.Rect{X0: -5, Y0: -8, X1: 20, Y1: 20}, media.Rect{X0: 0, Y0: 0, X1: 20, Y1: 20}, false},
		{"overhang right bottom", media.Rect{X0: 90, Y0: 70, X1: 200, Y1: 200}, media.Rect{X0: 90, Y0: 70, X1: 100, Y1: 80}, false},
		{"origin past width", media.Rect{X0: 100, Y0: 0, X1: 120, Y1: 20}, media.Rect{}, true},
		{"origin past height", media.Rect{X0: 0, Y0: 80, X1: 20, Y1: 100}, media.Rect{}, true},
		{"empty after clamp", media.Rect{X0: 10, Y0: 10, X1: 10, Y1: 40}, media.Rect{}, true},
		{"inverted", media.Rect{X0: 40, Y0: 10, X1: 20, Y1: 40}, media.Rect{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClampCrop(tt.in, 100, 80)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRegion) {
					t.Fatalf("expected ErrInvalidRegion, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

// solidFrame fills a packed frame with one repeating pixel
func solidFrame(t *testing.T, w, h int, format media.PixelFormat, px []byte) *media.Frame {
	t.Helper()
	f, err := media.NewFrame(w, h, format)
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < h; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := 0; x < w; x++ {
			copy(row[x*len(px):], px)
		}
	}
	return f
}

func TestSoftwareFastPathCopy(t *testing.T) {
	target := Target{Width: 4, Height: 3, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8}
	p, err := NewSoftware(target)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer p.Close()

	f := solidFrame(t, 4, 3, media.FormatBGR24, []byte{10, 20, 30})
	out, err := p.Prepare(f, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if out.Shape.Dim(1) != 3 || out.Shape.Dim(2) != 4 || out.Shape.Dim(3) != 3 {
		t.Fatalf("unexpected shape %v", out.Shape)
	}
	for i := 0; i < len(out.Data); i += 3 {
		if out.Data[i] != 10 || out.Data[i+1] != 20 || out.Data[i+2] != 30 {
			t.Fatalf("pixel %d = %v, expected 10 20 30", i/3, out.Data[i:i+3])
		}
	}
}

func TestSoftwareFastPathSwap(t *testing.T) {
	target := Target{Width: 2, Height: 2, Format: media.FormatRGB24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8}
	p, err := NewSoftware(target)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := solidFrame(t, 2, 2, media.FormatBGR24, []byte{10, 20, 30})
	out, err := p.Prepare(f, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	for i := 0; i < len(out.Data); i += 3 {
		if out.Data[i] != 30 || out.Data[i+1] != 20 || out.Data[i+2] != 10 {
			t.Fatalf("pixel %d = %v, expected 30 20 10", i/3, out.Data[i:i+3])
		}
	}
}

func TestSoftwareCropFastPath(t *testing.T) {
	target := Target{Width: 2, Height: 2, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8}
	p, err := NewSoftware(target)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := solidFrame(t, 8, 8, media.FormatBGR24, []byte{1, 1, 1})
	// Paint the 2x2 region at (4,4) a different color
	for y := 4; y < 6; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := 4; x < 6; x++ {
			row[x*3], row[x*3+1], row[x*3+2] = 9, 8, 7
		}
	}

	crop := media.Rect{X0: 4, Y0: 4, X1: 6, Y1: 6}
	out, err := p.Prepare(f, &crop)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	for i := 0; i < len(out.Data); i += 3 {
		if out.Data[i] != 9 || out.Data[i+1] != 8 || out.Data[i+2] != 7 {
			t.Fatalf("pixel %d = %v, expected 9 8 7", i/3, out.Data[i:i+3])
		}
	}
}

func TestSoftwareCropInvalid(t *testing.T) {
	target := Target{Width: 2, Height: 2, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8}
	p, err := NewSoftware(target)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := solidFrame(t, 8, 8, media.FormatBGR24, []byte{1, 1, 1})
	crop := media.Rect{X0: 8, Y0: 0, X1: 12, Y1: 4}
	if _, err := p.Prepare(f, &crop); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("expected ErrInvalidRegion, got %v", err)
	}
}

func TestSoftwareScaleSolid(t *testing.T) {
	target := Target{Width: 4, Height: 4, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8}
	p, err := NewSoftware(target)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	// 8x8 solid BGRA downscaled 2x keeps the color everywhere
	f := solidFrame(t, 8, 8, media.FormatBGRA, []byte{40, 80, 120, 255})
	out, err := p.Prepare(f, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if out.ByteSize() != 4*4*3 {
		t.Fatalf("expected %d bytes, got %d", 4*4*3, out.ByteSize())
	}
	for i := 0; i < len(out.Data); i += 3 {
		if out.Data[i] != 40 || out.Data[i+1] != 80 || out.Data[i+2] != 120 {
			t.Fatalf("pixel %d = %v, expected 40 80 120", i/3, out.Data[i:i+3])
		}
	}
}

func TestSoftwareNCHWPlanes(t *testing.T) {
	target := Target{Width: 2, Height: 2, Format: media.FormatRGB24, Layout: tensor.LayoutNCHW, Precision: tensor.PrecisionU8}
	p, err := NewSoftware(target)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := solidFrame(t, 2, 2, media.FormatBGR24, []byte{10, 20, 30})
	out, err := p.Prepare(f, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if out.Shape.Dim(1) != 3 || out.Shape.Dim(2) != 2 || out.Shape.Dim(3) != 2 {
		t.Fatalf("unexpected shape %v", out.Shape)
	}
	// RGB plane order from a BGR source
	want := []byte{30, 30, 30, 30, 20, 20, 20, 20, 10, 10, 10, 10}
	for i, e := range want {
		if out.Data[i] != e {
			t.Fatalf("plane byte %d = %d, expected %d", i, out.Data[i], e)
		}
	}
}

func TestSoftwareNV12Gray(t *testing.T) {
	target := Target{Width: 4, Height: 4, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8}
	p, err := NewSoftware(target)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f, err := media.NewFrame(4, 4, media.FormatNV12)
	if err != nil {
		t.Fatal(err)
	}
	for i := range f.Data[0] {
		f.Data[0][i] = 100 // luma
	}
	for i := range f.Data[1] {
		f.Data[1][i] = 128 // neutral chroma
	}

	out, err := p.Prepare(f, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	for i, v := range out.Data {
		if v != 100 {
			t.Fatalf("byte %d = %d, expected neutral gray 100", i, v)
		}
	}
}

func TestSoftwareFP32(t *testing.T) {
	target := Target{Width: 2, Height: 1, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionFP32}
	p, err := NewSoftware(target)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := solidFrame(t, 2, 1, media.FormatBGR24, []byte{0, 128, 255})
	out, err := p.Prepare(f, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	vals, err := out.Floats()
	if err != nil {
		t.Fatalf("floats: %v", err)
	}
	if vals[0] != 0 || vals[1] != 128 || vals[2] != 255 {
		t.Fatalf("expected raw sample values, got %v", vals[:3])
	}
}

func TestNewSoftwareRejectsTarget(t *testing.T) {
	bad := []Target{
		{Width: 0, Height: 2, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8},
		{Width: 2, Height: 2, Format: media.FormatNV12, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8},
		{Width: 2, Height: 2, Format: media.FormatBGRA, Layout: tensor.LayoutNCHW, Precision: tensor.PrecisionU8},
		{Width: 2, Height: 2, Format: media.FormatBGR24, Layout: tensor.LayoutNC, Precision: tensor.PrecisionU8},
		{Width: 2, Height: 2, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionFP16},
	}
	for i, tgt := range bad {
		if _, err := NewSoftware(tgt); !errors.Is(err, ErrBadTarget) {
			t.Fatalf("target %d: expected ErrBadTarget, got %v", i, err)
		}
	}
}

// fillOp writes one repeating pixel into the destination surface
type fillOp struct {
	px       []byte
	calls    int
	lastDst  *surface.Surface
	lastCrop media.Rect
	err      error
}

func (o *fillOp) Process(src *media.Frame, crop media.Rect, dst *surface.Surface) error {
	o.calls++
	o.lastDst = dst
	o.lastCrop = crop
	if o.err != nil {
		return o.err
	}
	data, err := dst.Map()
	if err != nil {
		return err
	}
	defer dst.Unmap()
	ps := dst.Format().PixelSize()
	for y := 0; y < dst.Height(); y++ {
		row := data[y*dst.Pitch():]
		for x := 0; x < dst.Width(); x++ {
			copy(row[x*ps:], o.px)
		}
	}
	return nil
}

func TestSurfaceProcessor(t *testing.T) {
	target := Target{Width: 4, Height: 2, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8}
	op := &fillOp{px: []byte{5, 6, 7}}
	p, err := NewSurfaceProcessor(target, op)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer p.Close()

	f := solidFrame(t, 64, 48, media.FormatBGR24, []byte{1, 1, 1})
	out, err := p.Prepare(f, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	for i := 0; i < len(out.Data); i += 3 {
		if out.Data[i] != 5 || out.Data[i+1] != 6 || out.Data[i+2] != 7 {
			t.Fatalf("pixel %d = %v, expected 5 6 7", i/3, out.Data[i:i+3])
		}
	}
	if op.lastCrop != f.Bounds() {
		t.Fatalf("expected full-frame crop, got %+v", op.lastCrop)
	}

	// The surface persists across calls
	first := op.lastDst
	if _, err := p.Prepare(f, nil); err != nil {
		t.Fatalf("second prepare: %v", err)
	}
	if op.lastDst != first {
		t.Fatal("surface was recreated between same-size prepares")
	}
	if op.calls != 2 {
		t.Fatalf("expected 2 video op calls, got %d", op.calls)
	}
}

func TestSurfaceProcessorCropClamped(t *testing.T) {
	target := Target{Width: 4, Height: 2, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8}
	op := &fillOp{px: []byte{1, 2, 3}}
	p, err := NewSurfaceProcessor(target, op)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := solidFrame(t, 32, 32, media.FormatBGR24, []byte{0, 0, 0})
	crop := media.Rect{X0: -4, Y0: 8, X1: 40, Y1: 24}
	if _, err := p.Prepare(f, &crop); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	want := media.Rect{X0: 0, Y0: 8, X1: 32, Y1: 24}
	if op.lastCrop != want {
		t.Fatalf("expected clamped crop %+v, got %+v", want, op.lastCrop)
	}
}

func TestSurfaceProcessorOpError(t *testing.T) {
	target := Target{Width: 4, Height: 2, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8}
	op := &fillOp{px: []byte{1, 2, 3}, err: errors.New("engine fault")}
	p, err := NewSurfaceProcessor(target, op)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := solidFrame(t, 8, 8, media.FormatBGR24, []byte{0, 0, 0})
	if _, err := p.Prepare(f, nil); err == nil {
		t.Fatal("expected video op error")
	}

	// The processor stays usable after a failed op
	op.err = nil
	if _, err := p.Prepare(f, nil); err != nil {
		t.Fatalf("prepare after failure: %v", err)
	}
}

// blockingOp parks inside Process until released
type blockingOp struct {
	entered chan struct{}
	release chan struct{}
}

func (o *blockingOp) Process(src *media.Frame, crop media.Rect, dst *surface.Surface) error {
	select {
	case o.entered <- struct{}{}:
	default:
	}
	<-o.release
	return nil
}

func TestSurfaceProcessorBusy(t *testing.T) {
	target := Target{Width: 4, Height: 2, Format: media.FormatBGR24, Layout: tensor.LayoutNHWC, Precision: tensor.PrecisionU8}
	op := &blockingOp{entered: make(chan struct{}, 1), release: make(chan struct{})}
	p, err := NewSurfaceProcessor(target, op)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := solidFrame(t, 8, 8, media.FormatBGR24, []byte{0, 0, 0})
	done := make(chan error, 1)
	go func() {
		_, err := p.Prepare(f, nil)
		done <- err
	}()

	<-op.entered
	if _, err := p.Prepare(f, nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent prepare error = %v, expected ErrBusy", err)
	}

	close(op.release)
	if err := <-done; err != nil {
		t.Fatalf("first prepare: %v", err)
	}

	// The guard clears once the in-flight call returns
	if _, err := p.Prepare(f, nil); err != nil {
		t.Fatalf("prepare after release: %v", err)
	}
}
