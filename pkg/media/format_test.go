//go:build unit

package media

import "testing"

func TestFormatProperties(t *testing.T) {
	tests := []struct {
		format PixelFormat
		name   string
		planes int
		packed bool
		px     int
	}{
		{FormatBGR24, "bgr24", 1, true, 3},
		{FormatRGB24, "rgb24", 1, true, 3},
		{FormatBGRA, "bgra", 1, true, 4},
		{FormatRGBA, "rgba", 1, true, 4},
		{FormatRGBP, "rgbp", 3, false, 0},
		{FormatNV12, "nv12", 2, false, 0},
		{FormatI420, "i420", 3, false, 0},
		{FormatUnknown, "unknown", 0, false, 0},
	}

	for _, tt := range tests {
		if got := tt.format.String(); got != tt.name {
			t.Errorf("%v.String() = %q, expected %q", tt.format, got, tt.name)
		}
		if got := tt.format.Planes(); got != tt.planes {
			t.Errorf("%s.Planes() = %d, expected %d", tt.name, got, tt.planes)
		}
		if got := tt.format.Packed(); got != tt.packed {
			t.Errorf("%s.Packed() = %v, expected %v", tt.name, got, tt.packed)
		}
		if got := tt.format.PixelSize(); got != tt.px {
			t.Errorf("%s.PixelSize() = %d, expected %d", tt.name, got, tt.px)
		}
	}
}

func TestPlaneDimsSubsampling(t *testing.T) {
	w, h := FormatNV12.PlaneDims(1, 64, 48)
	if w != 32 || h != 24 {
		t.Errorf("NV12 chroma dims = %dx%d, expected 32x24", w, h)
	}

	w, h = FormatI420.PlaneDims(2, 65, 49)
	if w != 33 || h != 25 {
		t.Errorf("I420 chroma dims = %dx%d, expected 33x25 (rounded up)", w, h)
	}

	w, h = FormatRGBP.PlaneDims(1, 64, 48)
	if w != 64 || h != 48 {
		t.Errorf("RGBP plane dims = %dx%d, expected 64x48", w, h)
	}
}

func TestRectHelpers(t *testing.T) {
	r := Rect{X0: 10, Y0: 20, X1: 110, Y1: 70}
	if r.Width() != 100 || r.Height() != 50 {
		t.Errorf("size = %dx%d", r.Width(), r.Height())
	}
	if r.Empty() {
		t.Error("non-degenerate rect reported empty")
	}
	if !(Rect{X0: 5, Y0: 5, X1: 5, Y1: 10}).Empty() {
		t.Error("zero-width rect not reported empty")
	}

	got := r.Intersect(Rect{X0: 0, Y0: 0, X1: 50, Y1: 100})
	want := Rect{X0: 10, Y0: 20, X1: 50, Y1: 70}
	if got != want {
		t.Errorf("Intersect = %+v, expected %+v", got, want)
	}

	if got := r.Intersect(Rect{X0: 200, Y0: 200, X1: 300, Y1: 300}); got != (Rect{}) {
		t.Errorf("disjoint Intersect = %+v, expected zero rect", got)
	}
}
