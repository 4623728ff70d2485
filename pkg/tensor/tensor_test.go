//go:build unit

package tensor

import (
	"errors"
	"testing"
)

func TestNewAllocatesByShape(t *testing.T) {
	tests := []struct {
		name      string
		shape     Shape
		precision Precision
		bytes     int
	}{
		{"nchw u8", Shape{1, 3, 224, 224}, PrecisionU8, 3 * 224 * 224},
		{"nchw fp32", Shape{2, 3, 8, 8}, PrecisionFP32, 2 * 3 * 8 * 8 * 4},
		{"nc fp16", Shape{4, 256}, PrecisionFP16, 4 * 256 * 2},
		{"1d", Shape{7}, PrecisionI32, 28},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tn, err := New(tt.shape, tt.precision, LayoutAny)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if len(tn.Data) != tt.bytes {
				t.Errorf("len(Data) = %d, expected %d", len(tn.Data), tt.bytes)
			}
			if tn.ByteSize() != tt.bytes {
				t.Errorf("ByteSize() = %d, expected %d", tn.ByteSize(), tt.bytes)
			}
		})
	}

	if _, err := New(nil, PrecisionU8, LayoutAny); !errors.Is(err, ErrEmptyShape) {
		t.Errorf("nil shape: err = %v", err)
	}
	if _, err := New(Shape{0, 3}, PrecisionU8, LayoutAny); err == nil {
		t.Error("zero dim should fail")
	}
}

func TestWrapValidatesLength(t *testing.T) {
	data := make([]byte, 3*4*4)
	if _, err := Wrap(Shape{3, 4, 4}, PrecisionU8, LayoutCHW, data); err != nil {
		t.Fatalf("valid wrap: %v", err)
	}
	if _, err := Wrap(Shape{3, 4, 4}, PrecisionFP32, LayoutCHW, data); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("short data: err = %v", err)
	}
}

func TestBatchAccessors(t *testing.T) {
	tn, err := New(Shape{4, 256}, PrecisionFP32, LayoutNC)
	if err != nil {
		t.Fatal(err)
	}
	if tn.Batch() != 4 {
		t.Errorf("Batch() = %d, expected 4", tn.Batch())
	}
	if tn.UnbatchedSize() != 256*4 {
		t.Errorf("UnbatchedSize() = %d, expected %d", tn.UnbatchedSize(), 256*4)
	}

	b, err := tn.BatchBytes(3)
	if err != nil {
		t.Fatalf("BatchBytes: %v", err)
	}
	if len(b) != 256*4 {
		t.Errorf("batch slice length = %d", len(b))
	}
	if _, err := tn.BatchBytes(4); !errors.Is(err, ErrBatchOutRange) {
		t.Errorf("out of range: err = %v", err)
	}

	// Unbatched layouts report a single batch
	hw, _ := New(Shape{8, 8}, PrecisionU8, LayoutHW)
	if hw.Batch() != 1 {
		t.Errorf("HW Batch() = %d, expected 1", hw.Batch())
	}
}

func TestFloatsAliasesData(t *testing.T) {
	tn, err := FromFloats(Shape{4}, Layout1D, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	f, err := tn.Floats()
	if err != nil {
		t.Fatal(err)
	}
	if f[2] != 3 {
		t.Errorf("f[2] = %v, expected 3", f[2])
	}

	f[0] = 42
	f2, _ := tn.Floats()
	if f2[0] != 42 {
		t.Error("Floats() does not alias the underlying data")
	}

	u8, _ := New(Shape{4}, PrecisionU8, Layout1D)
	if _, err := u8.Floats(); !errors.Is(err, ErrWrongType) {
		t.Errorf("u8 Floats: err = %v", err)
	}
}

func TestPrecisionAndLayoutStrings(t *testing.T) {
	if PrecisionFP32.Size() != 4 || PrecisionU8.Size() != 1 || PrecisionFP16.Size() != 2 {
		t.Error("wrong element sizes")
	}
	if PrecisionFP32.String() != "fp32" || LayoutNCHW.String() != "nchw" {
		t.Error("wrong enum names")
	}
	if !LayoutNCHW.Batched() || !LayoutNC.Batched() || LayoutCHW.Batched() || LayoutHW.Batched() {
		t.Error("wrong Batched() classification")
	}
}

func TestShapeHelpers(t *testing.T) {
	s := Shape{2, 3, 4}
	if s.Elems() != 24 {
		t.Errorf("Elems() = %d", s.Elems())
	}
	if s.Dim(1) != 3 || s.Dim(5) != 1 || s.Dim(-1) != 1 {
		t.Error("Dim() out-of-range handling wrong")
	}

	c := s.Clone()
	c[0] = 9
	if s[0] != 2 {
		t.Error("Clone() shares backing array")
	}
}
