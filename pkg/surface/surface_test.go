//go:build unit

package surface

import (
	"errors"
	"testing"

	"github.com/emergingrobotics/inferpipe/pkg/media"
)

func TestAllocAndMap(t *testing.T) {
	s, err := Alloc(100, 50, media.FormatBGRA)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	defer s.Close()

	// 100 px * 4 bytes = 400, aligned up to 448
	if s.Pitch() != 448 {
		t.Fatalf("expected pitch 448, got %d", s.Pitch())
	}

	data, err := s.Map()
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if len(data) != s.Pitch()*50 {
		t.Fatalf("expected %d mapped bytes, got %d", s.Pitch()*50, len(data))
	}

	data[0] = 0xAB
	if err := s.Unmap(); err != nil {
		t.Fatalf("unmap failed: %v", err)
	}

	// Contents persist across map cycles
	data, err = s.Map()
	if err != nil {
		t.Fatalf("second map failed: %v", err)
	}
	if data[0] != 0xAB {
		t.Fatalf("expected persisted byte 0xAB, got 0x%02X", data[0])
	}
	s.Unmap()
}

func TestMapStateErrors(t *testing.T) {
	s, err := Alloc(16, 16, media.FormatRGB24)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	defer s.Close()

	if err := s.Unmap(); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("expected ErrNotMapped, got %v", err)
	}

	if _, err := s.Map(); err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if _, err := s.Map(); !errors.Is(err, ErrAlreadyMapped) {
		t.Fatalf("expected ErrAlreadyMapped, got %v", err)
	}
	if err := s.Unmap(); err != nil {
		t.Fatalf("unmap failed: %v", err)
	}
}

func TestAllocRejects(t *testing.T) {
	if _, err := Alloc(16, 16, media.FormatNV12); !errors.Is(err, ErrAllocationFailure) {
		t.Fatalf("expected ErrAllocationFailure for planar format, got %v", err)
	}
	if _, err := Alloc(0, 16, media.FormatBGRA); !errors.Is(err, ErrAllocationFailure) {
		t.Fatalf("expected ErrAllocationFailure for zero width, got %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s, err := Alloc(16, 16, media.FormatBGRA)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if _, err := s.Map(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestFrameView(t *testing.T) {
	s, err := Alloc(8, 4, media.FormatBGR24)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	defer s.Close()

	data, err := s.Map()
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	defer s.Unmap()

	f, err := s.Frame(data)
	if err != nil {
		t.Fatalf("frame failed: %v", err)
	}
	if f.Width != 8 || f.Height != 4 || f.Stride[0] != s.Pitch() {
		t.Fatalf("frame geometry wrong: %dx%d stride %d", f.Width, f.Height, f.Stride[0])
	}

	// Frame aliases the mapped memory
	f.Data[0][5] = 0x5A
	if data[5] != 0x5A {
		t.Fatal("frame does not alias surface memory")
	}
}
