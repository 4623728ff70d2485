// Package surface manages page-aligned image memory standing in for the
// video surfaces a hardware scale engine writes into. Access follows the
// map, read, unmap discipline of real surface APIs.
package surface

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/emergingrobotics/inferpipe/pkg/media"
)

// PageSize is the system page size (typically 4096 bytes)
const PageSize = 4096

// PitchAlign is the byte alignment applied to the surface pitch, matching
// the padding hardware engines require
const PitchAlign = 64

type surfaceError string

func (e surfaceError) Error() string { return string(e) }

const (
	// ErrAllocationFailure wraps a failed surface allocation
	ErrAllocationFailure = surfaceError("surface: allocation failure")
	// ErrAlreadyMapped is returned by Map on a mapped surface
	ErrAlreadyMapped = surfaceError("surface: already mapped")
	// ErrNotMapped is returned by Unmap on an unmapped surface
	ErrNotMapped = surfaceError("surface: not mapped")
	// ErrClosed is returned when using a closed surface
	ErrClosed = surfaceError("surface: closed")
)

// Surface is a packed-format image in page-aligned memory. The pixel data
// is only accessible between Map and Unmap.
type Surface struct {
	width  int
	height int
	format media.PixelFormat
	pitch  int

	data          []byte
	allocatedSize int

	mu     sync.Mutex
	mapped bool
	closed bool
}

// Alloc creates a surface for a packed pixel format. The allocation is
// rounded up to page size and the pitch to PitchAlign.
func Alloc(width, height int, format media.PixelFormat) (*Surface, error) {
	if !format.Packed() {
		return nil, fmt.Errorf("%w: format %s is not packed", ErrAllocationFailure, format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrAllocationFailure, width, height)
	}

	pitch := ((width*format.PixelSize() + PitchAlign - 1) / PitchAlign) * PitchAlign
	size := pitch * height
	alignedSize := ((size + PageSize - 1) / PageSize) * PageSize

	data, err := unix.Mmap(-1, 0, alignedSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap: %v", ErrAllocationFailure, err)
	}

	return &Surface{
		width:         width,
		height:        height,
		format:        format,
		pitch:         pitch,
		data:          data,
		allocatedSize: alignedSize,
	}, nil
}

// Width returns the surface width in pixels
func (s *Surface) Width() int { return s.width }

// Height returns the surface height in pixels
func (s *Surface) Height() int { return s.height }

// Format returns the surface pixel format
func (s *Surface) Format() media.PixelFormat { return s.format }

// Pitch returns the byte stride between rows
func (s *Surface) Pitch() int { return s.pitch }

// Map exposes the surface memory for CPU access. Mapping an already
// mapped surface is an error; callers pair every Map with an Unmap.
func (s *Surface) Map() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.mapped {
		return nil, ErrAlreadyMapped
	}
	s.mapped = true
	return s.data[:s.pitch*s.height], nil
}

// Unmap ends a Map. The slice returned by Map must not be used afterwards.
func (s *Surface) Unmap() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.mapped {
		return ErrNotMapped
	}
	s.mapped = false
	return nil
}

// Frame wraps the mapped bytes as a frame view over the surface
func (s *Surface) Frame(data []byte) (*media.Frame, error) {
	return media.WrapFrame(s.width, s.height, s.format, [][]byte{data}, []int{s.pitch})
}

// Close releases the surface memory. Closing twice is harmless.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.mapped = false

	if s.data != nil {
		if err := unix.Munmap(s.data[:s.allocatedSize]); err != nil {
			return fmt.Errorf("munmap failed: %w", err)
		}
		s.data = nil
	}
	return nil
}
