package media

import "fmt"

// Frame is a view over decoded pixel data. The pipeline borrows frames
// from the host for the duration of one call and never retains plane
// memory past it without copying.
type Frame struct {
	Width  int
	Height int
	Format PixelFormat
	Data   [][]byte // one buffer per plane
	Stride []int    // bytes per row, per plane
	PTS    int64    // presentation timestamp / ordering key
}

// NewFrame allocates a frame with tightly packed planes
func NewFrame(width, height int, format PixelFormat) (*Frame, error) {
	n := format.Planes()
	if n == 0 {
		return nil, ErrUnknownFormat
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	f := &Frame{
		Width:  width,
		Height: height,
		Format: format,
		Data:   make([][]byte, n),
		Stride: make([]int, n),
	}
	for i := 0; i < n; i++ {
		pw, ph := format.PlaneDims(i, width, height)
		stride := planeRowBytes(format, i, pw)
		f.Data[i] = make([]byte, stride*ph)
		f.Stride[i] = stride
	}
	return f, nil
}

// WrapFrame builds a frame around externally owned plane buffers
func WrapFrame(width, height int, format PixelFormat, data [][]byte, stride []int) (*Frame, error) {
	n := format.Planes()
	if n == 0 {
		return nil, ErrUnknownFormat
	}
	if len(data) != n || len(stride) != n {
		return nil, ErrPlaneCount
	}

	for i := 0; i < n; i++ {
		pw, ph := format.PlaneDims(i, width, height)
		row := planeRowBytes(format, i, pw)
		if stride[i] < row {
			return nil, fmt.Errorf("plane %d: %w", i, ErrShortStride)
		}
		// Last row only needs the visible bytes, not the full stride
		need := stride[i]*(ph-1) + row
		if len(data[i]) < need {
			return nil, fmt.Errorf("plane %d: %w", i, ErrShortPlane)
		}
	}

	return &Frame{
		Width:  width,
		Height: height,
		Format: format,
		Data:   data,
		Stride: stride,
	}, nil
}

// Region returns a zero-copy view of the rectangle r. Plane slices are
// re-based by stride and pixel offset arithmetic; no pixels are copied.
// Chroma plane origins floor to the nearest subsampled position.
func (f *Frame) Region(r Rect) (*Frame, error) {
	if r.X0 < 0 || r.Y0 < 0 || r.X1 > f.Width || r.Y1 > f.Height || r.Empty() {
		return nil, ErrRegionBounds
	}

	n := len(f.Data)
	view := &Frame{
		Width:  r.Width(),
		Height: r.Height(),
		Format: f.Format,
		Data:   make([][]byte, n),
		Stride: make([]int, n),
		PTS:    f.PTS,
	}
	for i := 0; i < n; i++ {
		x, y := r.X0, r.Y0
		if i > 0 {
			switch f.Format {
			case FormatNV12, FormatI420:
				x >>= 1
				y >>= 1
			}
		}
		offset := y*f.Stride[i] + x*planePixelStep(f.Format, i)
		view.Data[i] = f.Data[i][offset:]
		view.Stride[i] = f.Stride[i]
	}
	return view, nil
}

// Bounds returns the full-frame rectangle
func (f *Frame) Bounds() Rect {
	return Rect{X1: f.Width, Y1: f.Height}
}

// planeRowBytes returns the byte length of one visible row of plane i
func planeRowBytes(format PixelFormat, i, planeWidth int) int {
	return planeWidth * planePixelStep(format, i)
}

// planePixelStep returns bytes per horizontal step within plane i
func planePixelStep(format PixelFormat, i int) int {
	if format.Packed() {
		return format.PixelSize()
	}
	if format == FormatNV12 && i > 0 {
		return 2 // interleaved U and V
	}
	return 1
}
