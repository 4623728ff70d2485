package tensor

// Precision identifies the element type of a tensor
type Precision int

const (
	PrecisionU8 Precision = iota
	PrecisionU16
	PrecisionFP16
	PrecisionFP32
	PrecisionI32
)

// Size returns bytes per element
func (p Precision) Size() int {
	switch p {
	case PrecisionU8:
		return 1
	case PrecisionU16, PrecisionFP16:
		return 2
	case PrecisionFP32, PrecisionI32:
		return 4
	}
	return 0
}

// String returns the precision name
func (p Precision) String() string {
	switch p {
	case PrecisionU8:
		return "u8"
	case PrecisionU16:
		return "u16"
	case PrecisionFP16:
		return "fp16"
	case PrecisionFP32:
		return "fp32"
	case PrecisionI32:
		return "i32"
	}
	return "unknown"
}

// Layout tags the dimension ordering of a tensor
type Layout int

const (
	LayoutAny Layout = iota
	LayoutNCHW
	LayoutNHWC
	LayoutCHW
	LayoutHW
	LayoutNC
	Layout1D
)

// String returns the layout name
func (l Layout) String() string {
	switch l {
	case LayoutNCHW:
		return "nchw"
	case LayoutNHWC:
		return "nhwc"
	case LayoutCHW:
		return "chw"
	case LayoutHW:
		return "hw"
	case LayoutNC:
		return "nc"
	case Layout1D:
		return "1d"
	}
	return "any"
}

// Batched reports whether the layout's leading dimension is a batch
func (l Layout) Batched() bool {
	switch l {
	case LayoutNCHW, LayoutNHWC, LayoutNC:
		return true
	}
	return false
}

// Shape holds tensor dimensions, outermost first
type Shape []int

// Elems returns the total element count
func (s Shape) Elems() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Dim returns dimension i, or 1 when the shape has fewer dimensions
func (s Shape) Dim(i int) int {
	if i < 0 || i >= len(s) {
		return 1
	}
	return s[i]
}

// Clone returns an independent copy of the shape
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}
