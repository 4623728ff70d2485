package media

// PixelFormat identifies the pixel layout of a frame
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatBGR24
	FormatRGB24
	FormatBGRA
	FormatRGBA
	FormatRGBP // planar RGB, one plane per channel
	FormatNV12 // Y plane + interleaved UV at half resolution
	FormatI420 // Y plane + separate U and V at half resolution
)

// String returns the format name
func (f PixelFormat) String() string {
	switch f {
	case FormatBGR24:
		return "bgr24"
	case FormatRGB24:
		return "rgb24"
	case FormatBGRA:
		return "bgra"
	case FormatRGBA:
		return "rgba"
	case FormatRGBP:
		return "rgbp"
	case FormatNV12:
		return "nv12"
	case FormatI420:
		return "i420"
	}
	return "unknown"
}

// Planes returns the number of data planes for the format
func (f PixelFormat) Planes() int {
	switch f {
	case FormatBGR24, FormatRGB24, FormatBGRA, FormatRGBA:
		return 1
	case FormatNV12:
		return 2
	case FormatRGBP, FormatI420:
		return 3
	}
	return 0
}

// Packed reports whether all channels live interleaved in a single plane
func (f PixelFormat) Packed() bool {
	switch f {
	case FormatBGR24, FormatRGB24, FormatBGRA, FormatRGBA:
		return true
	}
	return false
}

// PixelSize returns bytes per pixel for packed formats, 0 otherwise
func (f PixelFormat) PixelSize() int {
	switch f {
	case FormatBGR24, FormatRGB24:
		return 3
	case FormatBGRA, FormatRGBA:
		return 4
	}
	return 0
}

// PlaneDims returns the sample dimensions of plane i for a frame of the
// given size. Chroma planes of NV12 and I420 are subsampled 2x2; an NV12
// chroma sample is an interleaved UV pair, two bytes wide.
func (f PixelFormat) PlaneDims(i, width, height int) (int, int) {
	if i == 0 {
		return width, height
	}
	switch f {
	case FormatRGBP:
		return width, height
	case FormatNV12, FormatI420:
		return (width + 1) / 2, (height + 1) / 2
	}
	return 0, 0
}
