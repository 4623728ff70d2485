package media

// mediaError is a simple error type for the media package
type mediaError string

func (e mediaError) Error() string { return string(e) }

// Errors for frame construction and region views
const (
	ErrUnknownFormat = mediaError("unknown pixel format")
	ErrPlaneCount    = mediaError("wrong number of planes for format")
	ErrShortStride   = mediaError("stride smaller than plane row")
	ErrShortPlane    = mediaError("plane buffer too small")
	ErrRegionBounds  = mediaError("region outside frame bounds")
)
