package preproc

type preprocError string

func (e preprocError) Error() string { return string(e) }

const (
	// ErrInvalidRegion is returned when a crop lies outside the frame or
	// collapses to an empty rectangle after clamping
	ErrInvalidRegion = preprocError("preproc: invalid region")
	// ErrUnsupportedFormat is returned for pixel formats the path cannot read
	ErrUnsupportedFormat = preprocError("preproc: unsupported pixel format")
	// ErrBadTarget is returned by constructors for an unusable target
	ErrBadTarget = preprocError("preproc: bad target description")
	// ErrBusy is returned when a second Prepare enters a non-reentrant path
	ErrBusy = preprocError("preproc: prepare already in flight")
)
