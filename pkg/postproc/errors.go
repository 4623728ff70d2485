package postproc

// postprocError is a simple error type for the postproc package
type postprocError string

func (e postprocError) Error() string { return string(e) }

// Errors for rule parsing and tensor decoding
const (
	ErrConfigParse      = postprocError("cannot parse postproc configuration")
	ErrMalformedOutput  = postprocError("malformed output tensor")
	ErrUnknownConverter = postprocError("unknown converter")
)
