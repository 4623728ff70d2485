package infer

// inferError is a simple error type for the infer package
type inferError string

func (e inferError) Error() string { return string(e) }

// Errors for request pool operations
const (
	ErrPoolClosed    = inferError("pool is closed")
	ErrPoolExhausted = inferError("no free request slot")
	ErrFlushTimeout  = inferError("flush iteration limit exceeded")
	ErrNilBackend    = inferError("pool requires a backend")
	ErrBadRequests   = inferError("request count out of range")
	ErrBadBatchSize  = inferError("batch size out of range")
)
