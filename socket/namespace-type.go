package socket

// ExtendedError is the error a middleware rejects an attach with: a
// message plus an opaque payload that travels to the client inside the
// CONNECT_ERROR packet.
type ExtendedError struct {
	message string
	data    any
}

func NewExtendedError(message string, data any) *ExtendedError {
	return &ExtendedError{message: message, data: data}
}

func (e *ExtendedError) Err() error {
	return e
}

func (e *ExtendedError) Data() any {
	return e.data
}

func (e *ExtendedError) Error() string {
	return e.message
}
