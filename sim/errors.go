package sim

import "errors"

// The error kinds shared by every layer that touches a processor. Callers
// wrap one of these with fmt.Errorf("%w: ...") so that the protocol layer can
// classify the failure with errors.Is.
var (
	// ErrInvalidArgument marks a malformed address, length or alignment. It
	// is always reported before any I/O happens.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a missing processor, storage unit or file.
	ErrNotFound = errors.New("not found")

	// ErrProtocol marks a request frame that cannot be decoded.
	ErrProtocol = errors.New("protocol error")

	// ErrRuntime marks an unexpected failure, such as a panic raised by work
	// running on the simulation thread.
	ErrRuntime = errors.New("runtime failure")
)
