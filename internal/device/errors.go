package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrReceiverNotFound) {
//	    // handle not found case
//	}
var (
	// ErrReceiverNotFound is returned when a receiver ID does not exist.
	ErrReceiverNotFound = errors.New("device: receiver not found")

	// ErrInvalidReceiver is returned when receiver validation fails.
	ErrInvalidReceiver = errors.New("device: invalid receiver")
)
