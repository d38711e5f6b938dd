package eiscp

import "errors"

// Domain errors for the eiscp package.
var (
	// ErrNotConnected is returned when a send is attempted while the
	// client has no established session.
	ErrNotConnected = errors.New("eiscp: not connected")

	// ErrAlreadyConnected is returned by Connect when a session is
	// already established or being established.
	ErrAlreadyConnected = errors.New("eiscp: connect already in progress or connected")

	// ErrConnectionFailed is returned when dialing the receiver fails.
	ErrConnectionFailed = errors.New("eiscp: connection failed")

	// ErrInvalidFrame is returned when a byte sequence is not a valid
	// ISCP frame.
	ErrInvalidFrame = errors.New("eiscp: invalid frame")

	// ErrInvalidResponse is returned when a discovery payload cannot be
	// parsed into a device description.
	ErrInvalidResponse = errors.New("eiscp: invalid discovery response")

	// ErrDiscoveryFailed is returned when the discovery socket fails.
	ErrDiscoveryFailed = errors.New("eiscp: discovery failed")

	// ErrNoDevices is returned by Connect when auto-discovery completes
	// without finding a receiver to connect to.
	ErrNoDevices = errors.New("eiscp: no devices discovered")

	// ErrSendFailed is returned when writing a frame to the transport fails.
	ErrSendFailed = errors.New("eiscp: send failed")
)
