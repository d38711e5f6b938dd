package avr

import "errors"

// Sentinel errors for bridge construction and operation.
var (
	// ErrNoMQTTClient indicates the bridge was created without an MQTT client.
	ErrNoMQTTClient = errors.New("avr: MQTT client is required")

	// ErrNoTransport indicates the bridge was created without a receiver transport.
	ErrNoTransport = errors.New("avr: transport is required")

	// ErrInvalidCode indicates a command code that is not exactly three characters.
	ErrInvalidCode = errors.New("avr: command code must be three characters")
)
