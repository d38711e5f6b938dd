package avr

import (
	"time"
)

// MQTT message types exchanged between the bridge and the automation
// system. Commands arrive as plain argument payloads on per-code
// topics; everything the bridge publishes is JSON.

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command frame was written to the receiver.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be sent.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeNotConnected = "NOT_CONNECTED"
	ErrCodeInvalidCode  = "INVALID_CODE"
	ErrCodeSendFailed   = "SEND_FAILED"
	ErrCodeBridgeError  = "BRIDGE_ERROR"
)

// AckMessage is published after each command attempt.
// Topic: avrbridge/ack/{code}
//
// Acceptance acknowledges transmission only. The receiver reports the
// resulting state on its own schedule, which surfaces as a retained
// state message.
type AckMessage struct {
	// Code is the 3-character command code the ack refers to.
	Code string `json:"code"`

	// Argument is the argument that was sent with the command.
	Argument string `json:"argument"`

	// Status indicates whether the send succeeded.
	Status AckStatus `json:"status"`

	// Timestamp is when the acknowledgment was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "NOT_CONNECTED", "SEND_FAILED").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// StateMessage is published when the receiver reports a status value.
// Topic: avrbridge/state/{code}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// Code is the 3-character status code.
	Code string `json:"code"`

	// Argument is the reported value (e.g., "01" for power on).
	Argument string `json:"argument"`

	// Host is the receiver the value came from.
	Host string `json:"host,omitempty"`

	// Model is the receiver model, when known.
	Model string `json:"model,omitempty"`

	// Timestamp is when the value was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge and receiver session are up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running with a connection down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published periodically to report operational status.
// Topic: avrbridge/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier from configuration.
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection describes the receiver session.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains session counters.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the receiver session state.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status string `json:"status"`

	// Host is the receiver address.
	Host string `json:"host,omitempty"`

	// Port is the receiver control port.
	Port int `json:"port,omitempty"`
}

// BridgeStatistics contains session counters.
type BridgeStatistics struct {
	// MessagesReceived is the total number of decoded inbound messages.
	MessagesReceived uint64 `json:"messages_received"`

	// MessagesSent is the total number of command frames written.
	MessagesSent uint64 `json:"messages_sent"`

	// Errors is the total number of session errors.
	Errors uint64 `json:"errors"`

	// Reconnects is the total number of session re-establishments.
	Reconnects uint64 `json:"reconnects"`
}

// DiscoveryMessage announces receivers found on the local network.
// Topic: avrbridge/discovery
type DiscoveryMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when discovery was performed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Devices contains the discovered receivers.
	Devices []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice represents a receiver found during discovery.
type DiscoveredDevice struct {
	// Host is the receiver's IP address.
	Host string `json:"host"`

	// Port is the control port the receiver listens on.
	Port int `json:"port"`

	// Model is the receiver model identifier.
	Model string `json:"model"`

	// Area is the destination area code.
	Area string `json:"area,omitempty"`

	// MAC is the receiver's MAC identifier.
	MAC string `json:"mac,omitempty"`
}

// NewAckMessage creates an acceptance acknowledgment for a command.
func NewAckMessage(code, argument string) AckMessage {
	return AckMessage{
		Code:      code,
		Argument:  argument,
		Status:    AckAccepted,
		Timestamp: time.Now().UTC(),
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(code, argument, errCode, message string) AckMessage {
	return AckMessage{
		Code:      code,
		Argument:  argument,
		Status:    AckFailed,
		Timestamp: time.Now().UTC(),
		Error: &AckError{
			Code:    errCode,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for a reported value.
func NewStateMessage(code, argument, host, model string) StateMessage {
	return StateMessage{
		Code:      code,
		Argument:  argument,
		Host:      host,
		Model:     model,
		Timestamp: time.Now().UTC(),
	}
}
