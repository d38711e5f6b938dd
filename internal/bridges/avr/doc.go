// Package avr implements the MQTT bridge for eISCP AV receivers.
//
// This package connects the receiver control session to an MQTT broker.
// It translates MQTT command messages into queued eISCP sends and
// publishes receiver status reports as retained state messages.
//
// # Architecture
//
// The bridge operates as a translator between two transports:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Automation    │   MQTT   │   AVR Bridge    │   eISCP/TCP
//	│     System      │◄────────►│   (this pkg)    │◄──────────► AV Receiver
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Subscribe to per-code command topics and the raw passthrough topic
//   - Queue commands to the receiver and acknowledge each send
//   - Publish decoded status reports as retained state messages
//   - Announce discovered receivers and maintain the registry
//   - Publish periodic health status with session counters
//
// # Topics
//
// All topics live under the "avrbridge" prefix:
//
//	avrbridge/command/{code}   command, payload = argument (e.g. "01")
//	avrbridge/raw              raw message passthrough (e.g. "PWR01")
//	avrbridge/ack/{code}       per-command acknowledgment (JSON)
//	avrbridge/state/{code}     retained last reported value (JSON)
//	avrbridge/health           retained health status (JSON)
//	avrbridge/discovery        receiver announcements (JSON)
//
// Command codes are raw 3-character eISCP codes ("PWR", "MVL", "SLI").
// The bridge performs no per-model validation; unknown codes are sent
// as-is and the receiver decides.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package avr
