package device

import (
	"fmt"
	"strings"
	"time"
)

// Receiver represents a known AV receiver, either discovered on the
// network or configured statically.
//
// Receivers are keyed by a stable ID derived from the MAC address when
// discovery provides one, falling back to host:port for static
// configuration.
type Receiver struct {
	// ID is the stable registry identifier.
	ID string

	// Host is the receiver's network address.
	Host string

	// Port is the eISCP TCP port (normally 60128).
	Port int

	// Model is the receiver model identifier (e.g., "TX-NR686").
	Model string

	// Area is the destination area code from discovery ("DX", "XX", ...).
	Area string

	// MAC is the receiver's MAC address (12 hex characters, no separators).
	MAC string

	// FirstSeen is when the receiver was first recorded.
	FirstSeen time.Time

	// LastSeen is when the receiver was last observed (discovery response
	// or successful connection).
	LastSeen time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StateEntry is the last known value of a single receiver status code.
//
// The registry keeps one entry per (receiver, code) pair, updated every
// time the receiver reports that code.
type StateEntry struct {
	ReceiverID string
	Code       string
	Argument   string
	UpdatedAt  time.Time
}

// GenerateID derives a stable registry ID for a receiver.
//
// Discovery responses carry a MAC address, which survives DHCP lease
// changes; static configuration may not, so host:port is the fallback.
//
// Parameters:
//   - mac: MAC address from discovery (may be empty)
//   - host: Receiver network address
//   - port: eISCP TCP port
//
// Returns:
//   - string: Stable identifier for registry storage
func GenerateID(mac, host string, port int) string {
	if mac != "" {
		return strings.ToLower(mac)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
