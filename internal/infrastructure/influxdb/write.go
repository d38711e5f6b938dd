package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Message direction tags for the eiscp_message measurement.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// WriteMessage records a single eISCP message crossing the session.
//
// This is the primary method for recording protocol telemetry.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - direction: DirectionInbound or DirectionOutbound
//   - code: The three-character command code (e.g., "PWR", "MVL")
//   - argument: The command argument (e.g., "01", "QSTN")
//   - host: The receiver address the session is connected to
//
// Example:
//
//	client.WriteMessage(influxdb.DirectionInbound, "MVL", "32", "192.168.1.80")
func (c *Client) WriteMessage(direction, code, argument, host string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"eiscp_message",
		map[string]string{
			"direction": direction,
			"code":      code,
			"host":      host,
		},
		map[string]interface{}{
			"argument": argument,
			"count":    1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionEvent records a session lifecycle event.
//
// Used for tracking connection stability over time.
//
// Parameters:
//   - event: Event name (e.g., "connect", "close", "reconnect", "error")
//   - host: The receiver address
func (c *Client) WriteSessionEvent(event, host string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"eiscp_session",
		map[string]string{
			"event": event,
			"host":  host,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
