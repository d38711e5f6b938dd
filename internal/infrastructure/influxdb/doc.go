// Package influxdb provides InfluxDB connectivity for the eISCP bridge.
//
// It wraps the official influxdb-client-go v2 library with bridge-specific
// patterns for connection management, telemetry writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Protocol message telemetry (eiscp_message measurement)
//   - Session lifecycle events (eiscp_session measurement)
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "avrbridge",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteMessage(influxdb.DirectionInbound, "PWR", "01", "192.168.1.80")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
package influxdb
