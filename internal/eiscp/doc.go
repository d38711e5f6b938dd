// Package eiscp implements the Integra Serial Control Protocol over
// Ethernet (eISCP) as spoken by Onkyo, Integra and post-merger Pioneer
// network AV receivers.
//
// # Architecture
//
// The package is a self-contained protocol engine with four layers,
// leaves first:
//
//   - Packet codec: pure framing of the binary ISCP envelope and its
//     ASCII payload (EncodeMessage, DecodeMessage, SplitCommand).
//   - Discovery: a one-shot UDP broadcast/collect cycle that locates
//     receivers and learns their model, port and MAC (Discover).
//   - Client: the persistent TCP session with state tracking, inbound
//     frame reassembly and optional automatic reconnection.
//   - Queue: a strictly FIFO serialized sender that enforces the
//     mandatory inter-command spacing receivers require.
//
// Commands are raw 3-character protocol codes ("PWR", "MVL", ...) plus
// an argument string. Translating human-readable command names to codes
// is deliberately out of scope; callers pass codes directly.
//
// Example:
//
//	client := eiscp.NewClient(eiscp.Config{Reconnect: true})
//	client.Bus().Subscribe("PWR", func(arg string) {
//	    fmt.Println("power:", arg)
//	})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	client.Command("PWR", "01", nil)
//
// # Delivery semantics
//
// A completed send acknowledges transmission only, never device-side
// effect. The receiver reports state changes asynchronously; observe
// them through the event bus.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple
// goroutines. Event callbacks are invoked from the client's internal
// goroutines and must not block for extended periods.
package eiscp
