package eiscp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"
)

// Discovery defaults.
const (
	defaultDiscoverCount   = 1
	defaultDiscoverTimeout = 10 * time.Second
	defaultDiscoverAddress = "255.255.255.255"

	// discoverReadBufferSize is large enough for any discovery response
	// (responses are well under 100 bytes).
	discoverReadBufferSize = 1024
)

// DiscoverOptions configures a discovery cycle. The zero value asks for
// a single device via limited broadcast on the default port with a
// 10-second timeout.
type DiscoverOptions struct {
	// DeviceCount is the number of responses to collect before
	// returning early. Default: 1.
	DeviceCount int

	// Timeout bounds the whole cycle. Default: 10 seconds.
	Timeout time.Duration

	// Address is the probe destination, usually a broadcast address or
	// a specific receiver to interrogate. Default: "255.255.255.255".
	Address string

	// Port is the UDP port to probe. Default: 60128.
	Port int

	// Logger receives diagnostics for ignored datagrams. Optional.
	Logger Logger
}

func (o *DiscoverOptions) applyDefaults() {
	if o.DeviceCount <= 0 {
		o.DeviceCount = defaultDiscoverCount
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultDiscoverTimeout
	}
	if o.Address == "" {
		o.Address = defaultDiscoverAddress
	}
	if o.Port <= 0 {
		o.Port = DefaultPort
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
}

// Discover performs a one-shot UDP discovery cycle.
//
// An ephemeral broadcast-capable socket is opened and the discovery
// query "ECNQSTN" is sent under both known unit type markers ("!1" for
// Onkyo/Integra, "!p" for Pioneer) to (Address, Port). Every inbound
// datagram is decoded; "ECN" responses are parsed into Devices, anything
// else is logged and ignored.
//
// Discover returns as soon as DeviceCount responses have been collected
// or the timeout elapses, whichever comes first. A timeout with fewer
// (or zero) results is not an error. Responses are not deduplicated:
// repeated answers from the same receiver are all counted, and callers
// needing uniqueness dedup themselves.
//
// Cancelling ctx aborts the cycle and returns the devices collected so
// far along with the context error.
func Discover(ctx context.Context, opts DiscoverOptions) ([]Device, error) {
	opts.applyDefaults()

	conn, err := listenBroadcast(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	defer conn.Close()

	// Unblock the read when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	dest := &net.UDPAddr{IP: net.ParseIP(opts.Address), Port: opts.Port}
	if dest.IP == nil {
		addrs, lookupErr := net.LookupIP(opts.Address)
		if lookupErr != nil || len(addrs) == 0 {
			return nil, fmt.Errorf("%w: resolving %q: %w", ErrDiscoveryFailed, opts.Address, lookupErr)
		}
		dest.IP = addrs[0]
	}

	// Probe both known device families.
	for _, unit := range []byte{UnitReceiver, UnitPioneer} {
		probe := EncodeMessage("!" + string(unit) + discoveryCode + "QSTN")
		if _, err := conn.WriteTo(probe, dest); err != nil {
			return nil, fmt.Errorf("%w: sending probe: %w", ErrDiscoveryFailed, err)
		}
	}

	if err := conn.SetReadDeadline(time.Now().Add(opts.Timeout)); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %w", ErrDiscoveryFailed, err)
	}

	devices := make([]Device, 0, opts.DeviceCount)
	buf := make([]byte, discoverReadBufferSize)

	for len(devices) < opts.DeviceCount {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return devices, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return devices, nil // timeout is the normal stop condition
			}
			return devices, fmt.Errorf("%w: read: %w", ErrDiscoveryFailed, err)
		}

		msg, err := DecodeMessage(buf[:n])
		if err != nil {
			opts.Logger.Debug("ignoring malformed discovery datagram",
				"from", addr.String(), "error", err)
			continue
		}

		dev, err := ParseDiscoveryResponse(msg)
		if err != nil {
			opts.Logger.Debug("ignoring non-discovery message",
				"from", addr.String(), "message", msg)
			continue
		}

		if host, _, splitErr := net.SplitHostPort(addr.String()); splitErr == nil {
			dev.Host = host
		} else {
			dev.Host = addr.String()
		}
		devices = append(devices, dev)

		opts.Logger.Debug("discovered device",
			"host", dev.Host, "model", dev.Model, "port", strconv.Itoa(dev.Port))
	}

	return devices, nil
}

// listenBroadcast opens an ephemeral UDP socket with SO_BROADCAST set,
// so probes can target the limited broadcast address.
func listenBroadcast(ctx context.Context) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.ListenPacket(ctx, "udp4", ":0")
}
