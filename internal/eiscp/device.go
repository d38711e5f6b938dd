package eiscp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts and intervals for receiver sessions.
const (
	// defaultConnectTimeout is the maximum time to wait when dialing.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the timeout for individual frame writes.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectDelay is the fixed pause before re-dialing after a
	// session closes.
	defaultReconnectDelay = 5 * time.Second

	// defaultCommandDelay is the mandatory spacing between consecutive
	// outbound commands. Receivers drop back-to-back commands sent
	// without it.
	defaultCommandDelay = 500 * time.Millisecond
)

// State is the session lifecycle state.
type State int32

// Session states, in transition order.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds the session parameters for a Client. The zero value
// auto-discovers a receiver and connects to it on the default port.
type Config struct {
	// Host is the receiver address. When empty, Connect runs a full
	// discovery cycle and uses the first receiver found.
	Host string

	// Port is the eISCP TCP port. Default: 60128.
	Port int

	// Model is the receiver model identifier. When empty (and Host is
	// set), Connect interrogates the host via targeted discovery.
	Model string

	// Reconnect enables automatic re-dialing after a session closes.
	Reconnect bool

	// ReconnectDelay is the fixed pause before re-dialing.
	// Default: 5 seconds.
	ReconnectDelay time.Duration

	// CommandDelay is the inter-command send spacing enforced by the
	// queue. Default: 500 milliseconds.
	CommandDelay time.Duration

	// ConnectTimeout bounds each dial attempt. Default: 10 seconds.
	ConnectTimeout time.Duration

	// DiscoveryTimeout bounds discovery cycles run by Connect.
	// Default: 10 seconds.
	DiscoveryTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.CommandDelay <= 0 {
		c.CommandDelay = defaultCommandDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = defaultDiscoverTimeout
	}
}

// Stats holds operational counters for a Client.
type Stats struct {
	MessagesTx      uint64
	MessagesRx      uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	State           State
}

// Client owns a persistent eISCP session to one receiver.
//
// The session is an explicit object instance with clear ownership: the
// configuration and transport handle belong to the Client, state
// transitions are guarded, and a Connect call while a session is being
// established or already up is rejected rather than silently creating
// an overlapping transport.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	cfg   Config
	bus   *Bus
	queue *Queue

	mu             sync.RWMutex
	conn           net.Conn
	state          State
	userClosed     bool
	reconnectTimer *time.Timer

	wg sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	messagesTx      atomic.Uint64
	messagesRx      atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
}

// NewClient creates a Client with the given configuration. Call Connect
// to establish the session.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:    cfg,
		bus:    newBus(),
		logger: noopLogger{},
	}
	c.queue = newQueue(c, cfg.CommandDelay)
	return c
}

// Bus returns the client's event bus for registering handlers and
// per-command-code subscriptions.
func (c *Client) Bus() *Bus {
	return c.bus
}

// SetLogger sets the structured logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether a session is established.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Config returns the effective session configuration, including fields
// resolved by discovery.
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Stats returns current operational counters.
func (c *Client) Stats() Stats {
	return Stats{
		MessagesTx:      c.messagesTx.Load(),
		MessagesRx:      c.messagesRx.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		State:           c.State(),
	}
}

// Connect establishes the TCP session.
//
// When Host is unset, a full discovery cycle resolves host, port and
// model from the first receiver found; ErrNoDevices is returned when
// discovery comes back empty. When only Model is unset, a targeted
// discovery cycle interrogates the configured host.
//
// Connect is rejected with ErrAlreadyConnected while a session is being
// established or already up. ctx bounds discovery and the dial; once
// connected, the session outlives ctx.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.userClosed = false
	cfg := c.cfg
	c.mu.Unlock()

	if cfg.Host == "" || cfg.Model == "" {
		resolved, err := c.resolveByDiscovery(ctx, cfg)
		if err != nil {
			c.setDisconnected()
			return err
		}
		cfg = resolved
		c.mu.Lock()
		c.cfg = cfg
		c.mu.Unlock()
	}

	conn, err := c.dial(ctx, cfg.Host, cfg.Port)
	if err != nil {
		c.setDisconnected()
		c.errorsTotal.Add(1)
		c.bus.emitError(err)
		if cfg.Reconnect {
			c.scheduleReconnect()
		}
		return err
	}

	if !c.establish(conn) {
		// Close ran while the dial was in flight.
		return ErrNotConnected
	}
	return nil
}

// resolveByDiscovery fills in missing host/model fields via discovery.
func (c *Client) resolveByDiscovery(ctx context.Context, cfg Config) (Config, error) {
	opts := DiscoverOptions{
		Timeout: cfg.DiscoveryTimeout,
		Logger:  c.log(),
	}
	if cfg.Host != "" {
		// Host known, model unknown: interrogate the receiver directly.
		opts.Address = cfg.Host
		opts.Port = cfg.Port
	}

	devices, err := Discover(ctx, opts)
	if err != nil {
		return cfg, err
	}
	if len(devices) == 0 {
		return cfg, ErrNoDevices
	}

	dev := devices[0]
	cfg.Host = dev.Host
	if dev.Port > 0 {
		cfg.Port = dev.Port
	}
	cfg.Model = dev.Model

	c.log().Info("resolved receiver via discovery",
		"host", cfg.Host, "port", cfg.Port, "model", cfg.Model)
	return cfg, nil
}

func (c *Client) dial(ctx context.Context, host string, port int) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s:%d: %w", ErrConnectionFailed, host, port, err)
	}
	return conn, nil
}

// establish installs the connection, marks the session connected and
// starts the receive loop.
//
// A Close that ran while the dial was in flight wins: the fresh
// connection is discarded and the session stays down. Reports whether
// the session was installed.
func (c *Client) establish(conn net.Conn) bool {
	c.mu.Lock()
	if c.userClosed {
		c.state = StateDisconnected
		c.mu.Unlock()
		conn.Close()
		return false
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.bus.emitConnect()

	c.wg.Add(1)
	go c.receiveLoop(conn)
	return true
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// receiveLoop reads frames off conn until it fails or is closed.
//
// Frames are reassembled with length-prefixed reads: the fixed header
// first, then exactly payload-length bytes, so TCP segmentation cannot
// split or merge messages.
func (c *Client) receiveLoop(conn net.Conn) {
	defer c.wg.Done()

	hdr := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			c.handleConnClosed(conn, err)
			return
		}

		if string(hdr[0:4]) != frameMagic {
			// Stream is desynced; there is no safe way to resync mid-stream.
			c.errorsTotal.Add(1)
			c.bus.emitError(fmt.Errorf("%w: stream desync, closing session", ErrInvalidFrame))
			conn.Close()
			c.handleConnClosed(conn, nil)
			return
		}

		payloadLen := binary.BigEndian.Uint32(hdr[8:12])
		if payloadLen > maxPayloadSize {
			c.errorsTotal.Add(1)
			c.bus.emitError(fmt.Errorf("%w: payload length %d, closing session", ErrInvalidFrame, payloadLen))
			conn.Close()
			c.handleConnClosed(conn, nil)
			return
		}

		frame := make([]byte, headerSize+int(payloadLen))
		copy(frame, hdr)
		if _, err := io.ReadFull(conn, frame[headerSize:]); err != nil {
			c.handleConnClosed(conn, err)
			return
		}

		c.handleFrame(frame)
	}
}

// handleFrame decodes one complete frame and publishes it.
func (c *Client) handleFrame(frame []byte) {
	msg, err := DecodeMessage(frame)
	if err != nil {
		// Malformed payloads are non-fatal: log, drop, keep the session.
		c.bus.emitDebug("dropping malformed message: " + err.Error())
		c.log().Debug("dropping malformed message", "error", err)
		return
	}

	c.messagesRx.Add(1)

	code, argument := SplitCommand(msg)
	c.mu.RLock()
	host, port, model := c.cfg.Host, c.cfg.Port, c.cfg.Model
	c.mu.RUnlock()

	c.bus.emitMessage(Message{
		Raw:      msg,
		Code:     code,
		Argument: argument,
		Host:     host,
		Port:     port,
		Model:    model,
	})
}

// handleConnClosed runs the close transition for conn. Errors on the
// socket force a close and feed this same path; they never bypass it.
func (c *Client) handleConnClosed(conn net.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A stale loop from a previous session; the transition already ran.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	reconnect := c.cfg.Reconnect && !c.userClosed
	userClosed := c.userClosed
	c.mu.Unlock()

	if err != nil && !userClosed && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		c.errorsTotal.Add(1)
		c.bus.emitError(fmt.Errorf("%w: read: %w", ErrConnectionFailed, err))
	}

	if wasConnected {
		c.bus.emitClose()
	}

	if reconnect {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the fixed-delay reconnect timer. At most one
// timer is armed at a time, and Close cancels it.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userClosed || c.reconnectTimer != nil {
		return
	}
	delay := c.cfg.ReconnectDelay
	c.log().Info("scheduling reconnect", "delay", delay.String())
	c.reconnectTimer = time.AfterFunc(delay, c.redial)
}

// redial is the reconnect timer callback.
func (c *Client) redial() {
	c.mu.Lock()
	c.reconnectTimer = nil
	if c.userClosed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	host, port := c.cfg.Host, c.cfg.Port
	c.mu.Unlock()

	conn, err := c.dial(context.Background(), host, port)
	if err != nil {
		c.errorsTotal.Add(1)
		c.bus.emitError(err)
		c.setDisconnected()
		c.scheduleReconnect()
		return
	}

	if c.establish(conn) {
		c.reconnectsTotal.Add(1)
		c.log().Info("reconnected", "host", host, "port", port)
	}
}

// Raw queues a raw command message for transmission. cb, if non-nil, is
// invoked with nil once the frame has been written and the
// inter-command delay observed, or with an error if the send failed.
// Completion acknowledges transmission only, never device-side effect.
func (c *Client) Raw(text string, cb func(error)) {
	c.queue.Push(text, cb)
}

// Command queues code+argument as one command message. No validation of
// the code against a device model is performed.
func (c *Client) Command(code, argument string, cb func(error)) {
	c.queue.Push(code+argument, cb)
}

// send writes one encoded frame to the live transport. Called only from
// the queue worker, which guarantees a single send in flight.
func (c *Client) send(raw string) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	frame := EncodeMessage(raw)
	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}
	if _, err := conn.Write(frame); err != nil {
		c.errorsTotal.Add(1)
		// A failed write forces a close, which feeds the normal
		// close-and-maybe-reconnect transition.
		conn.Close()
		return fmt.Errorf("%w: write: %w", ErrSendFailed, err)
	}

	c.messagesTx.Add(1)
	return nil
}

// Disconnect forcibly closes the transport. The normal close transition
// runs, so with Reconnect enabled the session will come back; callers
// wanting a permanent stop use Close.
func (c *Client) Disconnect() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

// Close permanently shuts the client down: the reconnect timer is
// cancelled, the transport closed, the queue stopped (pending items
// fail with ErrNotConnected) and internal goroutines joined. A dial
// that was in flight when Close ran cannot resurrect the session; its
// connection is discarded on completion. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	c.userClosed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.mu.Unlock()

	c.queue.close()
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()

	c.log().Info("client closed")
	return nil
}
