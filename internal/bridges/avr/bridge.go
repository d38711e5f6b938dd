package avr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpetrocik/eiscp-bridge/internal/device"
	"github.com/jpetrocik/eiscp-bridge/internal/eiscp"
	"github.com/jpetrocik/eiscp-bridge/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 2

	// registryTimeout bounds registry writes triggered by inbound messages.
	registryTimeout = 5 * time.Second
)

// Telemetry direction labels for inbound and outbound messages.
const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

// Bridge translates between MQTT and the receiver's control session.
// It handles:
//   - Receiving commands over MQTT and queueing them to the receiver
//   - Publishing receiver status reports as retained state messages
//   - Discovery announcements, registry upkeep and health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id        string
	mqtt      MQTTClient
	transport Transport
	health    *HealthReporter
	registry  ReceiverRegistry // Optional registry for receiver/state persistence
	telemetry TelemetryWriter  // Optional telemetry sink for message metrics
	topics    mqtt.Topics
	qos       byte

	// Last published value per status code, for change suppression
	stateCache   map[string]string
	stateCacheMu sync.Mutex

	// Registry identifier of the active receiver
	receiverID   string
	receiverIDMu sync.RWMutex

	// Shutdown coordination
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Transport is the interface for the receiver control session.
// It is satisfied by *eiscp.Client via an adapter in main.go.
type Transport interface {
	// Command queues code+argument as one command message.
	Command(code, argument string, cb func(error))

	// Raw queues a raw command message for transmission.
	Raw(text string, cb func(error))

	// SetOnMessage registers the handler for decoded inbound messages.
	SetOnMessage(fn func(eiscp.Message))

	// SetOnConnect registers the handler for session establishment.
	SetOnConnect(fn func())

	// SetOnClose registers the handler for session loss.
	SetOnClose(fn func())

	// IsConnected returns true while a session is up.
	IsConnected() bool

	// Stats returns session counters.
	Stats() eiscp.Stats

	// Config returns the session parameters in effect.
	Config() eiscp.Config
}

// ReceiverRegistry persists receivers and their last known state.
// This interface is satisfied by *device.SQLiteRepository.
// It is optional - if nil, the bridge operates without persistence.
type ReceiverRegistry interface {
	// Upsert inserts a receiver or refreshes an existing record.
	Upsert(ctx context.Context, receiver *device.Receiver) error

	// SetState records the last known value for a status code.
	SetState(ctx context.Context, receiverID, code, argument string) error

	// ListState retrieves all stored state for a receiver.
	ListState(ctx context.Context, receiverID string) ([]device.StateEntry, error)

	// TouchLastSeen advances a receiver's last_seen timestamp.
	TouchLastSeen(ctx context.Context, id string, seen time.Time) error
}

// TelemetryWriter records protocol traffic metrics.
// This interface is satisfied by *influxdb.Client.
// It is optional - if nil, the bridge operates without telemetry.
type TelemetryWriter interface {
	// WriteMessage records one protocol message.
	WriteMessage(direction, code, argument, host string)

	// WriteSessionEvent records a session lifecycle event.
	WriteSessionEvent(event, host string)
}

// Logger is the minimal logging interface the bridge depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// ID is the bridge identifier used in health and discovery messages.
	ID string

	// Version is the bridge software version.
	Version string

	// HealthInterval is how often to publish health status.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// QoS is the MQTT QoS level for the bridge's subscriptions and
	// publishes. Zero means QoS 0; the daemon passes the configured
	// mqtt.qos value.
	QoS byte

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Transport is the receiver control session.
	Transport Transport

	// Logger is optional structured logger.
	Logger Logger

	// Registry is optional receiver registry for persistence.
	Registry ReceiverRegistry

	// Telemetry is optional metrics sink.
	Telemetry TelemetryWriter
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, ErrNoMQTTClient
	}
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:         opts.ID,
		mqtt:       opts.MQTTClient,
		transport:  opts.Transport,
		registry:   opts.Registry,  // May be nil (optional)
		telemetry:  opts.Telemetry, // May be nil (optional)
		stateCache: make(map[string]string),
		qos:        opts.QoS,
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.ID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		QoS:       opts.QoS,
		Publisher: opts.MQTTClient,
		Transport: opts.Transport,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// This subscribes to MQTT command topics, wires the receiver session
// callbacks, and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	// Wire receiver session callbacks
	b.transport.SetOnMessage(b.handleReceiverMessage)
	b.transport.SetOnConnect(b.handleSessionUp)
	b.transport.SetOnClose(b.handleSessionDown)

	// Subscribe to per-code command topics
	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	// Subscribe to the raw passthrough topic
	rawTopic := b.topics.Raw()
	if err := b.mqtt.Subscribe(rawTopic, b.qos, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to raw: %w", err)
	}
	b.logInfo("subscribed to raw passthrough", "topic", rawTopic)

	// Start health reporting
	b.health.Start(ctx)

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health status", err)
	}

	b.logInfo("bridge started", "bridge_id", b.id)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// AnnounceDevices publishes a discovery announcement and records the
// receivers in the registry. The receiver matching the active session's
// host becomes the registry identity used for state persistence.
func (b *Bridge) AnnounceDevices(ctx context.Context, devices []eiscp.Device) error {
	msg := DiscoveryMessage{
		Bridge:    b.id,
		Timestamp: time.Now().UTC(),
		Devices:   make([]DiscoveredDevice, 0, len(devices)),
	}

	sessionHost := b.transport.Config().Host

	for _, dev := range devices {
		msg.Devices = append(msg.Devices, DiscoveredDevice{
			Host:  dev.Host,
			Port:  dev.Port,
			Model: dev.Model,
			Area:  dev.Area,
			MAC:   dev.MAC,
		})

		id := device.GenerateID(dev.MAC, dev.Host, dev.Port)
		if dev.Host == sessionHost {
			b.setReceiverID(id)
		}

		if b.registry != nil {
			rec := &device.Receiver{
				ID:    id,
				Host:  dev.Host,
				Port:  dev.Port,
				Model: dev.Model,
				Area:  dev.Area,
				MAC:   dev.MAC,
			}
			if err := b.registry.Upsert(ctx, rec); err != nil {
				b.logError("failed to record discovered receiver", err)
			}
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal discovery message: %w", err)
	}

	if err := b.mqtt.Publish(b.topics.Discovery(), payload, b.qos, false); err != nil {
		return fmt.Errorf("publish discovery message: %w", err)
	}

	b.logInfo("announced discovered receivers", "count", len(devices))
	return nil
}

// handleMQTTMessage routes incoming MQTT messages to the appropriate handler.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		code := parts[len(parts)-1]
		b.handleCommand(code, payload)
	case "raw":
		b.handleRaw(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("topic: %s", topic))
	}
}

// handleCommand queues a single command to the receiver. The topic's
// last segment is the command code and the payload is the argument.
func (b *Bridge) handleCommand(code string, payload []byte) {
	argument := strings.TrimSpace(string(payload))

	if len(code) != eiscp.CommandLen {
		b.publishAckError(code, argument, ErrCodeInvalidCode,
			fmt.Sprintf("code %q must be %d characters", code, eiscp.CommandLen))
		return
	}

	b.logDebug("received command", "code", code, "argument", argument)

	if b.telemetry != nil {
		b.telemetry.WriteMessage(directionOutbound, code, argument, b.transport.Config().Host)
	}

	b.transport.Command(code, argument, func(err error) {
		if err != nil {
			b.publishAckError(code, argument, sendErrorCode(err), err.Error())
			return
		}
		b.publishAck(code, argument)
	})
}

// handleRaw queues a raw message string exactly as supplied.
func (b *Bridge) handleRaw(payload []byte) {
	text := strings.TrimSpace(string(payload))
	if len(text) < eiscp.CommandLen {
		b.logError("raw message too short", fmt.Errorf("payload: %q", text))
		return
	}

	code, argument := eiscp.SplitCommand(text)

	b.logDebug("received raw message", "text", text)

	if b.telemetry != nil {
		b.telemetry.WriteMessage(directionOutbound, code, argument, b.transport.Config().Host)
	}

	b.transport.Raw(text, func(err error) {
		if err != nil {
			b.publishAckError(code, argument, sendErrorCode(err), err.Error())
			return
		}
		b.publishAck(code, argument)
	})
}

// sendErrorCode maps a transport error to an ack error code.
func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, eiscp.ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, eiscp.ErrSendFailed):
		return ErrCodeSendFailed
	default:
		return ErrCodeBridgeError
	}
}

// publishAck publishes an acceptance acknowledgment.
func (b *Bridge) publishAck(code, argument string) {
	ack := NewAckMessage(code, argument)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.Ack(code), payload, b.qos, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(code, argument, errCode, message string) {
	ack := NewAckError(code, argument, errCode, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.Ack(code), payload, b.qos, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed", fmt.Errorf("code=%s message=%s", errCode, message))
}

// handleReceiverMessage processes a decoded inbound message from the
// receiver. Every message is counted in telemetry; state publication
// and registry writes are suppressed when the value is unchanged.
func (b *Bridge) handleReceiverMessage(msg eiscp.Message) {
	if b.telemetry != nil {
		b.telemetry.WriteMessage(directionInbound, msg.Code, msg.Argument, msg.Host)
	}

	if b.stateUnchanged(msg.Code, msg.Argument) {
		return
	}

	state := NewStateMessage(msg.Code, msg.Argument, msg.Host, msg.Model)

	payload, err := json.Marshal(state)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.State(msg.Code), payload, b.qos, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}

	if b.registry != nil {
		id := b.ensureReceiver(msg.Host, msg.Port, msg.Model)
		if id == "" {
			return
		}

		ctx, cancel := context.WithTimeout(b.ctx, registryTimeout)
		defer cancel()

		if err := b.registry.SetState(ctx, id, msg.Code, msg.Argument); err != nil {
			b.logDebug("registry state update skipped",
				"code", msg.Code,
				"reason", err.Error())
			return
		}
		if err := b.registry.TouchLastSeen(ctx, id, time.Now().UTC()); err != nil {
			b.logDebug("registry last_seen update skipped", "reason", err.Error())
		}
	}
}

// handleSessionUp runs when the receiver session is established.
// Stored state is republished retained so subscribers converge after a
// broker or bridge restart.
func (b *Bridge) handleSessionUp() {
	cfg := b.transport.Config()

	b.logInfo("receiver session established", "host", cfg.Host, "port", cfg.Port)

	if b.telemetry != nil {
		b.telemetry.WriteSessionEvent("connected", cfg.Host)
	}

	if b.registry != nil {
		b.ensureReceiver(cfg.Host, cfg.Port, cfg.Model)
		b.republishStoredState()
	}

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health status", err)
	}
}

// handleSessionDown runs when the receiver session is lost.
func (b *Bridge) handleSessionDown() {
	host := b.transport.Config().Host

	b.logWarn("receiver session lost", "host", host)

	if b.telemetry != nil {
		b.telemetry.WriteSessionEvent("disconnected", host)
	}

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health status", err)
	}
}

// ensureReceiver resolves the registry identity for the active session,
// creating the record on first contact. Discovery announcements with a
// MAC take priority; otherwise the identity falls back to host:port.
func (b *Bridge) ensureReceiver(host string, port int, model string) string {
	if id := b.getReceiverID(); id != "" {
		return id
	}

	id := device.GenerateID("", host, port)

	if b.registry != nil {
		ctx, cancel := context.WithTimeout(b.ctx, registryTimeout)
		defer cancel()

		rec := &device.Receiver{
			ID:    id,
			Host:  host,
			Port:  port,
			Model: model,
		}
		if err := b.registry.Upsert(ctx, rec); err != nil {
			b.logError("failed to record receiver", err)
			return ""
		}
	}

	b.setReceiverID(id)
	return id
}

// republishStoredState publishes every stored state entry retained, so
// subscribers see last known values even when the broker lost its
// retained messages.
func (b *Bridge) republishStoredState() {
	id := b.getReceiverID()
	if id == "" {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, registryTimeout)
	defer cancel()

	entries, err := b.registry.ListState(ctx, id)
	if err != nil {
		b.logError("failed to load stored state", err)
		return
	}

	cfg := b.transport.Config()
	for _, entry := range entries {
		state := NewStateMessage(entry.Code, entry.Argument, cfg.Host, cfg.Model)

		payload, err := json.Marshal(state)
		if err != nil {
			b.logError("failed to marshal stored state", err)
			continue
		}

		if err := b.mqtt.Publish(b.topics.State(entry.Code), payload, b.qos, true); err != nil {
			b.logError("failed to republish stored state", err)
		}
	}

	if len(entries) > 0 {
		b.logInfo("republished stored state", "entries", len(entries))
	}
}

// stateUnchanged checks if the new value matches the cached state.
// Returns true if unchanged (should skip publish).
func (b *Bridge) stateUnchanged(code, argument string) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if cached, ok := b.stateCache[code]; ok && cached == argument {
		return true
	}

	b.stateCache[code] = argument
	return false
}

// ClearStateCache removes all entries from the state cache, forcing the
// next report of every code to be republished.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	b.stateCache = make(map[string]string)
}

func (b *Bridge) getReceiverID() string {
	b.receiverIDMu.RLock()
	defer b.receiverIDMu.RUnlock()
	return b.receiverID
}

func (b *Bridge) setReceiverID(id string) {
	b.receiverIDMu.Lock()
	b.receiverID = id
	b.receiverIDMu.Unlock()
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
