package avr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jpetrocik/eiscp-bridge/internal/infrastructure/mqtt"
)

// defaultHealthInterval is the reporting period when none is configured.
const defaultHealthInterval = 30 * time.Second

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	qos       byte
	publisher HealthPublisher
	transport Transport
	topics    mqtt.Topics

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// QoS is the MQTT QoS level for health publishes.
	QoS byte

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Transport provides receiver session statistics.
	Transport Transport
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		qos:       cfg.QoS,
		publisher: cfg.Publisher,
		transport: cfg.Transport,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Must be called after creation. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Best-effort during shutdown, nothing we can do if it fails
		//nolint:errcheck
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
// Called during bridge initialization.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	if h.transport == nil || !h.transport.IsConnected() {
		return HealthDegraded, "receiver disconnected"
	}

	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}

	if h.transport != nil {
		cfg := h.transport.Config()
		stats := h.transport.Stats()

		connStatus := "disconnected"
		if h.transport.IsConnected() {
			connStatus = "connected"
		}
		msg.Connection = &ConnectionStatus{
			Status: connStatus,
			Host:   cfg.Host,
			Port:   cfg.Port,
		}
		msg.Statistics = &BridgeStatistics{
			MessagesReceived: stats.MessagesRx,
			MessagesSent:     stats.MessagesTx,
			Errors:           stats.ErrorsTotal,
			Reconnects:       stats.ReconnectsTotal,
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Retained so late subscribers see the last status
	return h.publisher.Publish(h.topics.Health(), payload, h.qos, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
