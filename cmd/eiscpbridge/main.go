// eISCP Bridge - AV receiver control over MQTT
//
// This is the main entry point for the bridge daemon. It maintains a
// persistent eISCP control session to an Onkyo/Integra/Pioneer AV
// receiver and exposes it over MQTT: commands in, retained state and
// health out.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jpetrocik/eiscp-bridge/migrations"

	"github.com/jpetrocik/eiscp-bridge/internal/bridges/avr"
	"github.com/jpetrocik/eiscp-bridge/internal/device"
	"github.com/jpetrocik/eiscp-bridge/internal/eiscp"
	"github.com/jpetrocik/eiscp-bridge/internal/infrastructure/config"
	"github.com/jpetrocik/eiscp-bridge/internal/infrastructure/database"
	"github.com/jpetrocik/eiscp-bridge/internal/infrastructure/influxdb"
	"github.com/jpetrocik/eiscp-bridge/internal/infrastructure/logging"
	"github.com/jpetrocik/eiscp-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting eISCP bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Receiver registry: SQLite persistence behind an in-memory cache
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if err := registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading receiver registry: %w", err)
	}
	log.Info("receiver registry loaded", "receivers", registry.Count())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Create the receiver session client
	avrClient := eiscp.NewClient(eiscp.Config{
		Host:             cfg.Receiver.Host,
		Port:             cfg.Receiver.Port,
		Model:            cfg.Receiver.Model,
		Reconnect:        cfg.Receiver.Reconnect,
		ReconnectDelay:   cfg.ReconnectDelay(),
		CommandDelay:     cfg.CommandDelay(),
		DiscoveryTimeout: cfg.DiscoveryTimeout(),
	})
	avrClient.SetLogger(log)
	defer func() {
		log.Info("closing receiver session")
		if closeErr := avrClient.Close(); closeErr != nil {
			log.Error("error closing receiver session", "error", closeErr)
		}
	}()

	// Create and start the bridge before dialing so the session's
	// connect event is observed
	bridge, err := startBridge(ctx, cfg, mqttClient, avrClient, registry, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	// Establish the receiver session. With reconnect enabled a failed
	// first dial is retried by the client itself.
	if err := avrClient.Connect(ctx); err != nil {
		if !cfg.Receiver.Reconnect {
			return fmt.Errorf("connecting to receiver: %w", err)
		}
		log.Warn("initial receiver connection failed, will retry", "error", err)
	}

	// Announce receivers on the local network in the background
	go announceDiscovered(ctx, cfg, bridge, log)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Bridge
	// 2. Receiver session
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("eISCP bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AVRBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AVRBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Receiver session health is reported continuously by the bridge's
	// health reporter; a down session is "degraded", not fatal.

	return nil
}

// startBridge wires the bridge to the infrastructure and starts it.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	avrClient *eiscp.Client,
	registry avr.ReceiverRegistry,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*avr.Bridge, error) {
	opts := avr.Options{
		ID:         cfg.Bridge.ID,
		Version:    version,
		QoS:        byte(cfg.MQTT.QoS),
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Transport:  &transportAdapter{client: avrClient},
		Registry:   registry,
		Logger:     log,
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := avr.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started", "bridge_id", cfg.Bridge.ID)

	return bridge, nil
}

// announceDiscovered probes the local network for receivers and
// publishes a discovery announcement. Best-effort; failures are logged
// and the bridge carries on with its configured receiver.
func announceDiscovered(ctx context.Context, cfg *config.Config, bridge *avr.Bridge, log *logging.Logger) {
	devices, err := eiscp.Discover(ctx, eiscp.DiscoverOptions{
		Address:     cfg.Discovery.Address,
		Port:        cfg.Discovery.Port,
		Timeout:     cfg.DiscoveryTimeout(),
		DeviceCount: 16,
		Logger:      log,
	})
	if err != nil {
		log.Warn("network discovery failed", "error", err)
		return
	}
	if len(devices) == 0 {
		log.Info("no receivers discovered on the network")
		return
	}

	if err := bridge.AnnounceDevices(ctx, devices); err != nil {
		log.Error("failed to announce discovered receivers", "error", err)
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the
// bridge's MQTTClient interface. The difference is the Subscribe
// handler signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Bridge expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements avr.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements avr.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements avr.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// transportAdapter adapts *eiscp.Client to the bridge's Transport
// interface, routing callback registration through the client's event
// bus.
type transportAdapter struct {
	client *eiscp.Client
}

// Command implements avr.Transport.
func (a *transportAdapter) Command(code, argument string, cb func(error)) {
	a.client.Command(code, argument, cb)
}

// Raw implements avr.Transport.
func (a *transportAdapter) Raw(text string, cb func(error)) {
	a.client.Raw(text, cb)
}

// SetOnMessage implements avr.Transport.
func (a *transportAdapter) SetOnMessage(fn func(eiscp.Message)) {
	a.client.Bus().SetOnMessage(fn)
}

// SetOnConnect implements avr.Transport.
func (a *transportAdapter) SetOnConnect(fn func()) {
	a.client.Bus().SetOnConnect(fn)
}

// SetOnClose implements avr.Transport.
func (a *transportAdapter) SetOnClose(fn func()) {
	a.client.Bus().SetOnClose(fn)
}

// IsConnected implements avr.Transport.
func (a *transportAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Stats implements avr.Transport.
func (a *transportAdapter) Stats() eiscp.Stats {
	return a.client.Stats()
}

// Config implements avr.Transport.
func (a *transportAdapter) Config() eiscp.Config {
	return a.client.Config()
}
