package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the eISCP bridge.
// All configuration is loaded from YAML and can be overridden by
// environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Receiver  ReceiverConfig  `yaml:"receiver"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	ID string `yaml:"id"`
}

// ReceiverConfig contains the eISCP session settings.
type ReceiverConfig struct {
	// Host is the receiver address. Empty enables auto-discovery.
	Host string `yaml:"host"`

	// Port is the eISCP TCP port. Default: 60128.
	Port int `yaml:"port"`

	// Model is the receiver model identifier. Empty enables targeted
	// discovery against Host.
	Model string `yaml:"model"`

	// Reconnect enables automatic re-dialing after a session closes.
	Reconnect bool `yaml:"reconnect"`

	// ReconnectDelayMS is the fixed pause before re-dialing, in milliseconds.
	ReconnectDelayMS int `yaml:"reconnect_delay_ms"`

	// CommandDelayMS is the mandatory inter-command spacing, in milliseconds.
	CommandDelayMS int `yaml:"command_delay_ms"`
}

// DiscoveryConfig contains UDP discovery settings.
type DiscoveryConfig struct {
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	TimeoutS int    `yaml:"timeout_s"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AVRBRIDGE_SECTION_KEY
// For example: AVRBRIDGE_RECEIVER_HOST, AVRBRIDGE_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID: "avr",
		},
		Receiver: ReceiverConfig{
			Port:             60128,
			Reconnect:        true,
			ReconnectDelayMS: 5000,
			CommandDelayMS:   500,
		},
		Discovery: DiscoveryConfig{
			Address:  "255.255.255.255",
			Port:     60128,
			TimeoutS: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "avrbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/avrbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern:
// AVRBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Receiver
	if v := os.Getenv("AVRBRIDGE_RECEIVER_HOST"); v != "" {
		cfg.Receiver.Host = v
	}
	if v := os.Getenv("AVRBRIDGE_RECEIVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Receiver.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("AVRBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AVRBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AVRBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("AVRBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("AVRBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	if c.Receiver.Port < 1 || c.Receiver.Port > 65535 {
		errs = append(errs, "receiver.port must be between 1 and 65535")
	}
	if c.Receiver.CommandDelayMS < 0 {
		errs = append(errs, "receiver.command_delay_ms must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set AVRBRIDGE_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReconnectDelay returns the receiver reconnect delay as a Duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Receiver.ReconnectDelayMS) * time.Millisecond
}

// CommandDelay returns the inter-command send delay as a Duration.
func (c *Config) CommandDelay() time.Duration {
	return time.Duration(c.Receiver.CommandDelayMS) * time.Millisecond
}

// DiscoveryTimeout returns the discovery timeout as a Duration.
func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.TimeoutS) * time.Second
}
