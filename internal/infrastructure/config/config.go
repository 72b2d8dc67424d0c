package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Ostiary Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Hardware    HardwareConfig    `yaml:"hardware"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Security    SecurityConfig    `yaml:"security"`
}

// SiteConfig identifies the installation this instance serves.
// A single Ostiary Core instance operates one residential site.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker carries controller telemetry into the reconciler and canonical
// door state out to UIs and relays.
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// When enabled, movement events and sensor transitions are mirrored to the
// time-series store for the external reporting system.
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

// Hardware token modes.
const (
	// TokenModeStatic derives a deterministic HMAC tag from stable door
	// identifiers. Compatible with deployed controller firmware, but a
	// captured command URL can be replayed indefinitely.
	TokenModeStatic = "static"

	// TokenModeTimestamped issues an expiry-bound signed token instead.
	// Requires controller firmware that validates expiry; opt-in during
	// migration.
	TokenModeTimestamped = "timestamped"
)

// HardwareConfig contains door controller dispatch settings.
// This is the single explicit configuration object handed to the dispatcher
// at construction; nothing in the dispatch path reads ambient state.
type HardwareConfig struct {
	// SharedSecret signs unlock tokens. Controllers hold the same secret.
	SharedSecret string `yaml:"shared_secret"`

	// TokenMode selects "static" (deterministic HMAC, default) or
	// "timestamped" (expiry-bound token) unlock tokens.
	TokenMode string `yaml:"token_mode"`

	// TokenTTL is the validity window for timestamped tokens (seconds).
	TokenTTL int `yaml:"token_ttl"`

	// DefaultPulseMs is the unlock pulse duration sent to controllers.
	DefaultPulseMs int `yaml:"default_pulse_ms"`

	// DirectTimeout is the maximum wait for a direct controller
	// acknowledgement (seconds).
	DirectTimeout int `yaml:"direct_timeout"`
}

// CredentialsConfig contains provisional credential settings.
type CredentialsConfig struct {
	// TTLHours is how long an issued pickup code stays valid.
	TTLHours int `yaml:"ttl_hours"`

	// SweepInterval is how often expired unconsumed codes are purged (minutes).
	SweepInterval int `yaml:"sweep_interval"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains staff access token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: OSTIARY_SECTION_KEY
// For example: OSTIARY_DATABASE_PATH, OSTIARY_HARDWARE_SECRET
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
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Ostiary",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/ostiary.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ostiary-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Hardware: HardwareConfig{
			TokenMode:      TokenModeStatic,
			TokenTTL:       120,
			DefaultPulseMs: 1500,
			DirectTimeout:  10,
		},
		Credentials: CredentialsConfig{
			TTLHours:      72,
			SweepInterval: 60,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: OSTIARY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Site
	if v := os.Getenv("OSTIARY_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}

	// Database
	if v := os.Getenv("OSTIARY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("OSTIARY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("OSTIARY_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("OSTIARY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OSTIARY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("OSTIARY_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("OSTIARY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Hardware - controller shared secret (always override in production)
	if v := os.Getenv("OSTIARY_HARDWARE_SECRET"); v != "" {
		cfg.Hardware.SharedSecret = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("OSTIARY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// The controller secret gates physical access to parcel compartments.
	// An empty or short secret would let anyone forge unlock commands.
	const minSecretLength = 32
	if c.Hardware.SharedSecret == "" {
		errs = append(errs, "hardware.shared_secret is required (set OSTIARY_HARDWARE_SECRET environment variable)")
	} else if len(c.Hardware.SharedSecret) < minSecretLength {
		errs = append(errs, "hardware.shared_secret must be at least 32 characters")
	}

	switch c.Hardware.TokenMode {
	case TokenModeStatic, TokenModeTimestamped:
	default:
		errs = append(errs, "hardware.token_mode must be \"static\" or \"timestamped\"")
	}

	if c.Hardware.DefaultPulseMs < 1 {
		errs = append(errs, "hardware.default_pulse_ms must be positive")
	}

	if c.Credentials.TTLHours < 1 {
		errs = append(errs, "credentials.ttl_hours must be positive")
	}

	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set OSTIARY_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetDirectTimeout returns the direct dispatch timeout as a Duration.
func (c *HardwareConfig) GetDirectTimeout() time.Duration {
	return time.Duration(c.DirectTimeout) * time.Second
}

// GetTokenTTL returns the timestamped token validity window as a Duration.
func (c *HardwareConfig) GetTokenTTL() time.Duration {
	return time.Duration(c.TokenTTL) * time.Second
}

// GetTTL returns the credential validity window as a Duration.
func (c *CredentialsConfig) GetTTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// GetSweepInterval returns the expired-credential sweep interval as a Duration.
func (c *CredentialsConfig) GetSweepInterval() time.Duration {
	return time.Duration(c.SweepInterval) * time.Minute
}
