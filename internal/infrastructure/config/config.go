package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the climate sync service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud     CloudConfig     `yaml:"cloud"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CloudConfig contains the climate cloud account and sync settings.
type CloudConfig struct {
	// BaseURL is the REST endpoint root, without the api/v1 prefix.
	BaseURL string `yaml:"base_url"`

	// WebSocketURL is the push endpoint root.
	WebSocketURL string `yaml:"websocket_url"`

	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// InstallationID selects the installation to sync. Empty selects the
	// first installation the account can see.
	InstallationID string `yaml:"installation_id"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`

	// MaxConcurrentRequests bounds simultaneous in-flight requests.
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`

	// RequestsLimit is the per-minute request budget; polling above it
	// logs a warning.
	RequestsLimit int `yaml:"requests_limit"`

	// DeviceConfig enables the per-device config requests.
	DeviceConfig bool `yaml:"device_config"`

	// WebSockets enables the push channel.
	WebSockets bool `yaml:"websockets"`

	// TokenRefreshPeriod is the token age, in hours, after which it is refreshed.
	TokenRefreshPeriod int `yaml:"token_refresh_period"`

	// PushWait is how long, in seconds, an update cycle waits for the
	// push channel to synchronize before polling instead.
	PushWait int `yaml:"push_wait"`

	// AliveWindow is the push liveness window in seconds.
	AliveWindow int `yaml:"alive_window"`

	// UpdateInterval is the scheduled update period in seconds.
	UpdateInterval int `yaml:"update_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// AuditRetentionDays is how long command audit entries are kept.
	// Zero keeps them forever.
	AuditRetentionDays int `yaml:"audit_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the root of every published and subscribed topic.
	TopicPrefix string `yaml:"topic_prefix"`
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
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APIAuthConfig protects the mutating API routes. An empty KeyHash leaves
// them open.
type APIAuthConfig struct {
	// KeyHash is the Argon2id PHC hash of the API key.
	KeyHash string `yaml:"key_hash"`
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

// WebSocketConfig contains settings for the local live-state WebSocket.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CLIMATE_SECTION_KEY
// For example: CLIMATE_CLOUD_EMAIL, CLIMATE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Cloud: CloudConfig{
			BaseURL:               "https://m.airzonecloud.com",
			WebSocketURL:          "wss://m.airzonecloud.com",
			Timeout:               10,
			MaxConcurrentRequests: 4,
			RequestsLimit:         100,
			DeviceConfig:          false,
			WebSockets:            true,
			TokenRefreshPeriod:    12,
			PushWait:              30,
			AliveWindow:           45,
			UpdateInterval:        60,
		},
		Database: DatabaseConfig{
			Path:               "./data/climatesync.db",
			WALMode:            true,
			BusyTimeout:        5,
			AuditRetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "climatesync",
			},
			QoS:         1,
			TopicPrefix: "climate",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CLIMATE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud account
	if v := os.Getenv("CLIMATE_CLOUD_EMAIL"); v != "" {
		cfg.Cloud.Email = v
	}
	if v := os.Getenv("CLIMATE_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("CLIMATE_CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("CLIMATE_CLOUD_WEBSOCKET_URL"); v != "" {
		cfg.Cloud.WebSocketURL = v
	}
	if v := os.Getenv("CLIMATE_CLOUD_INSTALLATION_ID"); v != "" {
		cfg.Cloud.InstallationID = v
	}
	if v := os.Getenv("CLIMATE_CLOUD_WEBSOCKETS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cloud.WebSockets = b
		}
	}

	// Database
	if v := os.Getenv("CLIMATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("CLIMATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CLIMATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CLIMATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("CLIMATE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CLIMATE_API_KEY_HASH"); v != "" {
		cfg.API.Auth.KeyHash = v
	}

	if v := os.Getenv("CLIMATE_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}

	// InfluxDB
	if v := os.Getenv("CLIMATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("CLIMATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Cloud validation
	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Cloud.WebSockets && c.Cloud.WebSocketURL == "" {
		errs = append(errs, "cloud.websocket_url is required when cloud.websockets is enabled")
	}
	if c.Cloud.Email == "" || c.Cloud.Password == "" {
		errs = append(errs, "cloud.email and cloud.password are required (set CLIMATE_CLOUD_EMAIL and CLIMATE_CLOUD_PASSWORD)")
	}
	if c.Cloud.Timeout < 1 {
		errs = append(errs, "cloud.timeout must be at least 1 second")
	}
	if c.Cloud.MaxConcurrentRequests < 1 {
		errs = append(errs, "cloud.max_concurrent_requests must be at least 1")
	}
	if c.Cloud.TokenRefreshPeriod < 1 {
		errs = append(errs, "cloud.token_refresh_period must be at least 1 hour")
	}
	if c.Cloud.UpdateInterval < 1 {
		errs = append(errs, "cloud.update_interval must be at least 1 second")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.AuditRetentionDays < 0 {
		errs = append(errs, "database.audit_retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Auth.KeyHash != "" && !strings.HasPrefix(c.API.Auth.KeyHash, "$argon2id$") {
		errs = append(errs, "api.auth.key_hash must be an argon2id hash (see climatesync hash-key)")
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn, or error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetCloudTimeout returns the per-request cloud timeout as a Duration.
func (c *Config) GetCloudTimeout() time.Duration {
	return time.Duration(c.Cloud.Timeout) * time.Second
}

// GetTokenRefreshPeriod returns the token refresh age as a Duration.
func (c *Config) GetTokenRefreshPeriod() time.Duration {
	return time.Duration(c.Cloud.TokenRefreshPeriod) * time.Hour
}

// GetPushWait returns the push synchronization wait as a Duration.
func (c *Config) GetPushWait() time.Duration {
	return time.Duration(c.Cloud.PushWait) * time.Second
}

// GetAliveWindow returns the push liveness window as a Duration.
func (c *Config) GetAliveWindow() time.Duration {
	return time.Duration(c.Cloud.AliveWindow) * time.Second
}

// GetUpdateInterval returns the scheduled update period as a Duration.
func (c *Config) GetUpdateInterval() time.Duration {
	return time.Duration(c.Cloud.UpdateInterval) * time.Second
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

// GetAuditRetention returns the audit retention as a Duration. Zero means
// entries are kept forever.
func (c *Config) GetAuditRetention() time.Duration {
	return time.Duration(c.Database.AuditRetentionDays) * 24 * time.Hour
}
