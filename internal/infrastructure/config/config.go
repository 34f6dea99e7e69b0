package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink backends supported by the bridge.
const (
	SinkBackendInfluxDB        = "influxdb"
	SinkBackendVictoriaMetrics = "victoriametrics"
)

// Config is the root configuration structure for the sensor bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Sink       SinkConfig       `yaml:"sink"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig contains the static tags attached to every point.
type SiteConfig struct {
	Sensor   string `yaml:"sensor"`
	Location string `yaml:"location"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker       MQTTBrokerConfig    `yaml:"broker"`
	Auth         MQTTAuthConfig      `yaml:"auth"`
	QoS          int                 `yaml:"qos"`
	KeepAlive    int                 `yaml:"keep_alive"`
	CleanSession bool                `yaml:"clean_session"`
	Topics       []string            `yaml:"topics"`
	StatusTopic  string              `yaml:"status_topic"`
	Reconnect    MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// SinkConfig selects and configures the time-series backend.
type SinkConfig struct {
	Backend         string                `yaml:"backend"`
	WriteTimeout    time.Duration         `yaml:"write_timeout"`
	InfluxDB        InfluxDBConfig        `yaml:"influxdb"`
	VictoriaMetrics VictoriaMetricsConfig `yaml:"victoriametrics"`
}

// InfluxDBConfig contains InfluxDB v2 connection settings.
type InfluxDBConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// VictoriaMetricsConfig contains VictoriaMetrics connection settings.
type VictoriaMetricsConfig struct {
	URL string `yaml:"url"`
}

// PipelineConfig contains delivery pipeline tuning.
type PipelineConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	Linger         time.Duration `yaml:"linger"`
	BufferCapacity int           `yaml:"buffer_capacity"`
	Retry          RetryConfig   `yaml:"retry"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}

// RetryConfig contains the sink retry policy.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxDuration  time.Duration `yaml:"max_duration"`
}

// DeadLetterConfig contains settings for the dropped-batch journal.
type DeadLetterConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MetricsConfig contains the operator HTTP endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
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
// Environment variables follow the pattern: SENSORBRIDGE_SECTION_KEY
// For example: SENSORBRIDGE_MQTT_HOST, SENSORBRIDGE_INFLUXDB_TOKEN
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
// Topic and tag defaults match the ESP32 DHT22 firmware.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Sensor:   "DHT22",
			Location: "esp32",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sensorbridge",
			},
			QoS:         1,
			KeepAlive:   60,
			Topics:      []string{"esp32/dht/temperature", "esp32/dht/humidity"},
			StatusTopic: "sensorbridge/status",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
			},
		},
		Sink: SinkConfig{
			Backend:      SinkBackendInfluxDB,
			WriteTimeout: 10 * time.Second,
			InfluxDB: InfluxDBConfig{
				URL:    "http://localhost:8086",
				Org:    "esp32",
				Bucket: "sensors",
			},
			VictoriaMetrics: VictoriaMetricsConfig{
				URL: "http://localhost:8428",
			},
		},
		Pipeline: PipelineConfig{
			BatchSize:      100,
			Linger:         2 * time.Second,
			BufferCapacity: 1000,
			Retry: RetryConfig{
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				MaxDuration:  5 * time.Minute,
			},
			DrainTimeout: 10 * time.Second,
		},
		DeadLetter: DeadLetterConfig{
			Enabled:     true,
			Path:        "./data/deadletter.db",
			BusyTimeout: 5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9102,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SENSORBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("SENSORBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SENSORBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SENSORBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SENSORBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("SENSORBRIDGE_MQTT_TOPICS"); v != "" {
		cfg.MQTT.Topics = splitList(v)
	}

	// Sink
	if v := os.Getenv("SENSORBRIDGE_SINK_BACKEND"); v != "" {
		cfg.Sink.Backend = v
	}
	if v := os.Getenv("SENSORBRIDGE_INFLUXDB_URL"); v != "" {
		cfg.Sink.InfluxDB.URL = v
	}
	if v := os.Getenv("SENSORBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.Sink.InfluxDB.Token = v
	}
	if v := os.Getenv("SENSORBRIDGE_VICTORIAMETRICS_URL"); v != "" {
		cfg.Sink.VictoriaMetrics.URL = v
	}

	// Dead letter
	if v := os.Getenv("SENSORBRIDGE_DEAD_LETTER_PATH"); v != "" {
		cfg.DeadLetter.Path = v
	}
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site tags
	if c.Site.Sensor == "" {
		errs = append(errs, "site.sensor is required")
	}
	if c.Site.Location == "" {
		errs = append(errs, "site.location is required")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.KeepAlive <= 0 {
		errs = append(errs, "mqtt.keep_alive must be positive")
	}
	if len(c.MQTT.Topics) == 0 {
		errs = append(errs, "mqtt.topics must contain at least one topic")
	}
	for _, topic := range c.MQTT.Topics {
		if strings.TrimSpace(topic) == "" {
			errs = append(errs, "mqtt.topics must not contain empty topics")
			break
		}
	}
	if !c.MQTT.CleanSession && c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required when clean_session is false")
	}
	if c.MQTT.Reconnect.InitialDelay <= 0 || c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect delays must be positive with max_delay >= initial_delay")
	}

	// Sink validation
	switch c.Sink.Backend {
	case SinkBackendInfluxDB:
		if c.Sink.InfluxDB.URL == "" {
			errs = append(errs, "sink.influxdb.url is required")
		}
		if c.Sink.InfluxDB.Token == "" {
			errs = append(errs, "sink.influxdb.token is required (set SENSORBRIDGE_INFLUXDB_TOKEN environment variable)")
		}
		if c.Sink.InfluxDB.Org == "" || c.Sink.InfluxDB.Bucket == "" {
			errs = append(errs, "sink.influxdb.org and sink.influxdb.bucket are required")
		}
	case SinkBackendVictoriaMetrics:
		if c.Sink.VictoriaMetrics.URL == "" {
			errs = append(errs, "sink.victoriametrics.url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("sink.backend must be %q or %q", SinkBackendInfluxDB, SinkBackendVictoriaMetrics))
	}
	if c.Sink.WriteTimeout <= 0 {
		errs = append(errs, "sink.write_timeout must be positive")
	}

	// Pipeline validation
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, "pipeline.batch_size must be positive")
	}
	if c.Pipeline.Linger <= 0 {
		errs = append(errs, "pipeline.linger must be positive")
	}
	if c.Pipeline.BufferCapacity <= 0 {
		errs = append(errs, "pipeline.buffer_capacity must be positive")
	}
	if c.Pipeline.Retry.InitialDelay <= 0 || c.Pipeline.Retry.MaxDelay < c.Pipeline.Retry.InitialDelay {
		errs = append(errs, "pipeline.retry delays must be positive with max_delay >= initial_delay")
	}
	if c.Pipeline.Retry.MaxDuration <= 0 {
		errs = append(errs, "pipeline.retry.max_duration must be positive")
	}
	if c.Pipeline.DrainTimeout <= 0 {
		errs = append(errs, "pipeline.drain_timeout must be positive")
	}

	// Dead letter
	if c.DeadLetter.Enabled && c.DeadLetter.Path == "" {
		errs = append(errs, "dead_letter.path is required when dead_letter is enabled")
	}

	// Metrics
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerAddress returns the broker address as host:port.
func (c MQTTConfig) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.Broker.Host, c.Broker.Port)
}

// GetKeepAlive returns the MQTT keepalive as a Duration.
func (c MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(c.KeepAlive) * time.Second
}

// GetReconnectDelays returns the MQTT reconnect base and cap as Durations.
func (c MQTTConfig) GetReconnectDelays() (base, maxDelay time.Duration) {
	return time.Duration(c.Reconnect.InitialDelay) * time.Second,
		time.Duration(c.Reconnect.MaxDelay) * time.Second
}

// ListenAddress returns the metrics listen address as host:port.
func (c MetricsConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
