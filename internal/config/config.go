// Package config loads ward-monitor settings. Values come from built-in
// defaults, then an optional YAML file, then WARD_* environment
// variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// FileName is the config file base name searched for when no explicit
// path is given.
const FileName = "ward-monitor"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WARD"

// Config is the full ward-monitor configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Import  ImportConfig  `mapstructure:"import"`
	Report  ReportConfig  `mapstructure:"report"`
	Log     LogConfig     `mapstructure:"log"`
}

// StorageConfig selects the reading store.
type StorageConfig struct {
	Mode   string `mapstructure:"mode" envconfig:"MODE"`
	Dir    string `mapstructure:"dir" envconfig:"DIR"`
	DBPath string `mapstructure:"db_path" envconfig:"DB_PATH"`
}

// HTTPConfig configures the HTTP boundary.
type HTTPConfig struct {
	Addr            string `mapstructure:"addr" envconfig:"ADDR"`
	HistoryLimit    int    `mapstructure:"history_limit" envconfig:"HISTORY_LIMIT"`
	MaxHistoryLimit int    `mapstructure:"max_history_limit" envconfig:"MAX_HISTORY_LIMIT"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Enabled   bool          `mapstructure:"enabled" envconfig:"ENABLED"`
	Broker    string        `mapstructure:"broker" envconfig:"BROKER"`
	ClientID  string        `mapstructure:"client_id" envconfig:"CLIENT_ID"`
	Topic     string        `mapstructure:"topic" envconfig:"TOPIC"`
	QoS       int           `mapstructure:"qos" envconfig:"QOS"`
	Heartbeat time.Duration `mapstructure:"heartbeat" envconfig:"HEARTBEAT"`
}

// KafkaConfig configures the optional Kafka consumer. It is disabled when
// Topic is empty.
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers" envconfig:"BROKERS"`
	Topic   string `mapstructure:"topic" envconfig:"TOPIC"`
	GroupID string `mapstructure:"group_id" envconfig:"GROUP_ID"`
}

// MetricsConfig points at the backlog and financial database.
type MetricsConfig struct {
	DBPath string `mapstructure:"db_path" envconfig:"DB_PATH"`
}

// ImportConfig configures the batch importer.
type ImportConfig struct {
	BatchSize int    `mapstructure:"batch_size" envconfig:"BATCH_SIZE"`
	ErrorLog  string `mapstructure:"error_log" envconfig:"ERROR_LOG"`
}

// ReportConfig configures the external report generator.
type ReportConfig struct {
	Command []string      `mapstructure:"command" envconfig:"COMMAND"`
	Timeout time.Duration `mapstructure:"timeout" envconfig:"TIMEOUT"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level" envconfig:"LEVEL"`
	Format string `mapstructure:"format" envconfig:"FORMAT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Mode:   "file",
			Dir:    "data",
			DBPath: "data/ward.db",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			HistoryLimit:    100,
			MaxHistoryLimit: 5000,
		},
		MQTT: MQTTConfig{
			Enabled:   true,
			Broker:    "tcp://localhost:1883",
			ClientID:  "ward-monitor",
			Topic:     "ward/telemetry/readings",
			QoS:       1,
			Heartbeat: 15 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: "localhost:9092",
			GroupID: "ward-monitor",
		},
		Metrics: MetricsConfig{
			DBPath: "data/backlog.db",
		},
		Import: ImportConfig{
			BatchSize: 500,
			ErrorLog:  "data/import_errors.log",
		},
		Report: ReportConfig{
			Command: []string{"python3", "iot/report_generator.py"},
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. When path is empty, ward-monitor.yaml is
// looked up in the working directory and /etc/ward-monitor; a missing
// file is not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ward-monitor/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	groups := []struct {
		prefix string
		target interface{}
	}{
		{"STORAGE", &cfg.Storage},
		{"HTTP", &cfg.HTTP},
		{"MQTT", &cfg.MQTT},
		{"KAFKA", &cfg.Kafka},
		{"METRICS", &cfg.Metrics},
		{"IMPORT", &cfg.Import},
		{"REPORT", &cfg.Report},
		{"LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.prefix, g.target); err != nil {
			return nil, fmt.Errorf("environment: %w", err)
		}
	}

	return &cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.mode: %q is not file or sqlite", c.Storage.Mode)
	}
	if c.Storage.Mode == "file" && strings.TrimSpace(c.Storage.Dir) == "" {
		return errors.New("storage.dir: required in file mode")
	}
	if c.Storage.Mode == "sqlite" && strings.TrimSpace(c.Storage.DBPath) == "" {
		return errors.New("storage.db_path: required in sqlite mode")
	}
	if c.HTTP.MaxHistoryLimit <= 0 {
		return fmt.Errorf("http.max_history_limit: must be positive, got %d", c.HTTP.MaxHistoryLimit)
	}
	if c.HTTP.HistoryLimit <= 0 || c.HTTP.HistoryLimit > c.HTTP.MaxHistoryLimit {
		return fmt.Errorf("http.history_limit: must be in 1..%d, got %d", c.HTTP.MaxHistoryLimit, c.HTTP.HistoryLimit)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker: required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos: must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Heartbeat < 0 {
		return fmt.Errorf("mqtt.heartbeat: must not be negative, got %v", c.MQTT.Heartbeat)
	}
	if c.Kafka.Topic != "" && c.Kafka.Brokers == "" {
		return errors.New("kafka.brokers: required when kafka.topic is set")
	}
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import.batch_size: must be positive, got %d", c.Import.BatchSize)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: %q is not json or console", c.Log.Format)
	}
	return nil
}
