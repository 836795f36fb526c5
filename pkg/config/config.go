package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Stations map[string]StationConfig `mapstructure:"stations"`
	Journal  JournalConfig            `mapstructure:"journal"`
	Monitor  MonitorConfig            `mapstructure:"monitor"`
	MQTT     MQTTConfig               `mapstructure:"mqtt"`
	Logging  LoggingConfig            `mapstructure:"logging"`
	Metrics  MetricsConfig            `mapstructure:"metrics"`
}

// ServerConfig holds daemon identification
type ServerConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// StationConfig represents a single fax station endpoint
type StationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Mode    string `mapstructure:"mode"` // CALLER or ANSWERER

	// Station identity, sent in CSI/TSI frames
	Ident      string `mapstructure:"ident"`
	SubAddress string `mapstructure:"sub_address"`
	Password   string `mapstructure:"password"`
	HeaderInfo string `mapstructure:"header_info"`

	// Capabilities
	Modems         []string `mapstructure:"modems"` // v27ter, v29, v17
	ECM            bool     `mapstructure:"ecm"`
	Fine           bool     `mapstructure:"fine"`
	Superfine      bool     `mapstructure:"superfine"`
	T6Compression  bool     `mapstructure:"t6_compression"`
	WidePaper      bool     `mapstructure:"wide_paper"` // B4/A3 widths
	CRPEnabled     bool     `mapstructure:"crp_enabled"`
	ReceiverNotReady int    `mapstructure:"receiver_not_ready"` // RNR count before commit
}

// JournalConfig holds call journal database configuration
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MonitorConfig holds the live status web server configuration
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// MQTTConfig holds MQTT event publisher configuration
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	QoS         byte   `mapstructure:"qos"`
	Retained    bool   `mapstructure:"retained"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MetricsConfig holds metrics exposition configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load reads and validates configuration from a file
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "fax-nexus")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("journal.path", "fax-nexus.db")
	v.SetDefault("monitor.host", "0.0.0.0")
	v.SetDefault("monitor.port", 8080)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("mqtt.topic_prefix", "fax-nexus")
	v.SetDefault("mqtt.client_id", "fax-nexus")
}
