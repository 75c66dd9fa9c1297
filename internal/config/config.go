package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glowlab/glowd/internal/curve"
	"github.com/glowlab/glowd/internal/light"
)

// Config represents the application configuration
type Config struct {
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Location        LocationConfig `yaml:"location"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	Curve           curve.Params   `yaml:"curve"`
	Updater         UpdaterConfig  `yaml:"updater"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	ColorMode       string         `yaml:"color_mode"` // kelvin, rgb or xy
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"`
}

// MQTTConfig contains broker connection settings
type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	ClientID  string `yaml:"client_id"`
	BaseTopic string `yaml:"base_topic"`
}

// Address returns the broker URL for the MQTT client
func (c *MQTTConfig) Address() string {
	return fmt.Sprintf("tcp://%s:%d", c.Broker, c.Port)
}

// LocationConfig contains the coordinates used for solar time calculations
type LocationConfig struct {
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Timezone string  `yaml:"timezone"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// UpdaterConfig contains the periodic updater settings
type UpdaterConfig struct {
	Interval       Duration `yaml:"interval"`
	TransitionOn   Duration `yaml:"transition_on"`
	TransitionStep Duration `yaml:"transition_step"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	cfg := Config{
		Curve: curve.DefaultParams(),
	}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./glowd.sqlite"
	}

	// Location defaults
	if cfg.Location.Timezone == "" {
		cfg.Location.Timezone = "UTC"
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "localhost"
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.BaseTopic == "" {
		cfg.MQTT.BaseTopic = "glowd"
	}

	// Updater defaults
	if cfg.Updater.Interval == 0 {
		cfg.Updater.Interval = Duration(time.Minute)
	}
	if cfg.Updater.TransitionOn == 0 {
		cfg.Updater.TransitionOn = Duration(time.Second)
	}
	if cfg.Updater.TransitionStep == 0 {
		cfg.Updater.TransitionStep = Duration(200 * time.Millisecond)
	}

	if cfg.ColorMode == "" {
		cfg.ColorMode = string(light.ColorModeKelvin)
	}
	if _, err := light.ParseColorMode(cfg.ColorMode); err != nil {
		return nil, fmt.Errorf("invalid color_mode: %w", err)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	// Curve parameters are rejected at load time, never at evaluation time
	if err := cfg.Curve.Validate(); err != nil {
		return nil, fmt.Errorf("invalid curve config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
