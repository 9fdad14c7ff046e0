package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds everything the simulator window and the reader need.
type Config struct {
	// MQTT
	MQTTBroker   string `yaml:"mqtt_broker" env:"TEMPSIM_MQTT_BROKER"`
	MQTTPort     int    `yaml:"mqtt_port" env:"TEMPSIM_MQTT_PORT"`
	MQTTUser     string `yaml:"mqtt_user" env:"TEMPSIM_MQTT_USER"`
	MQTTPassword string `yaml:"mqtt_password" env:"TEMPSIM_MQTT_PASSWORD"`
	MQTTClientID string `yaml:"mqtt_client_id" env:"TEMPSIM_MQTT_CLIENT_ID"`
	Topic        string `yaml:"topic" env:"TEMPSIM_TOPIC"`
	QoS          int    `yaml:"qos" env:"TEMPSIM_QOS"`

	// Publishing
	IntervalSec       int `yaml:"interval_sec" env:"TEMPSIM_INTERVAL_SEC"`
	ConnectTimeoutSec int `yaml:"connect_timeout_sec" env:"TEMPSIM_CONNECT_TIMEOUT_SEC"`

	// Slider
	TempMin  int `yaml:"temp_min" env:"TEMPSIM_TEMP_MIN"`
	TempMax  int `yaml:"temp_max" env:"TEMPSIM_TEMP_MAX"`
	TempInit int `yaml:"temp_init" env:"TEMPSIM_TEMP_INIT"`

	// Service
	Title    string `yaml:"title" env:"TEMPSIM_TITLE"`
	LogLevel string `yaml:"log_level" env:"TEMPSIM_LOG_LEVEL"`
	LogFile  string `yaml:"log_file" env:"TEMPSIM_LOG_FILE"`

	// ConfigFile is only read from the environment or flags.
	ConfigFile string `yaml:"-" env:"TEMPSIM_CONFIG"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		MQTTBroker:        "192.168.12.1",
		MQTTPort:          1883,
		Topic:             "tempserver/relay/set",
		QoS:               1,
		IntervalSec:       5,
		ConnectTimeoutSec: 10,
		TempMin:           10,
		TempMax:           35,
		TempInit:          20,
		Title:             "Temperature Simulator",
		LogLevel:          "info",
	}
}

// Load builds the configuration: defaults → YAML file → .env → environment → flags.
func Load(args []string) (*Config, error) {
	c := NewConfig()

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	// The config file location may itself come from env or flags, so resolve it first.
	path := os.Getenv("TEMPSIM_CONFIG")
	if p, ok := lookupConfigFlag(args); ok {
		path = p
	}
	if path != "" {
		if err := c.LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := c.LoadFromFlags(args); err != nil {
		return nil, err
	}
	return c, nil
}

// loadDotEnv exports variables from the given files. A missing file is fine,
// a malformed one is not.
func loadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadFromFile overlays values from a YAML file.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.ConfigFile = path
	return nil
}

// LoadFromEnv overlays values from TEMPSIM_* environment variables. Unset
// variables leave the current value untouched.
func (c *Config) LoadFromEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// LoadFromFlags parses command-line flags and overrides config values
func (c *Config) LoadFromFlags(args []string) error {
	flags := c.flagSet()
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}

func (c *Config) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("tempsim", pflag.ContinueOnError)

	flags.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	flags.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	flags.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	flags.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	flags.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID (generated when empty)")
	flags.StringVar(&c.Topic, "topic", c.Topic, "Topic the temperature is published to")
	flags.IntVar(&c.QoS, "qos", c.QoS, "MQTT QoS level")

	flags.IntVar(&c.IntervalSec, "interval", c.IntervalSec, "Publish interval in seconds")
	flags.IntVar(&c.ConnectTimeoutSec, "connect-timeout", c.ConnectTimeoutSec, "Connect timeout in seconds")

	flags.IntVar(&c.TempMin, "temp-min", c.TempMin, "Slider minimum")
	flags.IntVar(&c.TempMax, "temp-max", c.TempMax, "Slider maximum")
	flags.IntVar(&c.TempInit, "temp-init", c.TempInit, "Slider initial value")

	flags.StringVar(&c.Title, "title", c.Title, "Window title")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&c.LogFile, "log-file", c.LogFile, "Also write logs to this file (rotated)")
	flags.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML config file")

	return flags
}

// lookupConfigFlag finds --config ahead of the full parse.
func lookupConfigFlag(args []string) (string, bool) {
	flags := pflag.NewFlagSet("config-lookup", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.Usage = func() {}
	path := flags.String("config", "", "")
	if err := flags.Parse(args); err != nil {
		return "", false
	}
	return *path, flags.Changed("config")
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT port must be between 1 and 65535")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if c.QoS < 0 || c.QoS > 2 {
		return fmt.Errorf("QoS must be 0, 1 or 2")
	}
	if c.IntervalSec <= 0 {
		return fmt.Errorf("publish interval must be positive")
	}
	if c.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.TempMin > c.TempMax {
		return fmt.Errorf("temp-min %d is above temp-max %d", c.TempMin, c.TempMax)
	}
	if c.TempInit < c.TempMin || c.TempInit > c.TempMax {
		return fmt.Errorf("temp-init %d is outside [%d, %d]", c.TempInit, c.TempMin, c.TempMax)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// Interval returns the publish interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// ConnectTimeout returns how long a single connect attempt may block.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}
