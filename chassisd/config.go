package main

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"chassis-can/registry"
	"chassis-can/telemetry"
)

// LoopbackInterface runs against an in-memory bus instead of SocketCAN.
const LoopbackInterface = "loopback"

type Config struct {
	// Interface is the SocketCAN interface, or "loopback" for a dry run.
	Interface string `yaml:"interface"`
	LogLevel  string `yaml:"log_level"`
	// LogFile, when set, receives the log as well as stderr.
	LogFile string `yaml:"log_file"`

	// SignalMap is an optional CSV signal map replacing the compiled-in protocol.
	SignalMap string `yaml:"signal_map"`
	// Scenario is the JSON scenario to replay. Without one the daemon only
	// sends safe defaults and decodes reports until stopped.
	Scenario string `yaml:"scenario"`

	// Startup is how long reports are read before the scenario starts.
	Startup time.Duration `yaml:"startup"`

	Sender    *registry.SenderConfig `yaml:"sender"`
	Telemetry *telemetry.Config      `yaml:"telemetry"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Interface: "can0",
		LogLevel:  "info",
		Startup:   500 * time.Millisecond,

		Sender:    registry.NewDefaultSenderConfig(),
		Telemetry: telemetry.NewDefaultConfig(),
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	if cfg.Sender == nil {
		cfg.Sender = registry.NewDefaultSenderConfig()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewDefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Interface == "" {
		return errors.New("config: interface is required")
	}
	if c.Startup < 0 {
		return errors.Newf("config: negative startup %s", c.Startup)
	}
	if c.Sender != nil && c.Sender.Tick < 0 {
		return errors.Newf("config: negative sender tick %s", c.Sender.Tick)
	}
	return nil
}
