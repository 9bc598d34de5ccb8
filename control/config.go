// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Daemon configuration: listen addresses, logging and reactor tuning,
// decoded from YAML on top of built-in defaults.

package control

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Log     LogConfig     `yaml:"log"`
	Reactor ReactorConfig `yaml:"reactor"`
}

// ListenConfig lists the endpoints to open.
type ListenConfig struct {
	Unix []string `yaml:"unix"` // filesystem socket paths
	IPv4 []string `yaml:"ipv4"` // "a.b.c.d:port"
}

// LogConfig stores settings for the daemon logger. An empty File logs to
// stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ReactorConfig tunes the event loop.
type ReactorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxEvents    int           `yaml:"max_events"`
	CPU          int           `yaml:"cpu"` // -1 leaves the loop unpinned
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Reactor: ReactorConfig{
			PollInterval: 100 * time.Millisecond,
			MaxEvents:    128,
			CPU:          -1,
		},
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks addresses and log level.
func (c *Config) Validate() error {
	for _, p := range c.Listen.Unix {
		if p == "" {
			return errors.New("config: empty unix socket path")
		}
	}
	for _, s := range c.Listen.IPv4 {
		if _, err := ParseIPv4AddrPort(s); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log level: %w", err)
	}
	if c.Reactor.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive, got %s", c.Reactor.PollInterval)
	}
	return nil
}

// ParseIPv4AddrPort parses "a.b.c.d:port" and rejects non-IPv4 hosts and
// port 0.
func ParseIPv4AddrPort(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("ipv4 address %q: %w", s, err)
	}
	if !ap.Addr().Is4() {
		return netip.AddrPort{}, fmt.Errorf("ipv4 address %q: not an IPv4 address", s)
	}
	if ap.Port() == 0 {
		return netip.AddrPort{}, fmt.Errorf("ipv4 address %q: port 0 is not supported", s)
	}
	return ap, nil
}
