package robot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Defaults match the vendor example clients.
const (
	DefaultBackend       = "sim"
	DefaultClientName    = "spot-motors"
	DefaultEstopName     = "SpotMotorEstop"
	DefaultEstopTimeout  = 9 * time.Second
	DefaultPowerTimeout  = 20 * time.Second
	DefaultMotionTimeout = 10 * time.Second
)

// Environment variables read by ApplyEnvConfig.
const (
	EnvUsername = "BOSDYN_CLIENT_USERNAME"
	EnvPassword = "BOSDYN_CLIENT_PASSWORD"
	EnvHostname = "SPOTMOTORS_HOSTNAME"
	EnvBackend  = "SPOTMOTORS_BACKEND"
)

// Config holds the resolved console configuration.
type Config struct {
	Hostname      string
	Username      string
	Password      string
	Backend       string
	ClientName    string
	EstopName     string
	EstopTimeout  time.Duration
	PowerTimeout  time.Duration
	MotionTimeout time.Duration
	AutoAllow     bool
	LogFile       string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Backend:       DefaultBackend,
		ClientName:    DefaultClientName,
		EstopName:     DefaultEstopName,
		EstopTimeout:  DefaultEstopTimeout,
		PowerTimeout:  DefaultPowerTimeout,
		MotionTimeout: DefaultMotionTimeout,
		AutoAllow:     true,
	}
}

// Credentials returns the login for the configured user.
func (c *Config) Credentials() Credentials {
	return Credentials{Username: c.Username, Password: c.Password}
}

// Validate checks the configuration and fills empty fields with defaults.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.EstopName == "" {
		c.EstopName = DefaultEstopName
	}
	if c.EstopTimeout <= 0 {
		return fmt.Errorf("estop timeout must be positive")
	}
	if c.PowerTimeout <= 0 {
		return fmt.Errorf("power timeout must be positive")
	}
	if c.MotionTimeout <= 0 {
		return fmt.Errorf("motion timeout must be positive")
	}
	return nil
}

// FileConfig is the TOML form of Config. Durations are strings ("20s").
// The password is never written to disk.
type FileConfig struct {
	Hostname      string `toml:"hostname"`
	Username      string `toml:"username"`
	Backend       string `toml:"backend"`
	ClientName    string `toml:"client_name"`
	EstopName     string `toml:"estop_name"`
	EstopTimeout  string `toml:"estop_timeout"`
	PowerTimeout  string `toml:"power_timeout"`
	MotionTimeout string `toml:"motion_timeout"`
	AutoAllow     *bool  `toml:"auto_allow"`
	LogFile       string `toml:"log_file"`
}

// DefaultConfigPath returns ~/.spotmotors/config.toml, or a file in the working
// directory when the home directory is unknown.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".spotmotors", "config.toml")
	}
	return "spotmotors.toml"
}

// ConfigExists returns true if a config file exists at path.
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadFileConfig reads a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// setter applies values unless the matching flag was given on the command line.
type setter struct {
	changed map[string]bool
}

func (s setter) str(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s setter) duration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// ApplyFileConfig copies file values into cfg, skipping flags in changed.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := setter{changed: changed}

	s.str("hostname", fc.Hostname, &cfg.Hostname)
	s.str("username", fc.Username, &cfg.Username)
	s.str("backend", fc.Backend, &cfg.Backend)
	s.str("client-name", fc.ClientName, &cfg.ClientName)
	s.str("estop-name", fc.EstopName, &cfg.EstopName)
	s.str("log-file", fc.LogFile, &cfg.LogFile)

	if err := s.duration("estop-timeout", fc.EstopTimeout, &cfg.EstopTimeout); err != nil {
		return err
	}
	if err := s.duration("power-timeout", fc.PowerTimeout, &cfg.PowerTimeout); err != nil {
		return err
	}
	if err := s.duration("motion-timeout", fc.MotionTimeout, &cfg.MotionTimeout); err != nil {
		return err
	}

	if fc.AutoAllow != nil && !changed["no-auto-allow"] {
		cfg.AutoAllow = *fc.AutoAllow
	}
	return nil
}

// ApplyEnvConfig overrides cfg from the environment, skipping flags in changed.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) {
	s := setter{changed: changed}
	s.str("hostname", os.Getenv(EnvHostname), &cfg.Hostname)
	s.str("username", os.Getenv(EnvUsername), &cfg.Username)
	s.str("backend", os.Getenv(EnvBackend), &cfg.Backend)
	// no flag for the password
	s.str("", os.Getenv(EnvPassword), &cfg.Password)
}

// FileConfig converts cfg into its on-disk form.
func (c *Config) FileConfig() FileConfig {
	autoAllow := c.AutoAllow
	return FileConfig{
		Hostname:      c.Hostname,
		Username:      c.Username,
		Backend:       c.Backend,
		ClientName:    c.ClientName,
		EstopName:     c.EstopName,
		EstopTimeout:  c.EstopTimeout.String(),
		PowerTimeout:  c.PowerTimeout.String(),
		MotionTimeout: c.MotionTimeout.String(),
		AutoAllow:     &autoAllow,
		LogFile:       c.LogFile,
	}
}

// SaveTo writes the configuration to path, creating parent directories.
func (c *Config) SaveTo(path string) error {
	data, err := toml.Marshal(c.FileConfig())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
