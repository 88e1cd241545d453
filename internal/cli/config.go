package cli

// This file resolves CLI configuration with the precedence
// flags > environment (EXCPORT_*) > config file (~/.excport/config.yaml).

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"excport/internal/mach"
)

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "EXCPORT"

// Config is the configuration shared by the watch and ports commands.
type Config struct {
	Mask        string        `yaml:"mask" envconfig:"MASK"`
	Behavior    string        `yaml:"behavior" envconfig:"BEHAVIOR"`
	MachCodes   bool          `yaml:"mach_codes" envconfig:"MACH_CODES"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MetricsAddr string        `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
	Debug       bool          `yaml:"debug" envconfig:"DEBUG"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Mask:     "crash",
		Behavior: "default",
	}
}

// ConfigPath returns the config file location, or "" when the home
// directory is unknown.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".excport", "config.yaml")
}

// LoadConfig layers the config file at path and then the environment over
// the defaults. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		// #nosec G304 -- path is the user's own config file.
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, wrapWithSentinelAndContext(ErrUnmarshalConfigFailed, err,
					fmt.Sprintf("failed to unmarshal config: %v", err), map[string]any{"path": path})
			}
		case !os.IsNotExist(err):
			return cfg, wrapWithSentinelAndContext(ErrReadConfigFailed, err,
				fmt.Sprintf("failed to read config: %v", err), map[string]any{"path": path})
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, wrapWithSentinel(ErrEnvConfigFailed, err, err.Error())
	}
	return cfg, nil
}

// ApplyFlags overrides cfg with every flag the user set explicitly.
func (c *Config) ApplyFlags(flags *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func()) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			apply()
		}
	}
	set("mask", func() { c.Mask, err = flags.GetString("mask") })
	set("behavior", func() { c.Behavior, err = flags.GetString("behavior") })
	set("mach-codes", func() { c.MachCodes, err = flags.GetBool("mach-codes") })
	set("timeout", func() { c.Timeout, err = flags.GetDuration("timeout") })
	set("metrics-addr", func() { c.MetricsAddr, err = flags.GetString("metrics-addr") })
	return err
}

// ExceptionMask parses Mask.
func (c Config) ExceptionMask() (mach.ExceptionMask, error) {
	m, err := mach.ParseMask(c.Mask)
	if err != nil {
		return 0, wrapWithSentinelAndContext(ErrInvalidMask, err, err.Error(), map[string]any{"mask": c.Mask})
	}
	return m, nil
}

// ExceptionBehavior parses Behavior and applies MachCodes.
func (c Config) ExceptionBehavior() (mach.Behavior, error) {
	b, err := mach.ParseBehavior(c.Behavior)
	if err != nil {
		return 0, wrapWithSentinelAndContext(ErrInvalidBehavior, err, err.Error(), map[string]any{"behavior": c.Behavior})
	}
	if c.MachCodes {
		b |= mach.MachExceptionCodes
	}
	return b, nil
}

// Validate checks the values no parser covers.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return wrapWithSentinelAndContext(ErrInvalidConfig, nil, "timeout must not be negative",
			map[string]any{"timeout": c.Timeout.String()})
	}
	if _, err := c.ExceptionMask(); err != nil {
		return err
	}
	_, err := c.ExceptionBehavior()
	return err
}
