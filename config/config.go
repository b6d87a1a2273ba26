// Package config handles hvman configuration.
//
// Configuration is layered:
//
//  1. Built-in defaults embedded from default.toml
//  2. The config file, if it exists
//  3. CLI flags and environment variables, applied by the CLI layer
//
// The TOML decoder only sets fields present in the file, so a partial
// file leaves everything else at its default. A file that exists but
// does not parse is an error; there is no silent fallback.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/frobware/go-hvman/logging"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "/etc/hvman/hvman.toml"

// Config is the top-level configuration.
type Config struct {
	Hypervisor HypervisorConfig `toml:"hypervisor" json:"hypervisor" yaml:"hypervisor"`
	UDP        UDPConfig        `toml:"udp" json:"udp" yaml:"udp"`
	Console    PortRangeConfig  `toml:"console" json:"console" yaml:"console"`
	Runtime    RuntimeConfig    `toml:"runtime" json:"runtime" yaml:"runtime"`
	Logging    LoggingConfig    `toml:"logging" json:"logging" yaml:"logging"`
}

// HypervisorConfig locates the hypervisor control port.
type HypervisorConfig struct {
	Address        string        `toml:"address" json:"address" yaml:"address"`
	CommandTimeout time.Duration `toml:"command_timeout" json:"command_timeout" yaml:"command_timeout"`
	DialTimeout    time.Duration `toml:"dial_timeout" json:"dial_timeout" yaml:"dial_timeout"`
}

// PortRangeConfig is an inclusive port range.
type PortRangeConfig struct {
	StartPort int `toml:"start_port" json:"start_port" yaml:"start_port"`
	EndPort   int `toml:"end_port" json:"end_port" yaml:"end_port"`
}

// UDPConfig is the range local NIO ports are drawn from and the host
// they are probed on.
type UDPConfig struct {
	Host      string `toml:"host" json:"host" yaml:"host"`
	StartPort int    `toml:"start_port" json:"start_port" yaml:"start_port"`
	EndPort   int    `toml:"end_port" json:"end_port" yaml:"end_port"`
}

// Range returns the port bounds.
func (c UDPConfig) Range() PortRangeConfig {
	return PortRangeConfig{StartPort: c.StartPort, EndPort: c.EndPort}
}

// RuntimeConfig places state and per-device files.
type RuntimeConfig struct {
	Base       string `toml:"base" json:"base" yaml:"base"`
	WorkingDir string `toml:"working_dir" json:"working_dir" yaml:"working_dir"`
}

// LoggingConfig controls logging.
type LoggingConfig struct {
	// Level is a log spec such as "info" or "info,hypervisor=trace".
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
	// Components adds per-component levels not already named in Level.
	Components map[string]string `toml:"components" json:"components,omitempty" yaml:"components,omitempty"`
}

// ToSpec folds Components into Level.
func (c LoggingConfig) ToSpec() string {
	return logging.MergeComponents(c.Level, c.Components)
}

// DefaultConfig decodes the embedded defaults.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded default.toml: %v", err))
	}
	return cfg
}

// Load overlays the file at path onto the defaults. A missing file is
// not an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.Hypervisor.Address == "" {
		errs = append(errs, errors.New("hypervisor.address is empty"))
	}
	if c.Hypervisor.CommandTimeout <= 0 {
		errs = append(errs, errors.New("hypervisor.command_timeout must be positive"))
	}
	if err := c.UDP.Range().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("udp: %w", err))
	}
	if err := c.Console.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("console: %w", err))
	}
	if _, err := logging.ParseSpec(c.Logging.ToSpec()); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, fmt.Errorf("logging.format: %w", err))
	}
	return errors.Join(errs...)
}

// Validate checks that the range is a non-empty subset of 1..65535.
func (r PortRangeConfig) Validate() error {
	if r.StartPort < 1 || r.EndPort > 65535 || r.StartPort > r.EndPort {
		return fmt.Errorf("invalid port range %d-%d", r.StartPort, r.EndPort)
	}
	return nil
}

// RuntimeDirs derives the directory layout from the runtime section.
func (c *Config) RuntimeDirs() (RuntimeDirs, error) {
	dirs, err := NewRuntimeDirs(c.Runtime.Base)
	if err != nil {
		return RuntimeDirs{}, err
	}
	if c.Runtime.WorkingDir != "" {
		return dirs.WithWorkDir(c.Runtime.WorkingDir)
	}
	return dirs, nil
}
