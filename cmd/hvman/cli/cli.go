package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-hvman/config"
	"github.com/frobware/go-hvman/logging"
)

// CLI is the root command structure for hvman.
type CLI struct {
	Config     string `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log        string `name:"log" help:"Log spec (e.g., 'info,hypervisor=trace'). Overrides HVMAN_LOG and the config file."`
	Hypervisor string `name:"hypervisor" short:"H" help:"Hypervisor control address (host:port). Overrides the config file."`
	Base       string `name:"base" help:"Runtime base directory. Overrides the config file."`

	UDPRange     PortRange `name:"udp-range" help:"Local UDP port range START-END. Overrides the config file."`
	ConsoleRange PortRange `name:"console-range" help:"VM console port range START-END. Overrides the config file."`
	WorkDir      string    `name:"work-dir" help:"Root of device working directories. Overrides the config file."`

	Switch   SwitchCmd   `cmd:"" help:"Manage Frame-Relay switches."`
	VM       VMCmd       `cmd:"" name:"vm" help:"Manage VirtualBox VMs."`
	UDP      UDPCmd      `cmd:"" name:"udp" help:"Local UDP port reservations."`
	Reset    ResetCmd    `cmd:"" help:"Delete every device of one or both modules."`
	Settings SettingsCmd `cmd:"" help:"Show the effective module settings."`
	Check    CheckCmd    `cmd:"" help:"Check local state against the store and the hypervisor."`
	Export   ExportCmd   `cmd:"" help:"Dump the persisted topology."`

	// Out receives command output. Nil means os.Stdout.
	Out io.Writer `kong:"-"`
	// Err receives log records. Nil means os.Stderr.
	Err io.Writer `kong:"-"`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("hvman"),
		kong.Description("Manage Frame-Relay switches and VirtualBox VMs on a hypervisor."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.TypeMapper(reflect.TypeOf(DeviceID{}), deviceIDMapper()),
		kong.TypeMapper(reflect.TypeOf(Endpoint{}), endpointMapper()),
		kong.TypeMapper(reflect.TypeOf(UDPSpec{}), udpSpecMapper()),
		kong.TypeMapper(reflect.TypeOf(PortRange{}), portRangeMapper()),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
		},
	}
}

// LoadConfig loads the config file and applies the global overrides.
func (c *CLI) LoadConfig() (config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return cfg, err
	}
	if c.Hypervisor != "" {
		cfg.Hypervisor.Address = c.Hypervisor
	}
	if c.Base != "" {
		cfg.Runtime.Base = c.Base
	}
	if !c.UDPRange.IsZero() {
		cfg.UDP.StartPort, cfg.UDP.EndPort = c.UDPRange.Start, c.UDPRange.End
	}
	if !c.ConsoleRange.IsZero() {
		cfg.Console = config.PortRangeConfig{StartPort: c.ConsoleRange.Start, EndPort: c.ConsoleRange.End}
	}
	if c.WorkDir != "" {
		cfg.Runtime.WorkingDir = c.WorkDir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Logger creates a logger for CLI commands. --log wins over HVMAN_LOG,
// which wins over the config file's [logging] section.
func (c *CLI) Logger() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	errOut := c.Err
	if errOut == nil {
		errOut = os.Stderr
	}
	return logging.New(logging.Options{
		CLISpec:    c.Log,
		EnvSpec:    os.Getenv(logging.EnvVar),
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     errOut,
	})
}

// RuntimeDirs returns the directory layout after overrides.
func (c *CLI) RuntimeDirs() (config.RuntimeDirs, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return config.RuntimeDirs{}, err
	}
	return cfg.RuntimeDirs()
}

func (c *CLI) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// WriteOut writes b to the output stream. A short write without an
// error is reported as io.ErrShortWrite.
func (c *CLI) WriteOut(b []byte) error {
	n, err := c.out().Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// PrintOut writes s to the output stream.
func (c *CLI) PrintOut(s string) error {
	return c.WriteOut([]byte(s))
}

// PrintOutf formats and writes to the output stream.
func (c *CLI) PrintOutf(format string, args ...any) error {
	return c.PrintOut(fmt.Sprintf(format, args...))
}
