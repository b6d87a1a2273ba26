// Package manager provides high-level orchestration of hypervisor
// devices using the fetch/compute/execute pattern.
//
// # Command-then-commit Model
//
// Every mutation is made atomic across the hypervisor and the store.
// Either the hypervisor has executed the command and the result is
// persisted, or neither happened.
//
// The model:
//  1. Send the command to the hypervisor
//  2. On success: update local state and persist it in one transaction
//  3. If persisting fails: send compensating commands (undo stack) and
//     leave local state untouched
//  4. Check reports anything a crash left diverging
//
// Allocators (device IDs, UDP ports, console ports) are owned by the
// module that hands them out. A module serialises its mutations under
// one mutex held from the first command until the commit, so callers
// never observe a half-applied operation.
//
// # Restore
//
// New rebuilds every module from the store without sending commands:
// the persisted state is the record of what the hypervisor was told.
// Use Check to compare it with what the hypervisor reports.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frobware/go-hvman/alloc"
	"github.com/frobware/go-hvman/config"
	"github.com/frobware/go-hvman/hypervisor"
	"github.com/frobware/go-hvman/interpreter"
	"github.com/frobware/go-hvman/lock"
)

// Dependencies are the collaborators a Manager drives.
type Dependencies struct {
	Channel hypervisor.Channel
	Store   interpreter.Store
	Dirs    config.RuntimeDirs
	// UDPProber and ConsoleProber report host ports already in use.
	// Nil means no probing.
	UDPProber     alloc.Prober
	ConsoleProber alloc.Prober
	Logger        *slog.Logger
}

// Settings are the runtime-tunable parameters of the modules.
type Settings struct {
	UDP     config.PortRangeConfig `json:"udp" yaml:"udp"`
	Console config.PortRangeConfig `json:"console" yaml:"console"`
	// WorkingDir, if set, replaces the root of device working
	// directories.
	WorkingDir string `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
}

// SettingsFromConfig extracts the module settings from cfg.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		UDP:        cfg.UDP.Range(),
		Console:    cfg.Console,
		WorkingDir: cfg.Runtime.WorkingDir,
	}
}

// Validate checks both port ranges.
func (s Settings) Validate() error {
	if err := s.UDP.Validate(); err != nil {
		return fmt.Errorf("udp: %w", err)
	}
	if err := s.Console.Validate(); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

// Manager owns the switch and VM modules.
type Manager struct {
	dirs     config.RuntimeDirs
	store    interpreter.Store
	ch       hypervisor.Channel
	logger   *slog.Logger
	settings Settings

	switches *SwitchModule
	vms      *VMModule
}

// New creates a Manager and restores both modules from the store.
func New(ctx context.Context, deps Dependencies, settings Settings) (*Manager, error) {
	if deps.Channel == nil {
		return nil, errors.New("manager: nil hypervisor channel")
	}
	if deps.Store == nil {
		return nil, errors.New("manager: nil store")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = WithOpIDHandler(deps.Logger)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	switches, err := newSwitchModule(deps, settings)
	if err != nil {
		return nil, err
	}
	vms, err := newVMModule(deps, settings)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		dirs:     deps.Dirs,
		store:    deps.Store,
		ch:       deps.Channel,
		logger:   deps.Logger.With("component", "manager"),
		settings: settings,
		switches: switches,
		vms:      vms,
	}

	ctx = withOpID(ctx)
	if err := switches.reg.restore(ctx, switches.restoreCircuits); err != nil {
		return nil, err
	}
	if err := vms.restore(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Switches returns the Frame-Relay switch module.
func (m *Manager) Switches() *SwitchModule { return m.switches }

// VMs returns the VM module.
func (m *Manager) VMs() *VMModule { return m.vms }

// Dirs returns the runtime directories configuration.
func (m *Manager) Dirs() config.RuntimeDirs { return m.dirs }

// Settings returns the settings last applied.
func (m *Manager) Settings() Settings { return m.settings }

// ApplySettings changes the port ranges and working directory of both
// modules. Existing reservations and devices are kept; devices created
// afterwards get their working directory under the new root.
func (m *Manager) ApplySettings(ctx context.Context, _ lock.WriterScope, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := m.switches.reg.applySettings(s); err != nil {
		return fmt.Errorf("switch settings: %w", err)
	}
	if err := m.vms.applySettings(s); err != nil {
		return fmt.Errorf("vm settings: %w", err)
	}
	m.settings = s
	m.logger.InfoContext(withOpID(ctx), "settings applied",
		"udp_start", s.UDP.StartPort, "udp_end", s.UDP.EndPort,
		"console_start", s.Console.StartPort, "console_end", s.Console.EndPort,
		"working_dir", s.WorkingDir)
	return nil
}

// Reset deletes every device of both modules. Both modules are
// attempted even if the first fails.
func (m *Manager) Reset(ctx context.Context, scope lock.WriterScope) error {
	return errors.Join(
		m.switches.Reset(ctx, scope),
		m.vms.Reset(ctx, scope),
	)
}
