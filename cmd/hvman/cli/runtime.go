package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frobware/go-hvman/alloc"
	"github.com/frobware/go-hvman/config"
	"github.com/frobware/go-hvman/hypervisor"
	"github.com/frobware/go-hvman/interpreter"
	"github.com/frobware/go-hvman/interpreter/store/sqlite"
	"github.com/frobware/go-hvman/lock"
	"github.com/frobware/go-hvman/manager"
)

// CLIRuntime provides manager access for CLI commands. Each invocation
// restores the modules from the store; nothing is sent to the
// hypervisor until a command runs.
type CLIRuntime struct {
	Manager *manager.Manager
	Dirs    config.RuntimeDirs
	Logger  *slog.Logger

	store interpreter.Store
	conn  *hypervisor.Conn
}

// NewCLIRuntime opens the store, prepares a hypervisor connection and
// builds the manager. The returned runtime must be closed.
func (c *CLI) NewCLIRuntime(ctx context.Context) (*CLIRuntime, error) {
	logger, err := c.Logger()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dirs, err := cfg.RuntimeDirs()
	if err != nil {
		return nil, fmt.Errorf("runtime dirs: %w", err)
	}
	if err := dirs.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create runtime directories: %w", err)
	}

	store, err := sqlite.New(ctx, dirs.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	conn := hypervisor.NewConn(cfg.Hypervisor.Address,
		hypervisor.WithDialTimeout(cfg.Hypervisor.DialTimeout),
		hypervisor.WithCommandTimeout(cfg.Hypervisor.CommandTimeout),
		hypervisor.WithLogger(logger),
	)

	mgr, err := manager.New(ctx, manager.Dependencies{
		Channel:       conn,
		Store:         store,
		Dirs:          dirs,
		UDPProber:     alloc.UDPProber{Host: cfg.UDP.Host},
		ConsoleProber: alloc.TCPProber{Host: cfg.UDP.Host},
		Logger:        logger,
	}, manager.SettingsFromConfig(cfg))
	if err != nil {
		if closeErr := errors.Join(conn.Close(), store.Close()); closeErr != nil {
			logger.Warn("failed to close runtime during cleanup", "error", closeErr)
		}
		return nil, fmt.Errorf("create manager: %w", err)
	}

	return &CLIRuntime{
		Manager: mgr,
		Dirs:    dirs,
		Logger:  logger,
		store:   store,
		conn:    conn,
	}, nil
}

// Close releases the hypervisor connection and the store.
func (r *CLIRuntime) Close() error {
	return errors.Join(r.conn.Close(), r.store.Close())
}

// view runs fn against a fresh runtime without taking the writer lock.
func (c *CLI) view(ctx context.Context, fn func(ctx context.Context, rt *CLIRuntime) error) error {
	rt, err := c.NewCLIRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Logger.Warn("failed to close runtime", "error", err)
		}
	}()
	return fn(ctx, rt)
}

// mutate runs fn under the global writer lock. The runtime is built
// after the lock is held so that it restores the state left by the
// previous writer.
func (c *CLI) mutate(ctx context.Context, fn func(ctx context.Context, rt *CLIRuntime, scope lock.WriterScope) error) error {
	dirs, err := c.RuntimeDirs()
	if err != nil {
		return err
	}
	if err := dirs.EnsureDirectories(); err != nil {
		return fmt.Errorf("create runtime directories: %w", err)
	}
	return lock.Run(ctx, dirs.Lock(), func(ctx context.Context, scope lock.WriterScope) error {
		return c.view(ctx, func(ctx context.Context, rt *CLIRuntime) error {
			return fn(ctx, rt, scope)
		})
	})
}
