package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/frobware/go-hvman"
)

// RuntimeDirs is the on-disk layout:
//
//	{base}/              runtime root
//	{base}/db/store.db   registry state
//	{base}/.lock         writer lock
//	{work}/              device working root, {base}/work by default
//	{work}/frsw/sw-{id}/ per-switch files, captures/ by default
//	{work}/vbox/vm-{id}/ per-VM files
//
// RuntimeDirs is a value; WithWorkDir returns a modified copy.
type RuntimeDirs struct {
	base string
	db   string
	lock string
	work string
}

// DefaultRuntimeDirs returns the layout rooted at /run/hvman.
func DefaultRuntimeDirs() RuntimeDirs {
	dirs, err := NewRuntimeDirs("/run/hvman")
	if err != nil {
		panic(fmt.Sprintf("DefaultRuntimeDirs: %v", err))
	}
	return dirs
}

// NewRuntimeDirs derives every path from base, which must be absolute.
func NewRuntimeDirs(base string) (RuntimeDirs, error) {
	if base == "" {
		return RuntimeDirs{}, fmt.Errorf("base path cannot be empty")
	}
	if !filepath.IsAbs(base) {
		return RuntimeDirs{}, fmt.Errorf("base path must be absolute, got %q", base)
	}
	base = filepath.Clean(base)
	return RuntimeDirs{
		base: base,
		db:   filepath.Join(base, "db"),
		lock: filepath.Join(base, ".lock"),
		work: filepath.Join(base, "work"),
	}, nil
}

// WithWorkDir returns a copy whose device working root is dir.
func (d RuntimeDirs) WithWorkDir(dir string) (RuntimeDirs, error) {
	if !filepath.IsAbs(dir) {
		return RuntimeDirs{}, fmt.Errorf("working directory must be absolute, got %q", dir)
	}
	d.work = filepath.Clean(dir)
	return d, nil
}

func (d RuntimeDirs) Base() string { return d.base }
func (d RuntimeDirs) DB() string   { return d.db }
func (d RuntimeDirs) Lock() string { return d.lock }
func (d RuntimeDirs) Work() string { return d.work }

// DBPath is the SQLite database file.
func (d RuntimeDirs) DBPath() string { return filepath.Join(d.db, "store.db") }

// SwitchDir is the working directory of switch id.
func (d RuntimeDirs) SwitchDir(id hvman.DeviceID) string {
	return filepath.Join(d.work, "frsw", "sw-"+strconv.FormatUint(uint64(id), 10))
}

// VMDir is the working directory of VM id.
func (d RuntimeDirs) VMDir(id hvman.DeviceID) string {
	return filepath.Join(d.work, "vbox", "vm-"+strconv.FormatUint(uint64(id), 10))
}

// EnsureDirectories creates the base, db and work directories.
// MkdirAll is idempotent so this is safe on every start.
func (d RuntimeDirs) EnsureDirectories() error {
	for _, dir := range []string{d.base, d.db, d.work} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
