package manager_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/config"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/hypervisor/hypervisortest"
	"github.com/frobware/go-hvman/interpreter"
	"github.com/frobware/go-hvman/interpreter/store/sqlite"
	"github.com/frobware/go-hvman/lock"
	"github.com/frobware/go-hvman/manager"
	"github.com/frobware/go-hvman/nio"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set HVMAN_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("HVMAN_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// faultyStore wraps a real store and fails transactions on demand.
type faultyStore struct {
	interpreter.Store
	failCommits bool
}

var errInjected = errors.New("injected store failure")

func (s *faultyStore) RunInTransaction(ctx context.Context, fn func(interpreter.Store) error) error {
	if s.failCommits {
		return errInjected
	}
	return s.Store.RunInTransaction(ctx, fn)
}

// testFixture provides access to all components for verification.
type testFixture struct {
	Manager  *manager.Manager
	Hyper    *hypervisortest.Fake
	Store    *faultyStore
	Dirs     config.RuntimeDirs
	Settings manager.Settings
	t        *testing.T
}

func testSettings() manager.Settings {
	return manager.Settings{
		UDP:     config.PortRangeConfig{StartPort: 10000, EndPort: 10009},
		Console: config.PortRangeConfig{StartPort: 3501, EndPort: 3503},
	}
}

// newTestFixture creates a complete test fixture with accessible components.
func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	store, err := sqlite.NewInMemory(context.Background(), testLogger())
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { store.Close() })
	dirs, err := config.NewRuntimeDirs(t.TempDir())
	require.NoError(t, err, "failed to create runtime dirs")
	require.NoError(t, dirs.EnsureDirectories())

	f := &testFixture{
		Hyper:    hypervisortest.New(),
		Store:    &faultyStore{Store: store},
		Dirs:     dirs,
		Settings: testSettings(),
		t:        t,
	}
	f.Manager = f.reopen()
	return f
}

// reopen builds a fresh Manager over the same store and hypervisor,
// as a restarted process would.
func (f *testFixture) reopen() *manager.Manager {
	f.t.Helper()
	mgr, err := manager.New(context.Background(), manager.Dependencies{
		Channel: f.Hyper,
		Store:   f.Store,
		Dirs:    f.Dirs,
		Logger:  testLogger(),
	}, f.Settings)
	require.NoError(f.t, err, "failed to create manager")
	return mgr
}

// FailCommits makes every subsequent store transaction fail.
func (f *testFixture) FailCommits(fail bool) {
	f.Store.failCommits = fail
}

// AssertCommands verifies the command lines sent since the last Reset
// of the fake hypervisor.
func (f *testFixture) AssertCommands(expected ...string) {
	f.t.Helper()
	assert.Equal(f.t, expected, f.Hyper.Commands(), "hypervisor commands mismatch")
}

// AssertStoredDevices verifies the persisted devices of kind by name.
func (f *testFixture) AssertStoredDevices(kind device.Kind, names ...string) {
	f.t.Helper()
	recs, err := f.Store.ListDevices(context.Background(), kind)
	require.NoError(f.t, err)
	got := make([]string, len(recs))
	for i, rec := range recs {
		got[i] = rec.Name
	}
	if len(names) == 0 {
		assert.Empty(f.t, got, "expected no persisted %s", kind)
		return
	}
	assert.Equal(f.t, names, got, "persisted %s mismatch", kind)
}

// RunWithLock executes fn while holding the global writer lock.
// Use this for operations that require a WriterScope (e.g., Reset).
func (f *testFixture) RunWithLock(ctx context.Context, fn func(ctx context.Context, scope lock.WriterScope) error) error {
	f.t.Helper()
	return lock.Run(ctx, f.Dirs.Lock(), fn)
}

// udpSpec points at a local port that need not be listening: a UDP
// dial only resolves the address.
func udpSpec(lport int) nio.UDPSpec {
	return nio.UDPSpec{LPort: lport, RHost: "127.0.0.1", RPort: lport + 10000}
}

// newSwitchWithPorts creates a switch with NIOs on the given ports.
func (f *testFixture) newSwitchWithPorts(name string, ports ...hvman.PortNumber) hvman.DeviceID {
	f.t.Helper()
	ctx := context.Background()
	sw, err := f.Manager.Switches().Create(ctx, name)
	require.NoError(f.t, err)
	for _, p := range ports {
		_, err := f.Manager.Switches().AddNIO(ctx, sw.ID(), p, udpSpec(20000+int(p)))
		require.NoError(f.t, err)
	}
	return sw.ID()
}
