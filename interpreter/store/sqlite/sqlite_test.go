package sqlite_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/interpreter"
	"github.com/frobware/go-hvman/interpreter/store"
	"github.com/frobware/go-hvman/interpreter/store/sqlite"
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

func newStore(t *testing.T) interpreter.Store {
	t.Helper()
	s, err := sqlite.NewInMemory(context.Background(), testLogger())
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

func switchRecord(id hvman.DeviceID, name string) device.Record {
	return device.Record{Kind: device.KindSwitch, ID: id, Name: name, CreatedAt: time.Now()}
}

func nioRecord(id hvman.DeviceID, port hvman.PortNumber, lport int) device.NIORecord {
	return device.NIORecord{
		Kind:     device.KindSwitch,
		DeviceID: id,
		Port:     port,
		Name:     nio.NewName(),
		Spec:     nio.UDPSpec{LPort: lport, RHost: "127.0.0.1", RPort: lport + 1000},
	}
}

func TestDevice_SaveGetListDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	rec := device.Record{Kind: device.KindVM, ID: 2, Name: "vm with spaces", Console: 3501, CreatedAt: created}
	require.NoError(t, s.SaveDevice(ctx, rec))
	require.NoError(t, s.SaveDevice(ctx, device.Record{Kind: device.KindVM, ID: 1, Name: "first"}))

	got, err := s.GetDevice(ctx, device.KindVM, 2)
	require.NoError(t, err)
	assert.Equal(t, "vm with spaces", got.Name)
	assert.Equal(t, 3501, got.Console)
	assert.True(t, created.Equal(got.CreatedAt))

	list, err := s.ListDevices(ctx, device.KindVM)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, hvman.DeviceID(1), list[0].ID, "ordered by id")

	none, err := s.ListDevices(ctx, device.KindSwitch)
	require.NoError(t, err)
	assert.Empty(t, none, "kinds are separate namespaces")

	require.NoError(t, s.DeleteDevice(ctx, device.KindVM, 2))
	_, err = s.GetDevice(ctx, device.KindVM, 2)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteDevice(ctx, device.KindVM, 2), store.ErrNotFound))
}

func TestDevice_SaveUpdatesNameKeepsCreatedAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := switchRecord(1, "SW1")
	require.NoError(t, s.SaveDevice(ctx, first))

	renamed := first
	renamed.Name = "core"
	renamed.CreatedAt = first.CreatedAt.Add(time.Hour)
	require.NoError(t, s.SaveDevice(ctx, renamed))

	got, err := s.GetDevice(ctx, device.KindSwitch, 1)
	require.NoError(t, err)
	assert.Equal(t, "core", got.Name)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))
}

func TestDevice_IDOutOfRangeRejected(t *testing.T) {
	s := newStore(t)
	err := s.SaveDevice(context.Background(), switchRecord(hvman.MaxDeviceID+1, "too big"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHECK constraint failed")
}

func TestForeignKey_NIORequiresDevice(t *testing.T) {
	s := newStore(t)
	err := s.SaveNIO(context.Background(), nioRecord(99, 0, 10001))
	require.Error(t, err, "expected FK constraint violation")
	assert.True(t, strings.Contains(err.Error(), "FOREIGN KEY constraint failed"), "expected FK constraint error, got: %v", err)
}

// TestForeignKey_CascadeDeleteRemovesDependents verifies that:
//
//	Given a switch with two NIOs, a circuit and a UDP reservation,
//	When I delete the switch,
//	Then its NIOs, circuits and reservations are gone too.
func TestForeignKey_CascadeDeleteRemovesDependents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDevice(ctx, switchRecord(1, "SW1")))
	require.NoError(t, s.SaveNIO(ctx, nioRecord(1, 0, 10001)))
	require.NoError(t, s.SaveNIO(ctx, nioRecord(1, 1, 10002)))
	require.NoError(t, s.SaveCircuit(ctx, 1, hvman.NewCircuit(0, 16, 1, 17)))
	require.NoError(t, s.SaveReservation(ctx, device.Reservation{Kind: device.KindSwitch, Port: 10001, DeviceID: 1}))

	require.NoError(t, s.DeleteDevice(ctx, device.KindSwitch, 1))

	nios, err := s.ListNIOs(ctx, device.KindSwitch)
	require.NoError(t, err)
	assert.Empty(t, nios)
	circuits, err := s.ListCircuits(ctx)
	require.NoError(t, err)
	assert.Empty(t, circuits)
	res, err := s.ListReservations(ctx, device.KindSwitch)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestNIO_RoundTripsFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDevice(ctx, switchRecord(1, "SW1")))
	rec := nioRecord(1, 3, 10003)
	require.NoError(t, s.SaveNIO(ctx, rec))

	rec.Filters = nio.FilterState{In: "capture", Out: "capture", InOptions: "frelay /tmp/a.pcap", OutOptions: "frelay /tmp/a.pcap"}
	require.NoError(t, s.SaveNIO(ctx, rec))

	nios, err := s.ListNIOs(ctx, device.KindSwitch)
	require.NoError(t, err)
	require.Len(t, nios, 1)
	assert.Equal(t, rec, nios[0])

	require.NoError(t, s.DeleteNIO(ctx, device.KindSwitch, 1, 3))
	assert.True(t, errors.Is(s.DeleteNIO(ctx, device.KindSwitch, 1, 3), store.ErrNotFound))
}

func TestNIO_NameIsUnique(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDevice(ctx, switchRecord(1, "SW1")))
	a := nioRecord(1, 0, 10001)
	b := nioRecord(1, 1, 10002)
	b.Name = a.Name
	require.NoError(t, s.SaveNIO(ctx, a))
	assert.Error(t, s.SaveNIO(ctx, b))
}

func TestCircuit_SaveOverwritesIngress(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDevice(ctx, switchRecord(1, "SW1")))
	require.NoError(t, s.SaveCircuit(ctx, 1, hvman.NewCircuit(0, 16, 1, 17)))
	require.NoError(t, s.SaveCircuit(ctx, 1, hvman.NewCircuit(0, 16, 2, 18)))
	require.NoError(t, s.SaveCircuit(ctx, 1, hvman.NewCircuit(1, 17, 0, 16)))

	circuits, err := s.ListCircuits(ctx)
	require.NoError(t, err)
	require.Len(t, circuits, 2)
	assert.Equal(t, hvman.NewCircuit(0, 16, 2, 18), circuits[0].Circuit)
	assert.Equal(t, hvman.NewCircuit(1, 17, 0, 16), circuits[1].Circuit)

	require.NoError(t, s.DeleteCircuit(ctx, 1, hvman.Endpoint{Port: 0, DLCI: 16}))
	err = s.DeleteCircuit(ctx, 1, hvman.Endpoint{Port: 0, DLCI: 16})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestCircuit_RejectsVMOwner(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDevice(ctx, device.Record{Kind: device.KindVM, ID: 5, Name: "vm"}))
	assert.Error(t, s.SaveCircuit(ctx, 5, hvman.NewCircuit(0, 16, 1, 17)), "circuits belong to switches")
}

func TestReservation_SaveListDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDevice(ctx, switchRecord(1, "SW1")))
	require.NoError(t, s.SaveDevice(ctx, device.Record{Kind: device.KindVM, ID: 1, Name: "vm"}))
	require.NoError(t, s.SaveReservation(ctx, device.Reservation{Kind: device.KindSwitch, Port: 10002, DeviceID: 1}))
	require.NoError(t, s.SaveReservation(ctx, device.Reservation{Kind: device.KindSwitch, Port: 10001, DeviceID: 1}))
	require.NoError(t, s.SaveReservation(ctx, device.Reservation{Kind: device.KindVM, Port: 10001, DeviceID: 1}))

	sw, err := s.ListReservations(ctx, device.KindSwitch)
	require.NoError(t, err)
	require.Len(t, sw, 2)
	assert.Equal(t, 10001, sw[0].Port)

	require.NoError(t, s.DeleteReservation(ctx, device.KindSwitch, 10001))
	assert.True(t, errors.Is(s.DeleteReservation(ctx, device.KindSwitch, 10001), store.ErrNotFound))

	vm, err := s.ListReservations(ctx, device.KindVM)
	require.NoError(t, err)
	assert.Len(t, vm, 1, "other module untouched")
}

func TestResetKind(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDevice(ctx, switchRecord(1, "SW1")))
	require.NoError(t, s.SaveDevice(ctx, switchRecord(2, "SW2")))
	require.NoError(t, s.SaveNIO(ctx, nioRecord(2, 0, 10001)))
	require.NoError(t, s.SaveDevice(ctx, device.Record{Kind: device.KindVM, ID: 1, Name: "vm"}))

	require.NoError(t, s.ResetKind(ctx, device.KindSwitch))

	sws, err := s.ListDevices(ctx, device.KindSwitch)
	require.NoError(t, err)
	assert.Empty(t, sws)
	nios, err := s.ListNIOs(ctx, device.KindSwitch)
	require.NoError(t, err)
	assert.Empty(t, nios)
	vms, err := s.ListDevices(ctx, device.KindVM)
	require.NoError(t, err)
	assert.Len(t, vms, 1)
}

func TestRunInTransaction_RollbackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTransaction(ctx, func(tx interpreter.Store) error {
		require.NoError(t, tx.SaveDevice(ctx, switchRecord(1, "SW1")))
		require.NoError(t, tx.SaveNIO(ctx, nioRecord(1, 0, 10001)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	list, err := s.ListDevices(ctx, device.KindSwitch)
	require.NoError(t, err)
	assert.Empty(t, list, "rolled back")
}

func TestRunInTransaction_Commit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.RunInTransaction(ctx, func(tx interpreter.Store) error {
		if err := tx.SaveDevice(ctx, switchRecord(1, "SW1")); err != nil {
			return err
		}
		return tx.SaveCircuit(ctx, 1, hvman.NewCircuit(0, 16, 1, 17))
	})
	require.NoError(t, err)

	got, err := s.GetDevice(ctx, device.KindSwitch, 1)
	require.NoError(t, err)
	assert.Equal(t, "SW1", got.Name)
	circuits, err := s.ListCircuits(ctx)
	require.NoError(t, err)
	assert.Len(t, circuits, 1)
}

func TestNew_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "store.db")

	s, err := sqlite.New(ctx, path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.SaveDevice(ctx, switchRecord(7, "persisted")))
	require.NoError(t, s.Close())

	s, err = sqlite.New(ctx, path, testLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetDevice(ctx, device.KindSwitch, 7)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Name)
}
