package interpreter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/action"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/interpreter"
	"github.com/frobware/go-hvman/interpreter/store"
	"github.com/frobware/go-hvman/interpreter/store/sqlite"
	"github.com/frobware/go-hvman/logging"
	"github.com/frobware/go-hvman/nio"
)

type unknownAction struct{ action.Action }

func newStore(t *testing.T) interpreter.Store {
	t.Helper()
	s, err := sqlite.NewInMemory(context.Background(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExecutor_RunsNestedActions(t *testing.T) {
	s := newStore(t)
	exec := interpreter.NewExecutor(s)
	ctx := context.Background()

	rec := device.NIORecord{Kind: device.KindSwitch, DeviceID: 1, Port: 0, Name: "n0",
		Spec: nio.UDPSpec{LPort: 10001, RHost: "127.0.0.1", RPort: 20001}}

	err := exec.Execute(ctx, action.Sequence{Actions: []action.Action{
		action.SaveDevice{Record: device.Record{Kind: device.KindSwitch, ID: 1, Name: "SW1"}},
		action.Batch{Actions: []action.Action{
			action.SaveNIO{Record: rec},
			action.SaveReservation{Reservation: device.Reservation{Kind: device.KindSwitch, Port: 10001, DeviceID: 1}},
		}},
		action.SaveCircuit{DeviceID: 1, Circuit: hvman.NewCircuit(0, 16, 0, 17)},
	}})
	require.NoError(t, err)

	nios, err := s.ListNIOs(ctx, device.KindSwitch)
	require.NoError(t, err)
	assert.Len(t, nios, 1)

	require.NoError(t, exec.ExecuteAll(ctx, []action.Action{
		action.DeleteCircuit{DeviceID: 1, In: hvman.Endpoint{Port: 0, DLCI: 16}},
		action.DeleteNIO{Kind: device.KindSwitch, DeviceID: 1, Port: 0},
		action.DeleteReservation{Kind: device.KindSwitch, Port: 10001},
		action.DeleteDevice{Kind: device.KindSwitch, ID: 1},
	}))

	_, err = s.GetDevice(ctx, device.KindSwitch, 1)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestExecutor_UnknownAction(t *testing.T) {
	exec := interpreter.NewExecutor(newStore(t))
	err := exec.Execute(context.Background(), unknownAction{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action type")
}

// TestExecutor_CommitIsAtomic verifies that:
//
//	Given an empty store,
//	When I commit a device save followed by a delete of a missing NIO,
//	Then the commit fails,
//	And the device save is rolled back.
func TestExecutor_CommitIsAtomic(t *testing.T) {
	s := newStore(t)
	exec := interpreter.NewExecutor(s)
	ctx := context.Background()

	err := exec.Commit(ctx, []action.Action{
		action.SaveDevice{Record: device.Record{Kind: device.KindVM, ID: 1, Name: "vm"}},
		action.DeleteNIO{Kind: device.KindVM, DeviceID: 1, Port: 3},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	devices, err := s.ListDevices(ctx, device.KindVM)
	require.NoError(t, err)
	assert.Empty(t, devices)

	require.NoError(t, exec.Commit(ctx, nil), "empty commit is a no-op")
}

func TestExecutor_ResetKind(t *testing.T) {
	s := newStore(t)
	exec := interpreter.NewExecutor(s)
	ctx := context.Background()

	require.NoError(t, exec.Commit(ctx, []action.Action{
		action.SaveDevice{Record: device.Record{Kind: device.KindVM, ID: 1, Name: "a"}},
		action.SaveDevice{Record: device.Record{Kind: device.KindVM, ID: 2, Name: "b"}},
	}))
	require.NoError(t, exec.Execute(ctx, action.ResetKind{Kind: device.KindVM}))

	devices, err := s.ListDevices(ctx, device.KindVM)
	require.NoError(t, err)
	assert.Empty(t, devices)
}
