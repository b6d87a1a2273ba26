package interpreter

import (
	"context"
	"fmt"

	"github.com/frobware/go-hvman/action"
)

// ActionExecutor executes reified actions.
type ActionExecutor interface {
	Execute(ctx context.Context, a action.Action) error
	ExecuteAll(ctx context.Context, actions []action.Action) error
	// Commit runs actions inside one store transaction.
	Commit(ctx context.Context, actions []action.Action) error
}

// executor interprets and executes actions.
type executor struct {
	store Store
}

// NewExecutor creates a new action executor.
func NewExecutor(store Store) ActionExecutor {
	return &executor{store: store}
}

// Execute runs a single action.
func (e *executor) Execute(ctx context.Context, a action.Action) error {
	switch a := a.(type) {
	case action.SaveDevice:
		return e.store.SaveDevice(ctx, a.Record)

	case action.DeleteDevice:
		return e.store.DeleteDevice(ctx, a.Kind, a.ID)

	case action.ResetKind:
		return e.store.ResetKind(ctx, a.Kind)

	case action.SaveNIO:
		return e.store.SaveNIO(ctx, a.Record)

	case action.DeleteNIO:
		return e.store.DeleteNIO(ctx, a.Kind, a.DeviceID, a.Port)

	case action.SaveCircuit:
		return e.store.SaveCircuit(ctx, a.DeviceID, a.Circuit)

	case action.DeleteCircuit:
		return e.store.DeleteCircuit(ctx, a.DeviceID, a.In)

	case action.SaveReservation:
		return e.store.SaveReservation(ctx, a.Reservation)

	case action.DeleteReservation:
		return e.store.DeleteReservation(ctx, a.Kind, a.Port)

	case action.Batch:
		return e.ExecuteAll(ctx, a.Actions)

	case action.Sequence:
		return e.ExecuteAll(ctx, a.Actions)

	default:
		return fmt.Errorf("unknown action type: %T", a)
	}
}

// ExecuteAll runs multiple actions, stopping on first error.
func (e *executor) ExecuteAll(ctx context.Context, actions []action.Action) error {
	for _, a := range actions {
		if err := e.Execute(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Commit runs actions atomically: either all are applied or none.
func (e *executor) Commit(ctx context.Context, actions []action.Action) error {
	if len(actions) == 0 {
		return nil
	}
	return e.store.RunInTransaction(ctx, func(tx Store) error {
		return NewExecutor(tx).ExecuteAll(ctx, actions)
	})
}
