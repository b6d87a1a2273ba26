package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-hvman/logging"
)

func TestUndoStack_ReverseOrder(t *testing.T) {
	var order []string
	var undo undoStack
	for _, step := range []string{"create", "bind", "map"} {
		undo.push(step, func(context.Context) error {
			order = append(order, step)
			return nil
		})
	}
	require.NoError(t, undo.rollback(context.Background(), logging.Discard()))
	assert.Equal(t, []string{"map", "bind", "create"}, order)
}

func TestUndoStack_CollectsErrorsAndKeepsGoing(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	ran := false

	var undo undoStack
	undo.push("last", func(context.Context) error { ran = true; return nil })
	undo.push("a", func(context.Context) error { return errA })
	undo.push("b", func(context.Context) error { return errB })

	err := undo.rollback(context.Background(), logging.Discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.True(t, ran, "a failing step must not stop the unwind")
}

func TestUndoStack_RunsDetachedFromCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var undo undoStack
	undo.push("check", func(ctx context.Context) error { return ctx.Err() })
	assert.NoError(t, undo.rollback(ctx, logging.Discard()))
}

func TestUndoStack_EmptyIsNoop(t *testing.T) {
	var undo undoStack
	assert.NoError(t, undo.rollback(context.Background(), logging.Discard()))
}
