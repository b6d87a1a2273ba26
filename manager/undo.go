package manager

import (
	"context"
	"errors"
	"log/slog"
)

// undoStack accumulates compensating steps for hypervisor commands
// that already succeeded. If a later step of the same operation fails
// (usually persisting the result) the stack is unwound in reverse
// order so the hypervisor is put back the way it was.
type undoStack []undoStep

type undoStep struct {
	what string
	fn   func(ctx context.Context) error
}

// push appends a compensating step.
func (u *undoStack) push(what string, fn func(ctx context.Context) error) {
	*u = append(*u, undoStep{what: what, fn: fn})
}

// rollback executes all steps in reverse order, logging and
// collecting any errors. Steps run with a context detached from ctx's
// cancellation: an operation aborted by its caller still has to
// compensate. Returns nil if every step succeeds.
func (u undoStack) rollback(ctx context.Context, logger *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i].fn(ctx); err != nil {
			logger.ErrorContext(ctx, "rollback step failed", "step", u[i].what, "error", err)
			errs = append(errs, err)
			continue
		}
		logger.DebugContext(ctx, "rolled back", "step", u[i].what)
	}
	return errors.Join(errs...)
}
