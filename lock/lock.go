// Package lock provides the cross-process writer lock that serialises
// every hvman invocation mutating hypervisor and registry state.
//
// The lock is an flock(2) on a file under the runtime directory. Code
// that needs proof the lock is held takes a WriterScope, which can
// only be obtained inside Run.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// WriterScope is the capability handed to code running under Run.
// It cannot be implemented outside this package.
type WriterScope interface {
	// Path is the lock file.
	Path() string
	// FD is the raw lock descriptor, for diagnostics.
	FD() int

	writerScopeMarker()
}

type writerScope struct {
	f *os.File
}

func (*writerScope) writerScopeMarker() {}

func (s *writerScope) Path() string { return s.f.Name() }

func (s *writerScope) FD() int { return int(s.f.Fd()) }

// Run acquires the writer lock at lockPath, runs fn and releases the
// lock. Acquisition polls LOCK_EX|LOCK_NB with exponential backoff
// until ctx is done.
func Run(ctx context.Context, lockPath string, fn func(context.Context, WriterScope) error) error {
	f, err := acquireWriter(ctx, lockPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(ctx, &writerScope{f: f})
}

// RunValue is Run for functions that produce a value.
func RunValue[T any](ctx context.Context, lockPath string, fn func(context.Context, WriterScope) (T, error)) (T, error) {
	var result T
	err := Run(ctx, lockPath, func(ctx context.Context, scope WriterScope) error {
		var err error
		result, err = fn(ctx, scope)
		return err
	})
	return result, err
}

func acquireWriter(ctx context.Context, path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("waiting for writer lock %s: %w", path, ctx.Err())
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
