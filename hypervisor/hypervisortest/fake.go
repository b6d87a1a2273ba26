// Package hypervisortest provides an in-memory hypervisor.Channel for
// tests.
package hypervisortest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/hypervisor"
)

// Op records one command seen by the fake.
type Op struct {
	Command string
	Err     error
}

// Fake records every command and answers with success unless a failure
// has been scripted for a matching command prefix.
type Fake struct {
	mu        sync.Mutex
	ops       []Op
	failures  map[string]error
	responses map[string][]string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		failures:  make(map[string]error),
		responses: make(map[string][]string),
	}
}

// Send implements hypervisor.Channel.
func (f *Fake) Send(ctx context.Context, command string) (hypervisor.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%w: %q: %w", hvman.ErrChannel, command, err)
		f.ops = append(f.ops, Op{Command: command, Err: err})
		return hypervisor.Response{}, err
	}

	for prefix, err := range f.failures {
		if strings.HasPrefix(command, prefix) {
			f.ops = append(f.ops, Op{Command: command, Err: err})
			return hypervisor.Response{}, err
		}
	}

	f.ops = append(f.ops, Op{Command: command})
	resp := hypervisor.Response{Code: 100}
	for prefix, lines := range f.responses {
		if strings.HasPrefix(command, prefix) {
			resp.Lines = append([]string(nil), lines...)
			break
		}
	}
	return resp, nil
}

// FailOn makes every command starting with prefix fail with a
// hypervisor error reply.
func (f *Fake) FailOn(prefix string) {
	f.FailOnWith(prefix, &hvman.CommandError{Command: prefix, Code: 200, Message: "scripted failure"})
}

// FailOnWith makes every command starting with prefix fail with err.
func (f *Fake) FailOnWith(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[prefix] = err
}

// ClearFailures removes all scripted failures.
func (f *Fake) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]error)
}

// RespondTo sets the informational lines returned for commands
// starting with prefix.
func (f *Fake) RespondTo(prefix string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = lines
}

// Ops returns a copy of the recorded operations.
func (f *Fake) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Op(nil), f.ops...)
}

// Commands returns the recorded command lines, failed ones included.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmds := make([]string, len(f.ops))
	for i, op := range f.ops {
		cmds[i] = op.Command
	}
	return cmds
}

// Last returns the most recent command, or "" if none was sent.
func (f *Fake) Last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ops) == 0 {
		return ""
	}
	return f.ops[len(f.ops)-1].Command
}

// Reset forgets recorded operations; scripted behaviour is kept.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
}
