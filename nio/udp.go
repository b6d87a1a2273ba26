package nio

import (
	"context"
	"fmt"
	"sync"

	"github.com/frobware/go-hvman/hypervisor"
)

// FilterState is the filter configuration of a NIO.
type FilterState struct {
	In         string `json:"in,omitempty" yaml:"in,omitempty"`
	Out        string `json:"out,omitempty" yaml:"out,omitempty"`
	InOptions  string `json:"in_options,omitempty" yaml:"in_options,omitempty"`
	OutOptions string `json:"out_options,omitempty" yaml:"out_options,omitempty"`
}

// UDP is a hypervisor UDP tunnel endpoint. Every method that changes
// hypervisor state sends its command first and updates local state
// only when the command succeeded.
type UDP struct {
	ch   hypervisor.Channel
	name string
	spec UDPSpec

	mu      sync.Mutex
	filters FilterState
}

var _ NIO = (*UDP)(nil)

// CreateUDP creates the tunnel on the hypervisor.
func CreateUDP(ctx context.Context, ch hypervisor.Channel, name string, spec UDPSpec) (*UDP, error) {
	cmd := hypervisor.Command("nio", "create_udp", name, spec.LPort, spec.RHost, spec.RPort)
	if _, err := ch.Send(ctx, cmd); err != nil {
		return nil, fmt.Errorf("create nio %s: %w", name, err)
	}
	return &UDP{ch: ch, name: name, spec: spec}, nil
}

// RestoreUDP rebuilds a tunnel already known to the hypervisor.
func RestoreUDP(ch hypervisor.Channel, name string, spec UDPSpec, filters FilterState) *UDP {
	return &UDP{ch: ch, name: name, spec: spec, filters: filters}
}

func (u *UDP) Name() string   { return u.name }
func (u *UDP) String() string { return u.name }

// Spec returns the tunnel endpoints.
func (u *UDP) Spec() UDPSpec { return u.spec }

// FilterState returns a snapshot of the filter configuration.
func (u *UDP) FilterState() FilterState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.filters
}

// Delete removes the tunnel from the hypervisor.
func (u *UDP) Delete(ctx context.Context) error {
	if _, err := u.ch.Send(ctx, hypervisor.Command("nio", "delete", u.name)); err != nil {
		return fmt.Errorf("delete nio %s: %w", u.name, err)
	}
	return nil
}

func (u *UDP) BindFilter(ctx context.Context, dir Direction, filter string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	cmd := hypervisor.Command("nio", "bind_filter", u.name, int(dir), filter)
	if _, err := u.ch.Send(ctx, cmd); err != nil {
		return fmt.Errorf("nio %s: bind %s filter %q: %w", u.name, dir, filter, err)
	}
	if dir == DirIn || dir == DirBoth {
		u.filters.In, u.filters.InOptions = filter, ""
	}
	if dir == DirOut || dir == DirBoth {
		u.filters.Out, u.filters.OutOptions = filter, ""
	}
	return nil
}

func (u *UDP) SetupFilter(ctx context.Context, dir Direction, options string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	cmd := hypervisor.Command("nio", "setup_filter", u.name, int(dir), options)
	if _, err := u.ch.Send(ctx, cmd); err != nil {
		return fmt.Errorf("nio %s: set up %s filter: %w", u.name, dir, err)
	}
	if dir == DirIn || dir == DirBoth {
		u.filters.InOptions = options
	}
	if dir == DirOut || dir == DirBoth {
		u.filters.OutOptions = options
	}
	return nil
}

func (u *UDP) UnbindFilter(ctx context.Context, dir Direction) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	cmd := hypervisor.Command("nio", "unbind_filter", u.name, int(dir))
	if _, err := u.ch.Send(ctx, cmd); err != nil {
		return fmt.Errorf("nio %s: unbind %s filter: %w", u.name, dir, err)
	}
	if dir == DirIn || dir == DirBoth {
		u.filters.In, u.filters.InOptions = "", ""
	}
	if dir == DirOut || dir == DirBoth {
		u.filters.Out, u.filters.OutOptions = "", ""
	}
	return nil
}

func (u *UDP) Filters() (in, out string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.filters.In, u.filters.Out
}
