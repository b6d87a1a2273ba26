package alloc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/frobware/go-hvman"
)

// PortRange reserves local ports from a configurable [start, end]
// range. Every reservation is remembered until released, so the same
// port is never handed out twice by one PortRange. Safe for concurrent
// use.
type PortRange struct {
	mu       sync.Mutex
	name     string
	start    int
	end      int
	prober   Prober
	reserved map[int]struct{}
}

// NewPortRange creates a range allocator. name appears in errors (for
// example "udp" or "console").
func NewPortRange(name string, start, end int, prober Prober) (*PortRange, error) {
	if err := validRange(start, end); err != nil {
		return nil, fmt.Errorf("%s port range: %w", name, err)
	}
	if prober == nil {
		prober = NopProber{}
	}
	return &PortRange{
		name:     name,
		start:    start,
		end:      end,
		prober:   prober,
		reserved: make(map[int]struct{}),
	}, nil
}

func validRange(start, end int) error {
	if start < 1 || end > 65535 {
		return fmt.Errorf("invalid port range %d-%d (must be within 1-65535)", start, end)
	}
	if start > end {
		return fmt.Errorf("invalid port range: start=%d, end=%d", start, end)
	}
	return nil
}

// Reserve returns the first port in range that is neither reserved,
// listed in exclude, nor reported in use by the prober.
func (r *PortRange) Reserve(exclude map[int]struct{}) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for port := r.start; port <= r.end; port++ {
		if _, ok := r.reserved[port]; ok {
			continue
		}
		if _, ok := exclude[port]; ok {
			continue
		}
		if r.prober.InUse(port) {
			continue
		}
		r.reserved[port] = struct{}{}
		return port, nil
	}

	return 0, &hvman.CapacityError{
		Resource: fmt.Sprintf("%s ports %d-%d", r.name, r.start, r.end),
		Err:      hvman.ErrNoPortAvailable,
	}
}

// ReserveExact reserves a caller-chosen port after checking that it is
// neither reserved nor in use on the host. The port does not need to
// lie inside the configured range.
func (r *PortRange) ReserveExact(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s port %d", r.name, port)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reserved[port]; ok {
		return fmt.Errorf("%s port %d is already reserved", r.name, port)
	}
	if r.prober.InUse(port) {
		return fmt.Errorf("%s port %d is already in use on the host", r.name, port)
	}
	r.reserved[port] = struct{}{}
	return nil
}

// Claim records port as reserved without probing. Used when restoring
// state where the hypervisor itself already holds the port.
func (r *PortRange) Claim(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserved[port] = struct{}{}
}

// Release forgets a reservation. Unknown ports are ignored.
func (r *PortRange) Release(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, port)
}

// ReleaseAll forgets every reservation.
func (r *PortRange) ReleaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserved = make(map[int]struct{})
}

// IsReserved reports whether port is currently reserved.
func (r *PortRange) IsReserved(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.reserved[port]
	return ok
}

// SetRange changes the bounds used by future reservations. Existing
// reservations stay valid even when they fall outside the new range.
func (r *PortRange) SetRange(start, end int) error {
	if err := validRange(start, end); err != nil {
		return fmt.Errorf("%s port range: %w", r.name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.end = start, end
	return nil
}

// Range returns the current bounds.
func (r *PortRange) Range() (start, end int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.start, r.end
}

// Reserved returns the reserved ports in ascending order.
func (r *PortRange) Reserved() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ports := make([]int, 0, len(r.reserved))
	for port := range r.reserved {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}
