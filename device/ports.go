package device

import (
	"maps"
	"slices"
	"sync"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/nio"
)

// Ports maps port numbers to NIOs, one NIO per port. It is local
// bookkeeping only; callers pair it with hypervisor commands.
type Ports struct {
	mu    sync.RWMutex
	owner string
	nios  map[hvman.PortNumber]nio.NIO
}

// NewPorts returns an empty binding set. owner is used in errors.
func NewPorts(owner string) *Ports {
	return &Ports{owner: owner, nios: make(map[hvman.PortNumber]nio.NIO)}
}

// SetOwner updates the name reported in errors after a rename.
func (p *Ports) SetOwner(owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owner = owner
}

// Owner returns the device name used in errors.
func (p *Ports) Owner() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner
}

// Bind attaches n to port.
func (p *Ports) Bind(port hvman.PortNumber, n nio.NIO) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.nios[port]; ok {
		return &hvman.PortError{Device: p.owner, Port: port, Err: hvman.ErrPortOccupied}
	}
	p.nios[port] = n
	return nil
}

// Unbind detaches and returns the NIO on port.
func (p *Ports) Unbind(port hvman.PortNumber) (nio.NIO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nios[port]
	if !ok {
		return nil, &hvman.PortError{Device: p.owner, Port: port, Err: hvman.ErrPortNotAllocated}
	}
	delete(p.nios, port)
	return n, nil
}

// Has reports whether port is allocated.
func (p *Ports) Has(port hvman.PortNumber) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.nios[port]
	return ok
}

// Get returns the NIO on port or a PortError wrapping
// ErrPortNotAllocated.
func (p *Ports) Get(port hvman.PortNumber) (nio.NIO, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nios[port]
	if !ok {
		return nil, &hvman.PortError{Device: p.owner, Port: port, Err: hvman.ErrPortNotAllocated}
	}
	return n, nil
}

func (p *Ports) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nios)
}

// Sorted returns the allocated port numbers in ascending order.
func (p *Ports) Sorted() []hvman.PortNumber {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.nios))
}

// Binding is one allocated port.
type Binding struct {
	Port hvman.PortNumber
	NIO  nio.NIO
}

// Bindings returns every allocated port in ascending order.
func (p *Ports) Bindings() []Binding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Binding, 0, len(p.nios))
	for _, port := range slices.Sorted(maps.Keys(p.nios)) {
		out = append(out, Binding{Port: port, NIO: p.nios[port]})
	}
	return out
}
