// Package alloc provides the bounded pools a device registry draws
// from: device identifiers and local ports.
package alloc

import (
	"fmt"
	"sync"

	"github.com/frobware/go-hvman"
)

// IDPool hands out device identifiers in [hvman.MinDeviceID,
// hvman.MaxDeviceID], lowest free first. Safe for concurrent use.
type IDPool struct {
	mu   sync.Mutex
	held [hvman.MaxDeviceID + 1]bool
	n    int
}

// NewIDPool returns an empty pool.
func NewIDPool() *IDPool {
	return &IDPool{}
}

// Acquire returns the lowest identifier not currently held.
func (p *IDPool) Acquire() (hvman.DeviceID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := hvman.MinDeviceID; id <= hvman.MaxDeviceID; id++ {
		if !p.held[id] {
			p.held[id] = true
			p.n++
			return id, nil
		}
	}
	return 0, &hvman.CapacityError{
		Resource: fmt.Sprintf("maximum number of instances reached (%d)", hvman.MaxDeviceID),
		Err:      hvman.ErrExhausted,
	}
}

// Claim marks a specific identifier as held. Used when devices are
// rebuilt from persisted state.
func (p *IDPool) Claim(id hvman.DeviceID) error {
	if id < hvman.MinDeviceID || id > hvman.MaxDeviceID {
		return fmt.Errorf("device ID %d outside range %d-%d", id, hvman.MinDeviceID, hvman.MaxDeviceID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.held[id] {
		return fmt.Errorf("device ID %d is already in use", id)
	}
	p.held[id] = true
	p.n++
	return nil
}

// Release returns id to the pool. Releasing a free or out of range
// identifier is a no-op.
func (p *IDPool) Release(id hvman.DeviceID) {
	if id < hvman.MinDeviceID || id > hvman.MaxDeviceID {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.held[id] {
		p.held[id] = false
		p.n--
	}
}

// ResetAll frees every identifier. Callers must delete the devices
// holding them first.
func (p *IDPool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.held = [hvman.MaxDeviceID + 1]bool{}
	p.n = 0
}

// InUse reports how many identifiers are held.
func (p *IDPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// IsHeld reports whether id is currently held.
func (p *IDPool) IsHeld(id hvman.DeviceID) bool {
	if id < hvman.MinDeviceID || id > hvman.MaxDeviceID {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held[id]
}
