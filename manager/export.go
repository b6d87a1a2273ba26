package manager

import (
	"context"
	"fmt"

	"github.com/frobware/go-hvman/compute"
	"github.com/frobware/go-hvman/device"
)

// Topology is the persisted state of both modules.
type Topology struct {
	Settings Settings              `json:"settings" yaml:"settings"`
	Switches []compute.DeviceState `json:"switches" yaml:"switches"`
	VMs      []compute.DeviceState `json:"vms" yaml:"vms"`
}

// Export reads the topology back from the store.
func (m *Manager) Export(ctx context.Context) (Topology, error) {
	switches, err := m.exportKind(ctx, device.KindSwitch)
	if err != nil {
		return Topology{}, err
	}
	vms, err := m.exportKind(ctx, device.KindVM)
	if err != nil {
		return Topology{}, err
	}
	return Topology{Settings: m.settings, Switches: switches, VMs: vms}, nil
}

func (m *Manager) exportKind(ctx context.Context, kind device.Kind) ([]compute.DeviceState, error) {
	devices, err := m.store.ListDevices(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s devices: %w", kind, err)
	}
	nios, err := m.store.ListNIOs(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s nios: %w", kind, err)
	}
	var circuits []device.CircuitRecord
	if kind == device.KindSwitch {
		if circuits, err = m.store.ListCircuits(ctx); err != nil {
			return nil, fmt.Errorf("list circuits: %w", err)
		}
	}
	reservations, err := m.store.ListReservations(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s reservations: %w", kind, err)
	}
	states, _ := compute.Assemble(devices, nios, circuits, reservations)
	if states == nil {
		states = []compute.DeviceState{}
	}
	return states, nil
}
