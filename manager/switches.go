package manager

import (
	"context"
	"log/slog"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/compute"
	"github.com/frobware/go-hvman/config"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/frsw"
	"github.com/frobware/go-hvman/hypervisor"
	"github.com/frobware/go-hvman/lock"
	"github.com/frobware/go-hvman/nio"
)

// SwitchModule manages the Frame-Relay switches of one hypervisor.
type SwitchModule struct {
	reg *registry[*frsw.Switch]
}

func newSwitchModule(deps Dependencies, s Settings) (*SwitchModule, error) {
	v := variant[*frsw.Switch]{
		kind: device.KindSwitch,
		restore: func(ch hypervisor.Channel, rec device.Record, logger *slog.Logger) *frsw.Switch {
			return frsw.Restore(ch, rec.ID, rec.Name, logger)
		},
		bind: func(_ context.Context, sw *frsw.Switch, port hvman.PortNumber, n nio.NIO) error {
			return sw.AddNIO(port, n)
		},
		unbind: func(_ context.Context, sw *frsw.Switch, port hvman.PortNumber) (nio.NIO, error) {
			return sw.RemoveNIO(port)
		},
		list: frsw.List,
		dir:  config.RuntimeDirs.SwitchDir,
	}
	reg, err := newRegistry(v, deps, s)
	if err != nil {
		return nil, err
	}
	return &SwitchModule{reg: reg}, nil
}

func (m *SwitchModule) restoreCircuits(sw *frsw.Switch, circuits []hvman.Circuit) {
	for _, c := range circuits {
		sw.RestoreCircuit(c)
	}
}

// Create allocates an ID and creates a switch called name.
func (m *SwitchModule) Create(ctx context.Context, name string) (*frsw.Switch, error) {
	ctx = withOpID(ctx)
	r := m.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createLocked(ctx, name, 0, func(ctx context.Context, id hvman.DeviceID) (*frsw.Switch, error) {
		return frsw.Create(ctx, r.ch, id, name, r.logger)
	})
}

// Get returns the switch with id.
func (m *SwitchModule) Get(id hvman.DeviceID) (*frsw.Switch, error) {
	return m.reg.get(id)
}

// All returns the managed switches ordered by ID.
func (m *SwitchModule) All() []*frsw.Switch {
	return m.reg.all()
}

// Records returns the persisted form of every managed switch.
func (m *SwitchModule) Records() []device.Record {
	return m.reg.records()
}

// Rename renames switch id.
func (m *SwitchModule) Rename(ctx context.Context, id hvman.DeviceID, name string) error {
	return m.reg.rename(withOpID(ctx), id, name)
}

// Delete deletes switch id and releases its ID and UDP ports.
func (m *SwitchModule) Delete(ctx context.Context, id hvman.DeviceID) error {
	ctx = withOpID(ctx)
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return m.reg.deleteLocked(ctx, id)
}

// AllocateUDPPort reserves a local UDP port for switch id.
func (m *SwitchModule) AllocateUDPPort(ctx context.Context, id hvman.DeviceID) (int, error) {
	return m.reg.allocateUDPPort(withOpID(ctx), id)
}

// AddNIO creates a UDP NIO and binds it to port of switch id. A zero
// spec.LPort is allocated from the UDP range.
func (m *SwitchModule) AddNIO(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber, spec nio.UDPSpec) (*nio.UDP, error) {
	return m.reg.addNIO(withOpID(ctx), id, port, spec)
}

// RemoveNIO unbinds and deletes the NIO on port of switch id.
// Circuits that reference the port are left in place.
func (m *SwitchModule) RemoveNIO(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber) error {
	return m.reg.removeNIO(withOpID(ctx), id, port)
}

// MapVC maps (inPort, inDLCI) to (outPort, outDLCI) on switch id.
func (m *SwitchModule) MapVC(ctx context.Context, id hvman.DeviceID, inPort hvman.PortNumber, inDLCI hvman.DLCI, outPort hvman.PortNumber, outDLCI hvman.DLCI) error {
	ctx = withOpID(ctx)
	r := m.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.getLocked(id)
	if err != nil {
		return err
	}
	sw := e.dev
	c := hvman.NewCircuit(inPort, inDLCI, outPort, outDLCI)
	prev, remapped := sw.Lookup(inPort, inDLCI)

	if err := sw.MapVC(ctx, inPort, inDLCI, outPort, outDLCI); err != nil {
		return err
	}

	var undo undoStack
	if remapped {
		undo.push("restore "+c.In.String()+"->"+prev.String(), func(ctx context.Context) error {
			return sw.MapVC(ctx, inPort, inDLCI, prev.Port, prev.DLCI)
		})
	} else {
		undo.push("unmap "+c.String(), func(ctx context.Context) error {
			return sw.UnmapVC(ctx, inPort, inDLCI, outPort, outDLCI)
		})
	}
	if err := r.commit(ctx, compute.MapCircuitActions(id, c), undo); err != nil {
		return device.OpError(sw, "create_vc", err)
	}
	return nil
}

// UnmapVC removes the circuit keyed by (inPort, inDLCI) on switch id.
func (m *SwitchModule) UnmapVC(ctx context.Context, id hvman.DeviceID, inPort hvman.PortNumber, inDLCI hvman.DLCI, outPort hvman.PortNumber, outDLCI hvman.DLCI) error {
	ctx = withOpID(ctx)
	r := m.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.getLocked(id)
	if err != nil {
		return err
	}
	sw := e.dev
	c := hvman.NewCircuit(inPort, inDLCI, outPort, outDLCI)
	prev, mapped := sw.Lookup(inPort, inDLCI)

	if err := sw.UnmapVC(ctx, inPort, inDLCI, outPort, outDLCI); err != nil {
		return err
	}

	var undo undoStack
	if mapped {
		undo.push("remap "+c.In.String()+"->"+prev.String(), func(ctx context.Context) error {
			return sw.MapVC(ctx, inPort, inDLCI, prev.Port, prev.DLCI)
		})
	}
	if err := r.commit(ctx, compute.UnmapCircuitActions(id, c), undo); err != nil {
		return device.OpError(sw, "delete_vc", err)
	}
	return nil
}

// Circuits returns the circuit table of switch id.
func (m *SwitchModule) Circuits(id hvman.DeviceID) ([]hvman.Circuit, error) {
	sw, err := m.reg.get(id)
	if err != nil {
		return nil, err
	}
	return sw.Circuits(), nil
}

// StartCapture starts a capture on port of switch id and returns the
// capture file path. An empty path selects a file in the switch's
// working directory; an empty linkType selects DLT_FRELAY.
func (m *SwitchModule) StartCapture(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber, path, linkType string) (string, error) {
	return m.reg.startCapture(withOpID(ctx), id, port, path, linkType)
}

// StopCapture stops any capture on port of switch id.
func (m *SwitchModule) StopCapture(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber) error {
	return m.reg.stopCapture(withOpID(ctx), id, port)
}

// List returns the switch names the hypervisor reports.
func (m *SwitchModule) List(ctx context.Context) ([]string, error) {
	return m.reg.listRemote(withOpID(ctx))
}

// WorkDir returns the working directory of switch id.
func (m *SwitchModule) WorkDir(id hvman.DeviceID) string {
	return m.reg.workDir(id)
}

// Reset deletes every switch and clears the ID pool and UDP
// reservations.
func (m *SwitchModule) Reset(ctx context.Context, _ lock.WriterScope) error {
	return m.reg.reset(withOpID(ctx))
}
