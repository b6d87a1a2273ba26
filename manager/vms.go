package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/alloc"
	"github.com/frobware/go-hvman/config"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/hypervisor"
	"github.com/frobware/go-hvman/lock"
	"github.com/frobware/go-hvman/nio"
	"github.com/frobware/go-hvman/vbox"
)

// VMModule manages the VirtualBox VMs of one hypervisor. Each VM
// holds a console TCP port drawn from the console range.
type VMModule struct {
	reg      *registry[*vbox.VM]
	consoles *alloc.PortRange
}

func newVMModule(deps Dependencies, s Settings) (*VMModule, error) {
	consoles, err := alloc.NewPortRange("console", s.Console.StartPort, s.Console.EndPort, deps.ConsoleProber)
	if err != nil {
		return nil, err
	}
	v := variant[*vbox.VM]{
		kind: device.KindVM,
		restore: func(ch hypervisor.Channel, rec device.Record, logger *slog.Logger) *vbox.VM {
			return vbox.Restore(ch, rec.ID, rec.Name, rec.Console, logger)
		},
		bind: func(ctx context.Context, vm *vbox.VM, port hvman.PortNumber, n nio.NIO) error {
			return vm.AddNIOBinding(ctx, port, n)
		},
		unbind: func(ctx context.Context, vm *vbox.VM, port hvman.PortNumber) (nio.NIO, error) {
			return vm.RemoveNIOBinding(ctx, port)
		},
		list: vbox.List,
		dir:  config.RuntimeDirs.VMDir,
		forget: func(vm *vbox.VM) {
			if vm.Console() > 0 {
				consoles.Release(vm.Console())
			}
		},
	}
	reg, err := newRegistry(v, deps, s)
	if err != nil {
		return nil, err
	}
	return &VMModule{reg: reg, consoles: consoles}, nil
}

func (m *VMModule) restore(ctx context.Context) error {
	if err := m.reg.restore(ctx, nil); err != nil {
		return err
	}
	for _, vm := range m.reg.all() {
		if vm.Console() > 0 {
			m.consoles.Claim(vm.Console())
		}
	}
	return nil
}

// Create allocates an ID and a console port and creates a VM called
// name. A console of 0 picks the first free port of the console range;
// any other value must be free on the host.
func (m *VMModule) Create(ctx context.Context, name string, console int) (*vbox.VM, error) {
	ctx = withOpID(ctx)
	r := m.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if console != 0 {
		if err := m.consoles.ReserveExact(console); err != nil {
			return nil, fmt.Errorf("create VM %q: %w", name, err)
		}
	} else {
		var err error
		if console, err = m.consoles.Reserve(nil); err != nil {
			return nil, fmt.Errorf("create VM %q: %w", name, err)
		}
	}

	vm, err := r.createLocked(ctx, name, console, func(ctx context.Context, id hvman.DeviceID) (*vbox.VM, error) {
		return vbox.Create(ctx, r.ch, id, name, console, r.logger)
	})
	if err != nil {
		m.consoles.Release(console)
		return nil, err
	}
	return vm, nil
}

// Get returns the VM with id.
func (m *VMModule) Get(id hvman.DeviceID) (*vbox.VM, error) {
	return m.reg.get(id)
}

// All returns the managed VMs ordered by ID.
func (m *VMModule) All() []*vbox.VM {
	return m.reg.all()
}

// Records returns the persisted form of every managed VM.
func (m *VMModule) Records() []device.Record {
	return m.reg.records()
}

// Rename renames VM id.
func (m *VMModule) Rename(ctx context.Context, id hvman.DeviceID, name string) error {
	return m.reg.rename(withOpID(ctx), id, name)
}

// Delete deletes VM id and releases its ID, console and UDP ports.
func (m *VMModule) Delete(ctx context.Context, id hvman.DeviceID) error {
	ctx = withOpID(ctx)
	m.reg.mu.Lock()
	defer m.reg.mu.Unlock()
	return m.reg.deleteLocked(ctx, id)
}

// AllocateUDPPort reserves a local UDP port for VM id.
func (m *VMModule) AllocateUDPPort(ctx context.Context, id hvman.DeviceID) (int, error) {
	return m.reg.allocateUDPPort(withOpID(ctx), id)
}

// AddNIO creates a UDP NIO and binds it to adapter port of VM id. A
// zero spec.LPort is allocated from the UDP range.
func (m *VMModule) AddNIO(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber, spec nio.UDPSpec) (*nio.UDP, error) {
	return m.reg.addNIO(withOpID(ctx), id, port, spec)
}

// RemoveNIO detaches and deletes the NIO on adapter port of VM id.
func (m *VMModule) RemoveNIO(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber) error {
	return m.reg.removeNIO(withOpID(ctx), id, port)
}

// StartCapture starts a capture on adapter port of VM id. linkType
// defaults to DLT_EN10MB.
func (m *VMModule) StartCapture(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber, path, linkType string) (string, error) {
	return m.reg.startCapture(withOpID(ctx), id, port, path, linkType)
}

// StopCapture stops any capture on adapter port of VM id.
func (m *VMModule) StopCapture(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber) error {
	return m.reg.stopCapture(withOpID(ctx), id, port)
}

// List returns the VM names the hypervisor reports.
func (m *VMModule) List(ctx context.Context) ([]string, error) {
	return m.reg.listRemote(withOpID(ctx))
}

// WorkDir returns the working directory of VM id.
func (m *VMModule) WorkDir(id hvman.DeviceID) string {
	return m.reg.workDir(id)
}

// Consoles returns the reserved console ports.
func (m *VMModule) Consoles() []int {
	return m.consoles.Reserved()
}

// Reset deletes every VM and clears the ID pool, console and UDP
// reservations.
func (m *VMModule) Reset(ctx context.Context, _ lock.WriterScope) error {
	if err := m.reg.reset(withOpID(ctx)); err != nil {
		return err
	}
	m.consoles.ReleaseAll()
	return nil
}

func (m *VMModule) applySettings(s Settings) error {
	if err := m.reg.applySettings(s); err != nil {
		return err
	}
	return m.consoles.SetRange(s.Console.StartPort, s.Console.EndPort)
}
