// Package vbox drives VirtualBox VM instances through the hypervisor.
// Unlike switch ports, VM port bindings are visible to the hypervisor,
// so attaching or detaching a NIO sends a command.
package vbox

import (
	"context"
	"log/slog"
	"sync"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/capture"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/hypervisor"
	"github.com/frobware/go-hvman/nio"
)

const module = "vbox"

// VM is one VirtualBox instance.
type VM struct {
	ch      hypervisor.Channel
	base    *slog.Logger
	id      hvman.DeviceID
	console int

	mu      sync.Mutex
	name    string
	logger  *slog.Logger
	deleted bool
	ports   *device.Ports
}

var _ device.Device = (*VM)(nil)

// Create sends "vbox create". The caller has reserved id and the
// console port.
func Create(ctx context.Context, ch hypervisor.Channel, id hvman.DeviceID, name string, console int, logger *slog.Logger) (*VM, error) {
	vm := Restore(ch, id, name, console, logger)
	if err := hypervisor.ValidateName(name); err != nil {
		return nil, device.OpError(vm, "create", err)
	}
	if _, err := ch.Send(ctx, hypervisor.Command(module, "create", hypervisor.Quote(name))); err != nil {
		return nil, device.OpError(vm, "create", err)
	}
	vm.logger.Info("VirtualBox VM created", "console", console)
	return vm, nil
}

// Restore returns a VM the hypervisor already has.
func Restore(ch hypervisor.Channel, id hvman.DeviceID, name string, console int, logger *slog.Logger) *VM {
	if logger == nil {
		logger = slog.Default()
	}
	base := logger.With("component", "vbox", "id", id)
	return &VM{
		ch:      ch,
		base:    base,
		logger:  base.With("name", name),
		id:      id,
		console: console,
		name:    name,
		ports:   device.NewPorts(name),
	}
}

func (vm *VM) ID() hvman.DeviceID   { return vm.id }
func (vm *VM) Kind() device.Kind    { return device.KindVM }
func (vm *VM) Ports() *device.Ports { return vm.ports }

// Console is the TCP console port reserved for the VM.
func (vm *VM) Console() int { return vm.console }

func (vm *VM) Name() string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.name
}

func (vm *VM) Deleted() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.deleted
}

func (vm *VM) Rename(ctx context.Context, newName string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if err := vm.checkLiveLocked("rename"); err != nil {
		return err
	}
	if err := hypervisor.ValidateName(newName); err != nil {
		return vm.opErrorLocked("rename", err)
	}
	cmd := hypervisor.Command(module, "rename", hypervisor.Quote(vm.name), hypervisor.Quote(newName))
	if _, err := vm.ch.Send(ctx, cmd); err != nil {
		return vm.opErrorLocked("rename", err)
	}
	vm.logger.Info("VirtualBox VM renamed", "new_name", newName)
	vm.name = newName
	vm.ports.SetOwner(newName)
	vm.logger = vm.base.With("name", newName)
	return nil
}

func (vm *VM) Delete(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if err := vm.checkLiveLocked("delete"); err != nil {
		return err
	}
	if _, err := vm.ch.Send(ctx, hypervisor.Command(module, "delete", hypervisor.Quote(vm.name))); err != nil {
		return vm.opErrorLocked("delete", err)
	}
	vm.deleted = true
	vm.logger.Info("VirtualBox VM deleted")
	return nil
}

// AddNIOBinding attaches n to the VM adapter port.
func (vm *VM) AddNIOBinding(ctx context.Context, port hvman.PortNumber, n nio.NIO) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if err := vm.checkLiveLocked("add_nio_binding"); err != nil {
		return err
	}
	if vm.ports.Has(port) {
		return vm.opErrorLocked("add_nio_binding", &hvman.PortError{Device: vm.name, Port: port, Err: hvman.ErrPortOccupied})
	}
	cmd := hypervisor.Command(module, "add_nio_binding", hypervisor.Quote(vm.name), port, n.Name())
	if _, err := vm.ch.Send(ctx, cmd); err != nil {
		return vm.opErrorLocked("add_nio_binding", err)
	}
	if err := vm.ports.Bind(port, n); err != nil {
		return vm.opErrorLocked("add_nio_binding", err)
	}
	vm.logger.Info("NIO bound to adapter", "nio", n.Name(), "port", port)
	return nil
}

// RemoveNIOBinding detaches and returns the NIO on port.
func (vm *VM) RemoveNIOBinding(ctx context.Context, port hvman.PortNumber) (nio.NIO, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if err := vm.checkLiveLocked("remove_nio_binding"); err != nil {
		return nil, err
	}
	if !vm.ports.Has(port) {
		return nil, vm.opErrorLocked("remove_nio_binding", &hvman.PortError{Device: vm.name, Port: port, Err: hvman.ErrPortNotAllocated})
	}
	cmd := hypervisor.Command(module, "remove_nio_binding", hypervisor.Quote(vm.name), port)
	if _, err := vm.ch.Send(ctx, cmd); err != nil {
		return nil, vm.opErrorLocked("remove_nio_binding", err)
	}
	n, err := vm.ports.Unbind(port)
	if err != nil {
		return nil, vm.opErrorLocked("remove_nio_binding", err)
	}
	vm.logger.Info("NIO removed from adapter", "nio", n.Name(), "port", port)
	return n, nil
}

// RestoreNIO records a binding the hypervisor already has.
func (vm *VM) RestoreNIO(port hvman.PortNumber, n nio.NIO) error {
	return vm.ports.Bind(port, n)
}

// StartCapture mirrors an adapter into outputPath; linkType defaults
// to DLT_EN10MB.
func (vm *VM) StartCapture(ctx context.Context, port hvman.PortNumber, outputPath, linkType string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if err := vm.checkLiveLocked("start_capture"); err != nil {
		return err
	}
	if linkType == "" {
		linkType = capture.LinkTypeEthernet
	}
	if err := capture.Start(ctx, vm.ports, port, outputPath, linkType); err != nil {
		return vm.opErrorLocked("start_capture", err)
	}
	vm.logger.Info("packet capture started", "port", port, "path", outputPath, "link_type", linkType)
	return nil
}

func (vm *VM) StopCapture(ctx context.Context, port hvman.PortNumber) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if err := vm.checkLiveLocked("stop_capture"); err != nil {
		return err
	}
	if err := capture.Stop(ctx, vm.ports, port); err != nil {
		return vm.opErrorLocked("stop_capture", err)
	}
	vm.logger.Info("packet capture stopped", "port", port)
	return nil
}

// List returns the VM names the hypervisor reports.
func List(ctx context.Context, ch hypervisor.Channel) ([]string, error) {
	resp, err := ch.Send(ctx, hypervisor.Command(module, "list"))
	if err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

func (vm *VM) checkLiveLocked(op string) error {
	if vm.deleted {
		return vm.opErrorLocked(op, hvman.ErrDeviceDeleted)
	}
	return nil
}

func (vm *VM) opErrorLocked(op string, err error) error {
	return &hvman.OpError{Kind: device.KindVM.Label(), Device: vm.name, ID: vm.id, Op: op, Err: err}
}
