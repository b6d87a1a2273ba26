// Package frsw drives the hypervisor's Frame-Relay switch devices.
//
// A Switch owns its port bindings and virtual-circuit table. Every
// operation that the hypervisor must know about sends exactly one
// command and updates local state only after the command succeeded,
// so a failed call leaves the Switch unchanged.
package frsw

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

const module = "frsw"

// Switch is one Frame-Relay switch on the hypervisor.
type Switch struct {
	ch   hypervisor.Channel
	base *slog.Logger
	id   hvman.DeviceID

	mu       sync.Mutex
	name     string
	logger   *slog.Logger
	deleted  bool
	ports    *device.Ports
	circuits *CircuitTable
}

var _ device.Device = (*Switch)(nil)

// Create sends "frsw create" and returns the new Switch. id must
// already be reserved by the caller.
func Create(ctx context.Context, ch hypervisor.Channel, id hvman.DeviceID, name string, logger *slog.Logger) (*Switch, error) {
	sw := Restore(ch, id, name, logger)
	if err := hypervisor.ValidateName(name); err != nil {
		return nil, device.OpError(sw, "create", err)
	}
	if _, err := ch.Send(ctx, hypervisor.Command(module, "create", hypervisor.Quote(name))); err != nil {
		return nil, device.OpError(sw, "create", err)
	}
	sw.logger.Info("Frame Relay switch created")
	return sw, nil
}

// Restore returns a Switch the hypervisor already has, without
// sending anything.
func Restore(ch hypervisor.Channel, id hvman.DeviceID, name string, logger *slog.Logger) *Switch {
	if logger == nil {
		logger = slog.Default()
	}
	base := logger.With("component", "frsw", "id", id)
	return &Switch{
		ch:       ch,
		base:     base,
		logger:   base.With("name", name),
		id:       id,
		name:     name,
		ports:    device.NewPorts(name),
		circuits: NewCircuitTable(),
	}
}

func (sw *Switch) ID() hvman.DeviceID { return sw.id }
func (sw *Switch) Kind() device.Kind  { return device.KindSwitch }

// Ports exposes the bindings; mutate them through the Switch.
func (sw *Switch) Ports() *device.Ports { return sw.ports }

func (sw *Switch) Name() string {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.name
}

func (sw *Switch) Deleted() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.deleted
}

// Rename sends "frsw rename" and then adopts newName.
func (sw *Switch) Rename(ctx context.Context, newName string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := sw.checkLiveLocked("rename"); err != nil {
		return err
	}
	if err := hypervisor.ValidateName(newName); err != nil {
		return sw.opErrorLocked("rename", err)
	}
	cmd := hypervisor.Command(module, "rename", hypervisor.Quote(sw.name), hypervisor.Quote(newName))
	if _, err := sw.ch.Send(ctx, cmd); err != nil {
		return sw.opErrorLocked("rename", err)
	}

	sw.logger.Info("Frame Relay switch renamed", "new_name", newName)
	sw.name = newName
	sw.ports.SetOwner(newName)
	sw.logger = sw.base.With("name", newName)
	return nil
}

// Delete sends "frsw delete". On success the Switch is marked deleted
// and rejects every further mutation; the caller releases its ID.
func (sw *Switch) Delete(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := sw.checkLiveLocked("delete"); err != nil {
		return err
	}
	if _, err := sw.ch.Send(ctx, hypervisor.Command(module, "delete", hypervisor.Quote(sw.name))); err != nil {
		return sw.opErrorLocked("delete", err)
	}
	sw.deleted = true
	sw.logger.Info("Frame Relay switch deleted")
	return nil
}

// AddNIO binds n to port. The hypervisor learns about the NIO through
// the circuits that reference it, so nothing is sent here.
func (sw *Switch) AddNIO(port hvman.PortNumber, n nio.NIO) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := sw.checkLiveLocked("add_nio"); err != nil {
		return err
	}
	if err := sw.ports.Bind(port, n); err != nil {
		return sw.opErrorLocked("add_nio", err)
	}
	sw.logger.Info("NIO bound to port", "nio", n.Name(), "port", port)
	return nil
}

// RemoveNIO unbinds and returns the NIO on port.
func (sw *Switch) RemoveNIO(port hvman.PortNumber) (nio.NIO, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := sw.checkLiveLocked("remove_nio"); err != nil {
		return nil, err
	}
	n, err := sw.ports.Unbind(port)
	if err != nil {
		return nil, sw.opErrorLocked("remove_nio", err)
	}
	sw.logger.Info("NIO removed from port", "nio", n.Name(), "port", port)
	return n, nil
}

// MapVC creates the unidirectional circuit (inPort, inDLCI) ->
// (outPort, outDLCI). Both ports must be bound. Mapping an ingress
// key that is already mapped replaces the old egress, as the
// hypervisor does; the replacement is logged as a warning.
func (sw *Switch) MapVC(ctx context.Context, inPort hvman.PortNumber, inDLCI hvman.DLCI, outPort hvman.PortNumber, outDLCI hvman.DLCI) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	c := hvman.NewCircuit(inPort, inDLCI, outPort, outDLCI)
	if err := sw.sendCircuitLocked(ctx, "create_vc", c); err != nil {
		return err
	}

	if prev, replaced := sw.circuits.Put(c); replaced {
		sw.logger.Warn("virtual circuit ingress remapped; previous egress overwritten",
			"in", c.In, "previous_out", prev, "out", c.Out)
	}
	sw.logger.Info("virtual circuit created", "circuit", c)
	return nil
}

// UnmapVC deletes the circuit keyed by (inPort, inDLCI). The command
// is sent before the local table is consulted; a missing entry is
// then reported as a CircuitError.
func (sw *Switch) UnmapVC(ctx context.Context, inPort hvman.PortNumber, inDLCI hvman.DLCI, outPort hvman.PortNumber, outDLCI hvman.DLCI) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	c := hvman.NewCircuit(inPort, inDLCI, outPort, outDLCI)
	if err := sw.sendCircuitLocked(ctx, "delete_vc", c); err != nil {
		return err
	}

	if _, ok := sw.circuits.Remove(c.In); !ok {
		sw.logger.Warn("hypervisor accepted delete_vc for a circuit missing locally", "circuit", c)
		return sw.opErrorLocked("delete_vc", &hvman.CircuitError{Device: sw.name, Circuit: c})
	}
	sw.logger.Info("virtual circuit deleted", "circuit", c)
	return nil
}

func (sw *Switch) sendCircuitLocked(ctx context.Context, verb string, c hvman.Circuit) error {
	if err := sw.checkLiveLocked(verb); err != nil {
		return err
	}
	in, err := sw.ports.Get(c.In.Port)
	if err != nil {
		return sw.opErrorLocked(verb, err)
	}
	out, err := sw.ports.Get(c.Out.Port)
	if err != nil {
		return sw.opErrorLocked(verb, err)
	}

	cmd := hypervisor.Command(module, verb, hypervisor.Quote(sw.name), in.Name(), c.In.DLCI, out.Name(), c.Out.DLCI)
	if _, err := sw.ch.Send(ctx, cmd); err != nil {
		return sw.opErrorLocked(verb, err)
	}
	return nil
}

// Lookup returns the egress mapped from (port, dlci).
func (sw *Switch) Lookup(port hvman.PortNumber, dlci hvman.DLCI) (hvman.Endpoint, bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.circuits.Lookup(hvman.Endpoint{Port: port, DLCI: dlci})
}

// Circuits returns a snapshot of the circuit table.
func (sw *Switch) Circuits() []hvman.Circuit {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.circuits.All()
}

// RestoreCircuit records c without sending anything.
func (sw *Switch) RestoreCircuit(c hvman.Circuit) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.circuits.Put(c)
}

// StartCapture mirrors port into outputPath. linkType defaults to
// DLT_FRELAY.
func (sw *Switch) StartCapture(ctx context.Context, port hvman.PortNumber, outputPath, linkType string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := sw.checkLiveLocked("start_capture"); err != nil {
		return err
	}
	if linkType == "" {
		linkType = capture.LinkTypeFrameRelay
	}
	if err := capture.Start(ctx, sw.ports, port, outputPath, linkType); err != nil {
		return sw.opErrorLocked("start_capture", err)
	}
	sw.logger.Info("packet capture started", "port", port, "path", outputPath, "link_type", linkType)
	return nil
}

// StopCapture stops any capture on port.
func (sw *Switch) StopCapture(ctx context.Context, port hvman.PortNumber) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := sw.checkLiveLocked("stop_capture"); err != nil {
		return err
	}
	if err := capture.Stop(ctx, sw.ports, port); err != nil {
		return sw.opErrorLocked("stop_capture", err)
	}
	sw.logger.Info("packet capture stopped", "port", port)
	return nil
}

// List returns the switch names the hypervisor reports.
func List(ctx context.Context, ch hypervisor.Channel) ([]string, error) {
	resp, err := ch.Send(ctx, hypervisor.Command(module, "list"))
	if err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

func (sw *Switch) checkLiveLocked(op string) error {
	if sw.deleted {
		return sw.opErrorLocked(op, hvman.ErrDeviceDeleted)
	}
	return nil
}

func (sw *Switch) opErrorLocked(op string, err error) error {
	return &hvman.OpError{Kind: device.KindSwitch.Label(), Device: sw.name, ID: sw.id, Op: op, Err: err}
}
