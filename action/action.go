// Package action contains reified effects - descriptions of what to do
// without actually doing it. These are pure data structures.
package action

import (
	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/device"
)

// Action represents an effect to be executed.
// Actions are data - they describe what to do, not how.
type Action interface {
	isAction()
}

// Device actions

// SaveDevice creates or updates a device record.
type SaveDevice struct {
	Record device.Record
}

func (SaveDevice) isAction() {}

// DeleteDevice removes a device and everything that hangs off it.
type DeleteDevice struct {
	Kind device.Kind
	ID   hvman.DeviceID
}

func (DeleteDevice) isAction() {}

// ResetKind removes every device of a module.
type ResetKind struct {
	Kind device.Kind
}

func (ResetKind) isAction() {}

// Port binding actions

// SaveNIO records a port binding.
type SaveNIO struct {
	Record device.NIORecord
}

func (SaveNIO) isAction() {}

// DeleteNIO removes a port binding.
type DeleteNIO struct {
	Kind     device.Kind
	DeviceID hvman.DeviceID
	Port     hvman.PortNumber
}

func (DeleteNIO) isAction() {}

// Circuit actions

// SaveCircuit records a circuit, replacing any with the same ingress.
type SaveCircuit struct {
	DeviceID hvman.DeviceID
	Circuit  hvman.Circuit
}

func (SaveCircuit) isAction() {}

// DeleteCircuit removes the circuit keyed by In.
type DeleteCircuit struct {
	DeviceID hvman.DeviceID
	In       hvman.Endpoint
}

func (DeleteCircuit) isAction() {}

// Reservation actions

// SaveReservation records a reserved local UDP port.
type SaveReservation struct {
	Reservation device.Reservation
}

func (SaveReservation) isAction() {}

// DeleteReservation forgets a reserved local UDP port.
type DeleteReservation struct {
	Kind device.Kind
	Port int
}

func (DeleteReservation) isAction() {}

// Composite actions

// Batch groups actions with no ordering requirement between them.
type Batch struct {
	Actions []Action
}

func (Batch) isAction() {}

// Sequence groups actions that must run in order.
type Sequence struct {
	Actions []Action
}

func (Sequence) isAction() {}
