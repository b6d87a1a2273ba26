// Package interpreter contains the store interfaces and the executor
// that turns reified actions into store writes.
package interpreter

import (
	"context"
	"io"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/device"
)

// DeviceStore persists device identity.
type DeviceStore interface {
	// SaveDevice creates or updates a device.
	SaveDevice(ctx context.Context, rec device.Record) error

	// DeleteDevice removes a device together with its NIOs, circuits
	// and reservations. Returns store.ErrNotFound if absent.
	DeleteDevice(ctx context.Context, kind device.Kind, id hvman.DeviceID) error

	// GetDevice returns store.ErrNotFound if absent.
	GetDevice(ctx context.Context, kind device.Kind, id hvman.DeviceID) (device.Record, error)

	// ListDevices returns every device of kind ordered by ID.
	ListDevices(ctx context.Context, kind device.Kind) ([]device.Record, error)
}

// NIOStore persists port bindings.
type NIOStore interface {
	SaveNIO(ctx context.Context, rec device.NIORecord) error
	DeleteNIO(ctx context.Context, kind device.Kind, id hvman.DeviceID, port hvman.PortNumber) error
	ListNIOs(ctx context.Context, kind device.Kind) ([]device.NIORecord, error)
}

// CircuitStore persists switch circuits, keyed by ingress endpoint.
type CircuitStore interface {
	SaveCircuit(ctx context.Context, id hvman.DeviceID, c hvman.Circuit) error
	DeleteCircuit(ctx context.Context, id hvman.DeviceID, in hvman.Endpoint) error
	ListCircuits(ctx context.Context) ([]device.CircuitRecord, error)
}

// ReservationStore persists the UDP ports reserved by a module.
type ReservationStore interface {
	SaveReservation(ctx context.Context, r device.Reservation) error
	DeleteReservation(ctx context.Context, kind device.Kind, port int) error
	ListReservations(ctx context.Context, kind device.Kind) ([]device.Reservation, error)
}

// Transactional runs fn against a store bound to a single
// transaction. fn returning nil commits; an error rolls back.
type Transactional interface {
	RunInTransaction(ctx context.Context, fn func(Store) error) error
}

// Store combines every persistence operation.
type Store interface {
	DeviceStore
	NIOStore
	CircuitStore
	ReservationStore
	Transactional
	io.Closer

	// ResetKind forgets every device of kind and everything hanging
	// off them.
	ResetKind(ctx context.Context, kind device.Kind) error
}
