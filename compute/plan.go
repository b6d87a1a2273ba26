// Package compute contains pure functions for business logic.
// Functions in this package perform no I/O - they transform data into actions.
package compute

import (
	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/action"
	"github.com/frobware/go-hvman/device"
)

// SaveDeviceActions persists a new or renamed device.
func SaveDeviceActions(rec device.Record) []action.Action {
	return []action.Action{action.SaveDevice{Record: rec}}
}

// DeleteDeviceActions forgets a device. The store cascades to its
// NIOs, circuits and reservations, so one action suffices.
func DeleteDeviceActions(kind device.Kind, id hvman.DeviceID) []action.Action {
	return []action.Action{action.DeleteDevice{Kind: kind, ID: id}}
}

// AddNIOActions persists a binding together with the reservation of
// its local UDP port.
func AddNIOActions(rec device.NIORecord) []action.Action {
	return []action.Action{
		action.SaveNIO{Record: rec},
		action.SaveReservation{Reservation: device.Reservation{
			Kind:     rec.Kind,
			Port:     rec.Spec.LPort,
			DeviceID: rec.DeviceID,
		}},
	}
}

// RemoveNIOActions forgets a binding and releases its local UDP port.
func RemoveNIOActions(rec device.NIORecord) []action.Action {
	return []action.Action{
		action.DeleteNIO{Kind: rec.Kind, DeviceID: rec.DeviceID, Port: rec.Port},
		action.DeleteReservation{Kind: rec.Kind, Port: rec.Spec.LPort},
	}
}

// UpdateFiltersActions persists a binding whose filter state changed.
func UpdateFiltersActions(rec device.NIORecord) []action.Action {
	return []action.Action{action.SaveNIO{Record: rec}}
}

// MapCircuitActions persists a circuit; an existing ingress is
// replaced.
func MapCircuitActions(id hvman.DeviceID, c hvman.Circuit) []action.Action {
	return []action.Action{action.SaveCircuit{DeviceID: id, Circuit: c}}
}

// UnmapCircuitActions forgets the circuit keyed by c.In.
func UnmapCircuitActions(id hvman.DeviceID, c hvman.Circuit) []action.Action {
	return []action.Action{action.DeleteCircuit{DeviceID: id, In: c.In}}
}

// ReserveActions persists a UDP port handed out to a device.
func ReserveActions(kind device.Kind, id hvman.DeviceID, port int) []action.Action {
	return []action.Action{action.SaveReservation{Reservation: device.Reservation{Kind: kind, Port: port, DeviceID: id}}}
}

// ResetActions forgets every device of kind.
func ResetActions(kind device.Kind) []action.Action {
	return []action.Action{action.ResetKind{Kind: kind}}
}
