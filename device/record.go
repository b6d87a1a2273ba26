package device

import (
	"time"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/nio"
)

// Record is the persisted form of a device.
type Record struct {
	Kind      Kind           `json:"kind" yaml:"kind"`
	ID        hvman.DeviceID `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Console   int            `json:"console,omitempty" yaml:"console,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
}

// NIORecord is a persisted port binding together with the tunnel
// behind it.
type NIORecord struct {
	Kind     Kind             `json:"kind" yaml:"kind"`
	DeviceID hvman.DeviceID   `json:"device_id" yaml:"device_id"`
	Port     hvman.PortNumber `json:"port" yaml:"port"`
	Name     string           `json:"name" yaml:"name"`
	Spec     nio.UDPSpec      `json:"udp" yaml:"udp"`
	Filters  nio.FilterState  `json:"filters,omitzero" yaml:"filters,omitempty"`
}

// CircuitRecord is a persisted switch circuit.
type CircuitRecord struct {
	DeviceID hvman.DeviceID `json:"device_id" yaml:"device_id"`
	Circuit  hvman.Circuit  `json:"circuit" yaml:"circuit"`
}

// Reservation records a local UDP port handed out to a device of a
// module.
type Reservation struct {
	Kind     Kind           `json:"kind" yaml:"kind"`
	Port     int            `json:"port" yaml:"port"`
	DeviceID hvman.DeviceID `json:"device_id" yaml:"device_id"`
}
