// Package hvman holds the domain types shared by the hypervisor device
// manager: identifiers, port numbers, circuit keys and the error kinds
// reported by every layer.
package hvman

import "fmt"

// MinDeviceID and MaxDeviceID bound the identifiers handed out by a
// device pool. The ceiling matches the hypervisor's own device
// numbering limit.
const (
	MinDeviceID DeviceID = 1
	MaxDeviceID DeviceID = 4096
)

// DeviceID identifies a live device within its pool.
type DeviceID uint32

// PortNumber is a logical port on a single device.
type PortNumber uint32

// DLCI is a Frame-Relay data link connection identifier.
type DLCI uint32

// Endpoint is one side of a virtual circuit.
type Endpoint struct {
	Port PortNumber `json:"port" yaml:"port"`
	DLCI DLCI       `json:"dlci" yaml:"dlci"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d:%d", e.Port, e.DLCI)
}

// Circuit is a unidirectional virtual circuit from In to Out. A
// bidirectional conversation needs two circuits.
type Circuit struct {
	In  Endpoint `json:"in" yaml:"in"`
	Out Endpoint `json:"out" yaml:"out"`
}

func (c Circuit) String() string {
	return fmt.Sprintf("%s->%s", c.In, c.Out)
}

// NewCircuit builds a circuit from the four-tuple used on the wire.
func NewCircuit(inPort PortNumber, inDLCI DLCI, outPort PortNumber, outDLCI DLCI) Circuit {
	return Circuit{
		In:  Endpoint{Port: inPort, DLCI: inDLCI},
		Out: Endpoint{Port: outPort, DLCI: outDLCI},
	}
}
