// Package device holds what switches and VMs have in common: an
// identity and a set of NIO port bindings.
package device

import (
	"fmt"

	"github.com/frobware/go-hvman"
)

// Kind tags the device variant.
type Kind string

const (
	KindSwitch Kind = "frsw"
	KindVM     Kind = "vbox"
)

func (k Kind) String() string { return string(k) }

// Label is the human-readable variant name used in messages.
func (k Kind) Label() string {
	switch k {
	case KindSwitch:
		return "Frame Relay switch"
	case KindVM:
		return "VirtualBox VM"
	}
	return string(k)
}

// ParseKind accepts the wire module name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSwitch, KindVM:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown device kind %q", s)
}

// Device is the capability set shared by every variant.
type Device interface {
	ID() hvman.DeviceID
	Name() string
	Kind() Kind
	Ports() *Ports
	// Deleted reports whether Delete has succeeded; a deleted device
	// rejects further mutation.
	Deleted() bool
}

// OpError wraps err with the identity of d and the failed operation.
func OpError(d Device, op string, err error) error {
	return &hvman.OpError{Kind: d.Kind().Label(), Device: d.Name(), ID: d.ID(), Op: op, Err: err}
}
