package hvman

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Typed errors below wrap one of these so callers
// can branch with errors.Is regardless of the context attached.
var (
	ErrExhausted          = errors.New("identifier pool exhausted")
	ErrNoPortAvailable    = errors.New("no port available in range")
	ErrPortOccupied       = errors.New("port is already occupied")
	ErrPortNotAllocated   = errors.New("port is not allocated")
	ErrCircuitNotFound    = errors.New("virtual circuit not found")
	ErrFilterAlreadyBound = errors.New("filter already bound")
	ErrCaptureSetup       = errors.New("capture setup failed")
	ErrChannel            = errors.New("control channel error")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrDeviceDeleted      = errors.New("device has been deleted")
)

// CapacityError reports that a bounded pool has no free slot left.
type CapacityError struct {
	Resource string
	Err      error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Resource, e.Err)
}

func (e *CapacityError) Unwrap() error { return e.Err }

// IsCapacity reports whether err is a pool or range exhaustion, as
// opposed to a validation failure.
func IsCapacity(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// PortError reports a port binding precondition violation.
type PortError struct {
	Device string
	Port   PortNumber
	Err    error
}

func (e *PortError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("port %d: %v", e.Port, e.Err)
	}
	return fmt.Sprintf("%s: port %d: %v", e.Device, e.Port, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// CircuitError is returned when a virtual circuit lookup fails.
type CircuitError struct {
	Device  string
	Circuit Circuit
}

func (e *CircuitError) Error() string {
	return fmt.Sprintf("%s: circuit %s: %v", e.Device, e.Circuit, ErrCircuitNotFound)
}

func (e *CircuitError) Unwrap() error { return ErrCircuitNotFound }

// CaptureSetupError wraps a filesystem failure while preparing a
// capture output path.
type CaptureSetupError struct {
	Path string
	Err  error
}

func (e *CaptureSetupError) Error() string {
	return fmt.Sprintf("could not create capture directory for %s: %v", e.Path, e.Err)
}

func (e *CaptureSetupError) Unwrap() []error { return []error{ErrCaptureSetup, e.Err} }

// CommandError is a non-success reply from the hypervisor.
type CommandError struct {
	Command string
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("hypervisor replied %d to %q: %s", e.Code, e.Command, e.Message)
}

func (e *CommandError) Unwrap() error { return ErrChannel }

// OpError names the device and operation that failed.
type OpError struct {
	Kind   string
	Device string
	ID     DeviceID
	Op     string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %q [id=%d]: %s: %v", e.Kind, e.Device, e.ID, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// DeviceNotFoundError is returned when a registry lookup misses.
type DeviceNotFoundError struct {
	Kind string
	ID   DeviceID
}

func (e DeviceNotFoundError) Error() string {
	return fmt.Sprintf("%s ID %d doesn't exist", e.Kind, e.ID)
}

func (e DeviceNotFoundError) Unwrap() error { return ErrDeviceNotFound }
