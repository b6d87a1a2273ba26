// Package nio models the network I/O endpoints the hypervisor attaches
// to device ports. Only UDP tunnels are implemented.
package nio

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
)

// Direction selects which traffic a filter applies to. The numeric
// values are the ones the hypervisor expects.
type Direction int

const (
	DirIn   Direction = 0
	DirOut  Direction = 1
	DirBoth Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	case DirBoth:
		return "both"
	}
	return "Direction(" + strconv.Itoa(int(d)) + ")"
}

// CaptureFilter is the hypervisor filter that mirrors traffic to a
// capture file.
const CaptureFilter = "capture"

// NIO is what a device port needs from an endpoint: a stable name for
// use in commands and a filter capability. At most one filter is
// active per direction.
type NIO interface {
	Name() string
	BindFilter(ctx context.Context, dir Direction, filter string) error
	SetupFilter(ctx context.Context, dir Direction, options string) error
	UnbindFilter(ctx context.Context, dir Direction) error
	// Filters returns the names of the active input and output
	// filters; "" means none.
	Filters() (in, out string)
}

// Equal reports whether a and b name the same endpoint.
func Equal(a, b NIO) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name() == b.Name()
}

// NewName returns a fresh hypervisor-side NIO name.
func NewName() string {
	return "nio_udp_" + uuid.NewString()
}

// UDPSpec describes a UDP tunnel: the local port the hypervisor binds
// and the remote end it sends to.
type UDPSpec struct {
	LPort int    `json:"lport" yaml:"lport"`
	RHost string `json:"rhost" yaml:"rhost"`
	RPort int    `json:"rport" yaml:"rport"`
}

func (s UDPSpec) String() string {
	return fmt.Sprintf("udp:%d->%s", s.LPort, net.JoinHostPort(s.RHost, strconv.Itoa(s.RPort)))
}

// Validate checks port bounds and that rhost:rport resolves as a UDP
// destination. Nothing is sent.
func (s UDPSpec) Validate() error {
	if s.LPort < 1 || s.LPort > 65535 {
		return fmt.Errorf("invalid local port %d", s.LPort)
	}
	if s.RPort < 1 || s.RPort > 65535 {
		return fmt.Errorf("invalid remote port %d", s.RPort)
	}
	if s.RHost == "" {
		return fmt.Errorf("remote host cannot be empty")
	}
	conn, err := net.Dial("udp", net.JoinHostPort(s.RHost, strconv.Itoa(s.RPort)))
	if err != nil {
		return fmt.Errorf("could not create a UDP connection to %s:%d: %w", s.RHost, s.RPort, err)
	}
	return conn.Close()
}
