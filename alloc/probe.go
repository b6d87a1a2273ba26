package alloc

import (
	"net"
	"strconv"
)

// Prober reports whether a port is already bound on the host.
type Prober interface {
	InUse(port int) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(port int) bool

// InUse calls f(port).
func (f ProberFunc) InUse(port int) bool { return f(port) }

// NopProber treats every port as free.
type NopProber struct{}

// InUse always returns false.
func (NopProber) InUse(int) bool { return false }

// UDPProber checks availability by binding a UDP socket on Host.
type UDPProber struct {
	Host string
}

// InUse reports true if the port cannot be bound.
func (p UDPProber) InUse(port int) bool {
	conn, err := net.ListenPacket("udp", net.JoinHostPort(p.Host, strconv.Itoa(port)))
	if err != nil {
		return true
	}
	_ = conn.Close()
	return false
}

// TCPProber checks availability by listening on a TCP port on Host.
type TCPProber struct {
	Host string
}

// InUse reports true if the port cannot be listened on.
func (p TCPProber) InUse(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(p.Host, strconv.Itoa(port)))
	if err != nil {
		return true
	}
	_ = l.Close()
	return false
}
