// Package cli provides the Kong-based command-line interface for hvman.
package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/nio"
)

// DeviceID wraps a device identifier with hex support.
type DeviceID struct {
	Value hvman.DeviceID
}

// ParseDeviceID parses a device ID from string, supporting hex (0x) prefix.
func ParseDeviceID(s string) (DeviceID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DeviceID{}, fmt.Errorf("device ID cannot be empty")
	}

	var val uint64
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		val, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		val, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return DeviceID{}, fmt.Errorf("invalid device ID %q: %w", s, err)
	}

	id := hvman.DeviceID(val)
	if id < hvman.MinDeviceID || id > hvman.MaxDeviceID {
		return DeviceID{}, fmt.Errorf("device ID %d out of range %d-%d", id, hvman.MinDeviceID, hvman.MaxDeviceID)
	}
	return DeviceID{Value: id}, nil
}

// Endpoint is a PORT:DLCI pair naming one side of a circuit.
type Endpoint struct {
	Port hvman.PortNumber
	DLCI hvman.DLCI
}

// ParseEndpoint parses PORT:DLCI.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("endpoint cannot be empty")
	}
	portStr, dlciStr, ok := strings.Cut(s, ":")
	if !ok {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: expected PORT:DLCI format", s)
	}
	port, err := strconv.ParseUint(strings.TrimSpace(portStr), 10, 32)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	dlci, err := strconv.ParseUint(strings.TrimSpace(dlciStr), 10, 32)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid DLCI in %q: %w", s, err)
	}
	return Endpoint{Port: hvman.PortNumber(port), DLCI: hvman.DLCI(dlci)}, nil
}

// UDPSpec is a tunnel description of the form LPORT:RHOST:RPORT. An
// LPORT of "auto" asks for a port from the module's UDP range.
type UDPSpec struct {
	Spec nio.UDPSpec
	Auto bool
}

// ParseUDPSpec parses LPORT:RHOST:RPORT. IPv6 hosts are bracketed, as
// in 10001:[::1]:20001.
func ParseUDPSpec(s string) (UDPSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UDPSpec{}, fmt.Errorf("UDP spec cannot be empty")
	}
	lportStr, remote, ok := strings.Cut(s, ":")
	if !ok {
		return UDPSpec{}, fmt.Errorf("invalid UDP spec %q: expected LPORT:RHOST:RPORT format", s)
	}
	host, rportStr, err := net.SplitHostPort(remote)
	if err != nil {
		return UDPSpec{}, fmt.Errorf("invalid UDP spec %q: expected LPORT:RHOST:RPORT format: %w", s, err)
	}
	if host == "" {
		return UDPSpec{}, fmt.Errorf("invalid UDP spec %q: remote host cannot be empty", s)
	}
	rport, err := parsePort(rportStr)
	if err != nil {
		return UDPSpec{}, fmt.Errorf("invalid remote port in %q: %w", s, err)
	}

	out := UDPSpec{Spec: nio.UDPSpec{RHost: host, RPort: rport}}
	if strings.EqualFold(lportStr, "auto") {
		out.Auto = true
		return out, nil
	}
	lport, err := parsePort(lportStr)
	if err != nil {
		return UDPSpec{}, fmt.Errorf("invalid local port in %q: %w", s, err)
	}
	out.Spec.LPort = lport
	return out, nil
}

// PortRange is an inclusive START-END range given on the command line.
type PortRange struct {
	Start int
	End   int
}

// IsZero reports whether the range was left unset.
func (r PortRange) IsZero() bool { return r.Start == 0 && r.End == 0 }

func (r PortRange) String() string { return fmt.Sprintf("%d-%d", r.Start, r.End) }

// ParsePortRange parses START-END.
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return PortRange{}, fmt.Errorf("invalid port range %q: expected START-END format", s)
	}
	start, err := parsePort(startStr)
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid start port in %q: %w", s, err)
	}
	end, err := parsePort(endStr)
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid end port in %q: %w", s, err)
	}
	if start > end {
		return PortRange{}, fmt.Errorf("invalid port range %q: start exceeds end", s)
	}
	return PortRange{Start: start, End: end}, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	if p == 0 {
		return 0, fmt.Errorf("port cannot be zero")
	}
	return int(p), nil
}
