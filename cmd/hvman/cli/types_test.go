package cli_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/cmd/hvman/cli"
)

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		input string
		want  hvman.DeviceID
	}{
		{"1", 1},
		{" 42 ", 42},
		{"0x10", 16},
		{"0X1000", 4096},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			id, err := cli.ParseDeviceID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.Value)
		})
	}
}

func TestParseDeviceID_Invalid(t *testing.T) {
	tests := []struct {
		input       string
		errContains string
	}{
		{"", "cannot be empty"},
		{"abc", "invalid device ID"},
		{"0", "out of range"},
		{"4097", "out of range"},
		{"0xZZ", "invalid device ID"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := cli.ParseDeviceID(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	ep, err := cli.ParseEndpoint("2:100")
	require.NoError(t, err)
	assert.Equal(t, hvman.PortNumber(2), ep.Port)
	assert.Equal(t, hvman.DLCI(100), ep.DLCI)

	for _, bad := range []string{"", "2", "x:1", "1:y", "-1:2"} {
		_, err := cli.ParseEndpoint(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseUDPSpec(t *testing.T) {
	tests := []struct {
		input string
		lport int
		rhost string
		rport int
		auto  bool
	}{
		{"10001:127.0.0.1:20001", 10001, "127.0.0.1", 20001, false},
		{"10001:remote.example:20001", 10001, "remote.example", 20001, false},
		{"10001:[::1]:20001", 10001, "::1", 20001, false},
		{"auto:127.0.0.1:20001", 0, "127.0.0.1", 20001, true},
		{"AUTO:127.0.0.1:20001", 0, "127.0.0.1", 20001, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			spec, err := cli.ParseUDPSpec(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.lport, spec.Spec.LPort)
			assert.Equal(t, tt.rhost, spec.Spec.RHost)
			assert.Equal(t, tt.rport, spec.Spec.RPort)
			assert.Equal(t, tt.auto, spec.Auto)
		})
	}
}

func TestParseUDPSpec_Invalid(t *testing.T) {
	tests := []struct {
		input       string
		errContains string
	}{
		{"", "cannot be empty"},
		{"10001", "expected LPORT:RHOST:RPORT"},
		{"10001:127.0.0.1", "expected LPORT:RHOST:RPORT"},
		{"10001::20001", "remote host cannot be empty"},
		{"0:127.0.0.1:20001", "invalid local port"},
		{"70000:127.0.0.1:20001", "invalid local port"},
		{"10001:127.0.0.1:0", "invalid remote port"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := cli.ParseUDPSpec(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestParsePortRange(t *testing.T) {
	r, err := cli.ParsePortRange("10000-10010")
	require.NoError(t, err)
	assert.Equal(t, cli.PortRange{Start: 10000, End: 10010}, r)
	assert.Equal(t, "10000-10010", r.String())
	assert.False(t, r.IsZero())
	assert.True(t, cli.PortRange{}.IsZero())

	for _, bad := range []string{"", "10000", "10010-10000", "0-10", "a-b"} {
		_, err := cli.ParsePortRange(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
