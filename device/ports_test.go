package device_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/hypervisor/hypervisortest"
	"github.com/frobware/go-hvman/nio"
)

func testNIO(name string) nio.NIO {
	return nio.RestoreUDP(hypervisortest.New(), name, nio.UDPSpec{}, nio.FilterState{})
}

func TestPorts_BindTwiceIsOccupied(t *testing.T) {
	p := device.NewPorts("SW1")
	require.NoError(t, p.Bind(0, testNIO("a")))

	err := p.Bind(0, testNIO("b"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, hvman.ErrPortOccupied))

	var pe *hvman.PortError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "SW1", pe.Device)
	assert.Equal(t, hvman.PortNumber(0), pe.Port)

	got, err := p.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name(), "failed bind must not replace the NIO")
}

// TestPorts_UnbindNeverBound verifies that:
//
//	Given an empty port set,
//	When port 3 is unbound,
//	Then ErrPortNotAllocated is returned,
//	And after bind then unbind of port 3, Has reports false.
func TestPorts_UnbindNeverBound(t *testing.T) {
	p := device.NewPorts("SW1")

	_, err := p.Unbind(3)
	assert.True(t, errors.Is(err, hvman.ErrPortNotAllocated))

	require.NoError(t, p.Bind(3, testNIO("a")))
	assert.True(t, p.Has(3))

	n, err := p.Unbind(3)
	require.NoError(t, err)
	assert.Equal(t, "a", n.Name())
	assert.False(t, p.Has(3))
	assert.Equal(t, 0, p.Len())
}

func TestPorts_SortedAndBindings(t *testing.T) {
	p := device.NewPorts("SW1")
	for _, port := range []hvman.PortNumber{7, 0, 3} {
		require.NoError(t, p.Bind(port, testNIO("n")))
	}
	assert.Equal(t, []hvman.PortNumber{0, 3, 7}, p.Sorted())

	b := p.Bindings()
	require.Len(t, b, 3)
	assert.Equal(t, hvman.PortNumber(7), b[2].Port)
}

func TestPorts_GetAndOwner(t *testing.T) {
	p := device.NewPorts("old")
	p.SetOwner("new")

	_, err := p.Get(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "new: port 1")
}

func TestKind(t *testing.T) {
	k, err := device.ParseKind("frsw")
	require.NoError(t, err)
	assert.Equal(t, device.KindSwitch, k)
	assert.Equal(t, "VirtualBox VM", device.KindVM.Label())

	_, err = device.ParseKind("router")
	assert.Error(t, err)
}
