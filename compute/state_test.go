package compute_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/action"
	"github.com/frobware/go-hvman/compute"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/nio"
)

func TestAssemble_GroupsByDevice(t *testing.T) {
	devices := []device.Record{
		{Kind: device.KindSwitch, ID: 2, Name: "SW2"},
		{Kind: device.KindSwitch, ID: 1, Name: "SW1"},
	}
	nios := []device.NIORecord{
		{Kind: device.KindSwitch, DeviceID: 1, Port: 0, Name: "a"},
		{Kind: device.KindSwitch, DeviceID: 1, Port: 1, Name: "b"},
		{Kind: device.KindSwitch, DeviceID: 2, Port: 0, Name: "c"},
	}
	circuits := []device.CircuitRecord{
		{DeviceID: 1, Circuit: hvman.NewCircuit(0, 16, 1, 17)},
	}
	reservations := []device.Reservation{
		{Kind: device.KindSwitch, Port: 10002, DeviceID: 1},
		{Kind: device.KindSwitch, Port: 10001, DeviceID: 1},
	}

	states, strays := compute.Assemble(devices, nios, circuits, reservations)
	assert.Empty(t, strays)
	require.Len(t, states, 2)

	assert.Equal(t, "SW1", states[0].Record.Name, "ordered by id")
	assert.Len(t, states[0].NIOs, 2)
	assert.Equal(t, []hvman.Circuit{hvman.NewCircuit(0, 16, 1, 17)}, states[0].Circuits)
	assert.Equal(t, []int{10001, 10002}, states[0].Reservations)

	assert.Equal(t, "SW2", states[1].Record.Name)
	assert.Len(t, states[1].NIOs, 1)
	assert.Empty(t, states[1].Circuits)
}

func TestAssemble_ReportsStrays(t *testing.T) {
	devices := []device.Record{{Kind: device.KindVM, ID: 1, Name: "vm"}}
	nios := []device.NIORecord{{Kind: device.KindVM, DeviceID: 9, Name: "orphan"}}
	circuits := []device.CircuitRecord{{DeviceID: 1, Circuit: hvman.NewCircuit(0, 1, 2, 3)}}
	reservations := []device.Reservation{{Kind: device.KindVM, Port: 10001, DeviceID: 9}}

	states, strays := compute.Assemble(devices, nios, circuits, reservations)
	require.Len(t, states, 1)
	assert.Empty(t, states[0].NIOs)
	assert.Empty(t, states[0].Circuits, "a VM cannot own circuits")
	assert.Equal(t, []string{"nio orphan", "circuit 0:1->2:3", "udp reservation 10001"}, strays)
}

func TestComputeDrift(t *testing.T) {
	local := []device.Record{
		{Kind: device.KindSwitch, ID: 1, Name: "SW 1"},
		{Kind: device.KindSwitch, ID: 2, Name: "SW2"},
	}
	remote := []string{"SW 1", "stranger"}

	d := compute.ComputeDrift(local, remote)
	require.Len(t, d.Missing, 1)
	assert.Equal(t, "SW2", d.Missing[0].Name)
	assert.Equal(t, []string{"stranger"}, d.Unmanaged)
	assert.False(t, d.Empty())

	assert.True(t, compute.ComputeDrift(nil, nil).Empty())
}

func TestPortsOutsideRange(t *testing.T) {
	assert.Equal(t, []int{9999, 20001}, compute.PortsOutsideRange([]int{9999, 10000, 15000, 20000, 20001}, 10000, 20000))
	assert.Empty(t, compute.PortsOutsideRange([]int{10000}, 10000, 10000))
}

func TestAddAndRemoveNIOActions_PairReservation(t *testing.T) {
	rec := device.NIORecord{
		Kind:     device.KindSwitch,
		DeviceID: 3,
		Port:     4,
		Name:     "nio_udp_x",
		Spec:     nio.UDPSpec{LPort: 10005, RHost: "127.0.0.1", RPort: 20005},
	}

	add := compute.AddNIOActions(rec)
	require.Len(t, add, 2)
	assert.Equal(t, action.SaveNIO{Record: rec}, add[0])
	assert.Equal(t, action.SaveReservation{Reservation: device.Reservation{Kind: device.KindSwitch, Port: 10005, DeviceID: 3}}, add[1])

	remove := compute.RemoveNIOActions(rec)
	require.Len(t, remove, 2)
	assert.Equal(t, action.DeleteNIO{Kind: device.KindSwitch, DeviceID: 3, Port: 4}, remove[0])
	assert.Equal(t, action.DeleteReservation{Kind: device.KindSwitch, Port: 10005}, remove[1])
}

func TestUnmapCircuitActions_KeyedByIngress(t *testing.T) {
	got := compute.UnmapCircuitActions(1, hvman.NewCircuit(0, 16, 1, 17))
	assert.Equal(t, []action.Action{action.DeleteCircuit{DeviceID: 1, In: hvman.Endpoint{Port: 0, DLCI: 16}}}, got)
}
