package manager_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/device"
)

func TestVM_ConsolePortsFromRange(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	vms := f.Manager.VMs()

	var consoles []int
	for i := range 3 {
		vm, err := vms.Create(ctx, fmt.Sprintf("VM%d", i+1), 0)
		require.NoError(t, err)
		consoles = append(consoles, vm.Console())
	}
	assert.Equal(t, []int{3501, 3502, 3503}, consoles)

	_, err := vms.Create(ctx, "VM4", 0)
	require.Error(t, err)
	assert.True(t, hvman.IsCapacity(err))
	assert.Len(t, vms.All(), 3, "a failed create must not register a VM")

	require.NoError(t, vms.Delete(ctx, 2))
	vm, err := vms.Create(ctx, "VM5", 0)
	require.NoError(t, err)
	assert.Equal(t, 3502, vm.Console())
	assert.Equal(t, hvman.DeviceID(2), vm.ID())
}

func TestVM_ExplicitConsole(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	vms := f.Manager.VMs()

	vm, err := vms.Create(ctx, "VM1", 5000)
	require.NoError(t, err)
	assert.Equal(t, 5000, vm.Console())

	_, err = vms.Create(ctx, "VM2", 5000)
	require.Error(t, err, "console already reserved")
	assert.Len(t, vms.All(), 1)

	recs, err := f.Store.ListDevices(ctx, device.KindVM)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 5000, recs[0].Console)
}

func TestVM_CreateFailureReleasesConsole(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	vms := f.Manager.VMs()

	f.Hyper.FailOn("vbox create")
	_, err := vms.Create(ctx, "VM1", 0)
	require.ErrorIs(t, err, hvman.ErrChannel)
	assert.Empty(t, vms.Consoles())

	f.Hyper.ClearFailures()
	vm, err := vms.Create(ctx, "VM1", 0)
	require.NoError(t, err)
	assert.Equal(t, 3501, vm.Console())
	assert.Equal(t, hvman.DeviceID(1), vm.ID())
}

func TestVM_NIOBindingIsSent(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	vms := f.Manager.VMs()

	vm, err := vms.Create(ctx, "lab vm", 0)
	require.NoError(t, err)
	f.Hyper.Reset()

	u, err := vms.AddNIO(ctx, vm.ID(), 1, udpSpec(20000))
	require.NoError(t, err)
	require.NoError(t, vms.RemoveNIO(ctx, vm.ID(), 1))

	f.AssertCommands(
		fmt.Sprintf("nio create_udp %s 20000 127.0.0.1 30000", u.Name()),
		fmt.Sprintf(`vbox add_nio_binding "lab vm" 1 %s`, u.Name()),
		`vbox remove_nio_binding "lab vm" 1`,
		"nio delete "+u.Name(),
	)
	assert.Zero(t, vm.Ports().Len())
}

func TestVM_BindingFailureDeletesNIO(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	vms := f.Manager.VMs()

	vm, err := vms.Create(ctx, "VM1", 0)
	require.NoError(t, err)
	f.Hyper.Reset()

	f.Hyper.FailOn("vbox add_nio_binding")
	_, err = vms.AddNIO(ctx, vm.ID(), 0, udpSpec(20000))
	require.ErrorIs(t, err, hvman.ErrChannel)

	cmds := f.Hyper.Commands()
	require.Len(t, cmds, 3)
	assert.Contains(t, cmds[2], "nio delete")
	assert.False(t, vm.Ports().Has(0))
}

func TestVM_PersistFailureUnbindsAndDeletes(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	vms := f.Manager.VMs()

	vm, err := vms.Create(ctx, "VM1", 0)
	require.NoError(t, err)
	f.Hyper.Reset()

	f.FailCommits(true)
	u, err := vms.AddNIO(ctx, vm.ID(), 0, udpSpec(20000))
	require.ErrorIs(t, err, errInjected)
	assert.Nil(t, u)

	cmds := f.Hyper.Commands()
	require.Len(t, cmds, 4)
	assert.Equal(t, `vbox remove_nio_binding "VM1" 0`, cmds[2])
	assert.Contains(t, cmds[3], "nio delete")
}

func TestVM_DeleteReleasesConsole(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	vms := f.Manager.VMs()

	vm, err := vms.Create(ctx, "VM1", 0)
	require.NoError(t, err)
	require.NoError(t, vms.Delete(ctx, vm.ID()))
	assert.Empty(t, vms.Consoles())
	f.AssertStoredDevices(device.KindVM)
}

func TestVM_CaptureDefaultsToEthernet(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	vms := f.Manager.VMs()

	vm, err := vms.Create(ctx, "VM1", 0)
	require.NoError(t, err)
	_, err = vms.AddNIO(ctx, vm.ID(), 0, udpSpec(20000))
	require.NoError(t, err)

	path, err := vms.StartCapture(ctx, vm.ID(), 0, "", "")
	require.NoError(t, err)
	assert.Contains(t, f.Hyper.Last(), "2 en10mb "+path)
	require.NoError(t, vms.StopCapture(ctx, vm.ID(), 0))
}

func TestModules_AreIndependent(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	sw, err := f.Manager.Switches().Create(ctx, "dev")
	require.NoError(t, err)
	vm, err := f.Manager.VMs().Create(ctx, "dev", 0)
	require.NoError(t, err)
	assert.Equal(t, hvman.DeviceID(1), sw.ID())
	assert.Equal(t, hvman.DeviceID(1), vm.ID(), "each module has its own ID pool")

	swPort, err := f.Manager.Switches().AllocateUDPPort(ctx, sw.ID())
	require.NoError(t, err)
	vmPort, err := f.Manager.VMs().AllocateUDPPort(ctx, vm.ID())
	require.NoError(t, err)
	assert.Equal(t, swPort, vmPort, "each module has its own UDP reservations")

	require.NoError(t, f.Manager.Switches().Delete(ctx, sw.ID()))
	_, err = f.Manager.VMs().Get(vm.ID())
	require.NoError(t, err)
}
