package cli

import (
	"context"

	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/lock"
)

// VMCmd groups the VirtualBox VM commands.
type VMCmd struct {
	Create  VMCreateCmd  `cmd:"" help:"Create a VM."`
	Rename  VMRenameCmd  `cmd:"" help:"Rename a VM."`
	Delete  VMDeleteCmd  `cmd:"" help:"Delete a VM and its NIOs."`
	List    VMListCmd    `cmd:"" help:"List VMs."`
	Get     VMGetCmd     `cmd:"" help:"Show a VM with its NIOs."`
	NIO     VMNIOCmd     `cmd:"" name:"nio" help:"Bind and release VM adapters."`
	Capture VMCaptureCmd `cmd:"" help:"Packet capture on VM adapters."`
}

// VMCreateCmd creates a VM.
type VMCreateCmd struct {
	Name    string `arg:"" name:"name" help:"VM name."`
	Console int    `name:"console" help:"Console TCP port. Zero picks one from the console range."`
	OutputFlags
}

// Run executes the vm create command.
func (c *VMCreateCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		vm, err := rt.Manager.VMs().Create(ctx, c.Name, c.Console)
		if err != nil {
			return err
		}
		s, err := stateOf(ctx, rt.Manager, device.KindVM, vm.ID())
		if err != nil {
			return err
		}
		out, err := Render(s.Record, &c.OutputFlags, func() string {
			return formatCreated(s.Record)
		})
		if err != nil {
			return err
		}
		return cli.PrintOut(out)
	})
}

// VMRenameCmd renames a VM.
type VMRenameCmd struct{ RenameArgs }

// Run executes the vm rename command.
func (c *VMRenameCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindVM)
}

// VMDeleteCmd deletes a VM.
type VMDeleteCmd struct{ DeleteArgs }

// Run executes the vm delete command.
func (c *VMDeleteCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindVM)
}

// VMListCmd lists VMs.
type VMListCmd struct{ ListArgs }

// Run executes the vm list command.
func (c *VMListCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindVM)
}

// VMGetCmd shows one VM.
type VMGetCmd struct{ GetArgs }

// Run executes the vm get command.
func (c *VMGetCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindVM)
}

// VMNIOCmd groups the VM adapter commands.
type VMNIOCmd struct {
	Add    VMNIOAddCmd    `cmd:"" help:"Create a UDP NIO and bind it to an adapter."`
	Remove VMNIORemoveCmd `cmd:"" help:"Release an adapter and delete its NIO."`
}

// VMNIOAddCmd binds a UDP NIO to a VM adapter.
type VMNIOAddCmd struct{ NIOAddArgs }

// Run executes the vm nio add command.
func (c *VMNIOAddCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindVM)
}

// VMNIORemoveCmd releases a VM adapter.
type VMNIORemoveCmd struct{ NIORemoveArgs }

// Run executes the vm nio remove command.
func (c *VMNIORemoveCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindVM)
}

// VMCaptureCmd groups the VM capture commands.
type VMCaptureCmd struct {
	Start VMCaptureStartCmd `cmd:"" help:"Start capturing an adapter to a PCAP file."`
	Stop  VMCaptureStopCmd  `cmd:"" help:"Stop capturing an adapter."`
}

// VMCaptureStartCmd starts a capture on a VM adapter.
type VMCaptureStartCmd struct{ CaptureStartArgs }

// Run executes the vm capture start command.
func (c *VMCaptureStartCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindVM)
}

// VMCaptureStopCmd stops a capture on a VM adapter.
type VMCaptureStopCmd struct{ CaptureStopArgs }

// Run executes the vm capture stop command.
func (c *VMCaptureStopCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindVM)
}
