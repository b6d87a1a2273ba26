package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/lock"
)

// UDPCmd groups the local UDP port commands.
type UDPCmd struct {
	Allocate UDPAllocateCmd `cmd:"" help:"Reserve a local UDP port for a device."`
}

// UDPAllocateCmd reserves a local UDP port from a module's range.
type UDPAllocateCmd struct {
	Module string `arg:"" name:"module" enum:"switch,vm" help:"Module owning the device (switch or vm)."`
	DeviceTarget
	OutputFlags
}

// Run executes the udp allocate command.
func (c *UDPAllocateCmd) Run(cli *CLI, ctx context.Context) error {
	kind := moduleKind(c.Module)
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		port, err := moduleFor(rt.Manager, kind).AllocateUDPPort(ctx, c.ID.Value)
		if err != nil {
			return err
		}
		res := struct {
			Module string `json:"module" yaml:"module"`
			ID     uint32 `json:"id" yaml:"id"`
			LPort  int    `json:"lport" yaml:"lport"`
		}{string(kind), uint32(c.ID.Value), port}
		out, err := Render(res, &c.OutputFlags, func() string { return fmt.Sprintf("%d\n", port) })
		if err != nil {
			return err
		}
		return cli.PrintOut(out)
	})
}

// moduleKind maps the command-line module name to a device kind.
func moduleKind(name string) device.Kind {
	if name == "vm" {
		return device.KindVM
	}
	return device.KindSwitch
}
