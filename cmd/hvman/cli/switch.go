package cli

import (
	"context"

	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/lock"
)

// SwitchCmd groups the Frame-Relay switch commands.
type SwitchCmd struct {
	Create  SwitchCreateCmd  `cmd:"" help:"Create a switch."`
	Rename  SwitchRenameCmd  `cmd:"" help:"Rename a switch."`
	Delete  SwitchDeleteCmd  `cmd:"" help:"Delete a switch and its NIOs."`
	List    SwitchListCmd    `cmd:"" help:"List switches."`
	Get     SwitchGetCmd     `cmd:"" help:"Show a switch with its NIOs and circuits."`
	NIO     SwitchNIOCmd     `cmd:"" name:"nio" help:"Bind and release switch ports."`
	VC      SwitchVCCmd      `cmd:"" name:"vc" help:"Map and unmap virtual circuits."`
	Capture SwitchCaptureCmd `cmd:"" help:"Packet capture on switch ports."`
}

// SwitchCreateCmd creates a switch.
type SwitchCreateCmd struct {
	Name string `arg:"" name:"name" help:"Switch name."`
	OutputFlags
}

// Run executes the switch create command.
func (c *SwitchCreateCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		sw, err := rt.Manager.Switches().Create(ctx, c.Name)
		if err != nil {
			return err
		}
		s, err := stateOf(ctx, rt.Manager, device.KindSwitch, sw.ID())
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

// SwitchRenameCmd renames a switch.
type SwitchRenameCmd struct{ RenameArgs }

// Run executes the switch rename command.
func (c *SwitchRenameCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindSwitch)
}

// SwitchDeleteCmd deletes a switch.
type SwitchDeleteCmd struct{ DeleteArgs }

// Run executes the switch delete command.
func (c *SwitchDeleteCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindSwitch)
}

// SwitchListCmd lists switches.
type SwitchListCmd struct{ ListArgs }

// Run executes the switch list command.
func (c *SwitchListCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindSwitch)
}

// SwitchGetCmd shows one switch.
type SwitchGetCmd struct{ GetArgs }

// Run executes the switch get command.
func (c *SwitchGetCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindSwitch)
}

// SwitchNIOCmd groups the switch port commands.
type SwitchNIOCmd struct {
	Add    SwitchNIOAddCmd    `cmd:"" help:"Create a UDP NIO and bind it to a port."`
	Remove SwitchNIORemoveCmd `cmd:"" help:"Release a port and delete its NIO."`
}

// SwitchNIOAddCmd binds a UDP NIO to a switch port.
type SwitchNIOAddCmd struct{ NIOAddArgs }

// Run executes the switch nio add command.
func (c *SwitchNIOAddCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindSwitch)
}

// SwitchNIORemoveCmd releases a switch port.
type SwitchNIORemoveCmd struct{ NIORemoveArgs }

// Run executes the switch nio remove command.
func (c *SwitchNIORemoveCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindSwitch)
}

// SwitchVCCmd groups the virtual circuit commands.
type SwitchVCCmd struct {
	Map   SwitchVCMapCmd   `cmd:"" help:"Map IN to OUT. An existing mapping of IN is replaced."`
	Unmap SwitchVCUnmapCmd `cmd:"" help:"Unmap the circuit from IN to OUT."`
}

// CircuitArgs name a circuit by its two endpoints.
type CircuitArgs struct {
	DeviceTarget
	In  Endpoint `arg:"" name:"in" help:"Ingress PORT:DLCI."`
	Out Endpoint `arg:"" name:"out" help:"Egress PORT:DLCI."`
}

// SwitchVCMapCmd maps a virtual circuit.
type SwitchVCMapCmd struct{ CircuitArgs }

// Run executes the switch vc map command.
func (c *SwitchVCMapCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		if err := rt.Manager.Switches().MapVC(ctx, c.ID.Value, c.In.Port, c.In.DLCI, c.Out.Port, c.Out.DLCI); err != nil {
			return err
		}
		return cli.PrintOutf("Mapped %d:%d -> %d:%d on switch %d\n", c.In.Port, c.In.DLCI, c.Out.Port, c.Out.DLCI, c.ID.Value)
	})
}

// SwitchVCUnmapCmd unmaps a virtual circuit.
type SwitchVCUnmapCmd struct{ CircuitArgs }

// Run executes the switch vc unmap command.
func (c *SwitchVCUnmapCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		if err := rt.Manager.Switches().UnmapVC(ctx, c.ID.Value, c.In.Port, c.In.DLCI, c.Out.Port, c.Out.DLCI); err != nil {
			return err
		}
		return cli.PrintOutf("Unmapped %d:%d -> %d:%d on switch %d\n", c.In.Port, c.In.DLCI, c.Out.Port, c.Out.DLCI, c.ID.Value)
	})
}

// SwitchCaptureCmd groups the switch capture commands.
type SwitchCaptureCmd struct {
	Start SwitchCaptureStartCmd `cmd:"" help:"Start capturing a port to a PCAP file."`
	Stop  SwitchCaptureStopCmd  `cmd:"" help:"Stop capturing a port."`
}

// SwitchCaptureStartCmd starts a capture on a switch port.
type SwitchCaptureStartCmd struct{ CaptureStartArgs }

// Run executes the switch capture start command.
func (c *SwitchCaptureStartCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindSwitch)
}

// SwitchCaptureStopCmd stops a capture on a switch port.
type SwitchCaptureStopCmd struct{ CaptureStopArgs }

// Run executes the switch capture stop command.
func (c *SwitchCaptureStopCmd) Run(cli *CLI, ctx context.Context) error {
	return c.run(ctx, cli, device.KindSwitch)
}
