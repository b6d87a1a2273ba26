package cli

import (
	"context"
	"strings"

	"github.com/frobware/go-hvman/compute"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/lock"
	"github.com/frobware/go-hvman/manager"
)

// ResetCmd deletes every device of one or both modules and clears
// their ID pools and UDP reservations.
type ResetCmd struct {
	Module string `arg:"" name:"module" optional:"" enum:"switch,vm,all" default:"all" help:"Module to reset (switch, vm or all)."`
	DryRun bool   `name:"dry-run" help:"Show what would be deleted without making changes."`
}

// Run executes the reset command.
func (c *ResetCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, scope lock.WriterScope) error {
		victims, err := c.victims(ctx, rt.Manager)
		if err != nil {
			return err
		}
		if len(victims) == 0 {
			return cli.PrintOut("Nothing to reset\n")
		}

		var b strings.Builder
		verb := "Deleted"
		if c.DryRun {
			verb = "Would delete"
		}
		for _, s := range victims {
			b.WriteString(verb + " " + s.Record.Kind.Label() + " " + s.Record.Name + "\n")
		}
		if c.DryRun {
			return cli.PrintOut(b.String())
		}

		switch c.Module {
		case "switch":
			err = rt.Manager.Switches().Reset(ctx, scope)
		case "vm":
			err = rt.Manager.VMs().Reset(ctx, scope)
		default:
			err = rt.Manager.Reset(ctx, scope)
		}
		if err != nil {
			return err
		}
		return cli.PrintOut(b.String())
	})
}

func (c *ResetCmd) victims(ctx context.Context, m *manager.Manager) ([]compute.DeviceState, error) {
	var kinds []device.Kind
	switch c.Module {
	case "switch":
		kinds = []device.Kind{device.KindSwitch}
	case "vm":
		kinds = []device.Kind{device.KindVM}
	default:
		kinds = []device.Kind{device.KindSwitch, device.KindVM}
	}
	var out []compute.DeviceState
	for _, k := range kinds {
		s, err := states(ctx, m, k)
		if err != nil {
			return nil, err
		}
		out = append(out, s...)
	}
	return out, nil
}
