package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/compute"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/lock"
	"github.com/frobware/go-hvman/manager"
	"github.com/frobware/go-hvman/nio"
)

// module is the part of a manager module shared by switches and VMs.
type module interface {
	Rename(ctx context.Context, id hvman.DeviceID, name string) error
	Delete(ctx context.Context, id hvman.DeviceID) error
	AllocateUDPPort(ctx context.Context, id hvman.DeviceID) (int, error)
	AddNIO(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber, spec nio.UDPSpec) (*nio.UDP, error)
	RemoveNIO(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber) error
	StartCapture(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber, path, linkType string) (string, error)
	StopCapture(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber) error
	List(ctx context.Context) ([]string, error)
}

func moduleFor(m *manager.Manager, kind device.Kind) module {
	if kind == device.KindVM {
		return m.VMs()
	}
	return m.Switches()
}

// states reads the persisted devices of kind.
func states(ctx context.Context, m *manager.Manager, kind device.Kind) ([]compute.DeviceState, error) {
	topo, err := m.Export(ctx)
	if err != nil {
		return nil, err
	}
	if kind == device.KindVM {
		return topo.VMs, nil
	}
	return topo.Switches, nil
}

func stateOf(ctx context.Context, m *manager.Manager, kind device.Kind, id hvman.DeviceID) (compute.DeviceState, error) {
	all, err := states(ctx, m, kind)
	if err != nil {
		return compute.DeviceState{}, err
	}
	for _, s := range all {
		if s.Record.ID == id {
			return s, nil
		}
	}
	return compute.DeviceState{}, hvman.DeviceNotFoundError{Kind: kind.Label(), ID: id}
}

// DeviceTarget names a device by ID.
type DeviceTarget struct {
	ID DeviceID `arg:"" name:"id" help:"Device ID (supports hex with 0x prefix)."`
}

// RenameArgs are the arguments of rename.
type RenameArgs struct {
	DeviceTarget
	Name string `arg:"" name:"name" help:"New name."`
}

func (a *RenameArgs) run(ctx context.Context, cli *CLI, kind device.Kind) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		if err := moduleFor(rt.Manager, kind).Rename(ctx, a.ID.Value, a.Name); err != nil {
			return err
		}
		return cli.PrintOutf("Renamed %s %d to %s\n", kind.Label(), a.ID.Value, a.Name)
	})
}

// DeleteArgs are the arguments of delete.
type DeleteArgs struct {
	DeviceTarget
}

func (a *DeleteArgs) run(ctx context.Context, cli *CLI, kind device.Kind) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		if err := moduleFor(rt.Manager, kind).Delete(ctx, a.ID.Value); err != nil {
			return err
		}
		return cli.PrintOutf("Deleted %s %d\n", kind.Label(), a.ID.Value)
	})
}

// ListArgs are the arguments of list.
type ListArgs struct {
	OutputFlags
	Remote bool `name:"remote" help:"List what the hypervisor reports instead of the managed devices."`
}

func (a *ListArgs) run(ctx context.Context, cli *CLI, kind device.Kind) error {
	return cli.view(ctx, func(ctx context.Context, rt *CLIRuntime) error {
		if a.Remote {
			names, err := moduleFor(rt.Manager, kind).List(ctx)
			if err != nil {
				return err
			}
			if names == nil {
				names = []string{}
			}
			out, err := Render(names, &a.OutputFlags, func() string { return formatNames(names) })
			if err != nil {
				return err
			}
			return cli.PrintOut(out)
		}

		all, err := states(ctx, rt.Manager, kind)
		if err != nil {
			return err
		}
		if all == nil {
			all = []compute.DeviceState{}
		}
		out, err := Render(all, &a.OutputFlags, func() string { return formatDeviceList(all, kind) })
		if err != nil {
			return err
		}
		return cli.PrintOut(out)
	})
}

// GetArgs are the arguments of get.
type GetArgs struct {
	DeviceTarget
	OutputFlags
}

func (a *GetArgs) run(ctx context.Context, cli *CLI, kind device.Kind) error {
	return cli.view(ctx, func(ctx context.Context, rt *CLIRuntime) error {
		s, err := stateOf(ctx, rt.Manager, kind, a.ID.Value)
		if err != nil {
			return err
		}
		out, err := Render(s, &a.OutputFlags, func() string { return formatDeviceState(s) })
		if err != nil {
			return err
		}
		return cli.PrintOut(out)
	})
}

// NIOAddArgs are the arguments of nio add.
type NIOAddArgs struct {
	DeviceTarget
	Port hvman.PortNumber `arg:"" name:"port" help:"Device port to bind."`
	UDP  UDPSpec          `arg:"" name:"udp" help:"Tunnel as LPORT:RHOST:RPORT; LPORT may be 'auto'."`
	OutputFlags
}

// nioAdded is the result of nio add.
type nioAdded struct {
	Name  string           `json:"name" yaml:"name"`
	Port  hvman.PortNumber `json:"port" yaml:"port"`
	LPort int              `json:"lport" yaml:"lport"`
	RHost string           `json:"rhost" yaml:"rhost"`
	RPort int              `json:"rport" yaml:"rport"`
}

func (a *NIOAddArgs) run(ctx context.Context, cli *CLI, kind device.Kind) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		spec := a.UDP.Spec
		if a.UDP.Auto {
			spec.LPort = 0
		}
		u, err := moduleFor(rt.Manager, kind).AddNIO(ctx, a.ID.Value, a.Port, spec)
		if err != nil {
			return err
		}
		res := nioAdded{
			Name:  u.Name(),
			Port:  a.Port,
			LPort: u.Spec().LPort,
			RHost: u.Spec().RHost,
			RPort: u.Spec().RPort,
		}
		out, err := Render(res, &a.OutputFlags, func() string {
			return fmt.Sprintf("Bound %s to port %d (%s)\n", res.Name, res.Port, u.Spec())
		})
		if err != nil {
			return err
		}
		return cli.PrintOut(out)
	})
}

// NIORemoveArgs are the arguments of nio remove.
type NIORemoveArgs struct {
	DeviceTarget
	Port hvman.PortNumber `arg:"" name:"port" help:"Device port to release."`
}

func (a *NIORemoveArgs) run(ctx context.Context, cli *CLI, kind device.Kind) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		if err := moduleFor(rt.Manager, kind).RemoveNIO(ctx, a.ID.Value, a.Port); err != nil {
			return err
		}
		return cli.PrintOutf("Removed NIO from port %d of %s %d\n", a.Port, kind.Label(), a.ID.Value)
	})
}

// CaptureStartArgs are the arguments of capture start.
type CaptureStartArgs struct {
	DeviceTarget
	Port     hvman.PortNumber `arg:"" name:"port" help:"Device port to capture on."`
	Path     string           `name:"path" short:"p" help:"Capture file; relative paths are under the device working directory."`
	LinkType string           `name:"link-type" help:"PCAP link type (e.g., DLT_FRELAY, DLT_EN10MB)."`
}

func (a *CaptureStartArgs) run(ctx context.Context, cli *CLI, kind device.Kind) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		path, err := moduleFor(rt.Manager, kind).StartCapture(ctx, a.ID.Value, a.Port, a.Path, a.LinkType)
		if err != nil {
			return err
		}
		return cli.PrintOutf("Capturing port %d of %s %d to %s\n", a.Port, kind.Label(), a.ID.Value, path)
	})
}

// CaptureStopArgs are the arguments of capture stop.
type CaptureStopArgs struct {
	DeviceTarget
	Port hvman.PortNumber `arg:"" name:"port" help:"Device port to stop capturing on."`
}

func (a *CaptureStopArgs) run(ctx context.Context, cli *CLI, kind device.Kind) error {
	return cli.mutate(ctx, func(ctx context.Context, rt *CLIRuntime, _ lock.WriterScope) error {
		if err := moduleFor(rt.Manager, kind).StopCapture(ctx, a.ID.Value, a.Port); err != nil {
			return err
		}
		return cli.PrintOutf("Stopped capture on port %d of %s %d\n", a.Port, kind.Label(), a.ID.Value)
	})
}
