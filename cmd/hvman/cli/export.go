package cli

import (
	"context"
)

// ExportCmd dumps the persisted topology, YAML by default.
type ExportCmd struct {
	ExportFlags
}

// Run executes the export command.
func (c *ExportCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.view(ctx, func(ctx context.Context, rt *CLIRuntime) error {
		topo, err := rt.Manager.Export(ctx)
		if err != nil {
			return err
		}
		var out string
		if flags := c.Flags(); flags.Format() == OutputFormatTable {
			out, err = formatYAML(topo)
		} else {
			out, err = Render(topo, flags, nil)
		}
		if err != nil {
			return err
		}
		return cli.PrintOut(out)
	})
}
