package cli

import (
	"context"
	"fmt"
)

// CheckCmd compares memory, the store and the hypervisor.
type CheckCmd struct {
	OutputFlags
	Strict bool `name:"strict" help:"Exit non-zero when any error is found."`
}

// Run executes the check command.
func (c *CheckCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.view(ctx, func(ctx context.Context, rt *CLIRuntime) error {
		report, err := rt.Manager.Check(ctx)
		if err != nil {
			return fmt.Errorf("check failed: %w", err)
		}
		out, err := Render(report, &c.OutputFlags, func() string { return formatCheckReport(report) })
		if err != nil {
			return err
		}
		if err := cli.PrintOut(out); err != nil {
			return err
		}
		if c.Strict && report.HasErrors() {
			return fmt.Errorf("check found errors")
		}
		return nil
	})
}
