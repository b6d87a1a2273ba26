package cli

import (
	"context"
)

// SettingsCmd shows the module settings in effect after the config
// file and the global overrides are applied.
type SettingsCmd struct {
	OutputFlags
}

// Run executes the settings command.
func (c *SettingsCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.view(ctx, func(ctx context.Context, rt *CLIRuntime) error {
		s := rt.Manager.Settings()
		out, err := Render(s, &c.OutputFlags, func() string { return formatSettings(s) })
		if err != nil {
			return err
		}
		return cli.PrintOut(out)
	})
}
