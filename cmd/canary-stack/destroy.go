package main

import (
	"github.com/spf13/cobra"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/publish"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/template"
)

func newDestroyCommand(a *app) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Empty the artifact bucket and delete the stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := a.deployer(ctx)
			if err != nil {
				return err
			}

			res, err := d.Destroy(ctx, a.cfg.StackName, template.AutoDeleteTag, !noWait)
			if err != nil {
				return err
			}

			if err := a.publishEvent(ctx, publish.ActionDestroy, res, ""); err != nil {
				return err
			}

			printResult(cmd.OutOrStdout(), a.cfg.StackName, res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once deletion has started")

	return cmd
}
