package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "canary-stack",
		Short:         "Synthesize, deploy and inspect the website canary monitoring stack",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newSynthCommand(a),
		newDeployCommand(a),
		newDestroyCommand(a),
		newStatusCommand(a),
		newNotifyTestCommand(a),
	)

	return cmd
}
