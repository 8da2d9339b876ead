package main

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/synthetics"
	"github.com/spf13/cobra"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/alarm"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/template"
)

func newStatusCommand(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report the alarm state, recent datapoints and canary runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := a.deployer(ctx)
			if err != nil {
				return err
			}

			outputs, err := a.outputs(ctx, d, template.OutputAlarmName, template.OutputCanaryName)
			if err != nil {
				return err
			}

			awsCfg, err := a.awsConfig(ctx)
			if err != nil {
				return err
			}

			inspector := alarm.NewInspector(cloudwatch.NewFromConfig(awsCfg), synthetics.NewFromConfig(awsCfg), a.logger)
			report, err := inspector.Inspect(ctx, outputs[template.OutputAlarmName], outputs[template.OutputCanaryName])
			if err != nil {
				return err
			}

			if jsonOut {
				raw, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("cannot marshal report: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return nil
			}

			msg, err := alarm.FormatText(report)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON output")

	return cmd
}
