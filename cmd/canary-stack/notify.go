package main

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/synthetics"
	"github.com/spf13/cobra"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/alarm"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/notify"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/template"
)

func newNotifyTestCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify-test",
		Short: "Publish a test alarm notification to the Slack relay topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := a.deployer(ctx)
			if err != nil {
				return err
			}

			outputs, err := a.outputs(ctx, d, template.OutputAlarmName, template.OutputTopicArn)
			if err != nil {
				return err
			}

			awsCfg, err := a.awsConfig(ctx)
			if err != nil {
				return err
			}

			// The deployed alarm is the source of truth for the payload.
			inspector := alarm.NewInspector(cloudwatch.NewFromConfig(awsCfg), synthetics.NewFromConfig(awsCfg), a.logger)
			deployed, err := inspector.Alarm(ctx, outputs[template.OutputAlarmName])
			if err != nil {
				return err
			}

			sender := notify.NewSNS(sns.NewFromConfig(awsCfg), a.logger)
			id, err := sender.SendTest(ctx, outputs[template.OutputTopicArn], deployed)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Test notification %s published to %s\n", id, outputs[template.OutputTopicArn])
			return nil
		},
	}

	return cmd
}
