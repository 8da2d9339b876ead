package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/spf13/cobra"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/deploy"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/publish"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/template"
)

func newDeployCommand(a *app) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Upload the canary code and create or update the stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			def, body, err := a.synth(template.FormatJSON)
			if err != nil {
				return err
			}

			account, region, err := a.target(ctx)
			if err != nil {
				return err
			}

			bucket := a.cfg.AssetBucketName(account, region)
			if bucket == "" {
				return fmt.Errorf("cannot determine asset bucket: set ASSET_BUCKET or the target account and region")
			}

			d, err := a.deployer(ctx)
			if err != nil {
				return err
			}

			plan := &deploy.Plan{
				StackName:   a.cfg.StackName,
				Template:    body,
				Asset:       def.Canary.Code,
				AssetBucket: bucket,
			}

			a.logger.InfoContext(ctx, "deploying stack",
				slog.String("stackName", plan.StackName),
				slog.String("account", account),
				slog.String("region", region),
				slog.String("templateHash", plan.TemplateHash()))

			res, err := d.Apply(ctx, plan, !noWait)
			if err != nil {
				return err
			}

			if err := a.publishEvent(ctx, publish.ActionDeploy, res, plan.TemplateHash()); err != nil {
				return err
			}

			printResult(cmd.OutOrStdout(), a.cfg.StackName, res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the operation has started")

	return cmd
}

// publishEvent emits a deployment event when an event bus is configured.
func (a *app) publishEvent(ctx context.Context, action publish.Action, res *deploy.Result, templateHash string) error {
	if a.cfg.EventBusName == "" {
		return nil
	}

	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return err
	}

	publisher := publish.NewPublisher(eventbridge.NewFromConfig(awsCfg), a.cfg.EventBusName)
	if err := publisher.Publish(ctx, &publish.DeploymentEvent{
		StackName:    a.cfg.StackName,
		StackID:      res.StackID,
		Action:       action,
		Status:       res.Status,
		TemplateHash: templateHash,
		Timestamp:    time.Now().UTC(),
	}); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "deployment event published",
		slog.String("eventBus", a.cfg.EventBusName),
		slog.String("action", string(action)))

	return nil
}

func printResult(w io.Writer, stackName string, res *deploy.Result) {
	status := res.Status
	if res.Unchanged {
		status += " (no changes)"
	}
	fmt.Fprintf(w, "Stack %s: %s\n", stackName, status)

	keys := make([]string, 0, len(res.Outputs))
	for k := range res.Outputs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, res.Outputs[k])
	}
}
