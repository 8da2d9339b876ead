package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/synthetics"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/config"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/deploy"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/stack"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/template"
)

// app carries process-wide state shared by all subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	awsCfg *aws.Config
}

// awsConfig loads the SDK configuration on first use so synth works offline.
func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if a.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(a.cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("cannot load aws config: %w", err)
	}

	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	a.awsCfg = &awsCfg
	return awsCfg, nil
}

func (a *app) stackConfig() stack.Config {
	return stack.Config{
		StackName:        a.cfg.StackName,
		Account:          a.cfg.Account,
		Region:           a.cfg.Region,
		SlackWorkspaceID: a.cfg.SlackWorkspaceID,
		SlackChannelID:   a.cfg.SlackChannelID,
		CanaryAssetDir:   a.cfg.CanaryAssetDir,
		AssetBucket:      a.cfg.AssetBucket,
	}
}

// synth declares the stack and renders it in the given format.
func (a *app) synth(format template.Format) (*stack.Definition, []byte, error) {
	def, err := stack.Build(a.stackConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("cannot declare stack: %w", err)
	}

	tmpl, err := template.Render(def)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot render template: %w", err)
	}

	body, err := template.Marshal(tmpl, format)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot marshal template: %w", err)
	}

	return def, body, nil
}

func (a *app) deployer(ctx context.Context) (*deploy.Deployer, error) {
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}

	return deploy.NewDeployer(
		cloudformation.NewFromConfig(awsCfg),
		s3.NewFromConfig(awsCfg),
		synthetics.NewFromConfig(awsCfg),
		a.logger,
	), nil
}

// target resolves the account and region commands act in.
func (a *app) target(ctx context.Context) (account, region string, err error) {
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return "", "", err
	}

	account, err = deploy.ResolveAccount(ctx, sts.NewFromConfig(awsCfg), a.cfg.Account)
	if err != nil {
		return "", "", err
	}

	return account, awsCfg.Region, nil
}

// outputs reads stack outputs and ensures the named keys are present.
func (a *app) outputs(ctx context.Context, d *deploy.Deployer, keys ...string) (map[string]string, error) {
	outputs, err := d.Outputs(ctx, a.cfg.StackName)
	if err != nil {
		return nil, err
	}

	for _, k := range keys {
		if outputs[k] == "" {
			return nil, fmt.Errorf("stack %q has no %s output", a.cfg.StackName, k)
		}
	}

	return outputs, nil
}
