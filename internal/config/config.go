package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/env"
)

const (
	DefaultStackName        = "SimpleCloudwatchSyntheticsStack"
	DefaultCanaryAssetDir   = "canary-script"
	DefaultSlackWorkspaceID = "T03SX1NSF"
	DefaultSlackChannelID   = "C03KL7Q6A6L"
)

// Config is read once at startup and passed down explicitly.
type Config struct {
	StackName string

	// Account and Region may be empty; the platform's ambient defaults apply.
	Account string
	Region  string

	SlackWorkspaceID string
	SlackChannelID   string

	CanaryAssetDir string
	AssetBucket    string
	EventBusName   string

	TracingEnabled bool
	LogLevel       slog.Level
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Account, _ = env.First("CDK_DEFAULT_ACCOUNT")
	cfg.Region, _ = env.First("CDK_DEFAULT_REGION", "AWS_REGION")

	var err error

	if cfg.SlackWorkspaceID, err = env.Lookup("SLACK_WORKSPACE_ID", DefaultSlackWorkspaceID, env.ParseNonEmptyString); err != nil {
		return nil, err
	}

	if cfg.SlackChannelID, err = env.Lookup("SLACK_CHANNEL_ID", DefaultSlackChannelID, env.ParseNonEmptyString); err != nil {
		return nil, err
	}

	if cfg.StackName, err = env.Lookup("STACK_NAME", DefaultStackName, env.ParseNonEmptyString); err != nil {
		return nil, err
	}

	if cfg.CanaryAssetDir, err = env.Lookup("CANARY_ASSET_DIR", DefaultCanaryAssetDir, env.ParseNonEmptyString); err != nil {
		return nil, err
	}

	cfg.AssetBucket, _ = env.First("ASSET_BUCKET")
	cfg.EventBusName, _ = env.First("EVENT_BUS_NAME")

	if cfg.TracingEnabled, err = env.Lookup("TRACING_ENABLED", false, env.ParseBool); err != nil {
		return nil, err
	}

	if cfg.LogLevel, err = env.Lookup("LOG_LEVEL", slog.LevelInfo, parseLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// AssetBucketName returns the configured staging bucket, or the bootstrap-style
// default when account and region are known. It returns "" otherwise.
func (c *Config) AssetBucketName(account, region string) string {
	if c.AssetBucket != "" {
		return c.AssetBucket
	}
	if account == "" || region == "" {
		return ""
	}
	return fmt.Sprintf("cdk-hnb659fds-assets-%s-%s", account, region)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", s)
	}
}
