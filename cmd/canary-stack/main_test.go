package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/config"
	"github.com/ab0utbla-k/canary-monitoring-stack/internal/deploy"
)

func newTestApp(t *testing.T) *app {
	t.Helper()

	dir := t.TempDir()
	p := filepath.Join(dir, "nodejs", "node_modules", "index.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("exports.handler = async () => {};"), 0o644))

	return &app{
		cfg: &config.Config{
			StackName:        config.DefaultStackName,
			SlackWorkspaceID: config.DefaultSlackWorkspaceID,
			SlackChannelID:   config.DefaultSlackChannelID,
			CanaryAssetDir:   dir,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCommand(a)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestSynth_JSON(t *testing.T) {
	out, err := run(t, newTestApp(t), "synth")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "2010-09-09", doc["AWSTemplateFormatVersion"])
	assert.Len(t, doc["Resources"], 7)
}

func TestSynth_Deterministic(t *testing.T) {
	a := newTestApp(t)

	first, err := run(t, a, "synth")
	require.NoError(t, err)
	second, err := run(t, a, "synth")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSynth_YAMLToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.yaml")

	out, err := run(t, newTestApp(t), "synth", "--format", "yaml", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(body, &doc))
	assert.Contains(t, doc, "Outputs")
}

func TestSynth_InvalidFormat(t *testing.T) {
	_, err := run(t, newTestApp(t), "synth", "--format", "toml")
	assert.Error(t, err)
}

func TestSynth_MissingAsset(t *testing.T) {
	a := newTestApp(t)
	a.cfg.CanaryAssetDir = filepath.Join(t.TempDir(), "missing")

	_, err := run(t, a, "synth")
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	printResult(&out, "SimpleCloudwatchSyntheticsStack", &deploy.Result{
		Status:    "UPDATE_COMPLETE",
		Unchanged: true,
		Outputs:   map[string]string{"TopicArn": "arn:topic", "AlarmName": "alarm"},
	})

	assert.Equal(t, "Stack SimpleCloudwatchSyntheticsStack: UPDATE_COMPLETE (no changes)\n"+
		"  AlarmName = alarm\n"+
		"  TopicArn = arn:topic\n", out.String())
}
