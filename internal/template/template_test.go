package template

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/stack"
)

func buildDefinition(t *testing.T, mutate ...func(*stack.Config)) *stack.Definition {
	t.Helper()

	dir := t.TempDir()
	p := filepath.Join(dir, "nodejs", "node_modules", "index.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("exports.handler = async () => {};"), 0o644))

	cfg := stack.Config{
		StackName:        "SimpleCloudwatchSyntheticsStack",
		SlackWorkspaceID: "T03SX1NSF",
		SlackChannelID:   "C03KL7Q6A6L",
		CanaryAssetDir:   dir,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	def, err := stack.Build(cfg)
	require.NoError(t, err)
	return def
}

// decode round-trips the template through JSON so assertions see plan values.
func decode(t *testing.T, tmpl *Template) map[string]any {
	t.Helper()

	body, err := Marshal(tmpl, FormatJSON)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func resource(t *testing.T, doc map[string]any, id string) map[string]any {
	t.Helper()

	resources, ok := doc["Resources"].(map[string]any)
	require.True(t, ok)
	res, ok := resources[id].(map[string]any)
	require.True(t, ok, "missing resource %s", id)
	return res
}

func properties(t *testing.T, doc map[string]any, id string) map[string]any {
	t.Helper()

	props, ok := resource(t, doc, id)["Properties"].(map[string]any)
	require.True(t, ok)
	return props
}

func TestRender_ResourceTypes(t *testing.T) {
	def := buildDefinition(t)
	tmpl, err := Render(def)
	require.NoError(t, err)

	want := map[string]string{
		stack.LogicalIDArtifactStore: "AWS::S3::Bucket",
		stack.LogicalIDCanaryRole:    "AWS::IAM::Role",
		stack.LogicalIDCanary:        "AWS::Synthetics::Canary",
		stack.LogicalIDTopic:         "AWS::SNS::Topic",
		stack.LogicalIDChatRelayRole: "AWS::IAM::Role",
		stack.LogicalIDChatRelay:     "AWS::Chatbot::SlackChannelConfiguration",
		stack.LogicalIDAlarm:         "AWS::CloudWatch::Alarm",
	}

	require.Len(t, tmpl.Resources, len(want))
	for id, typ := range want {
		assert.Equal(t, typ, tmpl.Resources[id].Type, id)
	}
}

func TestRender_ArtifactStore(t *testing.T) {
	doc := decode(t, mustRender(t, buildDefinition(t)))

	res := resource(t, doc, stack.LogicalIDArtifactStore)
	assert.Equal(t, "Delete", res["DeletionPolicy"])
	assert.Equal(t, "Delete", res["UpdateReplacePolicy"])

	tags := properties(t, doc, stack.LogicalIDArtifactStore)["Tags"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, map[string]any{"Key": AutoDeleteTag, "Value": "true"}, tags[0])
}

func TestRender_ExecutionRole(t *testing.T) {
	doc := decode(t, mustRender(t, buildDefinition(t)))
	props := properties(t, doc, stack.LogicalIDCanaryRole)

	trust := props["AssumeRolePolicyDocument"].(map[string]any)["Statement"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"Service": "lambda.amazonaws.com"}, trust["Principal"])
	assert.Equal(t, "sts:AssumeRole", trust["Action"])

	policies := props["Policies"].([]any)
	require.Len(t, policies, 1)
	statements := policies[0].(map[string]any)["PolicyDocument"].(map[string]any)["Statement"].([]any)
	require.Len(t, statements, 1)

	stmt := statements[0].(map[string]any)
	assert.ElementsMatch(t, []any{
		"cloudwatch:PutMetricData",
		"logs:CreateLogGroup",
		"logs:CreateLogStream",
		"logs:PutLogEvents",
		"s3:PutObject",
		"secretsmanager:GetSecretValue",
	}, stmt["Action"])
	assert.Equal(t, []any{"*"}, stmt["Resource"])
}

func TestRender_Canary(t *testing.T) {
	def := buildDefinition(t)
	doc := decode(t, mustRender(t, def))
	props := properties(t, doc, stack.LogicalIDCanary)

	assert.Equal(t, def.Canary.Name, props["Name"])
	assert.Equal(t, "syn-nodejs-puppeteer-9.1", props["RuntimeVersion"])
	assert.Equal(t, map[string]any{"Expression": "rate(5 minutes)", "DurationInSeconds": "0"}, props["Schedule"])
	assert.Equal(t, map[string]any{"TimeoutInSeconds": float64(120)}, props["RunConfig"])
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"CanaryRole", "Arn"}}, props["ExecutionRoleArn"])
	assert.Equal(t, map[string]any{"Fn::Join": []any{"", []any{"s3://", map[string]any{"Ref": "CanaryLoggingBucket"}}}}, props["ArtifactS3Location"])
	assert.Equal(t, true, props["StartCanaryAfterCreation"])

	code := props["Code"].(map[string]any)
	assert.Equal(t, "index.handler", code["Handler"])
	assert.Equal(t, def.Canary.Code.Key(), code["S3Key"])
	assert.Equal(t, map[string]any{"Fn::Sub": DefaultAssetBucket}, code["S3Bucket"])
}

func TestRender_CanaryExplicitAssetBucket(t *testing.T) {
	def := buildDefinition(t, func(c *stack.Config) { c.AssetBucket = "my-assets" })
	doc := decode(t, mustRender(t, def))

	code := properties(t, doc, stack.LogicalIDCanary)["Code"].(map[string]any)
	assert.Equal(t, "my-assets", code["S3Bucket"])
}

func TestRender_Alarm(t *testing.T) {
	def := buildDefinition(t)
	doc := decode(t, mustRender(t, def))
	props := properties(t, doc, stack.LogicalIDAlarm)

	assert.Equal(t, "CloudWatchSynthetics", props["Namespace"])
	assert.Equal(t, "SuccessPercent", props["MetricName"])
	assert.Equal(t, float64(300), props["Period"])
	assert.Equal(t, "Average", props["Statistic"])
	assert.Equal(t, float64(100), props["Threshold"])
	assert.Equal(t, "LessThanThreshold", props["ComparisonOperator"])
	assert.Equal(t, float64(1), props["EvaluationPeriods"])
	assert.Equal(t, "breaching", props["TreatMissingData"])
	assert.Equal(t, "Canary verifyLogout step failed", props["AlarmDescription"])
	assert.Equal(t, []any{map[string]any{"Ref": "CanaryAlarmTopic"}}, props["AlarmActions"])
	assert.Equal(t, []any{
		map[string]any{"Name": "CanaryName", "Value": def.Canary.Name},
		map[string]any{"Name": "StepName", "Value": "clickSignOut"},
	}, props["Dimensions"])

	assert.Equal(t, []any{"WebsiteCanary"}, resource(t, doc, stack.LogicalIDAlarm)["DependsOn"])
}

func TestRender_ChatRelay(t *testing.T) {
	doc := decode(t, mustRender(t, buildDefinition(t)))
	props := properties(t, doc, stack.LogicalIDChatRelay)

	assert.Equal(t, "canary-monitoring-alerts", props["ConfigurationName"])
	assert.Equal(t, "T03SX1NSF", props["SlackWorkspaceId"])
	assert.Equal(t, "C03KL7Q6A6L", props["SlackChannelId"])
	assert.Equal(t, []any{map[string]any{"Ref": "CanaryAlarmTopic"}}, props["SnsTopicArns"])
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"SlackChannelConfigurationRole", "Arn"}}, props["IamRoleArn"])

	topic := properties(t, doc, stack.LogicalIDTopic)
	assert.Equal(t, "Canary Alarm Notifications", topic["DisplayName"])
}

func TestRender_Outputs(t *testing.T) {
	tmpl := mustRender(t, buildDefinition(t))

	assert.Equal(t, map[string]any{"Ref": "WebsiteCanary"}, tmpl.Outputs[OutputCanaryName].Value)
	assert.Equal(t, map[string]any{"Ref": "CanaryAlarm"}, tmpl.Outputs[OutputAlarmName].Value)
	assert.Equal(t, map[string]any{"Ref": "CanaryAlarmTopic"}, tmpl.Outputs[OutputTopicArn].Value)
	assert.Equal(t, map[string]any{"Ref": "CanaryLoggingBucket"}, tmpl.Outputs[OutputArtifactName].Value)
}

func TestMarshal_Deterministic(t *testing.T) {
	def := buildDefinition(t)

	for _, format := range []Format{FormatJSON, FormatYAML} {
		first, err := Marshal(mustRender(t, def), format)
		require.NoError(t, err)
		second, err := Marshal(mustRender(t, def), format)
		require.NoError(t, err)
		assert.Equal(t, first, second, string(format))
	}
}

func TestMarshal_YAML(t *testing.T) {
	body, err := Marshal(mustRender(t, buildDefinition(t)), FormatYAML)
	require.NoError(t, err)

	assert.Contains(t, string(body), "AWSTemplateFormatVersion:")
	assert.NotContains(t, string(body), "Resources: {")

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(body, &doc))
	assert.Equal(t, "2010-09-09", doc["AWSTemplateFormatVersion"])

	resources := doc["Resources"].(map[string]any)
	assert.Len(t, resources, 7)

	bucket := resources[stack.LogicalIDArtifactStore].(map[string]any)
	tag := bucket["Properties"].(map[string]any)["Tags"].([]any)[0].(map[string]any)
	assert.Equal(t, "true", tag["Value"])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("toml")
	assert.Error(t, err)
}

func mustRender(t *testing.T, def *stack.Definition) *Template {
	t.Helper()

	tmpl, err := Render(def)
	require.NoError(t, err)
	return tmpl
}
