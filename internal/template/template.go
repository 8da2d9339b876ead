// Package template renders a stack definition as a CloudFormation template,
// the provisioning plan submitted to the platform.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/stack"
)

const formatVersion = "2010-09-09"

// AutoDeleteTag marks buckets whose objects are removed before stack deletion.
const AutoDeleteTag = "canary-stack:auto-delete-objects"

const (
	OutputCanaryName   = "CanaryName"
	OutputAlarmName    = "AlarmName"
	OutputTopicArn     = "TopicArn"
	OutputArtifactName = "ArtifactBucketName"
)

// DefaultAssetBucket is the per-account staging bucket used when none is configured.
const DefaultAssetBucket = "cdk-hnb659fds-assets-${AWS::AccountId}-${AWS::Region}"

type Template struct {
	AWSTemplateFormatVersion string              `json:"AWSTemplateFormatVersion"`
	Description              string              `json:"Description,omitempty"`
	Resources                map[string]Resource `json:"Resources"`
	Outputs                  map[string]Output   `json:"Outputs,omitempty"`
}

type Resource struct {
	Type                string   `json:"Type"`
	Properties          any      `json:"Properties,omitempty"`
	DependsOn           []string `json:"DependsOn,omitempty"`
	DeletionPolicy      string   `json:"DeletionPolicy,omitempty"`
	UpdateReplacePolicy string   `json:"UpdateReplacePolicy,omitempty"`
}

type Output struct {
	Description string `json:"Description,omitempty"`
	Value       any    `json:"Value"`
}

type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

type BucketProperties struct {
	Tags []Tag `json:"Tags,omitempty"`
}

type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

type Statement struct {
	Effect    string            `json:"Effect"`
	Action    any               `json:"Action"`
	Resource  any               `json:"Resource,omitempty"`
	Principal map[string]string `json:"Principal,omitempty"`
}

type InlinePolicy struct {
	PolicyName     string         `json:"PolicyName"`
	PolicyDocument PolicyDocument `json:"PolicyDocument"`
}

type RoleProperties struct {
	AssumeRolePolicyDocument PolicyDocument `json:"AssumeRolePolicyDocument"`
	Policies                 []InlinePolicy `json:"Policies,omitempty"`
}

type CanaryCode struct {
	Handler  string `json:"Handler"`
	S3Bucket any    `json:"S3Bucket"`
	S3Key    string `json:"S3Key"`
}

type CanarySchedule struct {
	Expression        string `json:"Expression"`
	DurationInSeconds string `json:"DurationInSeconds"`
}

type CanaryRunConfig struct {
	TimeoutInSeconds int `json:"TimeoutInSeconds"`
}

type CanaryProperties struct {
	Name                     string          `json:"Name"`
	Code                     CanaryCode      `json:"Code"`
	ExecutionRoleArn         any             `json:"ExecutionRoleArn"`
	RuntimeVersion           string          `json:"RuntimeVersion"`
	Schedule                 CanarySchedule  `json:"Schedule"`
	RunConfig                CanaryRunConfig `json:"RunConfig"`
	ArtifactS3Location       any             `json:"ArtifactS3Location"`
	StartCanaryAfterCreation bool            `json:"StartCanaryAfterCreation"`
}

type TopicProperties struct {
	DisplayName string `json:"DisplayName"`
}

type SlackChannelProperties struct {
	ConfigurationName string `json:"ConfigurationName"`
	IamRoleArn        any    `json:"IamRoleArn"`
	SlackWorkspaceId  string `json:"SlackWorkspaceId"`
	SlackChannelId    string `json:"SlackChannelId"`
	SnsTopicArns      []any  `json:"SnsTopicArns"`
}

type AlarmDimension struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type AlarmProperties struct {
	AlarmDescription   string           `json:"AlarmDescription,omitempty"`
	Namespace          string           `json:"Namespace"`
	MetricName         string           `json:"MetricName"`
	Dimensions         []AlarmDimension `json:"Dimensions"`
	Period             int              `json:"Period"`
	Statistic          string           `json:"Statistic"`
	Threshold          float64          `json:"Threshold"`
	ComparisonOperator string           `json:"ComparisonOperator"`
	EvaluationPeriods  int32            `json:"EvaluationPeriods"`
	TreatMissingData   string           `json:"TreatMissingData"`
	AlarmActions       []any            `json:"AlarmActions,omitempty"`
}

func ref(id string) map[string]any {
	return map[string]any{"Ref": id}
}

func getAtt(id, attr string) map[string]any {
	return map[string]any{"Fn::GetAtt": []string{id, attr}}
}

func join(sep string, parts ...any) map[string]any {
	return map[string]any{"Fn::Join": []any{sep, parts}}
}

func sub(s string) map[string]any {
	return map[string]any{"Fn::Sub": s}
}

func refs(rs []stack.Ref) []any {
	out := make([]any, 0, len(rs))
	for _, r := range rs {
		out = append(out, ref(r.LogicalID))
	}
	return out
}

// Render converts d into a template. Output is a pure function of d.
func Render(d *stack.Definition) (*Template, error) {
	t := &Template{
		AWSTemplateFormatVersion: formatVersion,
		Description:              fmt.Sprintf("Synthetic canary monitoring stack (%s)", d.Config.StackName),
		Resources:                make(map[string]Resource),
		Outputs:                  make(map[string]Output),
	}

	for _, r := range d.Resources() {
		var (
			res Resource
			err error
		)

		switch v := r.(type) {
		case *stack.ArtifactStore:
			res = renderArtifactStore(v)
		case *stack.Role:
			res = renderRole(v)
		case *stack.Canary:
			res = renderCanary(v)
		case *stack.NotificationChannel:
			res = renderTopic(v)
		case *stack.ChatRelay:
			res = renderChatRelay(v)
		case *stack.Alarm:
			res, err = renderAlarm(v, d.Canary)
		default:
			err = fmt.Errorf("unsupported resource %T", r)
		}
		if err != nil {
			return nil, fmt.Errorf("cannot render %s: %w", r.ID(), err)
		}

		t.Resources[r.ID()] = res
	}

	t.Outputs[OutputCanaryName] = Output{Description: "Generated canary name", Value: ref(d.Canary.LogicalID)}
	t.Outputs[OutputAlarmName] = Output{Description: "Availability alarm name", Value: ref(d.Alarm.LogicalID)}
	t.Outputs[OutputTopicArn] = Output{Description: "Alarm notification topic", Value: ref(d.Topic.LogicalID)}
	t.Outputs[OutputArtifactName] = Output{Description: "Canary artifact bucket", Value: ref(d.ArtifactStore.LogicalID)}

	return t, nil
}

func renderArtifactStore(s *stack.ArtifactStore) Resource {
	props := BucketProperties{}
	if s.AutoDeleteObjects {
		props.Tags = []Tag{{Key: AutoDeleteTag, Value: "true"}}
	}

	return Resource{
		Type:                "AWS::S3::Bucket",
		Properties:          props,
		DeletionPolicy:      string(s.RemovalPolicy),
		UpdateReplacePolicy: string(s.RemovalPolicy),
	}
}

func renderRole(r *stack.Role) Resource {
	props := RoleProperties{
		AssumeRolePolicyDocument: PolicyDocument{
			Version: "2012-10-17",
			Statement: []Statement{{
				Effect:    "Allow",
				Action:    "sts:AssumeRole",
				Principal: map[string]string{"Service": r.TrustPrincipal},
			}},
		},
	}

	if len(r.Statements) > 0 {
		doc := PolicyDocument{Version: "2012-10-17"}
		for _, s := range r.Statements {
			doc.Statement = append(doc.Statement, Statement{
				Effect:   s.Effect,
				Action:   s.Actions,
				Resource: s.Resources,
			})
		}
		props.Policies = []InlinePolicy{{
			PolicyName:     r.LogicalID + "DefaultPolicy",
			PolicyDocument: doc,
		}}
	}

	return Resource{Type: "AWS::IAM::Role", Properties: props}
}

func renderCanary(c *stack.Canary) Resource {
	var bucket any = sub(DefaultAssetBucket)
	if c.CodeBucket != "" {
		bucket = c.CodeBucket
	}

	return Resource{
		Type: "AWS::Synthetics::Canary",
		Properties: CanaryProperties{
			Name: c.Name,
			Code: CanaryCode{
				Handler:  c.Handler,
				S3Bucket: bucket,
				S3Key:    c.Code.Key(),
			},
			ExecutionRoleArn: getAtt(c.ExecutionRole.LogicalID, "Arn"),
			RuntimeVersion:   c.RuntimeVersion,
			Schedule: CanarySchedule{
				Expression:        c.Schedule.Expression(),
				DurationInSeconds: "0",
			},
			RunConfig:                CanaryRunConfig{TimeoutInSeconds: int(c.Timeout / time.Second)},
			ArtifactS3Location:       join("", "s3://", ref(c.ArtifactStore.LogicalID)),
			StartCanaryAfterCreation: c.StartAfterCreation,
		},
		DependsOn: []string{c.ExecutionRole.LogicalID},
	}
}

func renderTopic(n *stack.NotificationChannel) Resource {
	return Resource{
		Type:       "AWS::SNS::Topic",
		Properties: TopicProperties{DisplayName: n.DisplayName},
	}
}

func renderChatRelay(c *stack.ChatRelay) Resource {
	return Resource{
		Type: "AWS::Chatbot::SlackChannelConfiguration",
		Properties: SlackChannelProperties{
			ConfigurationName: c.ConfigurationName,
			IamRoleArn:        getAtt(c.Role.LogicalID, "Arn"),
			SlackWorkspaceId:  c.WorkspaceID,
			SlackChannelId:    c.ChannelID,
			SnsTopicArns:      refs(c.Topics),
		},
	}
}

func renderAlarm(a *stack.Alarm, canary *stack.Canary) (Resource, error) {
	if a.Metric.Period%time.Second != 0 || a.Metric.Period <= 0 {
		return Resource{}, fmt.Errorf("invalid period %s", a.Metric.Period)
	}

	dims := make([]AlarmDimension, 0, len(a.Metric.Dimensions))
	for _, d := range a.Metric.Dimensions {
		dims = append(dims, AlarmDimension{Name: d.Name, Value: d.Value})
	}

	return Resource{
		Type: "AWS::CloudWatch::Alarm",
		Properties: AlarmProperties{
			AlarmDescription:   a.Description,
			Namespace:          a.Metric.Namespace,
			MetricName:         a.Metric.Name,
			Dimensions:         dims,
			Period:             int(a.Metric.Period / time.Second),
			Statistic:          string(a.Metric.Statistic),
			Threshold:          a.Threshold,
			ComparisonOperator: string(a.Comparison),
			EvaluationPeriods:  a.EvaluationPeriods,
			TreatMissingData:   string(a.TreatMissingData),
			AlarmActions:       refs(a.Actions),
		},
		// The dimension carries the captured canary name; the dependency keeps
		// creation ordered.
		DependsOn: []string{canary.LogicalID},
	}, nil
}

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported template format %q (expected json or yaml)", s)
	}
}

// Marshal encodes t. Keys are emitted in sorted order so identical templates
// produce identical bytes.
func Marshal(t *Template, format Format) ([]byte, error) {
	body, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("cannot encode template: %w", err)
	}

	switch format {
	case FormatJSON:
		return append(body, '\n'), nil
	case FormatYAML:
		// JSON is valid YAML; decoding into a node keeps the key order.
		var node yaml.Node
		if err := yaml.Unmarshal(body, &node); err != nil {
			return nil, fmt.Errorf("cannot convert template to yaml: %w", err)
		}
		clearStyle(&node)

		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return nil, fmt.Errorf("cannot encode yaml template: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("cannot encode yaml template: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported template format %q", format)
	}
}

// clearStyle drops the flow style inherited from JSON so the output is block YAML.
func clearStyle(n *yaml.Node) {
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		n.Style = 0
	}
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" {
		n.Style = 0
	}
	for _, c := range n.Content {
		clearStyle(c)
	}
}
