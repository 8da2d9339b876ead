package stack

import (
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/asset"
)

// Resource is any entity declared in a Definition.
type Resource interface {
	ID() string
}

// Ref points at a declared resource by its logical ID.
type Ref struct {
	LogicalID string
}

func (r Ref) ID() string {
	return r.LogicalID
}

type RemovalPolicy string

const (
	RemovalPolicyDestroy RemovalPolicy = "Delete"
	RemovalPolicyRetain  RemovalPolicy = "Retain"
)

// ArtifactStore holds canary run logs and screenshots.
type ArtifactStore struct {
	Ref
	RemovalPolicy     RemovalPolicy
	AutoDeleteObjects bool
}

type PolicyStatement struct {
	Effect    string
	Actions   []string
	Resources []string
}

// Role is an access-control identity assumed by a platform service.
type Role struct {
	Ref
	TrustPrincipal string
	Statements     []PolicyStatement
}

// Actions returns every action granted by the role's statements, in order.
func (r *Role) Actions() []string {
	var actions []string
	for _, s := range r.Statements {
		actions = append(actions, s.Actions...)
	}
	return actions
}

// Schedule is a fixed-rate run interval.
type Schedule struct {
	Interval time.Duration
}

// Expression renders the schedule as a platform rate expression.
func (s Schedule) Expression() string {
	minutes := int(s.Interval / time.Minute)
	if minutes == 1 {
		return "rate(1 minute)"
	}
	return fmt.Sprintf("rate(%d minutes)", minutes)
}

// Canary is the scheduled synthetic check.
type Canary struct {
	Ref

	// Name is generated at declaration time and used for metric dimensions.
	Name string

	Schedule           Schedule
	Timeout            time.Duration
	RuntimeVersion     string
	Handler            string
	Code               *asset.Asset
	CodeBucket         string
	ArtifactStore      Ref
	ExecutionRole      Ref
	StartAfterCreation bool
}

// Metric returns the canary's metric stream for a single step.
func (c *Canary) Metric(metricName, stepName string) Metric {
	return Metric{
		Namespace: SyntheticsNamespace,
		Name:      metricName,
		Dimensions: []Dimension{
			{Name: DimensionCanaryName, Value: c.Name},
			{Name: DimensionStepName, Value: stepName},
		},
		Period:    MetricPeriod,
		Statistic: types.StatisticAverage,
	}
}

// NotificationChannel is the pub/sub topic alarm actions publish to.
type NotificationChannel struct {
	Ref
	DisplayName string

	subscribers []Ref
}

// Subscribers returns the resources bound to receive this channel's messages.
func (n *NotificationChannel) Subscribers() []Ref {
	return slices.Clone(n.subscribers)
}

func (n *NotificationChannel) subscribe(r Ref) {
	if !slices.Contains(n.subscribers, r) {
		n.subscribers = append(n.subscribers, r)
	}
}

// ChatRelay forwards NotificationChannel messages into a chat channel.
type ChatRelay struct {
	Ref
	ConfigurationName string
	WorkspaceID       string
	ChannelID         string
	Topics            []Ref
	Role              Ref
}

type Dimension struct {
	Name  string
	Value string
}

type Metric struct {
	Namespace  string
	Name       string
	Dimensions []Dimension
	Period     time.Duration
	Statistic  types.Statistic
}

// Dimension returns the value of the named dimension and whether it is set.
func (m Metric) Dimension(name string) (string, bool) {
	for _, d := range m.Dimensions {
		if d.Name == name {
			return d.Value, true
		}
	}
	return "", false
}

// TreatMissingData is the alarm rule for evaluation windows with no samples.
type TreatMissingData string

const (
	TreatMissingDataBreaching    TreatMissingData = "breaching"
	TreatMissingDataNotBreaching TreatMissingData = "notBreaching"
	TreatMissingDataIgnore       TreatMissingData = "ignore"
	TreatMissingDataMissing      TreatMissingData = "missing"
)

// Alarm is a threshold rule over a canary metric.
type Alarm struct {
	Ref
	Description       string
	Metric            Metric
	Threshold         float64
	Comparison        types.ComparisonOperator
	EvaluationPeriods int32
	TreatMissingData  TreatMissingData
	Actions           []Ref
}
