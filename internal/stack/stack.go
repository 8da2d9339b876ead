// Package stack declares the canary monitoring resources and wires them into
// a single resource graph.
//
// Declaration is two-phase: each Declare call builds an entity and captures its
// generated identifiers, and later calls bind to those captured values.
package stack

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/asset"
)

const (
	LogicalIDArtifactStore = "CanaryLoggingBucket"
	LogicalIDCanaryRole    = "CanaryRole"
	LogicalIDCanary        = "WebsiteCanary"
	LogicalIDTopic         = "CanaryAlarmTopic"
	LogicalIDChatRelay     = "SlackChannel"
	LogicalIDChatRelayRole = "SlackChannelConfigurationRole"
	LogicalIDAlarm         = "CanaryAlarm"
)

const (
	CanaryInterval       = 5 * time.Minute
	CanaryTimeout        = 2 * time.Minute
	CanaryRuntimeVersion = "syn-nodejs-puppeteer-9.1"
	CanaryHandler        = "index.handler"

	CanaryTrustPrincipal    = "lambda.amazonaws.com"
	ChatRelayTrustPrincipal = "chatbot.amazonaws.com"

	TopicDisplayName           = "Canary Alarm Notifications"
	ChatRelayConfigurationName = "canary-monitoring-alerts"

	SyntheticsNamespace = "CloudWatchSynthetics"
	SuccessPercentName  = "SuccessPercent"
	DimensionCanaryName = "CanaryName"
	DimensionStepName   = "StepName"
	AlarmStepName       = "clickSignOut"
	AlarmDescription    = "Canary verifyLogout step failed"
	AlarmThreshold      = 100
	AlarmEvalPeriods    = 1
	MetricPeriod        = 5 * time.Minute
)

// CanaryActions is the fixed allow-list granted to the canary execution role.
var CanaryActions = []string{
	"cloudwatch:PutMetricData",
	"logs:CreateLogGroup",
	"logs:CreateLogStream",
	"logs:PutLogEvents",
	"s3:PutObject",
	"secretsmanager:GetSecretValue",
}

var (
	ErrInvalidConfig         = errors.New("invalid stack config")
	ErrAlreadyDeclared       = errors.New("resource already declared")
	ErrDependencyNotDeclared = errors.New("dependency not declared")
	ErrCanaryNotDeclared     = errors.New("canary not declared")
	ErrChannelNotDeclared    = errors.New("notification channel not declared")
	ErrIncomplete            = errors.New("stack definition incomplete")
	ErrBuilderFinished       = errors.New("stack definition already finished")
)

// ValidationError reports an invalid Config field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrInvalidConfig, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidConfig, e.Err}
}

// Config binds deployment inputs into resource parameters.
type Config struct {
	StackName string

	// Account and Region may be empty to defer to the platform defaults.
	Account string
	Region  string

	SlackWorkspaceID string
	SlackChannelID   string

	CanaryAssetDir string

	// AssetBucket holds the uploaded canary code. Empty selects the
	// per-account bootstrap bucket resolved at apply time.
	AssetBucket string
}

var stackNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]{0,127}$`)

// Validate checks the inputs that can be checked locally. Chat identifiers are
// only checked for presence; their format is validated by the platform.
func (c Config) Validate() error {
	if !stackNamePattern.MatchString(c.StackName) {
		return &ValidationError{Field: "StackName", Err: fmt.Errorf("%q must match %s", c.StackName, stackNamePattern)}
	}
	if strings.TrimSpace(c.SlackWorkspaceID) == "" {
		return &ValidationError{Field: "SlackWorkspaceID", Err: errors.New("must not be empty")}
	}
	if strings.TrimSpace(c.SlackChannelID) == "" {
		return &ValidationError{Field: "SlackChannelID", Err: errors.New("must not be empty")}
	}
	if strings.TrimSpace(c.CanaryAssetDir) == "" {
		return &ValidationError{Field: "CanaryAssetDir", Err: errors.New("must not be empty")}
	}
	return nil
}

// Definition is a fully wired resource graph.
type Definition struct {
	Config Config

	ArtifactStore *ArtifactStore
	CanaryRole    *Role
	Canary        *Canary
	Topic         *NotificationChannel
	ChatRelayRole *Role
	ChatRelay     *ChatRelay
	Alarm         *Alarm

	order []Resource
}

// Resources returns the declared resources in declaration order.
func (d *Definition) Resources() []Resource {
	return slices.Clone(d.order)
}

// Build declares the whole stack in dependency order. On any error no
// definition is returned.
func Build(cfg Config) (*Definition, error) {
	b, err := NewBuilder(cfg)
	if err != nil {
		return nil, err
	}

	store, err := b.DeclareArtifactStore()
	if err != nil {
		return nil, err
	}

	role, err := b.DeclareExecutionIdentity()
	if err != nil {
		return nil, err
	}

	canary, err := b.DeclareCanary(store, role)
	if err != nil {
		return nil, err
	}

	topic, err := b.DeclareNotificationChannel()
	if err != nil {
		return nil, err
	}

	if _, err := b.DeclareChatRelay(topic); err != nil {
		return nil, err
	}

	alarm, err := b.DeclareAlarm(canary)
	if err != nil {
		return nil, err
	}

	if err := b.BindAlarmAction(alarm, topic); err != nil {
		return nil, err
	}

	return b.Definition()
}

// Builder exposes the individual declaration steps.
// Once Definition succeeds the builder rejects further declarations.
type Builder struct {
	def      *Definition
	ids      map[string]struct{}
	finished bool
}

func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Builder{
		def: &Definition{Config: cfg},
		ids: make(map[string]struct{}),
	}, nil
}

func (b *Builder) add(r Resource) error {
	if _, ok := b.ids[r.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyDeclared, r.ID())
	}
	b.ids[r.ID()] = struct{}{}
	b.def.order = append(b.def.order, r)
	return nil
}

// DeclareArtifactStore declares the bucket for run artifacts. It is removed
// together with its contents on teardown.
func (b *Builder) DeclareArtifactStore() (*ArtifactStore, error) {
	if b.finished {
		return nil, ErrBuilderFinished
	}
	store := &ArtifactStore{
		Ref:               Ref{LogicalID: LogicalIDArtifactStore},
		RemovalPolicy:     RemovalPolicyDestroy,
		AutoDeleteObjects: true,
	}
	if err := b.add(store); err != nil {
		return nil, err
	}

	b.def.ArtifactStore = store
	return store, nil
}

// DeclareExecutionIdentity declares the role the canary runs as.
// TODO: scope the statement to the artifact bucket and canary log group ARNs
// instead of "*".
func (b *Builder) DeclareExecutionIdentity() (*Role, error) {
	if b.finished {
		return nil, ErrBuilderFinished
	}
	role := &Role{
		Ref:            Ref{LogicalID: LogicalIDCanaryRole},
		TrustPrincipal: CanaryTrustPrincipal,
		Statements: []PolicyStatement{{
			Effect:    "Allow",
			Actions:   slices.Clone(CanaryActions),
			Resources: []string{"*"},
		}},
	}
	if err := b.add(role); err != nil {
		return nil, err
	}

	b.def.CanaryRole = role
	return role, nil
}

// DeclareCanary declares the scheduled check. The code asset must exist and
// contain the handler.
func (b *Builder) DeclareCanary(store *ArtifactStore, role *Role) (*Canary, error) {
	if b.finished {
		return nil, ErrBuilderFinished
	}
	if store == nil || b.def.ArtifactStore != store {
		return nil, fmt.Errorf("%w: artifact store", ErrDependencyNotDeclared)
	}
	if role == nil || b.def.CanaryRole != role {
		return nil, fmt.Errorf("%w: execution identity", ErrDependencyNotDeclared)
	}

	code, err := asset.Stage(b.def.Config.CanaryAssetDir, CanaryHandler)
	if err != nil {
		return nil, fmt.Errorf("cannot stage canary code: %w", err)
	}

	if CanaryTimeout > CanaryInterval {
		return nil, fmt.Errorf("canary timeout %s exceeds run interval %s", CanaryTimeout, CanaryInterval)
	}

	canary := &Canary{
		Ref:                Ref{LogicalID: LogicalIDCanary},
		Name:               CanaryName(b.def.Config.StackName, LogicalIDCanary),
		Schedule:           Schedule{Interval: CanaryInterval},
		Timeout:            CanaryTimeout,
		RuntimeVersion:     CanaryRuntimeVersion,
		Handler:            CanaryHandler,
		Code:               code,
		CodeBucket:         b.def.Config.AssetBucket,
		ArtifactStore:      store.Ref,
		ExecutionRole:      role.Ref,
		StartAfterCreation: true,
	}
	if err := b.add(canary); err != nil {
		return nil, err
	}

	b.def.Canary = canary
	return canary, nil
}

// DeclareNotificationChannel declares the single alarm topic.
func (b *Builder) DeclareNotificationChannel() (*NotificationChannel, error) {
	if b.finished {
		return nil, ErrBuilderFinished
	}
	topic := &NotificationChannel{
		Ref:         Ref{LogicalID: LogicalIDTopic},
		DisplayName: TopicDisplayName,
	}
	if err := b.add(topic); err != nil {
		return nil, err
	}

	b.def.Topic = topic
	return topic, nil
}

// DeclareChatRelay binds the channel to the configured chat destination and
// registers the relay as its subscriber.
func (b *Builder) DeclareChatRelay(channel *NotificationChannel) (*ChatRelay, error) {
	if b.finished {
		return nil, ErrBuilderFinished
	}
	if channel == nil || b.def.Topic != channel {
		return nil, ErrChannelNotDeclared
	}

	role := &Role{
		Ref:            Ref{LogicalID: LogicalIDChatRelayRole},
		TrustPrincipal: ChatRelayTrustPrincipal,
	}
	if err := b.add(role); err != nil {
		return nil, err
	}
	b.def.ChatRelayRole = role

	relay := &ChatRelay{
		Ref:               Ref{LogicalID: LogicalIDChatRelay},
		ConfigurationName: ChatRelayConfigurationName,
		WorkspaceID:       b.def.Config.SlackWorkspaceID,
		ChannelID:         b.def.Config.SlackChannelID,
		Topics:            []Ref{channel.Ref},
		Role:              role.Ref,
	}
	if err := b.add(relay); err != nil {
		return nil, err
	}

	channel.subscribe(relay.Ref)
	b.def.ChatRelay = relay
	return relay, nil
}

// DeclareAlarm declares the availability alarm over the canary's step metric.
// Missing data is treated as breaching: a canary that stops reporting alarms.
func (b *Builder) DeclareAlarm(canary *Canary) (*Alarm, error) {
	if b.finished {
		return nil, ErrBuilderFinished
	}
	if canary == nil || b.def.Canary != canary {
		return nil, ErrCanaryNotDeclared
	}

	alarm := &Alarm{
		Ref:               Ref{LogicalID: LogicalIDAlarm},
		Description:       AlarmDescription,
		Metric:            canary.Metric(SuccessPercentName, AlarmStepName),
		Threshold:         AlarmThreshold,
		Comparison:        types.ComparisonOperatorLessThanThreshold,
		EvaluationPeriods: AlarmEvalPeriods,
		TreatMissingData:  TreatMissingDataBreaching,
	}
	if err := b.add(alarm); err != nil {
		return nil, err
	}

	b.def.Alarm = alarm
	return alarm, nil
}

// BindAlarmAction publishes to channel when alarm enters the ALARM state.
func (b *Builder) BindAlarmAction(alarm *Alarm, channel *NotificationChannel) error {
	if b.finished {
		return ErrBuilderFinished
	}
	if alarm == nil || b.def.Alarm != alarm {
		return fmt.Errorf("%w: alarm", ErrDependencyNotDeclared)
	}
	if channel == nil || b.def.Topic != channel {
		return ErrChannelNotDeclared
	}

	if !slices.Contains(alarm.Actions, channel.Ref) {
		alarm.Actions = append(alarm.Actions, channel.Ref)
	}
	return nil
}

// Definition checks the graph for missing entities and dangling references
// and returns it. After it succeeds the graph is frozen.
func (b *Builder) Definition() (*Definition, error) {
	d := b.def

	switch {
	case d.ArtifactStore == nil:
		return nil, fmt.Errorf("%w: artifact store", ErrIncomplete)
	case d.CanaryRole == nil:
		return nil, fmt.Errorf("%w: execution identity", ErrIncomplete)
	case d.Canary == nil:
		return nil, fmt.Errorf("%w: canary", ErrIncomplete)
	case d.Topic == nil:
		return nil, fmt.Errorf("%w: notification channel", ErrIncomplete)
	case d.ChatRelay == nil:
		return nil, fmt.Errorf("%w: chat relay", ErrIncomplete)
	case d.Alarm == nil:
		return nil, fmt.Errorf("%w: alarm", ErrIncomplete)
	}

	if name, _ := d.Alarm.Metric.Dimension(DimensionCanaryName); name != d.Canary.Name {
		return nil, fmt.Errorf("%w: alarm dimension %s=%q does not match canary %q",
			ErrIncomplete, DimensionCanaryName, name, d.Canary.Name)
	}

	if !slices.Contains(d.Alarm.Actions, d.Topic.Ref) {
		return nil, fmt.Errorf("%w: alarm action not bound", ErrIncomplete)
	}

	if !slices.Equal(d.ChatRelay.Topics, []Ref{d.Topic.Ref}) || !slices.Contains(d.Topic.subscribers, d.ChatRelay.Ref) {
		return nil, fmt.Errorf("%w: chat relay not subscribed to %s", ErrIncomplete, d.Topic.LogicalID)
	}

	b.finished = true
	return d, nil
}
