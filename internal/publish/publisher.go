// Package publish emits stack deployment lifecycle events to EventBridge.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/ab0utbla-k/canary-monitoring-stack/internal/publish")

const (
	Source     = "canary.monitoring.stack"
	DetailType = "Canary Stack Deployment"
)

type Action string

const (
	ActionDeploy  Action = "deploy"
	ActionDestroy Action = "destroy"
)

// DeploymentEvent is the detail of a lifecycle event.
type DeploymentEvent struct {
	StackName    string    `json:"stackName"`
	StackID      string    `json:"stackId,omitempty"`
	Action       Action    `json:"action"`
	Status       string    `json:"status"`
	TemplateHash string    `json:"templateHash,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventBridgeAPI defines required EventBridge operations.
type EventBridgeAPI interface {
	PutEvents(
		ctx context.Context,
		params *eventbridge.PutEventsInput,
		optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher publishes deployment events to EventBridge.
type Publisher struct {
	client       EventBridgeAPI
	eventBusName string
}

// NewPublisher creates a new EventBridge publisher.
func NewPublisher(client EventBridgeAPI, eventBusName string) *Publisher {
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
	}
}

// Publish sends a deployment event to EventBridge.
func (p *Publisher) Publish(ctx context.Context, event *DeploymentEvent) error {
	ctx, span := tracer.Start(ctx, "publish.eventbridge")
	defer span.End()
	span.SetAttributes(
		attribute.String("eventbus.name", p.eventBusName),
		attribute.String("stack.name", event.StackName),
		attribute.String("deploy.action", string(event.Action)),
	)

	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("cannot marshal event: %w", err)
	}

	input := &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			Detail:       aws.String(string(detail)),
			DetailType:   aws.String(DetailType),
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(Source),
			Time:         aws.Time(event.Timestamp),
		}},
	}

	out, err := p.client.PutEvents(ctx, input)
	if err != nil {
		return fmt.Errorf("cannot put event: %w", err)
	}

	if out.FailedEntryCount > 0 {
		entry := out.Entries[0]
		return fmt.Errorf("event rejected: %s - %s",
			aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
	}

	return nil
}
