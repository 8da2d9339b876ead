package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/ab0utbla-k/canary-monitoring-stack/internal/notify")

// SNSAPI defines required SNS operations.
type SNSAPI interface {
	Publish(
		ctx context.Context,
		input *sns.PublishInput,
		optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS sends test notifications to the alarm topic.
type SNS struct {
	client SNSAPI
	logger *slog.Logger
	now    func() time.Time
}

// NewSNS creates a new SNS sender.
func NewSNS(client SNSAPI, logger *slog.Logger) *SNS {
	return &SNS{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// SendTest publishes an alarm-shaped message for alarm to topicARN and
// returns the message id.
func (s *SNS) SendTest(ctx context.Context, topicARN string, alarm *types.MetricAlarm) (string, error) {
	ctx, span := tracer.Start(ctx, "notify.sns")
	defer span.End()
	span.SetAttributes(
		attribute.String("sns.topic_arn", topicARN),
		attribute.String("alarm.name", aws.ToString(alarm.AlarmName)),
	)

	if topicARN == "" {
		return "", fmt.Errorf("topic arn is empty")
	}

	payload, err := NewTestPayload(alarm, s.now())
	if err != nil {
		return "", err
	}

	msg, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cannot marshal message: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Subject:  aws.String(subject(payload)),
		Message:  aws.String(string(msg)),
	}

	out, err := s.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("cannot publish to SNS: %w", err)
	}

	id := aws.ToString(out.MessageId)
	s.logger.InfoContext(ctx, "test notification published",
		slog.String("topicArn", topicARN),
		slog.String("messageId", id))

	return id, nil
}
