// Package notify publishes test alarm notifications to the stack's topic.
package notify

import (
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// NewTestPayload builds the message the platform would publish when the
// deployed alarm transitions from OK into ALARM. Account and region are taken
// from the alarm ARN.
func NewTestPayload(alarm *types.MetricAlarm, now time.Time) (events.CloudWatchAlarmSNSPayload, error) {
	alarmARN := aws.ToString(alarm.AlarmArn)
	parsed, err := arn.Parse(alarmARN)
	if err != nil {
		return events.CloudWatchAlarmSNSPayload{}, fmt.Errorf("alarm %q has an invalid arn %q: %w",
			aws.ToString(alarm.AlarmName), alarmARN, err)
	}

	payload := events.CloudWatchAlarmSNSPayload{
		AlarmName:        aws.ToString(alarm.AlarmName),
		AlarmDescription: aws.ToString(alarm.AlarmDescription),
		AWSAccountID:     parsed.AccountID,
		NewStateValue:    string(types.StateValueAlarm),
		NewStateReason:   "Test notification sent by canary-stack notify-test",
		StateChangeTime:  now.UTC().Format("2006-01-02T15:04:05.000-0700"),
		Region:           parsed.Region,
		AlarmARN:         alarmARN,
		OldStateValue:    string(types.StateValueOk),
	}

	payload.Trigger.MetricName = aws.ToString(alarm.MetricName)
	payload.Trigger.Namespace = aws.ToString(alarm.Namespace)
	payload.Trigger.StatisticType = "Statistic"
	payload.Trigger.Statistic = string(alarm.Statistic)
	if alarm.ExtendedStatistic != nil {
		payload.Trigger.StatisticType = "ExtendedStatistic"
		payload.Trigger.Statistic = aws.ToString(alarm.ExtendedStatistic)
	}
	payload.Trigger.Unit = string(alarm.Unit)
	payload.Trigger.Period = int64(aws.ToInt32(alarm.Period))
	payload.Trigger.EvaluationPeriods = int64(aws.ToInt32(alarm.EvaluationPeriods))
	payload.Trigger.ComparisonOperator = string(alarm.ComparisonOperator)
	payload.Trigger.Threshold = aws.ToFloat64(alarm.Threshold)
	payload.Trigger.TreatMissingData = aws.ToString(alarm.TreatMissingData)

	for _, d := range alarm.Dimensions {
		payload.Trigger.Dimensions = append(payload.Trigger.Dimensions, events.CloudWatchDimension{
			Name:  aws.ToString(d.Name),
			Value: aws.ToString(d.Value),
		})
	}

	return payload, nil
}

func subject(payload events.CloudWatchAlarmSNSPayload) string {
	return fmt.Sprintf("ALARM: %q in %s", payload.AlarmName, payload.Region)
}
