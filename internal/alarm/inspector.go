package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/synthetics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/ab0utbla-k/canary-monitoring-stack/internal/alarm")

const recentRuns = 5

// ErrAlarmNotFound indicates no metric alarm has the requested name.
var ErrAlarmNotFound = errors.New("alarm not found")

// CloudWatchAPI defines the CloudWatch operations required for alarm read-back.
type CloudWatchAPI interface {
	DescribeAlarms(
		ctx context.Context,
		input *cloudwatch.DescribeAlarmsInput,
		optFns ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error)

	GetMetricData(
		ctx context.Context,
		input *cloudwatch.GetMetricDataInput,
		optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// SyntheticsAPI defines the Synthetics operations required for run history.
type SyntheticsAPI interface {
	GetCanaryRuns(
		ctx context.Context,
		input *synthetics.GetCanaryRunsInput,
		optFns ...func(*synthetics.Options)) (*synthetics.GetCanaryRunsOutput, error)
}

// Datapoint is one evaluation period; Value is nil when the period had no data.
type Datapoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
}

// CanaryRun is a single execution of the canary.
type CanaryRun struct {
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Started   time.Time `json:"started"`
	Completed time.Time `json:"completed"`
}

// Report compares the platform's alarm state with the locally evaluated policy.
type Report struct {
	Alarm      *types.MetricAlarm `json:"alarm"`
	CanaryName string             `json:"canaryName"`
	Datapoints []Datapoint        `json:"datapoints"`
	Expected   types.StateValue   `json:"expected"`
	Runs       []CanaryRun        `json:"runs"`
	Timestamp  time.Time          `json:"timestamp"`
}

type Inspector struct {
	cw     CloudWatchAPI
	syn    SyntheticsAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewInspector(cw CloudWatchAPI, syn SyntheticsAPI, logger *slog.Logger) *Inspector {
	return &Inspector{
		cw:     cw,
		syn:    syn,
		logger: logger,
		now:    time.Now,
	}
}

// Inspect reads the deployed alarm and its recent datapoints, evaluates the
// alarm policy over them and lists the latest canary runs.
func (i *Inspector) Inspect(ctx context.Context, alarmName, canaryName string) (*Report, error) {
	ctx, span := tracer.Start(ctx, "alarm.inspect")
	defer span.End()
	span.SetAttributes(
		attribute.String("alarm.name", alarmName),
		attribute.String("canary.name", canaryName),
	)

	alarm, err := i.Alarm(ctx, alarmName)
	if err != nil {
		return nil, err
	}

	datapoints, err := i.recentDatapoints(ctx, alarm)
	if err != nil {
		return nil, fmt.Errorf("cannot read datapoints for alarm %q: %w", alarmName, err)
	}

	values := make([]*float64, len(datapoints))
	for j, dp := range datapoints {
		values[j] = dp.Value
	}

	expected := PolicyFromMetricAlarm(alarm).Evaluate(values, alarm.StateValue)
	if expected != alarm.StateValue {
		i.logger.WarnContext(
			ctx,
			"alarm state differs from evaluated policy",
			slog.String("alarmName", alarmName),
			slog.String("state", string(alarm.StateValue)),
			slog.String("expected", string(expected)),
		)
	}

	runs, err := i.recentRuns(ctx, canaryName)
	if err != nil {
		return nil, fmt.Errorf("cannot list runs for canary %q: %w", canaryName, err)
	}

	return &Report{
		Alarm:      alarm,
		CanaryName: canaryName,
		Datapoints: datapoints,
		Expected:   expected,
		Runs:       runs,
		Timestamp:  i.now(),
	}, nil
}

// Alarm returns the deployed metric alarm with the given name.
func (i *Inspector) Alarm(ctx context.Context, alarmName string) (*types.MetricAlarm, error) {
	output, err := i.cw.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{
		AlarmNames: []string{alarmName},
		MaxRecords: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot describe alarm %q: %w", alarmName, err)
	}

	if len(output.MetricAlarms) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlarmNotFound, alarmName)
	}

	return &output.MetricAlarms[0], nil
}

// recentDatapoints returns one slot per evaluation period, oldest first.
func (i *Inspector) recentDatapoints(ctx context.Context, alarm *types.MetricAlarm) ([]Datapoint, error) {
	periodSeconds := aws.ToInt32(alarm.Period)
	if periodSeconds <= 0 {
		return nil, fmt.Errorf("alarm has no period")
	}
	periods := max(int(aws.ToInt32(alarm.EvaluationPeriods)), 1)

	period := time.Duration(periodSeconds) * time.Second
	endTime := alignToPeriodBoundary(i.now(), period)
	startTime := endTime.Add(-period * time.Duration(periods))

	output, err := i.cw.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
		MetricDataQueries: []types.MetricDataQuery{{
			Id: aws.String("m0"),
			MetricStat: &types.MetricStat{
				Metric: &types.Metric{
					Namespace:  alarm.Namespace,
					MetricName: alarm.MetricName,
					Dimensions: alarm.Dimensions,
				},
				Period: alarm.Period,
				Stat:   aws.String(string(alarm.Statistic)),
			},
			ReturnData: aws.Bool(true),
		}},
		StartTime: aws.Time(startTime),
		EndTime:   aws.Time(endTime),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot get metric data: %w", err)
	}

	slots := make([]Datapoint, periods)
	for j := range slots {
		slots[j].Timestamp = startTime.Add(period * time.Duration(j))
	}

	for _, result := range output.MetricDataResults {
		for k, ts := range result.Timestamps {
			if k >= len(result.Values) {
				break
			}

			idx := int(ts.Sub(startTime) / period)
			if idx < 0 || idx >= periods {
				continue
			}

			v := result.Values[k]
			slots[idx].Value = &v
		}
	}

	return slots, nil
}

func (i *Inspector) recentRuns(ctx context.Context, canaryName string) ([]CanaryRun, error) {
	output, err := i.syn.GetCanaryRuns(ctx, &synthetics.GetCanaryRunsInput{
		Name:       aws.String(canaryName),
		MaxResults: aws.Int32(recentRuns),
	})
	if err != nil {
		return nil, err
	}

	runs := make([]CanaryRun, 0, len(output.CanaryRuns))
	for _, r := range output.CanaryRuns {
		run := CanaryRun{}
		if r.Status != nil {
			run.State = string(r.Status.State)
			run.Reason = aws.ToString(r.Status.StateReason)
		}
		if r.Timeline != nil {
			run.Started = aws.ToTime(r.Timeline.Started)
			run.Completed = aws.ToTime(r.Timeline.Completed)
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// alignToPeriodBoundary aligns a timestamp to CloudWatch period boundaries.
// CloudWatch returns no data for daily metrics when queried with misaligned time windows (e.g., 07:31 to 07:31
// instead of 00:00 to 00:00).
func alignToPeriodBoundary(t time.Time, period time.Duration) time.Time {
	// For 1-day periods, align to midnight UTC
	if period >= 24*time.Hour {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}

	// For shorter periods, round down to the nearest period boundary
	periodSeconds := int64(period.Seconds())
	alignedUnix := (t.Unix() / periodSeconds) * periodSeconds
	return time.Unix(alignedUnix, 0).UTC()
}
