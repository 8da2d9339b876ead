package alarm

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// FormatText renders a report as a human-readable status summary.
func FormatText(r *Report) (string, error) {
	a := r.Alarm
	var msg strings.Builder

	symbol, err := getComparisonSymbol(a.ComparisonOperator)
	if err != nil {
		return "", err
	}

	msg.WriteString("Alarm: ")
	msg.WriteString(aws.ToString(a.AlarmName))
	msg.WriteString("\nState: ")
	msg.WriteString(string(a.StateValue))
	msg.WriteString("\nExpected: ")
	msg.WriteString(string(r.Expected))
	if r.Expected != a.StateValue {
		msg.WriteString(" (mismatch)")
	}
	msg.WriteString("\nReason: ")
	msg.WriteString(aws.ToString(a.StateReason))

	fmt.Fprintf(&msg, "\n\nPolicy: %s %s %.1f over %d period(s) of %ds, missing data %s\n",
		a.Statistic,
		symbol,
		aws.ToFloat64(a.Threshold),
		aws.ToInt32(a.EvaluationPeriods),
		aws.ToInt32(a.Period),
		missingDataLabel(a))

	msg.WriteString("\nDatapoints:\n")
	for _, dp := range r.Datapoints {
		if dp.Value == nil {
			fmt.Fprintf(&msg, "  %s  missing\n", dp.Timestamp.Format(time.RFC3339))
			continue
		}
		fmt.Fprintf(&msg, "  %s  %.2f\n", dp.Timestamp.Format(time.RFC3339), *dp.Value)
	}

	fmt.Fprintf(&msg, "\nCanary %s runs:\n", r.CanaryName)
	if len(r.Runs) == 0 {
		msg.WriteString("  no runs recorded\n")
	}
	for i, run := range r.Runs {
		fmt.Fprintf(&msg, "%d. %s %s", i+1, run.Started.Format(time.RFC3339), run.State)
		if run.Reason != "" {
			fmt.Fprintf(&msg, " (%s)", run.Reason)
		}
		msg.WriteString("\n")
	}

	fmt.Fprintf(&msg, "\nTimestamp: %s", r.Timestamp.Format(time.RFC3339))

	return msg.String(), nil
}

func missingDataLabel(a *types.MetricAlarm) string {
	if v := aws.ToString(a.TreatMissingData); v != "" {
		return v
	}
	return "missing"
}

func getComparisonSymbol(op types.ComparisonOperator) (string, error) {
	switch op {
	case types.ComparisonOperatorGreaterThanThreshold:
		return ">", nil
	case types.ComparisonOperatorGreaterThanOrEqualToThreshold:
		return ">=", nil
	case types.ComparisonOperatorLessThanThreshold:
		return "<", nil
	case types.ComparisonOperatorLessThanOrEqualToThreshold:
		return "<=", nil
	default:
		return "", fmt.Errorf("unsupported comparison operator: %s", op)
	}
}
