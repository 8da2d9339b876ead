// Package alarm models the platform's alarm evaluation policy and reads back
// the state of the deployed alarm and canary.
package alarm

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/ab0utbla-k/canary-monitoring-stack/internal/stack"
)

// Policy is the threshold rule the platform evaluator applies to a metric stream.
type Policy struct {
	Threshold         float64
	Comparison        types.ComparisonOperator
	EvaluationPeriods int
	TreatMissingData  stack.TreatMissingData
}

// PolicyFor returns the policy declared by a.
func PolicyFor(a *stack.Alarm) Policy {
	return Policy{
		Threshold:         a.Threshold,
		Comparison:        a.Comparison,
		EvaluationPeriods: int(a.EvaluationPeriods),
		TreatMissingData:  a.TreatMissingData,
	}
}

// PolicyFromMetricAlarm returns the policy of a deployed alarm.
func PolicyFromMetricAlarm(a *types.MetricAlarm) Policy {
	missing := stack.TreatMissingData(aws.ToString(a.TreatMissingData))
	if missing == "" {
		missing = stack.TreatMissingDataMissing
	}

	return Policy{
		Threshold:         aws.ToFloat64(a.Threshold),
		Comparison:        a.ComparisonOperator,
		EvaluationPeriods: int(aws.ToInt32(a.EvaluationPeriods)),
		TreatMissingData:  missing,
	}
}

// Breaches reports whether a single datapoint violates the threshold.
func (p Policy) Breaches(value float64) bool {
	switch p.Comparison {
	case types.ComparisonOperatorGreaterThanThreshold:
		return value > p.Threshold
	case types.ComparisonOperatorGreaterThanOrEqualToThreshold:
		return value >= p.Threshold
	case types.ComparisonOperatorLessThanThreshold:
		return value < p.Threshold
	case types.ComparisonOperatorLessThanOrEqualToThreshold:
		return value <= p.Threshold
	default:
		// Anomaly detection bands are not modelled.
		return false
	}
}

// Evaluate returns the alarm state for the most recent datapoints, oldest
// first. A nil entry is a period with no data. previous is returned when the
// policy ignores a window with no data.
func (p Policy) Evaluate(datapoints []*float64, previous types.StateValue) types.StateValue {
	n := max(p.EvaluationPeriods, 1)

	window := make([]*float64, n)
	if len(datapoints) >= n {
		copy(window, datapoints[len(datapoints)-n:])
	} else {
		copy(window[n-len(datapoints):], datapoints)
	}

	var present, breaching, missing int
	for _, v := range window {
		switch {
		case v == nil:
			missing++
		case p.Breaches(*v):
			present++
			breaching++
		default:
			present++
		}
	}

	if present == 0 {
		switch p.TreatMissingData {
		case stack.TreatMissingDataBreaching:
			return types.StateValueAlarm
		case stack.TreatMissingDataNotBreaching:
			return types.StateValueOk
		case stack.TreatMissingDataIgnore:
			if previous == "" {
				return types.StateValueInsufficientData
			}
			return previous
		default:
			return types.StateValueInsufficientData
		}
	}

	switch p.TreatMissingData {
	case stack.TreatMissingDataBreaching:
		breaching += missing
	case stack.TreatMissingDataNotBreaching:
	default:
		// Missing periods are skipped; only present datapoints are judged.
		n = present
	}

	if breaching >= n {
		return types.StateValueAlarm
	}
	return types.StateValueOk
}
