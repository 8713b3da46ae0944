package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"fleetwatch/internal/metricsource"
	"fleetwatch/internal/rules"
)

// Evaluation is the outcome of checking one rule (or one multi-rule
// clause) against one device at a point in time. Detail feeds the alert
// Details payload so responders see what was observed vs. expected.
type Evaluation struct {
	Breaching bool
	Observed  float64
	HasValue  bool
	Detail    map[string]interface{}
}

// compare applies one of the rule operators. NaN observations are
// filtered out before this is called; a NaN reaching here never matches.
func compare(op string, value, threshold float64) bool {
	if math.IsNaN(value) {
		return false
	}
	switch op {
	case rules.OpGT:
		return value > threshold
	case rules.OpGTE:
		return value >= threshold
	case rules.OpLT:
		return value < threshold
	case rules.OpLTE:
		return value <= threshold
	case rules.OpEQ:
		return value == threshold
	case rules.OpNEQ:
		return value != threshold
	default:
		return false
	}
}

// evaluate dispatches on rule type. Multi rules are not handled here:
// their clauses carry independent sustain requirements, so the engine
// evaluates them clause by clause through the breach store.
func evaluate(ctx context.Context, src metricsource.Source, rule *rules.Rule, deviceID string, now time.Time) (Evaluation, error) {
	switch {
	case rule.Spec.Threshold != nil:
		s := rule.Spec.Threshold
		return evalLatest(ctx, src, rule.TenantID, deviceID, s.Metric, s.Operator, s.Threshold)
	case rule.Spec.Anomaly != nil:
		return evalAnomaly(ctx, src, rule.TenantID, deviceID, rule.Spec.Anomaly, now)
	case rule.Spec.Gap != nil:
		return evalGap(ctx, src, rule.TenantID, deviceID, rule.Spec.Gap, now)
	case rule.Spec.Window != nil:
		return evalWindow(ctx, src, rule.TenantID, deviceID, rule.Spec.Window, now)
	default:
		return Evaluation{}, fmt.Errorf("rule %s has no evaluable payload", rule.ID)
	}
}

// evalLatest checks the most recent reading against an operator and
// threshold. Shared by threshold rules and multi-rule clauses. A device
// with no reading (or a NaN one) simply does not breach.
func evalLatest(ctx context.Context, src metricsource.Source, tenantID, deviceID, metric, op string, threshold float64) (Evaluation, error) {
	sample, err := src.Latest(ctx, tenantID, deviceID, metric)
	if err != nil {
		return Evaluation{}, err
	}
	if sample == nil || math.IsNaN(sample.Value) {
		return Evaluation{}, nil
	}
	return Evaluation{
		Breaching: compare(op, sample.Value, threshold),
		Observed:  sample.Value,
		HasValue:  true,
		Detail: map[string]interface{}{
			"metric":      metric,
			"observed":    sample.Value,
			"operator":    op,
			"threshold":   threshold,
			"observed_at": sample.ObservedAt,
		},
	}, nil
}

// evalAnomaly flags the latest reading when its z-score against the
// rolling window baseline reaches the configured bound. Too few samples
// or a flat baseline (zero stddev) means no verdict, not a breach.
func evalAnomaly(ctx context.Context, src metricsource.Source, tenantID, deviceID string, spec *rules.AnomalySpec, now time.Time) (Evaluation, error) {
	from := now.Add(-time.Duration(spec.WindowMinutes) * time.Minute)
	samples, err := src.Window(ctx, tenantID, deviceID, spec.Metric, from, now)
	if err != nil {
		return Evaluation{}, err
	}

	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !math.IsNaN(s.Value) {
			values = append(values, s.Value)
		}
	}
	if len(values) < spec.MinSamples {
		return Evaluation{}, nil
	}

	latest := values[len(values)-1]
	baseline := values[:len(values)-1]

	var sum float64
	for _, v := range baseline {
		sum += v
	}
	mean := sum / float64(len(baseline))

	var sqDiff float64
	for _, v := range baseline {
		d := v - mean
		sqDiff += d * d
	}
	stddev := math.Sqrt(sqDiff / float64(len(baseline)))
	if stddev == 0 {
		return Evaluation{Observed: latest, HasValue: true}, nil
	}

	z := (latest - mean) / stddev
	return Evaluation{
		Breaching: math.Abs(z) >= spec.ZThreshold,
		Observed:  latest,
		HasValue:  true,
		Detail: map[string]interface{}{
			"metric":      spec.Metric,
			"observed":    latest,
			"mean":        mean,
			"stddev":      stddev,
			"z_score":     z,
			"z_threshold": spec.ZThreshold,
			"samples":     len(values),
		},
	}, nil
}

// evalGap fires when a device has not reported the metric for longer
// than the configured gap. A device that has never reported it at all is
// the worst case of the same condition.
func evalGap(ctx context.Context, src metricsource.Source, tenantID, deviceID string, spec *rules.GapSpec, now time.Time) (Evaluation, error) {
	last, err := src.LastObservedAt(ctx, tenantID, deviceID, spec.Metric)
	if err != nil {
		return Evaluation{}, err
	}

	maxGap := time.Duration(spec.GapMinutes) * time.Minute
	detail := map[string]interface{}{
		"metric":      spec.Metric,
		"gap_minutes": spec.GapMinutes,
	}

	if last == nil {
		detail["last_observed_at"] = nil
		return Evaluation{Breaching: true, Detail: detail}, nil
	}

	gap := now.Sub(*last)
	detail["last_observed_at"] = *last
	detail["gap_seconds"] = int64(gap.Seconds())
	return Evaluation{
		Breaching: gap >= maxGap,
		Observed:  gap.Minutes(),
		HasValue:  true,
		Detail:    detail,
	}, nil
}

// evalWindow aggregates the readings inside the window and compares the
// aggregate against the threshold. count aggregates an empty window to
// zero; the other aggregations have no value there, so no verdict.
func evalWindow(ctx context.Context, src metricsource.Source, tenantID, deviceID string, spec *rules.WindowSpec, now time.Time) (Evaluation, error) {
	from := now.Add(-time.Duration(spec.WindowSeconds) * time.Second)
	samples, err := src.Window(ctx, tenantID, deviceID, spec.Metric, from, now)
	if err != nil {
		return Evaluation{}, err
	}

	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !math.IsNaN(s.Value) {
			values = append(values, s.Value)
		}
	}

	var agg float64
	switch spec.Aggregation {
	case "count":
		agg = float64(len(values))
	case "avg":
		if len(values) == 0 {
			return Evaluation{}, nil
		}
		var sum float64
		for _, v := range values {
			sum += v
		}
		agg = sum / float64(len(values))
	case "sum":
		if len(values) == 0 {
			return Evaluation{}, nil
		}
		for _, v := range values {
			agg += v
		}
	case "min":
		if len(values) == 0 {
			return Evaluation{}, nil
		}
		agg = values[0]
		for _, v := range values[1:] {
			if v < agg {
				agg = v
			}
		}
	case "max":
		if len(values) == 0 {
			return Evaluation{}, nil
		}
		agg = values[0]
		for _, v := range values[1:] {
			if v > agg {
				agg = v
			}
		}
	}

	return Evaluation{
		Breaching: compare(spec.Operator, agg, spec.Threshold),
		Observed:  agg,
		HasValue:  true,
		Detail: map[string]interface{}{
			"metric":         spec.Metric,
			"aggregation":    spec.Aggregation,
			"window_seconds": spec.WindowSeconds,
			"observed":       agg,
			"operator":       spec.Operator,
			"threshold":      spec.Threshold,
			"samples":        len(values),
		},
	}, nil
}
