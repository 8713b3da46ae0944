package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"fleetwatch/internal/metricsource"
	"fleetwatch/internal/models"
	"fleetwatch/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves canned samples keyed by device+metric.
type fakeSource struct {
	samples map[string][]metricsource.Sample
	err     error
}

func (f *fakeSource) key(deviceID, metric string) string { return deviceID + "/" + metric }

func (f *fakeSource) Latest(_ context.Context, _, deviceID, metric string) (*metricsource.Sample, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.samples[f.key(deviceID, metric)]
	if len(s) == 0 {
		return nil, nil
	}
	latest := s[len(s)-1]
	return &latest, nil
}

func (f *fakeSource) Window(_ context.Context, _, deviceID, metric string, from, to time.Time) ([]metricsource.Sample, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []metricsource.Sample
	for _, s := range f.samples[f.key(deviceID, metric)] {
		if !s.ObservedAt.Before(from) && !s.ObservedAt.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSource) LastObservedAt(ctx context.Context, tenantID, deviceID, metric string) (*time.Time, error) {
	latest, err := f.Latest(ctx, tenantID, deviceID, metric)
	if err != nil || latest == nil {
		return nil, err
	}
	return &latest.ObservedAt, nil
}

func samplesAt(base time.Time, interval time.Duration, values ...float64) []metricsource.Sample {
	out := make([]metricsource.Sample, len(values))
	for i, v := range values {
		out[i] = metricsource.Sample{Value: v, ObservedAt: base.Add(time.Duration(i) * interval)}
	}
	return out
}

func thresholdRule(metric, op string, threshold float64) *rules.Rule {
	return &rules.Rule{
		AlertRule: models.AlertRule{ID: "r1", TenantID: "t1", RuleType: models.RuleTypeThreshold},
		Spec: rules.Spec{Threshold: &rules.ThresholdSpec{
			Metric: metric, Operator: op, Threshold: threshold,
		}},
	}
}

func TestEvalThreshold(t *testing.T) {
	now := time.Now()
	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/temperature": {{Value: 82.5, ObservedAt: now}},
	}}

	ev, err := evaluate(context.Background(), src, thresholdRule("temperature", rules.OpGT, 80), "d1", now)
	require.NoError(t, err)
	assert.True(t, ev.Breaching)
	assert.Equal(t, 82.5, ev.Observed)

	ev, err = evaluate(context.Background(), src, thresholdRule("temperature", rules.OpGT, 90), "d1", now)
	require.NoError(t, err)
	assert.False(t, ev.Breaching)
}

func TestEvalThreshold_NoDataIsNotABreach(t *testing.T) {
	now := time.Now()
	src := &fakeSource{samples: map[string][]metricsource.Sample{}}

	ev, err := evaluate(context.Background(), src, thresholdRule("temperature", rules.OpGT, 80), "d1", now)
	require.NoError(t, err)
	assert.False(t, ev.Breaching)
	assert.False(t, ev.HasValue)
}

func TestEvalThreshold_NaNTreatedAsAbsent(t *testing.T) {
	now := time.Now()
	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/temperature": {{Value: math.NaN(), ObservedAt: now}},
	}}

	ev, err := evaluate(context.Background(), src, thresholdRule("temperature", rules.OpGT, 80), "d1", now)
	require.NoError(t, err)
	assert.False(t, ev.Breaching)
	assert.False(t, ev.HasValue)
}

func TestEvalThreshold_SourceErrorPropagates(t *testing.T) {
	src := &fakeSource{err: metricsource.ErrUnavailable}
	_, err := evaluate(context.Background(), src, thresholdRule("temperature", rules.OpGT, 80), "d1", time.Now())
	assert.ErrorIs(t, err, metricsource.ErrUnavailable)
}

func TestCompareOperators(t *testing.T) {
	assert.True(t, compare(rules.OpGTE, 80, 80))
	assert.False(t, compare(rules.OpGT, 80, 80))
	assert.True(t, compare(rules.OpLT, 79, 80))
	assert.True(t, compare(rules.OpLTE, 80, 80))
	assert.True(t, compare(rules.OpEQ, 80, 80))
	assert.True(t, compare(rules.OpNEQ, 81, 80))
	assert.False(t, compare(rules.OpGT, math.NaN(), 80))
}

func TestEvalAnomaly_MinSamplesGuard(t *testing.T) {
	now := time.Now()
	base := now.Add(-30 * time.Minute)
	spec := &rules.AnomalySpec{Metric: "pressure", WindowMinutes: 60, ZThreshold: 3, MinSamples: 10}

	// 7 个样本不足 min_samples=10，无论最后一个值多离群都不触发
	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/pressure": samplesAt(base, time.Minute, 10, 10.1, 9.9, 10, 10.2, 9.8, 500),
	}}
	ev, err := evalAnomaly(context.Background(), src, "t1", "d1", spec, now)
	require.NoError(t, err)
	assert.False(t, ev.Breaching)
}

func TestEvalAnomaly_OutlierFires(t *testing.T) {
	now := time.Now()
	base := now.Add(-30 * time.Minute)
	spec := &rules.AnomalySpec{Metric: "pressure", WindowMinutes: 60, ZThreshold: 3, MinSamples: 5}

	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/pressure": samplesAt(base, time.Minute, 10, 10.5, 9.5, 10.2, 9.8, 10.1, 9.9, 50),
	}}
	ev, err := evalAnomaly(context.Background(), src, "t1", "d1", spec, now)
	require.NoError(t, err)
	assert.True(t, ev.Breaching)
	assert.Equal(t, 50.0, ev.Observed)

	// 基线 [8,12,8,12]：均值 10，标准差 2，最新值 16 的 z 分数恰好是 3。
	// 正好落在阈值上也算离群。
	src = &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/pressure": samplesAt(base, time.Minute, 8, 12, 8, 12, 16),
	}}
	ev, err = evalAnomaly(context.Background(), src, "t1", "d1", spec, now)
	require.NoError(t, err)
	assert.True(t, ev.Breaching)
	assert.Equal(t, 3.0, ev.Detail["z_score"])
}

func TestEvalAnomaly_ZeroStddevNoVerdict(t *testing.T) {
	now := time.Now()
	base := now.Add(-30 * time.Minute)
	spec := &rules.AnomalySpec{Metric: "pressure", WindowMinutes: 60, ZThreshold: 3, MinSamples: 5}

	// 基线完全平坦，z 分数无定义
	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/pressure": samplesAt(base, time.Minute, 10, 10, 10, 10, 10, 10),
	}}
	ev, err := evalAnomaly(context.Background(), src, "t1", "d1", spec, now)
	require.NoError(t, err)
	assert.False(t, ev.Breaching)
}

func TestEvalGap(t *testing.T) {
	now := time.Now()
	spec := &rules.GapSpec{Metric: "heartbeat", GapMinutes: 15}

	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"fresh/heartbeat": {{Value: 1, ObservedAt: now.Add(-5 * time.Minute)}},
		"stale/heartbeat": {{Value: 1, ObservedAt: now.Add(-20 * time.Minute)}},
	}}

	ev, err := evalGap(context.Background(), src, "t1", "fresh", spec, now)
	require.NoError(t, err)
	assert.False(t, ev.Breaching)

	ev, err = evalGap(context.Background(), src, "t1", "stale", spec, now)
	require.NoError(t, err)
	assert.True(t, ev.Breaching)

	// 从未上报也算缺失
	ev, err = evalGap(context.Background(), src, "t1", "silent", spec, now)
	require.NoError(t, err)
	assert.True(t, ev.Breaching)
}

func TestEvalWindow(t *testing.T) {
	now := time.Now()
	base := now.Add(-4 * time.Minute)
	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/flow": samplesAt(base, time.Minute, 2, 4, 6, 8),
	}}

	cases := []struct {
		agg       string
		op        string
		threshold float64
		breaching bool
		observed  float64
	}{
		{"avg", rules.OpGT, 4, true, 5},
		{"min", rules.OpLT, 3, true, 2},
		{"max", rules.OpGTE, 8, true, 8},
		{"sum", rules.OpGT, 25, false, 20},
		{"count", rules.OpGTE, 4, true, 4},
	}
	for _, tc := range cases {
		spec := &rules.WindowSpec{Metric: "flow", Aggregation: tc.agg, WindowSeconds: 600, Operator: tc.op, Threshold: tc.threshold}
		ev, err := evalWindow(context.Background(), src, "t1", "d1", spec, now)
		require.NoError(t, err, tc.agg)
		assert.Equal(t, tc.breaching, ev.Breaching, tc.agg)
		assert.Equal(t, tc.observed, ev.Observed, tc.agg)
	}
}

func TestEvalWindow_EmptyWindow(t *testing.T) {
	now := time.Now()
	src := &fakeSource{samples: map[string][]metricsource.Sample{}}

	// count 聚合空窗口得 0
	spec := &rules.WindowSpec{Metric: "flow", Aggregation: "count", WindowSeconds: 600, Operator: rules.OpLT, Threshold: 1}
	ev, err := evalWindow(context.Background(), src, "t1", "d1", spec, now)
	require.NoError(t, err)
	assert.True(t, ev.Breaching)

	// avg 聚合空窗口无结论
	spec.Aggregation = "avg"
	ev, err = evalWindow(context.Background(), src, "t1", "d1", spec, now)
	require.NoError(t, err)
	assert.False(t, ev.Breaching)
	assert.False(t, ev.HasValue)
}
