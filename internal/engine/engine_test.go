package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleetwatch/internal/alertstore"
	"fleetwatch/internal/database"
	applog "fleetwatch/internal/logger"
	"fleetwatch/internal/maintenance"
	"fleetwatch/internal/metricsource"
	"fleetwatch/internal/models"
	"fleetwatch/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	_ = applog.Init("error", "stderr")
	os.Exit(m.Run())
}

func newTestEngine(t *testing.T, src metricsource.Source) (*Engine, *alertstore.Store, *maintenance.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	alerts := alertstore.NewStore(db)
	maint := maintenance.NewStore(db)
	eng := New(rules.NewStore(db), alerts, maint, src, NewMemoryBreachStore(), Options{})
	return eng, alerts, maint
}

func testTask(ruleDuration int, windows []models.MaintenanceWindow, now time.Time) task {
	dur := ruleDuration
	rule := &rules.Rule{
		AlertRule: models.AlertRule{
			ID: "r1", TenantID: "t1", Name: "temp high", RuleType: models.RuleTypeThreshold,
			Severity: 2, DurationMinutes: &dur,
		},
		Spec: rules.Spec{Threshold: &rules.ThresholdSpec{Metric: "temperature", Operator: rules.OpGT, Threshold: 80}},
	}
	return task{
		rule:    rule,
		device:  models.Device{ID: "d1", TenantID: "t1", Name: "sensor-7", SiteID: "site-a", Type: "thermostat"},
		windows: windows,
		now:     now,
	}
}

func TestProcess_SustainedBreachOpensOnce(t *testing.T) {
	now := time.Now()
	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/temperature": {{Value: 95, ObservedAt: now}},
	}}
	eng, alerts, _ := newTestEngine(t, src)
	ctx := context.Background()

	// 10 分钟持续要求：第一个 tick 不触发
	require.NoError(t, eng.process(ctx, testTask(10, nil, now)))
	_, total, err := alerts.List(ctx, alertstore.ListFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Zero(t, total)

	// 10 分钟后触发一次
	require.NoError(t, eng.process(ctx, testTask(10, nil, now.Add(10*time.Minute))))
	open, total, err := alerts.List(ctx, alertstore.ListFilter{TenantID: "t1", Status: models.AlertStatusOpen})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, models.RuleTypeThreshold, open[0].AlertType)

	// 继续违规不新建告警，但按重复触发计数
	require.NoError(t, eng.process(ctx, testTask(10, nil, now.Add(11*time.Minute))))
	open, total, err = alerts.List(ctx, alertstore.ListFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, 2, open[0].TriggerCount)
	assert.Equal(t, models.AlertStatusOpen, open[0].Status)
}

func TestProcess_AutoClearOnRecovery(t *testing.T) {
	now := time.Now()
	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/temperature": {{Value: 95, ObservedAt: now}},
	}}
	eng, alerts, _ := newTestEngine(t, src)
	ctx := context.Background()

	require.NoError(t, eng.process(ctx, testTask(0, nil, now)))
	_, total, err := alerts.List(ctx, alertstore.ListFilter{TenantID: "t1", Status: models.AlertStatusOpen})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)

	// 恢复后系统自动关闭
	src.samples["d1/temperature"] = []metricsource.Sample{{Value: 70, ObservedAt: now.Add(time.Minute)}}
	require.NoError(t, eng.process(ctx, testTask(0, nil, now.Add(time.Minute))))

	closed, total, err := alerts.List(ctx, alertstore.ListFilter{TenantID: "t1", Status: models.AlertStatusClosed})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, models.SystemActor, closed[0].ClosedBy)
}

func TestProcess_MaintenanceSuppresses(t *testing.T) {
	now := time.Now()
	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/temperature": {{Value: 95, ObservedAt: now}},
	}}
	eng, alerts, _ := newTestEngine(t, src)
	ctx := context.Background()

	windows := []models.MaintenanceWindow{{SiteIDs: `["site-a"]`}}
	require.NoError(t, eng.process(ctx, testTask(0, windows, now)))
	_, total, err := alerts.List(ctx, alertstore.ListFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Zero(t, total)

	// 窗口结束后同一违规立即触发
	require.NoError(t, eng.process(ctx, testTask(0, nil, now.Add(time.Second))))
	_, total, err = alerts.List(ctx, alertstore.ListFilter{TenantID: "t1", Status: models.AlertStatusOpen})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestProcess_SuppressionKeepsAccumulating(t *testing.T) {
	now := time.Now()
	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/temperature": {{Value: 95, ObservedAt: now}},
	}}
	eng, alerts, _ := newTestEngine(t, src)
	ctx := context.Background()

	windows := []models.MaintenanceWindow{{SiteIDs: `["site-a"]`}}

	// 窗口内违规照常计时，满足持续要求也不创建告警
	require.NoError(t, eng.process(ctx, testTask(5, windows, now)))
	require.NoError(t, eng.process(ctx, testTask(5, windows, now.Add(5*time.Minute))))
	_, total, err := alerts.List(ctx, alertstore.ListFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Zero(t, total)

	// 窗口结束 1 秒后立即触发，不重新等待 5 分钟
	require.NoError(t, eng.process(ctx, testTask(5, nil, now.Add(5*time.Minute+time.Second))))
	_, total, err = alerts.List(ctx, alertstore.ListFilter{TenantID: "t1", Status: models.AlertStatusOpen})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestProcess_MultiRuleAllMode(t *testing.T) {
	now := time.Now()
	src := &fakeSource{samples: map[string][]metricsource.Sample{
		"d1/temperature": {{Value: 95, ObservedAt: now}},
		"d1/humidity":    {{Value: 10, ObservedAt: now}},
	}}
	eng, alerts, _ := newTestEngine(t, src)
	ctx := context.Background()

	dur := 0
	multi := task{
		rule: &rules.Rule{
			AlertRule: models.AlertRule{
				ID: "r2", TenantID: "t1", Name: "hot and dry", RuleType: models.RuleTypeMulti,
				Severity: 1, DurationMinutes: &dur,
			},
			Spec: rules.Spec{Multi: &rules.MultiSpec{
				MatchMode: rules.MatchAll,
				Conditions: []rules.ConditionSpec{
					{Metric: "temperature", Operator: rules.OpGT, Threshold: 80},
					{Metric: "humidity", Operator: rules.OpLT, Threshold: 20},
				},
			}},
		},
		device: models.Device{ID: "d1", TenantID: "t1", Name: "sensor-7"},
		now:    now,
	}

	require.NoError(t, eng.process(ctx, multi))
	_, total, err := alerts.List(ctx, alertstore.ListFilter{TenantID: "t1", Status: models.AlertStatusOpen})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// 湿度恢复后 all 模式不再满足，告警自动关闭
	src.samples["d1/humidity"] = []metricsource.Sample{{Value: 50, ObservedAt: now.Add(time.Minute)}}
	multi.now = now.Add(time.Minute)
	require.NoError(t, eng.process(ctx, multi))

	_, total, err = alerts.List(ctx, alertstore.ListFilter{TenantID: "t1", Status: models.AlertStatusClosed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestPartitionStable(t *testing.T) {
	fp := alertstore.Fingerprint("t1", "r1", "d1")
	idx := partition(fp, 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, idx, partition(fp, 8))
	}
	assert.GreaterOrEqual(t, idx, 0)
	assert.Less(t, idx, 8)
}
