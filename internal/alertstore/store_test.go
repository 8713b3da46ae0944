package alertstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fleetwatch/internal/database"
	"fleetwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// sqlite 单连接，避免并发测试中的 database is locked
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return NewStore(db)
}

func candidate(fp string, now time.Time) *models.Alert {
	return &models.Alert{
		TenantID:        "t1",
		RuleID:          "r1",
		DeviceID:        "d1",
		AlertType:       models.RuleTypeThreshold,
		Severity:        2,
		Fingerprint:     fp,
		LastTriggeredAt: now,
		Summary:         "high: temp on sensor-7",
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("t1", "r1", "d1")
	b := Fingerprint("t1", "r1", "d1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint("t1", "r1", "d2"))
	assert.NotEqual(t, a, Fingerprint("t2", "r1", "d1"))
}

func TestTrigger_DedupSameFingerprint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	fp := Fingerprint("t1", "r1", "d1")

	first, created, err := store.Trigger(ctx, candidate(fp, now))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.AlertStatusOpen, first.Status)
	assert.Equal(t, 1, first.TriggerCount)

	second, created, err := store.Trigger(ctx, candidate(fp, now.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.TriggerCount)
}

func TestTrigger_AcknowledgedSurvivesRebreach(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	fp := Fingerprint("t1", "r1", "d1")

	alert, _, err := store.Trigger(ctx, candidate(fp, now))
	require.NoError(t, err)

	_, err = store.Acknowledge(ctx, "t1", alert.ID, "alice", now)
	require.NoError(t, err)

	refreshed, created, err := store.Trigger(ctx, candidate(fp, now.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.AlertStatusAcknowledged, refreshed.Status)
	assert.Equal(t, "alice", refreshed.AcknowledgedBy)
}

func TestTrigger_ClosedFingerprintOpensFreshAlert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	fp := Fingerprint("t1", "r1", "d1")

	first, _, err := store.Trigger(ctx, candidate(fp, now))
	require.NoError(t, err)
	_, err = store.Close(ctx, "t1", first.ID, "bob", now)
	require.NoError(t, err)

	second, created, err := store.Trigger(ctx, candidate(fp, now.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.AlertStatusOpen, second.Status)
}

func TestTrigger_ConcurrentSameFingerprint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	fp := Fingerprint("t1", "r1", "d1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.Trigger(ctx, candidate(fp, now))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	alerts, total, err := store.List(ctx, ListFilter{TenantID: "t1", Status: models.AlertStatusOpen})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, 8, alerts[0].TriggerCount)
}

func TestAcknowledge_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	alert, _, err := store.Trigger(ctx, candidate(Fingerprint("t1", "r1", "d1"), now))
	require.NoError(t, err)

	first, err := store.Acknowledge(ctx, "t1", alert.ID, "alice", now)
	require.NoError(t, err)

	// 重复 ack 不改变任何字段
	again, err := store.Acknowledge(ctx, "t1", alert.ID, "bob", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "alice", again.AcknowledgedBy)
	assert.Equal(t, first.Status, again.Status)
}

func TestAcknowledge_ClosedFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	alert, _, err := store.Trigger(ctx, candidate(Fingerprint("t1", "r1", "d1"), now))
	require.NoError(t, err)
	_, err = store.Close(ctx, "t1", alert.ID, "bob", now)
	require.NoError(t, err)

	_, err = store.Acknowledge(ctx, "t1", alert.ID, "alice", now)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	alert, _, err := store.Trigger(ctx, candidate(Fingerprint("t1", "r1", "d1"), now))
	require.NoError(t, err)

	first, err := store.Close(ctx, "t1", alert.ID, "bob", now)
	require.NoError(t, err)

	again, err := store.Close(ctx, "t1", alert.ID, "carol", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "bob", again.ClosedBy)
	assert.Equal(t, first.ClosedAt.Unix(), again.ClosedAt.Unix())
}

func TestAutoClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	fp := Fingerprint("t1", "r1", "d1")

	alert, _, err := store.Trigger(ctx, candidate(fp, now))
	require.NoError(t, err)

	cleared, err := store.AutoClear(ctx, fp, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, cleared)

	got, err := store.Get(ctx, "t1", alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusClosed, got.Status)
	assert.Equal(t, models.SystemActor, got.ClosedBy)

	// 无存活告警时是幂等空操作
	cleared, err = store.AutoClear(ctx, fp, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestSilence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	alert, _, err := store.Trigger(ctx, candidate(Fingerprint("t1", "r1", "d1"), now))
	require.NoError(t, err)

	until := now.Add(30 * time.Minute)
	silenced, err := store.Silence(ctx, "t1", alert.ID, until)
	require.NoError(t, err)
	assert.True(t, silenced.Silenced(now))
	assert.False(t, silenced.Silenced(until.Add(time.Second)))
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a1 := candidate(Fingerprint("t1", "r1", "d1"), now)
	a2 := candidate(Fingerprint("t1", "r2", "d2"), now)
	a2.RuleID = "r2"
	a2.DeviceID = "d2"
	a2.Severity = 1
	_, _, err := store.Trigger(ctx, a1)
	require.NoError(t, err)
	_, _, err = store.Trigger(ctx, a2)
	require.NoError(t, err)

	alerts, total, err := store.List(ctx, ListFilter{TenantID: "t1", Severity: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "r2", alerts[0].RuleID)

	counts, err := store.OpenCountBySeverity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[1])
	assert.Equal(t, int64(1), counts[2])
}
