package escalation

import (
	"context"
	"errors"
	"sync"
	"time"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/maintenance"
	"fleetwatch/internal/models"
	"fleetwatch/internal/notify"
	"fleetwatch/internal/oncall"
	"fleetwatch/internal/telemetry"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager walks OPEN alerts through their escalation policies on a
// timer. Acknowledging or closing an alert halts its progression;
// silenced or maintenance-suppressed alerts are skipped and re-checked
// next tick. Levels never repeat: after the final level the alert just
// stays open until a human acts.
type Manager struct {
	db         *gorm.DB
	policies   *Store
	oncall     *oncall.Store
	maint      *maintenance.Store
	dispatcher *notify.Dispatcher
	interval   time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewManager(db *gorm.DB, policies *Store, oncallStore *oncall.Store,
	maintStore *maintenance.Store, dispatcher *notify.Dispatcher, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Manager{
		db:         db,
		policies:   policies,
		oncall:     oncallStore,
		maint:      maintStore,
		dispatcher: dispatcher,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.Tick(ctx, now)
			}
		}
	}()
	logger.Log.Info("escalation manager started", zap.Duration("interval", m.interval))
}

func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	logger.Log.Info("escalation manager stopped")
}

type escalatable struct {
	models.Alert
	PolicyID string `gorm:"column:policy_id"`
}

// Tick advances every due alert by at most one level. Exposed for tests;
// the timer loop calls it with wall-clock time.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	var rows []escalatable
	err := m.db.WithContext(ctx).Table("alerts").
		Select("alerts.*, alert_rules.escalation_policy_id AS policy_id").
		Joins("JOIN alert_rules ON alert_rules.id = alerts.rule_id").
		Where("alerts.status = ? AND alert_rules.escalation_policy_id <> ''", models.AlertStatusOpen).
		Scan(&rows).Error
	if err != nil {
		logger.Log.Error("failed to list alerts for escalation", zap.Error(err))
		return
	}

	windowCache := make(map[string][]models.MaintenanceWindow)

	for i := range rows {
		if err := m.advance(ctx, &rows[i], windowCache, now); err != nil {
			logger.Log.Warn("escalation step failed",
				zap.String("alert_id", rows[i].ID), zap.Error(err))
		}
	}
}

func (m *Manager) advance(ctx context.Context, row *escalatable,
	windowCache map[string][]models.MaintenanceWindow, now time.Time) error {

	alert := &row.Alert
	if alert.Silenced(now) {
		return nil
	}

	suppressed, device, err := m.deviceSuppressed(ctx, alert, windowCache, now)
	if err != nil {
		return err
	}
	if suppressed {
		return nil
	}

	policy, err := m.policies.Get(ctx, alert.TenantID, row.PolicyID)
	if err != nil {
		return err
	}
	if alert.EscalationLevel >= len(policy.Levels) {
		return nil // final level already fired
	}
	next := policy.Levels[alert.EscalationLevel]

	// Delay counts from creation for the first level, from the previous
	// firing afterwards. Re-breaches do not reset the clock.
	anchor := alert.CreatedAt
	if alert.EscalationLevel > 0 && alert.LastEscalatedAt != nil {
		anchor = *alert.LastEscalatedAt
	}
	if now.Sub(anchor) < time.Duration(next.DelayMinutes)*time.Minute {
		return nil
	}

	targetType, target, err := m.resolveTarget(ctx, alert.TenantID, &next, now)
	if errors.Is(err, oncall.ErrNoResponder) {
		// 无法解析值班人，跳过本轮，下个 tick 重试
		logger.Log.Warn("escalation target unresolvable",
			zap.String("alert_id", alert.ID),
			zap.String("schedule_id", next.TargetRef))
		return nil
	}
	if err != nil {
		return err
	}

	// Guarded update makes the step idempotent: a concurrent manager (or
	// a re-run of the same tick) advances the level exactly once.
	res := m.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND status = ? AND escalation_level = ?",
			alert.ID, models.AlertStatusOpen, alert.EscalationLevel).
		Updates(map[string]interface{}{
			"escalation_level":  next.LevelOrder,
			"last_escalated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // someone else advanced it
	}

	alert.EscalationLevel = next.LevelOrder
	alert.LastEscalatedAt = &now

	telemetry.EscalationsFired.WithLabelValues(next.TargetType).Inc()
	logger.Log.Info("escalation level fired",
		zap.String("alert_id", alert.ID),
		zap.Int("level", next.LevelOrder),
		zap.String("target_type", next.TargetType))

	deviceName := alert.DeviceID
	if device != nil {
		deviceName = device.Name
	}
	m.dispatcher.Enqueue(&notify.Message{
		Alert:      alert,
		DeviceName: deviceName,
		TargetType: targetType,
		Target:     target,
		Level:      next.LevelOrder,
	})
	return nil
}

// resolveTarget turns a level's target into a deliverable one. On-call
// references resolve through the schedule to the responder on duty,
// delivered over email.
func (m *Manager) resolveTarget(ctx context.Context, tenantID string, level *models.EscalationLevel, now time.Time) (string, string, error) {
	if level.TargetType != models.EscalationTargetOncall {
		return level.TargetType, level.TargetRef, nil
	}
	res, err := m.oncall.Resolve(ctx, tenantID, level.TargetRef, now)
	if err != nil {
		return "", "", err
	}
	return models.EscalationTargetEmail, res.Responder, nil
}

func (m *Manager) deviceSuppressed(ctx context.Context, alert *models.Alert,
	windowCache map[string][]models.MaintenanceWindow, now time.Time) (bool, *models.Device, error) {

	var device models.Device
	err := m.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", alert.DeviceID, alert.TenantID).
		First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	windows, ok := windowCache[alert.TenantID]
	if !ok {
		windows, err = m.maint.ActiveWindows(ctx, alert.TenantID, now)
		if err != nil {
			return false, &device, err
		}
		windowCache[alert.TenantID] = windows
	}
	return maintenance.Suppressed(windows, &device), &device, nil
}
