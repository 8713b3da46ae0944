package alertstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"fleetwatch/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when an alert does not exist for the tenant.
	ErrNotFound = errors.New("alert not found")
	// ErrClosed is returned when a transition targets a CLOSED alert.
	ErrClosed = errors.New("alert is closed")
	// ErrConflict is returned when concurrent writers collide on the same
	// fingerprint twice in a row. Callers drop the trigger; the next tick
	// lands on the row the winner created.
	ErrConflict = errors.New("alert store conflict")
)

// Fingerprint derives the dedup identity of an alert stream. Same rule,
// same device, same fingerprint, regardless of observed values.
func Fingerprint(tenantID, ruleID, deviceID string) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + ruleID + "|" + deviceID))
	return hex.EncodeToString(sum[:])
}

// Store persists alerts. A partial unique index on (fingerprint) WHERE
// status <> 'CLOSED' — emulated on MySQL by a unique generated column,
// see internal/database — guarantees at most one live alert per
// fingerprint under concurrent triggers.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Trigger records a breach firing. If a live alert already exists for
// the fingerprint it is refreshed in place (trigger_count, timestamps,
// details) and its status left alone, so an acknowledged alert stays
// acknowledged through re-breaches. Otherwise a new OPEN alert is
// created. Returns the resulting alert and whether it was newly created.
func (s *Store) Trigger(ctx context.Context, candidate *models.Alert) (*models.Alert, bool, error) {
	alert, created, err := s.tryTrigger(ctx, candidate)
	if err == nil {
		return alert, created, nil
	}
	// Lost a create race: another worker inserted the row between our
	// lookup and insert. One immediate retry lands on their row.
	alert, created, err = s.tryTrigger(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("%w: fingerprint %s: %v", ErrConflict, candidate.Fingerprint, err)
	}
	return alert, created, nil
}

func (s *Store) tryTrigger(ctx context.Context, candidate *models.Alert) (*models.Alert, bool, error) {
	var existing models.Alert
	err := s.db.WithContext(ctx).
		Where("fingerprint = ? AND status <> ?", candidate.Fingerprint, models.AlertStatusClosed).
		First(&existing).Error

	if err == nil {
		updates := map[string]interface{}{
			"last_triggered_at": candidate.LastTriggeredAt,
			"trigger_count":     gorm.Expr("trigger_count + 1"),
			"severity":          candidate.Severity,
			"summary":           candidate.Summary,
			"details":           candidate.Details,
		}
		if uerr := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; uerr != nil {
			return nil, false, uerr
		}
		existing.LastTriggeredAt = candidate.LastTriggeredAt
		existing.TriggerCount++
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	fresh := *candidate
	if fresh.ID == "" {
		fresh.ID = uuid.New().String()
	}
	fresh.Status = models.AlertStatusOpen
	fresh.TriggerCount = 1

	// DoNothing + the unique constraint turns a concurrent insert into
	// RowsAffected == 0 on every driver instead of a driver error.
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "fingerprint"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Neq{Column: clause.Column{Name: "status"}, Value: models.AlertStatusClosed}}},
		DoNothing:   true,
	}).Create(&fresh)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, errors.New("concurrent insert on fingerprint")
	}
	return &fresh, true, nil
}

// Acknowledge marks an alert as being handled, which stops escalation.
// Acknowledging an already-acknowledged alert is a no-op.
func (s *Store) Acknowledge(ctx context.Context, tenantID, id, actor string, now time.Time) (*models.Alert, error) {
	alert, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	switch alert.Status {
	case models.AlertStatusClosed:
		return nil, ErrClosed
	case models.AlertStatusAcknowledged:
		return alert, nil
	}

	updates := map[string]interface{}{
		"status":          models.AlertStatusAcknowledged,
		"acknowledged_by": actor,
		"acknowledged_at": now,
	}
	if err := s.db.WithContext(ctx).Model(alert).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	alert.Status = models.AlertStatusAcknowledged
	alert.AcknowledgedBy = actor
	alert.AcknowledgedAt = &now
	return alert, nil
}

// Close terminates an alert. Closing an already-closed alert is a no-op.
// A later breach on the same fingerprint opens a fresh row.
func (s *Store) Close(ctx context.Context, tenantID, id, actor string, now time.Time) (*models.Alert, error) {
	alert, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if alert.Status == models.AlertStatusClosed {
		return alert, nil
	}

	updates := map[string]interface{}{
		"status":    models.AlertStatusClosed,
		"closed_by": actor,
		"closed_at": now,
	}
	if err := s.db.WithContext(ctx).Model(alert).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to close alert: %w", err)
	}
	alert.Status = models.AlertStatusClosed
	alert.ClosedBy = actor
	alert.ClosedAt = &now
	return alert, nil
}

// Silence mutes dispatch and escalation until the given time. The alert
// stays live and keeps counting triggers.
func (s *Store) Silence(ctx context.Context, tenantID, id string, until time.Time) (*models.Alert, error) {
	alert, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if alert.Status == models.AlertStatusClosed {
		return nil, ErrClosed
	}
	if err := s.db.WithContext(ctx).Model(alert).Update("silenced_until", until).Error; err != nil {
		return nil, fmt.Errorf("failed to silence alert: %w", err)
	}
	alert.SilencedUntil = &until
	return alert, nil
}

// AutoClear closes the live alert for a fingerprint on behalf of the
// system, used when the breach condition resolves. No-op when nothing is
// live.
func (s *Store) AutoClear(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("fingerprint = ? AND status <> ?", fingerprint, models.AlertStatusClosed).
		Updates(map[string]interface{}{
			"status":    models.AlertStatusClosed,
			"closed_by": models.SystemActor,
			"closed_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to auto-clear alert: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (*models.Alert, error) {
	var alert models.Alert
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	err := q.First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	return &alert, nil
}

// ListFilter narrows List results; zero values mean "any".
type ListFilter struct {
	TenantID string
	Status   string
	RuleID   string
	DeviceID string
	Severity int
	Limit    int
	Offset   int
}

func (s *Store) List(ctx context.Context, filter ListFilter) ([]models.Alert, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Alert{})
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.RuleID != "" {
		q = q.Where("rule_id = ?", filter.RuleID)
	}
	if filter.DeviceID != "" {
		q = q.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Severity > 0 {
		q = q.Where("severity = ?", filter.Severity)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var alerts []models.Alert
	err := q.Order("last_triggered_at DESC").Limit(limit).Offset(filter.Offset).Find(&alerts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, total, nil
}

// OpenCountBySeverity feeds the open-alert gauges.
func (s *Store) OpenCountBySeverity(ctx context.Context) (map[int]int64, error) {
	type row struct {
		Severity int
		Count    int64
	}
	var counts []row
	err := s.db.WithContext(ctx).Model(&models.Alert{}).
		Select("severity, COUNT(*) as count").
		Where("status <> ?", models.AlertStatusClosed).
		Group("severity").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count open alerts: %w", err)
	}
	out := make(map[int]int64, len(counts))
	for _, c := range counts {
		out[c.Severity] = c.Count
	}
	return out, nil
}
