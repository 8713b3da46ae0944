package oncall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetwatch/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a schedule does not exist for the tenant.
var ErrNotFound = errors.New("oncall schedule not found")

// Store persists on-call schedules with their layers and overrides.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, schedule *models.OncallSchedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	for i := range schedule.Layers {
		schedule.Layers[i].ScheduleID = schedule.ID
		if err := validateLayer(&schedule.Layers[i]); err != nil {
			return err
		}
	}
	if err := s.db.WithContext(ctx).Create(schedule).Error; err != nil {
		return fmt.Errorf("failed to create oncall schedule: %w", err)
	}
	return nil
}

func validateLayer(layer *models.OncallLayer) error {
	switch layer.Rotation {
	case models.RotationDaily, models.RotationWeekly:
	case models.RotationCustom:
		if layer.AnchorAt == nil {
			return errors.New("custom rotation requires anchor_at")
		}
		if layer.ShiftDurationHours <= 0 {
			return errors.New("custom rotation requires positive shift_duration_hours")
		}
	default:
		return fmt.Errorf("unknown rotation %q", layer.Rotation)
	}
	if layer.HandoffDay < 0 || layer.HandoffDay > 6 {
		return errors.New("handoff_day must be 0-6")
	}
	if layer.HandoffHour < 0 || layer.HandoffHour > 23 {
		return errors.New("handoff_hour must be 0-23")
	}
	var responders []string
	if err := json.Unmarshal([]byte(layer.Responders), &responders); err != nil {
		return fmt.Errorf("bad responders list: %w", err)
	}
	if len(responders) == 0 {
		return errors.New("layer needs at least one responder")
	}
	return nil
}

// Get loads a schedule with its layers and overrides.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*models.OncallSchedule, error) {
	var schedule models.OncallSchedule
	q := s.db.WithContext(ctx).Preload("Layers").Preload("Overrides").Where("id = ?", id)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	err := q.First(&schedule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load oncall schedule: %w", err)
	}
	return &schedule, nil
}

func (s *Store) List(ctx context.Context, tenantID string) ([]models.OncallSchedule, error) {
	var out []models.OncallSchedule
	q := s.db.WithContext(ctx).Preload("Layers").Preload("Overrides")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list oncall schedules: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&models.OncallSchedule{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete oncall schedule: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("schedule_id = ?", id).Delete(&models.OncallLayer{}).Error; err != nil {
			return fmt.Errorf("failed to delete oncall layers: %w", err)
		}
		if err := tx.Where("schedule_id = ?", id).Delete(&models.OncallOverride{}).Error; err != nil {
			return fmt.Errorf("failed to delete oncall overrides: %w", err)
		}
		return nil
	})
}

// AddOverride pins a responder for a time range.
func (s *Store) AddOverride(ctx context.Context, tenantID string, override *models.OncallOverride) error {
	if !override.EndAt.After(override.StartAt) {
		return errors.New("override end_at must be after start_at")
	}
	if _, err := s.Get(ctx, tenantID, override.ScheduleID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(override).Error; err != nil {
		return fmt.Errorf("failed to create oncall override: %w", err)
	}
	return nil
}

// Resolve answers "who is on duty right now" for a schedule.
func (s *Store) Resolve(ctx context.Context, tenantID, id string, now time.Time) (*Resolution, error) {
	schedule, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return ResolveAt(schedule, now)
}
