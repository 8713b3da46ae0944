package maintenance

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

// ErrNotFound is returned when a window does not exist for the tenant.
var ErrNotFound = errors.New("maintenance window not found")

// Store persists maintenance windows and answers suppression queries.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, w *models.MaintenanceWindow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if err := validate(w); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("failed to create maintenance window: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, w *models.MaintenanceWindow) error {
	if err := validate(w); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", w.ID, w.TenantID).
		Save(w)
	if res.Error != nil {
		return fmt.Errorf("failed to update maintenance window: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.MaintenanceWindow{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete maintenance window: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, tenantID string) ([]models.MaintenanceWindow, error) {
	var out []models.MaintenanceWindow
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list maintenance windows: %w", err)
	}
	return out, nil
}

func validate(w *models.MaintenanceWindow) error {
	if w.Recurring {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
			return errors.New("recurring window hours must be 0-23")
		}
		var days []int
		if w.DaysOfWeek != "" {
			if err := json.Unmarshal([]byte(w.DaysOfWeek), &days); err != nil {
				return fmt.Errorf("bad days_of_week: %w", err)
			}
		}
		for _, d := range days {
			if d < 0 || d > 6 {
				return errors.New("days_of_week values must be 0-6")
			}
		}
	} else if w.EndsAt != nil && !w.EndsAt.After(w.StartsAt) {
		return errors.New("ends_at must be after starts_at")
	}
	return nil
}

// ActiveWindows returns the tenant's windows that are active at now.
// Suppression ends the instant a window does: a breach one second later
// alerts normally.
func (s *Store) ActiveWindows(ctx context.Context, tenantID string, now time.Time) ([]models.MaintenanceWindow, error) {
	var windows []models.MaintenanceWindow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Find(&windows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load maintenance windows: %w", err)
	}

	active := windows[:0]
	for _, w := range windows {
		if Active(&w, now) {
			active = append(active, w)
		}
	}
	return active, nil
}

// Active reports whether a window covers the instant now.
func Active(w *models.MaintenanceWindow, now time.Time) bool {
	if !w.Enabled {
		return false
	}
	if !w.Recurring {
		if now.Before(w.StartsAt) {
			return false
		}
		return w.EndsAt == nil || now.Before(*w.EndsAt)
	}
	return recurringActive(w, now)
}

// recurringActive handles weekday + hour-range windows, including ones
// that wrap past midnight (e.g. 22:00-06:00): the early-morning part
// belongs to the previous day's occurrence.
func recurringActive(w *models.MaintenanceWindow, now time.Time) bool {
	hour := now.Hour()
	day := int(now.Weekday())

	if w.StartHour == w.EndHour {
		return false
	}

	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour && dayMatches(w.DaysOfWeek, day)
	}

	// 跨午夜窗口
	if hour >= w.StartHour {
		return dayMatches(w.DaysOfWeek, day)
	}
	if hour < w.EndHour {
		prev := (day + 6) % 7
		return dayMatches(w.DaysOfWeek, prev)
	}
	return false
}

func dayMatches(daysJSON string, day int) bool {
	if daysJSON == "" {
		return true
	}
	var days []int
	if err := json.Unmarshal([]byte(daysJSON), &days); err != nil {
		return false
	}
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// Covers reports whether an active window's scope matches the device.
// Empty site and type lists match every device.
func Covers(w *models.MaintenanceWindow, device *models.Device) bool {
	if !listMatches(w.SiteIDs, device.SiteID) {
		return false
	}
	return listMatches(w.DeviceTypes, device.Type)
}

func listMatches(listJSON, value string) bool {
	if listJSON == "" {
		return true
	}
	var items []string
	if err := json.Unmarshal([]byte(listJSON), &items); err != nil {
		return false
	}
	if len(items) == 0 {
		return true
	}
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}

// Suppressed reports whether any of the active windows covers the
// device.
func Suppressed(windows []models.MaintenanceWindow, device *models.Device) bool {
	for i := range windows {
		if Covers(&windows[i], device) {
			return true
		}
	}
	return false
}
