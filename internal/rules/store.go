package rules

import (
	"context"
	"errors"
	"fmt"

	"fleetwatch/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a rule does not exist for the tenant.
var ErrNotFound = errors.New("rule not found")

// Store persists alert rules and expands their device scope.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create validates the rule's variant payload and persists it. Invalid
// definitions are rejected here so the engine never sees them.
func (s *Store) Create(ctx context.Context, rule *models.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if _, err := Decode(rule); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// Update replaces a rule's mutable fields. The rule type is immutable;
// changing evaluation semantics means creating a new rule.
func (s *Store) Update(ctx context.Context, rule *models.AlertRule) error {
	var existing models.AlertRule
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", rule.ID, rule.TenantID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load rule: %w", err)
	}
	if rule.RuleType != "" && rule.RuleType != existing.RuleType {
		return fmt.Errorf("%w: rule %s: rule type is immutable", ErrConfig, rule.ID)
	}
	rule.RuleType = existing.RuleType
	if _, err := Decode(rule); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenantID, id string) (*models.AlertRule, error) {
	var rule models.AlertRule
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule: %w", err)
	}
	return &rule, nil
}

func (s *Store) List(ctx context.Context, tenantID string) ([]models.AlertRule, error) {
	var out []models.AlertRule
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.AlertRule{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnabled toggles a rule without touching its definition. Disabling
// does not close existing alerts; it only stops new evaluation.
func (s *Store) SetEnabled(ctx context.Context, tenantID, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&models.AlertRule{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("failed to toggle rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEnabled returns every enabled rule across all tenants, raw. The
// engine decodes each one per tick so a definition corrupted in place
// only skips that rule.
func (s *Store) ListEnabled(ctx context.Context) ([]models.AlertRule, error) {
	var out []models.AlertRule
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	return out, nil
}

// DeviceCountByStatus feeds the fleet gauges.
func (s *Store) DeviceCountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var counts []row
	err := s.db.WithContext(ctx).Model(&models.Device{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}
	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.Status] = c.Count
	}
	return out, nil
}

// TargetDevices expands a decoded rule's scope into concrete devices.
// Empty scope fields mean "all"; set fields intersect.
func (s *Store) TargetDevices(ctx context.Context, rule *Rule) ([]models.Device, error) {
	if rule.TargetDeviceID != "" {
		var dev models.Device
		err := s.db.WithContext(ctx).
			Where("id = ? AND tenant_id = ?", rule.TargetDeviceID, rule.TenantID).
			First(&dev).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load target device: %w", err)
		}
		return []models.Device{dev}, nil
	}

	q := s.db.WithContext(ctx).Where("tenant_id = ?", rule.TenantID)
	if len(rule.SiteIDs) > 0 {
		q = q.Where("site_id IN ?", rule.SiteIDs)
	}
	if rule.DeviceGroupID != "" {
		q = q.Where("device_group_id = ?", rule.DeviceGroupID)
	}

	var devices []models.Device
	if err := q.Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to expand rule scope: %w", err)
	}
	return devices, nil
}
