package escalation

import (
	"context"
	"errors"
	"fmt"

	"fleetwatch/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a policy does not exist for the tenant.
var ErrNotFound = errors.New("escalation policy not found")

// Store persists escalation policies and their ordered levels.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, policy *models.EscalationPolicy) error {
	if policy.ID == "" {
		policy.ID = uuid.New().String()
	}
	if len(policy.Levels) == 0 {
		return errors.New("policy needs at least one level")
	}
	for i := range policy.Levels {
		level := &policy.Levels[i]
		level.PolicyID = policy.ID
		if level.LevelOrder != i+1 {
			return fmt.Errorf("levels must be numbered 1..n in order, got %d at position %d", level.LevelOrder, i)
		}
		if level.DelayMinutes < 0 {
			return fmt.Errorf("level %d: negative delay_minutes", level.LevelOrder)
		}
		switch level.TargetType {
		case models.EscalationTargetWebhook, models.EscalationTargetEmail, models.EscalationTargetOncall:
		default:
			return fmt.Errorf("level %d: unknown target type %q", level.LevelOrder, level.TargetType)
		}
		if level.TargetRef == "" {
			return fmt.Errorf("level %d: missing target_ref", level.LevelOrder)
		}
	}
	if err := s.db.WithContext(ctx).Create(policy).Error; err != nil {
		return fmt.Errorf("failed to create escalation policy: %w", err)
	}
	return nil
}

// Get loads a policy with its levels in firing order.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*models.EscalationPolicy, error) {
	var policy models.EscalationPolicy
	q := s.db.WithContext(ctx).
		Preload("Levels", func(db *gorm.DB) *gorm.DB { return db.Order("level_order ASC") }).
		Where("id = ?", id)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	err := q.First(&policy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load escalation policy: %w", err)
	}
	return &policy, nil
}

func (s *Store) List(ctx context.Context, tenantID string) ([]models.EscalationPolicy, error) {
	var out []models.EscalationPolicy
	q := s.db.WithContext(ctx).
		Preload("Levels", func(db *gorm.DB) *gorm.DB { return db.Order("level_order ASC") })
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list escalation policies: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&models.EscalationPolicy{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete escalation policy: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("policy_id = ?", id).Delete(&models.EscalationLevel{}).Error; err != nil {
			return fmt.Errorf("failed to delete escalation levels: %w", err)
		}
		return nil
	})
}
