package models

import "time"

// Escalation target types.
const (
	EscalationTargetWebhook = "webhook"
	EscalationTargetEmail   = "email"
	EscalationTargetOncall  = "oncall"
)

// EscalationPolicy 升级策略：有序的延迟通知级别。
type EscalationPolicy struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	TenantID  string    `gorm:"size:64;index" json:"tenant_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Levels []EscalationLevel `gorm:"foreignKey:PolicyID" json:"levels,omitempty"`
}

func (EscalationPolicy) TableName() string {
	return "escalation_policies"
}

// EscalationLevel is one step in a policy. DelayMinutes counts from the
// previous level's firing (from alert creation for the first level).
// TargetRef is a webhook URL, an email address, or an on-call schedule ID
// depending on TargetType.
type EscalationLevel struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PolicyID     string    `gorm:"size:64;index;not null" json:"policy_id"`
	LevelOrder   int       `gorm:"not null" json:"level_order"`
	DelayMinutes int       `json:"delay_minutes"`
	TargetType   string    `gorm:"size:32;not null" json:"target_type"`
	TargetRef    string    `gorm:"size:512;not null" json:"target_ref"`
	CreatedAt    time.Time `json:"created_at"`
}

func (EscalationLevel) TableName() string {
	return "escalation_levels"
}
