package models

import "time"

// Alert lifecycle states. CLOSED is terminal; a later breach on the same
// fingerprint opens a fresh row.
const (
	AlertStatusOpen         = "OPEN"
	AlertStatusAcknowledged = "ACKNOWLEDGED"
	AlertStatusClosed       = "CLOSED"
)

// SystemActor tags lifecycle transitions performed by the engine itself,
// e.g. auto-clear when the underlying condition resolves.
const SystemActor = "system"

// Alert 告警记录。同一 fingerprint 最多存在一条非 CLOSED 记录，
// 由 alerts 表上的部分唯一索引保证（见 internal/database）。
type Alert struct {
	ID       string `gorm:"primaryKey;size:64" json:"id"`
	TenantID string `gorm:"size:64;index" json:"tenant_id"`
	RuleID   string `gorm:"size:64;index" json:"rule_id"`
	DeviceID string `gorm:"size:64;index" json:"device_id"`

	AlertType   string `gorm:"size:32" json:"alert_type"` // rule type at firing time
	Severity    int    `json:"severity"`
	Fingerprint string `gorm:"size:64;index;not null" json:"fingerprint"`
	Status      string `gorm:"size:16;not null;default:OPEN" json:"status"`

	CreatedAt       time.Time `json:"created_at"`
	LastTriggeredAt time.Time `json:"last_triggered_at"`
	TriggerCount    int       `gorm:"default:1" json:"trigger_count"`

	SilencedUntil *time.Time `json:"silenced_until"`

	EscalationLevel int        `gorm:"default:0" json:"escalation_level"` // levels already fired
	LastEscalatedAt *time.Time `json:"last_escalated_at"`

	AcknowledgedBy string     `gorm:"size:128" json:"acknowledged_by"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	ClosedBy       string     `gorm:"size:128" json:"closed_by"`
	ClosedAt       *time.Time `json:"closed_at"`

	Summary string `gorm:"size:512" json:"summary"`
	Details string `gorm:"type:text" json:"details"` // JSON breach context: observed, threshold, window
}

func (Alert) TableName() string {
	return "alerts"
}

// Silenced reports whether dispatch and escalation are muted at now.
func (a *Alert) Silenced(now time.Time) bool {
	return a.SilencedUntil != nil && a.SilencedUntil.After(now)
}
