package models

import "time"

// Rule types. The type is immutable after creation; Params holds the
// JSON-encoded variant payload for exactly one of these.
const (
	RuleTypeThreshold = "threshold"
	RuleTypeMulti     = "multi"
	RuleTypeAnomaly   = "anomaly"
	RuleTypeGap       = "gap"
	RuleTypeWindow    = "window"
)

// AlertRule 告警规则模型
type AlertRule struct {
	ID       string `gorm:"primaryKey;size:64" json:"id"`
	TenantID string `gorm:"size:64;index:idx_rules_tenant;not null" json:"tenant_id"`
	Name     string `gorm:"size:255;not null" json:"name"`
	RuleType string `gorm:"size:32;not null" json:"rule_type"` // threshold, multi, anomaly, gap, window
	Enabled  bool   `gorm:"default:true" json:"enabled"`
	Severity int    `gorm:"default:3" json:"severity"` // 1 (critical) .. 5 (info)

	// Scoping: empty values mean "all". SiteIDs is a JSON string array.
	SiteIDs        string `gorm:"type:text" json:"site_ids"`
	DeviceGroupID  string `gorm:"size:64" json:"device_group_id"`
	TargetDeviceID string `gorm:"size:64" json:"target_device_id"`

	// Sustain requirement; nil means fire on the first breaching tick.
	DurationMinutes *int `json:"duration_minutes"`

	// Params holds the type-specific payload as JSON, decoded and
	// validated by the rule store.
	Params string `gorm:"type:text;not null" json:"params"`

	EscalationPolicyID string `gorm:"size:64" json:"escalation_policy_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AlertRule) TableName() string {
	return "alert_rules"
}

// SeverityName maps the 1-5 severity scale to a display name.
func SeverityName(severity int) string {
	switch severity {
	case 1:
		return "critical"
	case 2:
		return "high"
	case 3:
		return "medium"
	case 4:
		return "low"
	default:
		return "info"
	}
}
