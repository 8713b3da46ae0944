package models

import "time"

// MaintenanceWindow 维护窗口：窗口激活期间匹配到的设备不产生新告警。
// 一次性窗口用 StartsAt/EndsAt；Recurring 为 true 时按星期几 + 小时段重复。
type MaintenanceWindow struct {
	ID       string `gorm:"primaryKey;size:64" json:"id"`
	TenantID string `gorm:"size:64;index" json:"tenant_id"`
	Name     string `gorm:"size:255" json:"name"`
	Enabled  bool   `gorm:"default:true" json:"enabled"`

	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"` // nil = indefinite

	Recurring  bool   `gorm:"default:false" json:"recurring"`
	DaysOfWeek string `gorm:"type:text" json:"days_of_week"` // JSON array of 0-6, Sunday=0
	StartHour  int    `json:"start_hour"`
	EndHour    int    `json:"end_hour"`

	// Scoping filters; empty JSON array (or empty string) matches all.
	SiteIDs     string `gorm:"type:text" json:"site_ids"`
	DeviceTypes string `gorm:"type:text" json:"device_types"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MaintenanceWindow) TableName() string {
	return "maintenance_windows"
}
