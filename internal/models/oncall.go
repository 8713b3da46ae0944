package models

import "time"

// Rotation kinds for an on-call layer.
const (
	RotationDaily  = "daily"
	RotationWeekly = "weekly"
	RotationCustom = "custom"
)

// OncallSchedule 值班表：按 LayerOrder 排序的多个轮换层 + 临时覆盖。
type OncallSchedule struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	TenantID  string    `gorm:"size:64;index" json:"tenant_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Layers    []OncallLayer    `gorm:"foreignKey:ScheduleID" json:"layers,omitempty"`
	Overrides []OncallOverride `gorm:"foreignKey:ScheduleID" json:"overrides,omitempty"`
}

func (OncallSchedule) TableName() string {
	return "oncall_schedules"
}

// OncallLayer defines one rotation. Daily rotations hand off at
// HandoffHour and weekly at HandoffDay/HandoffHour; ShiftDurationHours
// overrides their one-day/one-week shift length when set. Custom
// rotations run ShiftDurationHours-long shifts from the explicit
// AnchorAt timestamp. Responders is a JSON string array rotated through
// in order.
type OncallLayer struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	ScheduleID         string     `gorm:"size:64;index;not null" json:"schedule_id"`
	LayerOrder         int        `gorm:"not null" json:"layer_order"`
	Name               string     `gorm:"size:255" json:"name"`
	Rotation           string     `gorm:"size:32;not null" json:"rotation"` // daily, weekly, custom
	ShiftDurationHours int        `gorm:"not null" json:"shift_duration_hours"`
	HandoffDay         int        `json:"handoff_day"` // 0-6, Sunday=0 (weekly only)
	HandoffHour        int        `json:"handoff_hour"`
	AnchorAt           *time.Time `json:"anchor_at"` // custom rotations only
	Responders         string     `gorm:"type:text;not null" json:"responders"`
	CreatedAt          time.Time  `json:"created_at"`
}

func (OncallLayer) TableName() string {
	return "oncall_layers"
}

// OncallOverride pins a responder for [StartAt, EndAt), beating the
// computed rotation.
type OncallOverride struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ScheduleID string    `gorm:"size:64;index;not null" json:"schedule_id"`
	Responder  string    `gorm:"size:255;not null" json:"responder"`
	StartAt    time.Time `gorm:"not null" json:"start_at"`
	EndAt      time.Time `gorm:"not null" json:"end_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (OncallOverride) TableName() string {
	return "oncall_overrides"
}
