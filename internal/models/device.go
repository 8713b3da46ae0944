package models

import "time"

// Device status values reported by the fleet.
const (
	DeviceStatusOnline      = "online"
	DeviceStatusOffline     = "offline"
	DeviceStatusMaintenance = "maintenance"
)

// Device 设备注册信息（用于规则作用域与维护窗口匹配）
type Device struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	TenantID      string    `gorm:"size:64;index;not null" json:"tenant_id"`
	Name          string    `gorm:"size:255" json:"name"`
	Type          string    `gorm:"size:64;index" json:"type"` // hardware class: thermostat, flow-meter, ...
	SiteID        string    `gorm:"size:64;index" json:"site_id"`
	DeviceGroupID string    `gorm:"size:64;index" json:"device_group_id"`
	Status        string    `gorm:"size:32;default:online" json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Device) TableName() string {
	return "devices"
}

// TelemetryReading 单条遥测数据点
type TelemetryReading struct {
	ID         uint64    `gorm:"primaryKey" json:"id"`
	TenantID   string    `gorm:"size:64;index" json:"tenant_id"`
	DeviceID   string    `gorm:"size:64;index:idx_readings_device_metric" json:"device_id"`
	Metric     string    `gorm:"size:128;index:idx_readings_device_metric" json:"metric"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `gorm:"index" json:"observed_at"`
}

func (TelemetryReading) TableName() string {
	return "telemetry_readings"
}
