package maintenance

import (
	"testing"
	"time"

	"fleetwatch/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestActive_OneTimeWindow(t *testing.T) {
	start := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	w := &models.MaintenanceWindow{Enabled: true, StartsAt: start, EndsAt: &end}

	assert.False(t, Active(w, start.Add(-time.Second)))
	assert.True(t, Active(w, start))
	assert.True(t, Active(w, end.Add(-time.Second)))

	// 窗口结束的瞬间抑制立即解除
	assert.False(t, Active(w, end))
	assert.False(t, Active(w, end.Add(time.Second)))
}

func TestActive_IndefiniteWindow(t *testing.T) {
	start := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	w := &models.MaintenanceWindow{Enabled: true, StartsAt: start}

	assert.True(t, Active(w, start.Add(1000*time.Hour)))
	assert.False(t, Active(w, start.Add(-time.Second)))
}

func TestActive_DisabledWindow(t *testing.T) {
	start := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	w := &models.MaintenanceWindow{Enabled: false, StartsAt: start}
	assert.False(t, Active(w, start.Add(time.Hour)))
}

func TestActive_RecurringWindow(t *testing.T) {
	// 每周二 02:00-04:00
	w := &models.MaintenanceWindow{
		Enabled:    true,
		Recurring:  true,
		DaysOfWeek: `[2]`,
		StartHour:  2,
		EndHour:    4,
	}

	tuesday3am := time.Date(2026, 1, 13, 3, 0, 0, 0, time.UTC) // Tuesday
	assert.True(t, Active(w, tuesday3am))

	tuesday5am := time.Date(2026, 1, 13, 5, 0, 0, 0, time.UTC)
	assert.False(t, Active(w, tuesday5am))

	wednesday3am := time.Date(2026, 1, 14, 3, 0, 0, 0, time.UTC)
	assert.False(t, Active(w, wednesday3am))
}

func TestActive_RecurringOvernightWrap(t *testing.T) {
	// 每周五 22:00 - 周六 06:00
	w := &models.MaintenanceWindow{
		Enabled:    true,
		Recurring:  true,
		DaysOfWeek: `[5]`,
		StartHour:  22,
		EndHour:    6,
	}

	friday23 := time.Date(2026, 1, 16, 23, 0, 0, 0, time.UTC) // Friday
	assert.True(t, Active(w, friday23))

	// 周六凌晨属于周五的窗口
	saturday3am := time.Date(2026, 1, 17, 3, 0, 0, 0, time.UTC)
	assert.True(t, Active(w, saturday3am))

	saturday7am := time.Date(2026, 1, 17, 7, 0, 0, 0, time.UTC)
	assert.False(t, Active(w, saturday7am))

	// 周四晚上不匹配
	thursday23 := time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC)
	assert.False(t, Active(w, thursday23))
}

func TestCovers_Scoping(t *testing.T) {
	device := &models.Device{ID: "d1", SiteID: "site-a", Type: "thermostat"}

	all := &models.MaintenanceWindow{}
	assert.True(t, Covers(all, device))

	siteMatch := &models.MaintenanceWindow{SiteIDs: `["site-a","site-b"]`}
	assert.True(t, Covers(siteMatch, device))

	siteMiss := &models.MaintenanceWindow{SiteIDs: `["site-c"]`}
	assert.False(t, Covers(siteMiss, device))

	typeMatch := &models.MaintenanceWindow{DeviceTypes: `["thermostat"]`}
	assert.True(t, Covers(typeMatch, device))

	bothFilters := &models.MaintenanceWindow{SiteIDs: `["site-a"]`, DeviceTypes: `["flow-meter"]`}
	assert.False(t, Covers(bothFilters, device))
}

func TestSuppressed(t *testing.T) {
	device := &models.Device{ID: "d1", SiteID: "site-a", Type: "thermostat"}

	windows := []models.MaintenanceWindow{
		{SiteIDs: `["site-c"]`},
		{DeviceTypes: `["thermostat"]`},
	}
	assert.True(t, Suppressed(windows, device))
	assert.False(t, Suppressed(windows[:1], device))
	assert.False(t, Suppressed(nil, device))
}
