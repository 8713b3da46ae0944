package server

import (
	"errors"
	"net/http"
	"time"

	"fleetwatch/internal/escalation"
	"fleetwatch/internal/maintenance"
	"fleetwatch/internal/models"
	"fleetwatch/internal/oncall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ---- Devices ----

func (s *Server) addDevice(c *gin.Context) {
	var device models.Device
	if err := c.ShouldBindJSON(&device); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	if device.Status == "" {
		device.Status = models.DeviceStatusOnline
	}

	if err := s.db.WithContext(c.Request.Context()).Create(&device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create device"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": device.ID, "message": "Device created successfully"})
}

func (s *Server) listDevices(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		SiteID   string `json:"site_id"`
		Type     string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q := s.db.WithContext(c.Request.Context()).Model(&models.Device{})
	if req.TenantID != "" {
		q = q.Where("tenant_id = ?", req.TenantID)
	}
	if req.SiteID != "" {
		q = q.Where("site_id = ?", req.SiteID)
	}
	if req.Type != "" {
		q = q.Where("type = ?", req.Type)
	}

	var devices []models.Device
	if err := q.Find(&devices).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list devices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) removeDevice(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := s.db.WithContext(c.Request.Context()).
		Where("id = ? AND tenant_id = ?", req.ID, req.TenantID).
		Delete(&models.Device{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete device"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device deleted successfully"})
}

// ---- Telemetry ingest ----

func (s *Server) ingestTelemetry(c *gin.Context) {
	var req struct {
		Readings []models.TelemetryReading `json:"readings" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	for i := range req.Readings {
		if req.Readings[i].ObservedAt.IsZero() {
			req.Readings[i].ObservedAt = now
		}
	}

	if err := s.db.WithContext(c.Request.Context()).CreateInBatches(req.Readings, 500).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest readings"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ingested": len(req.Readings)})
}

// ---- Maintenance windows ----

func (s *Server) addMaintenanceWindow(c *gin.Context) {
	var window models.MaintenanceWindow
	if err := c.ShouldBindJSON(&window); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.maint.Create(c.Request.Context(), &window); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": window.ID, "message": "Maintenance window created successfully"})
}

func (s *Server) listMaintenanceWindows(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	windows, err := s.maint.List(c.Request.Context(), req.TenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list maintenance windows"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"windows": windows})
}

func (s *Server) updateMaintenanceWindow(c *gin.Context) {
	var window models.MaintenanceWindow
	if err := c.ShouldBindJSON(&window); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if window.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	if err := s.maint.Update(c.Request.Context(), &window); err != nil {
		if errors.Is(err, maintenance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Maintenance window not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Maintenance window updated successfully"})
}

func (s *Server) removeMaintenanceWindow(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.maint.Delete(c.Request.Context(), req.TenantID, req.ID); err != nil {
		if errors.Is(err, maintenance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Maintenance window not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete maintenance window"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Maintenance window deleted successfully"})
}

// ---- Escalation policies ----

func (s *Server) addEscalationPolicy(c *gin.Context) {
	var policy models.EscalationPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.policies.Create(c.Request.Context(), &policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": policy.ID, "message": "Escalation policy created successfully"})
}

func (s *Server) listEscalationPolicies(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policies, err := s.policies.List(c.Request.Context(), req.TenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list escalation policies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

func (s *Server) getEscalationPolicy(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := s.policies.Get(c.Request.Context(), req.TenantID, req.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Escalation policy not found"})
		return
	}
	c.JSON(http.StatusOK, policy)
}

func (s *Server) removeEscalationPolicy(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.policies.Delete(c.Request.Context(), req.TenantID, req.ID); err != nil {
		if errors.Is(err, escalation.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Escalation policy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete escalation policy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Escalation policy deleted successfully"})
}

// ---- On-call schedules ----

func (s *Server) addOncallSchedule(c *gin.Context) {
	var schedule models.OncallSchedule
	if err := c.ShouldBindJSON(&schedule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.oncall.Create(c.Request.Context(), &schedule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": schedule.ID, "message": "Oncall schedule created successfully"})
}

func (s *Server) listOncallSchedules(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	schedules, err := s.oncall.List(c.Request.Context(), req.TenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list oncall schedules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}

func (s *Server) getOncallSchedule(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	schedule, err := s.oncall.Get(c.Request.Context(), req.TenantID, req.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Oncall schedule not found"})
		return
	}
	c.JSON(http.StatusOK, schedule)
}

func (s *Server) removeOncallSchedule(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.oncall.Delete(c.Request.Context(), req.TenantID, req.ID); err != nil {
		if errors.Is(err, oncall.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Oncall schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete oncall schedule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Oncall schedule deleted successfully"})
}

func (s *Server) addOncallOverride(c *gin.Context) {
	var req struct {
		TenantID   string    `json:"tenant_id"`
		ScheduleID string    `json:"schedule_id" binding:"required"`
		Responder  string    `json:"responder" binding:"required"`
		StartAt    time.Time `json:"start_at" binding:"required"`
		EndAt      time.Time `json:"end_at" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	override := &models.OncallOverride{
		ScheduleID: req.ScheduleID,
		Responder:  req.Responder,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
	}
	if err := s.oncall.AddOverride(c.Request.Context(), req.TenantID, override); err != nil {
		if errors.Is(err, oncall.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Oncall schedule not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Override created successfully"})
}

func (s *Server) currentOncall(c *gin.Context) {
	var req struct {
		TenantID   string `json:"tenant_id"`
		ScheduleID string `json:"schedule_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.oncall.Resolve(c.Request.Context(), req.TenantID, req.ScheduleID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, oncall.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Oncall schedule not found"})
		case errors.Is(err, oncall.ErrNoResponder):
			c.JSON(http.StatusNotFound, gin.H{"error": "No responder on duty"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve oncall"})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}
