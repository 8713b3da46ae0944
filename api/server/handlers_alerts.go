package server

import (
	"errors"
	"net/http"
	"time"

	"fleetwatch/internal/alertstore"
	"fleetwatch/internal/esarchive"

	"github.com/gin-gonic/gin"
)

func (s *Server) listAlerts(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		Status   string `json:"status"`
		RuleID   string `json:"rule_id"`
		DeviceID string `json:"device_id"`
		Severity int    `json:"severity"`
		Limit    int    `json:"limit"`
		Offset   int    `json:"offset"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alerts, total, err := s.alerts.List(c.Request.Context(), alertstore.ListFilter{
		TenantID: req.TenantID,
		Status:   req.Status,
		RuleID:   req.RuleID,
		DeviceID: req.DeviceID,
		Severity: req.Severity,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "total": total})
}

func (s *Server) getAlert(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := s.alerts.Get(c.Request.Context(), req.TenantID, req.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) ackAlert(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
		Actor    string `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := s.alerts.Acknowledge(c.Request.Context(), req.TenantID, req.ID, req.Actor, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, alertstore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		case errors.Is(err, alertstore.ErrClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "Alert is closed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to acknowledge alert"})
		}
		return
	}

	s.archiver.Transition(esarchive.EventAcknowledged, alert, req.Actor)
	c.JSON(http.StatusOK, alert)
}

func (s *Server) closeAlert(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
		Actor    string `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := s.alerts.Close(c.Request.Context(), req.TenantID, req.ID, req.Actor, time.Now())
	if err != nil {
		if errors.Is(err, alertstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to close alert"})
		return
	}

	s.archiver.Transition(esarchive.EventClosed, alert, req.Actor)
	c.JSON(http.StatusOK, alert)
}

func (s *Server) silenceAlert(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
		Minutes  int    `json:"minutes" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	until := time.Now().Add(time.Duration(req.Minutes) * time.Minute)
	alert, err := s.alerts.Silence(c.Request.Context(), req.TenantID, req.ID, until)
	if err != nil {
		switch {
		case errors.Is(err, alertstore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		case errors.Is(err, alertstore.ErrClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "Alert is closed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to silence alert"})
		}
		return
	}

	s.archiver.Transition(esarchive.EventSilenced, alert, "")
	c.JSON(http.StatusOK, alert)
}
