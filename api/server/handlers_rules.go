package server

import (
	"errors"
	"net/http"

	"fleetwatch/internal/models"
	"fleetwatch/internal/rules"

	"github.com/gin-gonic/gin"
)

func (s *Server) addRule(c *gin.Context) {
	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.rules.Create(c.Request.Context(), &rule); err != nil {
		if errors.Is(err, rules.ErrConfig) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create rule"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      rule.ID,
		"message": "Rule created successfully",
	})
}

func (s *Server) listRules(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := s.rules.List(c.Request.Context(), req.TenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": out})
}

func (s *Server) getRule(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := s.rules.Get(c.Request.Context(), req.TenantID, req.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) updateRule(c *gin.Context) {
	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if rule.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	if err := s.rules.Update(c.Request.Context(), &rule); err != nil {
		switch {
		case errors.Is(err, rules.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		case errors.Is(err, rules.ErrConfig):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update rule"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule updated successfully"})
}

func (s *Server) removeRule(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.rules.Delete(c.Request.Context(), req.TenantID, req.ID); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

func (s *Server) enableRule(c *gin.Context)  { s.toggleRule(c, true) }
func (s *Server) disableRule(c *gin.Context) { s.toggleRule(c, false) }

func (s *Server) toggleRule(c *gin.Context, enabled bool) {
	var req struct {
		TenantID string `json:"tenant_id"`
		ID       string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.rules.SetEnabled(c.Request.Context(), req.TenantID, req.ID, enabled); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to toggle rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule updated successfully", "enabled": enabled})
}
