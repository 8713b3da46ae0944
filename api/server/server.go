package server

import (
	"context"
	"net/http"
	"time"

	"fleetwatch/api/middleware"
	"fleetwatch/internal/alertstore"
	"fleetwatch/internal/config"
	"fleetwatch/internal/esarchive"
	"fleetwatch/internal/escalation"
	"fleetwatch/internal/maintenance"
	"fleetwatch/internal/oncall"
	"fleetwatch/internal/rules"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Server struct {
	router   *gin.Engine
	db       *gorm.DB
	rules    *rules.Store
	alerts   *alertstore.Store
	maint    *maintenance.Store
	policies *escalation.Store
	oncall   *oncall.Store
	archiver *esarchive.Archiver
	config   *config.Config
}

func NewServer(db *gorm.DB, ruleStore *rules.Store, alertStore *alertstore.Store,
	maintStore *maintenance.Store, policyStore *escalation.Store, oncallStore *oncall.Store,
	archiver *esarchive.Archiver, cfg *config.Config) *Server {

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	// Request timeout middleware
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	server := &Server{
		router:   router,
		db:       db,
		rules:    ruleStore,
		alerts:   alertStore,
		maint:    maintStore,
		policies: policyStore,
		oncall:   oncallStore,
		archiver: archiver,
		config:   cfg,
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	// Apply rate limiting to all API routes
	api := s.router.Group("/api/v1")
	api.Use(middleware.RateLimit())

	{
		// Alert rules - all using POST
		api.POST("/rule/add", s.addRule)
		api.POST("/rule/list", s.listRules)
		api.POST("/rule/get", s.getRule)
		api.POST("/rule/update", s.updateRule)
		api.POST("/rule/remove", s.removeRule)
		api.POST("/rule/enable", s.enableRule)
		api.POST("/rule/disable", s.disableRule)

		// Alert lifecycle - using POST
		api.POST("/alert/list", s.listAlerts)
		api.POST("/alert/get", s.getAlert)
		api.POST("/alert/ack", s.ackAlert)
		api.POST("/alert/close", s.closeAlert)
		api.POST("/alert/silence", s.silenceAlert)

		// Device registry - using POST
		api.POST("/device/add", s.addDevice)
		api.POST("/device/list", s.listDevices)
		api.POST("/device/remove", s.removeDevice)

		// Telemetry ingest - using POST
		api.POST("/telemetry/ingest", s.ingestTelemetry)

		// Maintenance windows - using POST
		api.POST("/maintenance/add", s.addMaintenanceWindow)
		api.POST("/maintenance/list", s.listMaintenanceWindows)
		api.POST("/maintenance/update", s.updateMaintenanceWindow)
		api.POST("/maintenance/remove", s.removeMaintenanceWindow)

		// Escalation policies - using POST
		api.POST("/escalation/policy/add", s.addEscalationPolicy)
		api.POST("/escalation/policy/list", s.listEscalationPolicies)
		api.POST("/escalation/policy/get", s.getEscalationPolicy)
		api.POST("/escalation/policy/remove", s.removeEscalationPolicy)

		// On-call schedules - using POST
		api.POST("/oncall/schedule/add", s.addOncallSchedule)
		api.POST("/oncall/schedule/list", s.listOncallSchedules)
		api.POST("/oncall/schedule/get", s.getOncallSchedule)
		api.POST("/oncall/schedule/remove", s.removeOncallSchedule)
		api.POST("/oncall/override/add", s.addOncallOverride)
		api.POST("/oncall/current", s.currentOncall)
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
