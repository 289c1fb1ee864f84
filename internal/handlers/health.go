package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/openbusdata/busdq/backend/internal/models"
	"github.com/openbusdata/busdq/backend/internal/services"
)

// HealthHandler provides enhanced health check endpoints.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	// Database check
	dbStatus := "ok"
	sqlDB, err := models.GetDB().DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	// Queue mode
	taskQueue := services.GetTaskQueue()
	queueMode := "sync"
	if taskQueue != nil && taskQueue.IsAsync() {
		queueMode = "async (Redis)"
	}

	// Pending pipeline runs
	var pendingCount int64
	models.GetDB().Model(&models.Report{}).
		Where("status = ?", models.StatusPipelinePending).
		Count(&pendingCount)

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "busdq",
		"components": gin.H{
			"database":        dbStatus,
			"queue_mode":      queueMode,
			"pending_reports": pendingCount,
		},
	})
}
