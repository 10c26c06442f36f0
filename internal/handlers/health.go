package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
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

	// Active session count
	var activeSessions int64
	models.GetDB().Model(&models.RefreshToken{}).
		Where("revoked_at IS NULL AND expires_at > CURRENT_TIMESTAMP").
		Count(&activeSessions)

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "kvasir",
		"components": gin.H{
			"database":        dbStatus,
			"queue_mode":      queueMode,
			"active_sessions": activeSessions,
		},
	})
}
