package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

// GetEmailConfig returns the SMTP settings with the password masked.
// GET /api/admin/config/email
func (h *SystemConfigHandler) GetEmailConfig(c *gin.Context) {
	response.Success(c, h.configService.GetEmailConfig())
}

// UpdateEmailConfig updates the SMTP settings.
// PUT /api/admin/config/email
func (h *SystemConfigHandler) UpdateEmailConfig(c *gin.Context) {
	var req services.UpdateEmailConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.configService.UpdateEmailConfig(&req); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "email config updated"})
}
