package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
)

type AuditLogHandler struct {
	auditService *services.AuditService
}

func NewAuditLogHandler(auditService *services.AuditService) *AuditLogHandler {
	return &AuditLogHandler{auditService: auditService}
}

// List returns a filtered page of audit events. Admin only.
// GET /api/admin/audit-logs
func (h *AuditLogHandler) List(c *gin.Context) {
	var req services.AuditListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.auditService.List(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}
