package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/middleware"
	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
)

type SessionHandler struct {
	refreshService *services.RefreshTokenService
}

func NewSessionHandler(refreshService *services.RefreshTokenService) *SessionHandler {
	return &SessionHandler{refreshService: refreshService}
}

type sessionInfo struct {
	FamilyID   string `json:"family_id"`
	DeviceInfo string `json:"device_info"`
	IP         string `json:"ip"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at"`
}

// List returns the active sessions (one per token family) of the current user.
// GET /api/auth/sessions
func (h *SessionHandler) List(c *gin.Context) {
	tokens, err := h.refreshService.ActiveSessions(middleware.GetUserID(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	sessions := make([]sessionInfo, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, sessionInfo{
			FamilyID:   t.FamilyID,
			DeviceInfo: t.DeviceInfo,
			IP:         t.CreatedByIP,
			CreatedAt:  t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			ExpiresAt:  t.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	response.Success(c, gin.H{"sessions": sessions})
}

// Revoke terminates one session family of the current user.
// DELETE /api/auth/sessions/:family_id
func (h *SessionHandler) Revoke(c *gin.Context) {
	familyID := c.Param("family_id")
	if familyID == "" {
		response.BadRequest(c, "family id required")
		return
	}

	// Only allow revoking the caller's own sessions.
	userID := middleware.GetUserID(c)
	tokens, err := h.refreshService.ActiveSessions(userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	owned := false
	for _, t := range tokens {
		if t.FamilyID == familyID {
			owned = true
			break
		}
	}
	if !owned {
		response.NotFound(c, "session not found")
		return
	}

	revoked, err := h.refreshService.RevokeFamily(familyID, models.RevokedReasonLogout)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"revoked_tokens": revoked})
}
