package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/internal/middleware"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
)

type MFAHandler struct {
	mfaService  *services.MFAService
	authService *services.AuthService
	cookieCfg   *config.CookieConfig
}

func NewMFAHandler(mfaService *services.MFAService, authService *services.AuthService, cookieCfg *config.CookieConfig) *MFAHandler {
	return &MFAHandler{
		mfaService:  mfaService,
		authService: authService,
		cookieCfg:   cookieCfg,
	}
}

// VerifyChallenge completes a pending MFA challenge with a TOTP or backup
// code and opens the session.
// POST /api/auth/mfa/verify
func (h *MFAHandler) VerifyChallenge(c *gin.Context) {
	var req struct {
		ChallengeToken string `json:"challenge_token" binding:"required"`
		Code           string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	session, err := h.mfaService.VerifyChallenge(req.ChallengeToken, req.Code, c.Request.UserAgent(), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Error(c, err)
		return
	}

	setRefreshCookie(c, h.cookieCfg, session.RefreshToken, h.authService.RefreshExpireDays()*24*3600)
	response.Success(c, sessionPayload(session))
}

// Setup generates a new TOTP secret for enrollment.
// POST /api/auth/mfa/setup
func (h *MFAHandler) Setup(c *gin.Context) {
	result, err := h.mfaService.Setup(middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Activate confirms enrollment with a first valid TOTP code and returns the
// one-time backup codes.
// POST /api/auth/mfa/activate
func (h *MFAHandler) Activate(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	codes, err := h.mfaService.Activate(middleware.GetUserID(c), req.Code, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"message":      "mfa enabled",
		"backup_codes": codes,
	})
}

// Disable turns MFA off after re-verifying the account password.
// POST /api/auth/mfa/disable
func (h *MFAHandler) Disable(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.mfaService.Disable(middleware.GetUserID(c), req.Password, c.ClientIP(), c.Request.UserAgent()); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "mfa disabled"})
}

// RegenerateBackupCodes replaces all backup codes with a fresh set.
// POST /api/auth/mfa/backup-codes
func (h *MFAHandler) RegenerateBackupCodes(c *gin.Context) {
	codes, err := h.mfaService.GenerateBackupCodes(middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"backup_codes": codes})
}

// Status reports MFA state for the current user.
// GET /api/auth/mfa
func (h *MFAHandler) Status(c *gin.Context) {
	userID := middleware.GetUserID(c)
	user, err := h.authService.GetUserByID(userID)
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}

	remaining := int64(0)
	if user.MFAEnabled {
		remaining, _ = h.mfaService.RemainingBackupCodes(userID)
	}

	response.Success(c, gin.H{
		"enabled":                user.MFAEnabled,
		"remaining_backup_codes": remaining,
	})
}
