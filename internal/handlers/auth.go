package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/internal/middleware"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
)

// RefreshCookieName is the httponly cookie carrying the raw refresh token.
const RefreshCookieName = "kvasir_refresh"

type AuthHandler struct {
	authService *services.AuthService
	cookieCfg   *config.CookieConfig
}

func NewAuthHandler(authService *services.AuthService, cookieCfg *config.CookieConfig) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookieCfg:   cookieCfg,
	}
}

// setRefreshCookie stores the raw refresh token in an httponly cookie scoped
// to the auth endpoints. SameSite=Strict keeps it out of cross-site requests.
func setRefreshCookie(c *gin.Context, cfg *config.CookieConfig, token string, maxAgeSeconds int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, token, maxAgeSeconds, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func clearRefreshCookie(c *gin.Context, cfg *config.CookieConfig) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
}

// refreshTokenFromRequest reads the refresh token from the cookie, falling
// back to a JSON body for non-browser clients.
func refreshTokenFromRequest(c *gin.Context) string {
	if token, err := c.Cookie(RefreshCookieName); err == nil && token != "" {
		return token
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&body); err == nil {
		return body.RefreshToken
	}
	return ""
}

func sessionPayload(session *services.SessionResult) gin.H {
	return gin.H{
		"access_token":      session.AccessToken,
		"access_expire_at":  session.AccessExpireAt,
		"refresh_expire_at": session.RefreshExpireAt,
		"amr":               session.AMR,
		"user":              session.User,
	}
}

// Register handles account creation
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.authService.Register(&req, c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, user)
}

// Login handles password login, answering with either an open session or a
// pending MFA challenge.
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Login(&req, c.Request.UserAgent(), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.MFARequired {
		response.Success(c, gin.H{
			"mfa_required":        true,
			"challenge_token":     result.ChallengeToken,
			"challenge_expire_at": result.ChallengeExpAt,
		})
		return
	}

	setRefreshCookie(c, h.cookieCfg, result.Session.RefreshToken, h.authService.RefreshExpireDays()*24*3600)
	response.Success(c, sessionPayload(result.Session))
}

// Refresh rotates the refresh token and issues a new access token.
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	token := refreshTokenFromRequest(c)
	if token == "" {
		response.Unauthorized(c, "refresh token required")
		return
	}

	session, err := h.authService.Refresh(token, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		clearRefreshCookie(c, h.cookieCfg)
		response.Error(c, err)
		return
	}

	setRefreshCookie(c, h.cookieCfg, session.RefreshToken, h.authService.RefreshExpireDays()*24*3600)
	response.Success(c, sessionPayload(session))
}

// Logout revokes the session family behind the presented refresh token.
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token := refreshTokenFromRequest(c)
	if token != "" {
		if err := h.authService.Logout(token); err != nil {
			response.Error(c, err)
			return
		}
	}

	clearRefreshCookie(c, h.cookieCfg)
	response.Success(c, gin.H{"message": "logged out"})
}

// LogoutEverywhere revokes every active session of the current user.
// POST /api/auth/logout-all
func (h *AuthHandler) LogoutEverywhere(c *gin.Context) {
	revoked, err := h.authService.LogoutEverywhere(middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	clearRefreshCookie(c, h.cookieCfg)
	response.Success(c, gin.H{"revoked_sessions": revoked})
}

// GetCurrentUser returns the current logged-in user
// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.authService.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}

	response.Success(c, gin.H{
		"user": user,
		"amr":  middleware.GetAMR(c),
	})
}

// ChangePassword updates the password and revokes all refresh tokens.
// POST /api/auth/password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req services.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.authService.ChangePassword(userID, &req, c.ClientIP(), c.Request.UserAgent()); err != nil {
		response.Error(c, err)
		return
	}

	clearRefreshCookie(c, h.cookieCfg)
	response.Success(c, gin.H{"message": "password changed, please log in again"})
}

// VerifyEmail consumes an email verification token.
// POST /api/auth/verify-email
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.authService.VerifyEmail(req.Token); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "email verified"})
}

// ResendVerification re-queues the verification email for the current user.
// POST /api/auth/verify-email/resend
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	user, err := h.authService.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}
	if user.EmailVerified {
		response.BadRequest(c, "email already verified")
		return
	}

	if err := h.authService.SendVerificationEmail(user); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "verification email sent"})
}

// ForgotPassword requests a password reset email. The answer never reveals
// whether the address exists.
// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.authService.RequestPasswordReset(req.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "if the account exists, a reset email has been sent"})
}

// ResetPassword consumes a reset token and sets a new password.
// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		NewPassword string `json:"new_password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.authService.ResetPassword(req.Token, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "password reset, please log in"})
}
