package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
)

const oauthStateCookie = "kvasir_oauth_state"

type OAuthHandler struct {
	googleService *services.GoogleAuthService
	authService   *services.AuthService
	cookieCfg     *config.CookieConfig
}

func NewOAuthHandler(googleService *services.GoogleAuthService, authService *services.AuthService, cookieCfg *config.CookieConfig) *OAuthHandler {
	return &OAuthHandler{
		googleService: googleService,
		authService:   authService,
		cookieCfg:     cookieCfg,
	}
}

// GoogleLogin redirects the browser to Google's consent screen.
// GET /api/auth/google
func (h *OAuthHandler) GoogleLogin(c *gin.Context) {
	if !h.googleService.Enabled() {
		response.NotFound(c, "google login is not configured")
		return
	}

	state, err := randomState()
	if err != nil {
		response.ServerError(c, "failed to generate state")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, 600, "/api/auth", h.cookieCfg.Domain, h.cookieCfg.Secure, true)
	c.Redirect(http.StatusTemporaryRedirect, h.googleService.AuthCodeURL(state))
}

// GoogleCallback exchanges the authorization code and opens a session, or
// answers with a pending MFA challenge when the account requires one.
// GET /api/auth/google/callback
func (h *OAuthHandler) GoogleCallback(c *gin.Context) {
	if !h.googleService.Enabled() {
		response.NotFound(c, "google login is not configured")
		return
	}

	wantState, err := c.Cookie(oauthStateCookie)
	if err != nil || wantState == "" || c.Query("state") != wantState {
		response.Unauthorized(c, "invalid oauth state")
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/api/auth", h.cookieCfg.Domain, h.cookieCfg.Secure, true)

	code := c.Query("code")
	if code == "" {
		response.BadRequest(c, "authorization code required")
		return
	}

	user, err := h.googleService.HandleCallback(c.Request.Context(), code)
	if err != nil {
		response.Error(c, err)
		return
	}

	// Provider sign-in only covers the first factor. An MFA-enabled account
	// still has to answer the challenge before any session opens.
	if user.MFAEnabled && user.TOTPSecret != "" {
		result, err := h.authService.MFAChallengeFor(user)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, gin.H{
			"mfa_required":        true,
			"challenge_token":     result.ChallengeToken,
			"challenge_expire_at": result.ChallengeExpAt,
		})
		return
	}

	session, err := h.authService.OpenSessionFor(user, c.Request.UserAgent(), c.ClientIP(), []string{"oauth"})
	if err != nil {
		response.Error(c, err)
		return
	}

	setRefreshCookie(c, h.cookieCfg, session.RefreshToken, h.authService.RefreshExpireDays()*24*3600)
	response.Success(c, sessionPayload(session))
}

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
