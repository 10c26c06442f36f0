package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/internal/utils"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
	"gorm.io/gorm"
)

const (
	verifyTokenTTL = 48 * time.Hour
	resetTokenTTL  = 30 * time.Minute
)

var ErrInvalidCredentials = response.NewUnauthorized("invalid email or password")

// AuthService handles primary (password) authentication and the account
// flows around it. When the user has MFA enabled a login yields a short-lived
// challenge token instead of a session; MFAService finishes the handshake.
type AuthService struct {
	db         *gorm.DB
	jwtCfg     *config.JWTConfig
	refreshSvc *RefreshTokenService
	audit      *AuditService
	queue      TaskQueue
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig, refreshSvc *RefreshTokenService, audit *AuditService, queue TaskQueue) *AuthService {
	return &AuthService{
		db:         db,
		jwtCfg:     jwtCfg,
		refreshSvc: refreshSvc,
		audit:      audit,
		queue:      queue,
	}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// SessionResult is a fully-opened session: a short-lived access token plus
// the raw refresh token (handed to the client exactly once).
type SessionResult struct {
	AccessToken     string       `json:"access_token"`
	AccessExpireAt  time.Time    `json:"access_expire_at"`
	RefreshToken    string       `json:"-"`
	RefreshExpireAt time.Time    `json:"refresh_expire_at"`
	AMR             []string     `json:"amr"`
	User            *models.User `json:"user"`
}

// LoginResult is either an open session or a pending MFA challenge.
type LoginResult struct {
	MFARequired    bool      `json:"mfa_required"`
	ChallengeToken string    `json:"challenge_token,omitempty"`
	ChallengeExpAt time.Time `json:"challenge_expire_at,omitempty"`
	Session        *SessionResult
}

// Register creates an account and queues the verification email.
func (s *AuthService) Register(req *RegisterRequest, clientIP string) (*models.User, error) {
	var count int64
	s.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count)
	if count > 0 {
		return nil, response.NewConflict("email is already registered")
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Email:    req.Email,
		Password: hashed,
		Name:     req.Name,
		Role:     "user",
		AuthType: "local",
		IsActive: true,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}

	if err := s.SendVerificationEmail(&user); err != nil {
		// Account creation succeeded; the user can request another mail.
		return &user, nil
	}

	return &user, nil
}

// Login authenticates with email+password. MFA-enabled users receive a
// challenge token; everyone else gets a session with amr=["pwd"].
func (s *AuthService) Login(req *LoginRequest, deviceInfo, clientIP, userAgent string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("email = ? AND auth_type = ?", req.Email, "local").First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		s.audit.Log(AuditEntry{
			Action:     models.AuditLoginFailed,
			ActorID:    &user.ID,
			ActorEmail: user.Email,
			IP:         clientIP,
			UserAgent:  userAgent,
		})
		return nil, ErrInvalidCredentials
	}

	if user.MFAEnabled && user.TOTPSecret != "" {
		return s.MFAChallengeFor(&user)
	}

	session, err := s.openSession(&user, deviceInfo, clientIP, []string{"pwd"})
	if err != nil {
		return nil, err
	}

	s.audit.Log(AuditEntry{
		Action:     models.AuditLoginSuccess,
		ActorID:    &user.ID,
		ActorEmail: user.Email,
		IP:         clientIP,
		UserAgent:  userAgent,
	})

	return &LoginResult{Session: session}, nil
}

// MFAChallengeFor mints the short-lived challenge handed out when a user with
// MFA enabled passes primary authentication, whether by password or through
// an OAuth provider. The challenge is the only path to a session for them.
func (s *AuthService) MFAChallengeFor(user *models.User) (*LoginResult, error) {
	challenge, err := utils.GenerateChallengeToken(user.ID, user.Email, s.jwtCfg.ChallengeTTLMin)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		MFARequired:    true,
		ChallengeToken: challenge,
		ChallengeExpAt: time.Now().Add(time.Duration(s.jwtCfg.ChallengeTTLMin) * time.Minute),
	}, nil
}

// openSession mints a new token family and access token for an
// already-authenticated user.
func (s *AuthService) openSession(user *models.User, deviceInfo, clientIP string, amr []string) (*SessionResult, error) {
	raw, record, err := s.refreshSvc.Create(user.ID, "", deviceInfo, clientIP, amr)
	if err != nil {
		return nil, err
	}

	accessToken, err := utils.GenerateAccessToken(user.ID, user.Email, user.Role, amr, s.jwtCfg.AccessExpireMin)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user.LastLogin = &now
	s.db.Save(user)

	return &SessionResult{
		AccessToken:     accessToken,
		AccessExpireAt:  now.Add(time.Duration(s.jwtCfg.AccessExpireMin) * time.Minute),
		RefreshToken:    raw,
		RefreshExpireAt: record.ExpiresAt,
		AMR:             amr,
		User:            user,
	}, nil
}

// OpenSessionFor is used by the OAuth callback once the provider has
// authenticated the user.
func (s *AuthService) OpenSessionFor(user *models.User, deviceInfo, clientIP string, amr []string) (*SessionResult, error) {
	return s.openSession(user, deviceInfo, clientIP, amr)
}

// Refresh rotates the presented refresh token and issues a new access token.
// Callers must never blindly retry a rotation: a retry after an
// unacknowledged success is indistinguishable from replay and revokes the
// whole family.
func (s *AuthService) Refresh(refreshToken, deviceInfo, clientIP string) (*SessionResult, error) {
	newRaw, record, err := s.refreshSvc.Rotate(refreshToken, deviceInfo, clientIP)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.First(&user, record.UserID).Error; err != nil {
		return nil, ErrRefreshTokenInvalid
	}
	if !user.IsActive {
		return nil, ErrRefreshTokenInvalid
	}

	// The family records which methods were actually proven at login;
	// rotation carries that set forward and never upgrades it. Enabling MFA
	// later does not retroactively elevate sessions opened before it.
	amr := record.AuthMethods()
	if len(amr) == 0 {
		amr = []string{"pwd"}
	}

	accessToken, err := utils.GenerateAccessToken(user.ID, user.Email, user.Role, amr, s.jwtCfg.AccessExpireMin)
	if err != nil {
		return nil, err
	}

	return &SessionResult{
		AccessToken:     accessToken,
		AccessExpireAt:  time.Now().Add(time.Duration(s.jwtCfg.AccessExpireMin) * time.Minute),
		RefreshToken:    newRaw,
		RefreshExpireAt: record.ExpiresAt,
		AMR:             amr,
		User:            &user,
	}, nil
}

// Logout revokes the family of the presented token. An invalid token is not
// an error here; the session is gone either way.
func (s *AuthService) Logout(refreshToken string) error {
	token, err := s.refreshSvc.Validate(refreshToken)
	if err != nil {
		return nil
	}
	_, err = s.refreshSvc.RevokeFamily(token.FamilyID, models.RevokedReasonLogout)
	return err
}

// LogoutEverywhere revokes every session the user owns.
func (s *AuthService) LogoutEverywhere(userID uint) (int64, error) {
	return s.refreshSvc.RevokeUserTokens(userID, models.RevokedReasonLogout)
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// ChangePassword rotates the password hash and kills every outstanding
// refresh token the user owns.
func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest, clientIP, userAgent string) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return response.NewNotFound("user not found")
	}

	if user.AuthType != "local" {
		return response.NewBadRequest("OAuth users cannot change password here")
	}
	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return response.NewUnauthorized("incorrect old password")
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	user.Password = hashed
	if err := s.db.Save(&user).Error; err != nil {
		return err
	}

	revoked, _ := s.refreshSvc.RevokeUserTokens(userID, models.RevokedReasonPasswordChange)

	s.audit.Log(AuditEntry{
		Action:     models.AuditPasswordChanged,
		ActorID:    &user.ID,
		ActorEmail: user.Email,
		Details:    fmt.Sprintf("revoked_sessions=%d", revoked),
		IP:         clientIP,
		UserAgent:  userAgent,
	})
	return nil
}

// SendVerificationEmail queues a verification mail for the user.
func (s *AuthService) SendVerificationEmail(user *models.User) error {
	if user.EmailVerified {
		return response.NewBadRequest("email is already verified")
	}

	token, err := utils.GenerateVerifyToken(user.ID, user.Email, verifyTokenTTL)
	if err != nil {
		return err
	}

	if s.queue == nil {
		return nil
	}
	return s.queue.EnqueueEmail(&EmailTask{
		To:      user.Email,
		Subject: "Verify your email address",
		Body:    buildVerificationEmailBody(user.Name, token),
	})
}

// VerifyEmail consumes a verification token.
func (s *AuthService) VerifyEmail(token string) error {
	claims, err := utils.ParseVerifyToken(token)
	if err != nil {
		return response.NewUnauthorized("invalid or expired verification link")
	}

	var user models.User
	if err := s.db.First(&user, claims.UserID).Error; err != nil {
		return response.NewUnauthorized("invalid or expired verification link")
	}
	if user.Email != claims.Email {
		// The address changed after the mail went out.
		return response.NewUnauthorized("invalid or expired verification link")
	}
	if user.EmailVerified {
		return nil
	}

	if err := s.db.Model(&user).Update("email_verified", true).Error; err != nil {
		return err
	}

	s.audit.Log(AuditEntry{
		Action:     models.AuditEmailVerified,
		ActorID:    &user.ID,
		ActorEmail: user.Email,
	})
	return nil
}

// RequestPasswordReset queues a reset mail. It reports success regardless of
// whether the address exists, to avoid account enumeration.
func (s *AuthService) RequestPasswordReset(email string) error {
	var user models.User
	if err := s.db.Where("email = ? AND auth_type = ?", email, "local").First(&user).Error; err != nil {
		return nil
	}
	if !user.IsActive {
		return nil
	}

	token, err := utils.GenerateResetToken(user.ID, user.Email, resetTokenTTL)
	if err != nil {
		return err
	}

	if s.queue == nil {
		return nil
	}
	return s.queue.EnqueueEmail(&EmailTask{
		To:      user.Email,
		Subject: "Reset your password",
		Body:    buildResetEmailBody(user.Name, token),
	})
}

// ResetPassword consumes a reset token, sets the new password, and revokes
// all outstanding sessions.
func (s *AuthService) ResetPassword(token, newPassword string) error {
	claims, err := utils.ParseResetToken(token)
	if err != nil {
		return response.NewUnauthorized("invalid or expired reset link")
	}

	var user models.User
	if err := s.db.First(&user, claims.UserID).Error; err != nil {
		return response.NewUnauthorized("invalid or expired reset link")
	}
	if user.Email != claims.Email || !user.IsActive {
		return response.NewUnauthorized("invalid or expired reset link")
	}

	hashed, err := utils.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.db.Model(&user).Update("password", hashed).Error; err != nil {
		return err
	}

	s.refreshSvc.RevokeUserTokens(user.ID, models.RevokedReasonPasswordChange)

	s.audit.Log(AuditEntry{
		Action:     models.AuditPasswordReset,
		ActorID:    &user.ID,
		ActorEmail: user.Email,
	})
	return nil
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// RefreshExpireDays reports the effective refresh lifetime. It delegates to
// the token service so the cookie Max-Age and the stored expires_at cannot
// diverge when an admin overrides the lifetime at runtime.
func (s *AuthService) RefreshExpireDays() int {
	return s.refreshSvc.ExpireDays()
}

// CreateAdminIfNotExists creates the default admin account on first boot.
func (s *AuthService) CreateAdminIfNotExists() error {
	var count int64
	s.db.Model(&models.User{}).Where("role = ?", "admin").Count(&count)

	if count == 0 {
		hashedPassword, err := utils.HashPassword("admin")
		if err != nil {
			return err
		}

		admin := models.User{
			Email:         "admin@localhost",
			Password:      hashedPassword,
			Name:          "Administrator",
			Role:          "admin",
			AuthType:      "local",
			IsActive:      true,
			EmailVerified: true,
		}

		return s.db.Create(&admin).Error
	}

	return nil
}
