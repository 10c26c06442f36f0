package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/kvasir-auth/kvasir/backend/internal/config"
	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/internal/utils"
	"github.com/kvasir-auth/kvasir/backend/pkg/logger"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Remaining-backup-code level at which a warning is raised.
const backupCodeLowWatermark = 2

var (
	// ErrMFAUnauthorized is deliberately generic: a wrong code, a stale
	// challenge and a user with MFA since disabled all look the same to
	// the caller.
	ErrMFAUnauthorized = response.NewUnauthorized("invalid or expired challenge")

	// ErrTooManyAttempts tells the client to back off rather than retry
	// with another code.
	ErrTooManyAttempts = response.NewTooManyRequests("too many failed attempts, try again later")
)

// MFAService verifies the second authentication factor and manages TOTP
// enrollment and backup codes. Verification consumes a signed challenge
// token minted at password login; success mints a fresh refresh-token
// family via RefreshTokenService.
type MFAService struct {
	db         *gorm.DB
	jwtCfg     *config.JWTConfig
	mfaCfg     *config.MFAConfig
	refreshSvc *RefreshTokenService
	audit      *AuditService
}

func NewMFAService(db *gorm.DB, jwtCfg *config.JWTConfig, mfaCfg *config.MFAConfig, refreshSvc *RefreshTokenService, audit *AuditService) *MFAService {
	return &MFAService{
		db:         db,
		jwtCfg:     jwtCfg,
		mfaCfg:     mfaCfg,
		refreshSvc: refreshSvc,
		audit:      audit,
	}
}

// VerifyChallenge validates the challenge token and the supplied TOTP or
// backup code, then opens a full session. Failed attempts are audited and
// feed the rolling-window limiter; once the limit is hit even a correct
// code is rejected.
func (s *MFAService) VerifyChallenge(challengeToken, code, deviceInfo, clientIP, userAgent string) (*SessionResult, error) {
	claims, err := utils.ParseChallengeToken(challengeToken)
	if err != nil {
		return nil, ErrMFAUnauthorized
	}

	var user models.User
	if err := s.db.First(&user, claims.UserID).Error; err != nil {
		return nil, ErrMFAUnauthorized
	}
	// MFA may have been disabled between challenge issuance and verification.
	if !user.IsActive || !user.MFAEnabled || user.TOTPSecret == "" {
		return nil, ErrMFAUnauthorized
	}

	window := time.Duration(s.mfaCfg.FailureWindow) * time.Minute
	failures, err := s.audit.CountRecent(models.AuditMFAChallengeFailed, user.ID, window)
	if err != nil {
		return nil, err
	}
	if failures >= int64(s.mfaCfg.MaxFailures) {
		return nil, ErrTooManyAttempts
	}

	ok, usedBackup, err := s.verifyCode(&user, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.audit.Log(AuditEntry{
			Action:     models.AuditMFAChallengeFailed,
			ActorID:    &user.ID,
			ActorEmail: user.Email,
			IP:         clientIP,
			UserAgent:  userAgent,
		})
		return nil, ErrMFAUnauthorized
	}

	method := "totp"
	if usedBackup {
		method = "backup_code"
	}
	s.audit.Log(AuditEntry{
		Action:     models.AuditMFAChallengeSuccess,
		ActorID:    &user.ID,
		ActorEmail: user.Email,
		Details:    fmt.Sprintf("method=%s", method),
		IP:         clientIP,
		UserAgent:  userAgent,
	})

	amr := []string{"pwd", "mfa"}
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
	s.db.Save(&user)

	return &SessionResult{
		AccessToken:     accessToken,
		AccessExpireAt:  now.Add(time.Duration(s.jwtCfg.AccessExpireMin) * time.Minute),
		RefreshToken:    raw,
		RefreshExpireAt: record.ExpiresAt,
		AMR:             amr,
		User:            &user,
	}, nil
}

// verifyCode accepts the credential as either a 6-digit TOTP code or a
// backup code. Backup codes are consumed on match.
func (s *MFAService) verifyCode(user *models.User, code string) (ok bool, usedBackup bool, err error) {
	trimmed := strings.TrimSpace(code)
	if isTOTPCode(trimmed) {
		valid, err := totp.ValidateCustom(trimmed, user.TOTPSecret, time.Now(), totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return false, false, nil
		}
		return valid, false, nil
	}

	consumed, err := s.consumeBackupCode(user.ID, trimmed)
	if err != nil {
		return false, false, err
	}
	return consumed, consumed, nil
}

func isTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// consumeBackupCode checks the code against the user's unused slots and
// irreversibly marks the matching slot used. Each code works exactly once.
func (s *MFAService) consumeBackupCode(userID uint, code string) (bool, error) {
	normalized := normalizeBackupCode(code)
	if normalized == "" {
		return false, nil
	}

	var codes []models.MFABackupCode
	if err := s.db.Where("user_id = ? AND used_at IS NULL", userID).Find(&codes).Error; err != nil {
		return false, err
	}

	for i := range codes {
		if bcrypt.CompareHashAndPassword([]byte(codes[i].CodeHash), []byte(normalized)) == nil {
			now := time.Now()
			if err := s.db.Model(&codes[i]).Update("used_at", now).Error; err != nil {
				return false, err
			}

			remaining := len(codes) - 1
			if remaining <= backupCodeLowWatermark {
				logger.Warn().
					Uint("user_id", userID).
					Int("remaining", remaining).
					Msg("backup codes running low")
			}
			return true, nil
		}
	}

	return false, nil
}

func normalizeBackupCode(code string) string {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(normalized, " ", "")
}

type MFASetupResult struct {
	Secret string `json:"secret"`
	OTPURL string `json:"otp_url"`
}

// Setup generates a TOTP secret for enrollment. MFA stays disabled until
// the user proves possession of the secret via Activate.
func (s *MFAService) Setup(userID uint) (*MFASetupResult, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, response.NewConflict("MFA is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.mfaCfg.Issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(&user).Update("totp_secret", key.Secret()).Error; err != nil {
		return nil, err
	}

	return &MFASetupResult{
		Secret: key.Secret(),
		OTPURL: key.URL(),
	}, nil
}

// Activate turns MFA on once the user submits a valid code for the pending
// secret, and issues the initial backup-code set.
func (s *MFAService) Activate(userID uint, code, clientIP, userAgent string) ([]string, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, response.NewConflict("MFA is already enabled")
	}
	if user.TOTPSecret == "" {
		return nil, response.NewBadRequest("MFA setup has not been started")
	}

	if !totp.Validate(strings.TrimSpace(code), user.TOTPSecret) {
		return nil, response.NewUnauthorized("invalid verification code")
	}

	if err := s.db.Model(&user).Update("mfa_enabled", true).Error; err != nil {
		return nil, err
	}

	codes, err := s.GenerateBackupCodes(userID)
	if err != nil {
		return nil, err
	}

	s.audit.Log(AuditEntry{
		Action:     models.AuditMFAEnabled,
		ActorID:    &user.ID,
		ActorEmail: user.Email,
		IP:         clientIP,
		UserAgent:  userAgent,
	})

	return codes, nil
}

// Disable turns MFA off after a password re-check and drops the secret and
// any remaining backup codes.
func (s *MFAService) Disable(userID uint, password, clientIP, userAgent string) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return err
	}
	if !user.MFAEnabled {
		return response.NewBadRequest("MFA is not enabled")
	}
	if !utils.CheckPassword(password, user.Password) {
		return response.NewUnauthorized("incorrect password")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"mfa_enabled": false,
			"totp_secret": "",
		}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.MFABackupCode{}).Error
	})
	if err != nil {
		return err
	}

	s.audit.Log(AuditEntry{
		Action:     models.AuditMFADisabled,
		ActorID:    &user.ID,
		ActorEmail: user.Email,
		IP:         clientIP,
		UserAgent:  userAgent,
	})
	return nil
}

// GenerateBackupCodes replaces the user's backup-code set. The plaintext
// codes are returned once and only their bcrypt hashes persist.
func (s *MFAService) GenerateBackupCodes(userID uint) ([]string, error) {
	count := s.mfaCfg.BackupCodeCount

	plaintexts := make([]string, 0, count)
	rows := make([]models.MFABackupCode, 0, count)
	for i := 0; i < count; i++ {
		code, err := utils.GenerateBackupCode()
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(normalizeBackupCode(code)), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		plaintexts = append(plaintexts, code)
		rows = append(rows, models.MFABackupCode{UserID: userID, CodeHash: string(hash)})
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.MFABackupCode{}).Error; err != nil {
			return err
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(AuditEntry{
		Action:  models.AuditBackupCodesIssued,
		ActorID: &userID,
		Details: fmt.Sprintf("count=%d", count),
	})

	return plaintexts, nil
}

// RemainingBackupCodes reports how many unused codes the user has left.
func (s *MFAService) RemainingBackupCodes(userID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.MFABackupCode{}).
		Where("user_id = ? AND used_at IS NULL", userID).
		Count(&count).Error
	return count, err
}
