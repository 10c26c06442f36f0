package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/pkg/logger"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
	"gorm.io/gorm"
)

// Revoked tokens are kept for 24h after revocation so a replayed token can
// still be matched and trip the family cascade.
const revokedTokenGrace = 24 * time.Hour

const maxDeviceInfoLen = 255

// ConfigKeyRefreshExpireDays is the system_configs key admins use to override
// the refresh-token lifetime at runtime.
const ConfigKeyRefreshExpireDays = "auth_refresh_token_expire_days"

// ErrRefreshTokenInvalid covers missing, expired and revoked tokens alike.
// Callers get no hint which precondition failed.
var ErrRefreshTokenInvalid = response.NewUnauthorized("invalid refresh token")

// RefreshTokenService manages the lifecycle of long-lived refresh credentials:
// rotation-on-use, family lineage, and replay (theft) detection. A replayed
// token that was retired by rotation kills its entire family before the
// rejection is surfaced.
type RefreshTokenService struct {
	db         *gorm.DB
	audit      *AuditService
	configSvc  *SystemConfigService
	expireDays int
}

func NewRefreshTokenService(db *gorm.DB, audit *AuditService, expireDays int) *RefreshTokenService {
	if expireDays <= 0 {
		expireDays = 7
	}
	return &RefreshTokenService{
		db:         db,
		audit:      audit,
		configSvc:  NewSystemConfigService(db),
		expireDays: expireDays,
	}
}

// ExpireDays reads the admin-tunable refresh lifetime, falling back to the
// static config. Every new token row uses this value, so the credential and
// its delivery cookie always agree on the lifetime.
func (s *RefreshTokenService) ExpireDays() int {
	value := s.configSvc.GetWithDefault(ConfigKeyRefreshExpireDays, strconv.Itoa(s.expireDays))
	days, err := strconv.Atoi(value)
	if err != nil || days <= 0 {
		return s.expireDays
	}
	return days
}

// Create mints a new refresh token. An empty familyID starts a new lineage
// (fresh login); a non-empty one continues an existing lineage (rotation).
// The raw token is returned exactly once and never persisted. amr records the
// authentication methods proven when the family was opened.
func (s *RefreshTokenService) Create(userID uint, familyID, deviceInfo, clientIP string, amr []string) (string, *models.RefreshToken, error) {
	raw, hash, err := generateRefreshToken()
	if err != nil {
		return "", nil, err
	}

	if familyID == "" {
		familyID = uuid.NewString()
	}
	if len(deviceInfo) > maxDeviceInfoLen {
		deviceInfo = deviceInfo[:maxDeviceInfoLen]
	}

	record := models.RefreshToken{
		UserID:      userID,
		TokenHash:   hash,
		FamilyID:    familyID,
		AMR:         models.JoinAuthMethods(amr),
		DeviceInfo:  deviceInfo,
		CreatedByIP: clientIP,
		ExpiresAt:   time.Now().Add(time.Duration(s.ExpireDays()) * 24 * time.Hour),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return "", nil, err
	}

	return raw, &record, nil
}

// Validate checks a presented raw token. It does not mutate the matched row
// when valid. Presenting a token that was revoked by rotation is proof of
// replay: the whole family is revoked before the rejection is returned, so a
// retried request cannot race ahead of the cascade.
func (s *RefreshTokenService) Validate(raw string) (*models.RefreshToken, error) {
	if raw == "" {
		return nil, ErrRefreshTokenInvalid
	}

	hash := hashRefreshToken(raw)

	var stored models.RefreshToken
	if err := s.db.Where("token_hash = ?", hash).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, err
	}

	if stored.IsRevoked() {
		if stored.RevokedReason == models.RevokedReasonRotated || stored.RevokedReason == models.RevokedReasonReuseDetected {
			s.handleReuse(&stored)
		}
		return nil, ErrRefreshTokenInvalid
	}
	if stored.IsExpired() {
		return nil, ErrRefreshTokenInvalid
	}

	return &stored, nil
}

// Rotate exchanges a valid token for its successor in the same family. The
// revoke-old / create-new pair runs in one transaction with a conditional
// update on the presented row; the loser of a concurrent rotation observes
// zero rows affected and is treated as a replay.
func (s *RefreshTokenService) Rotate(raw, deviceInfo, clientIP string) (string, *models.RefreshToken, error) {
	stored, err := s.Validate(raw)
	if err != nil {
		return "", nil, err
	}

	if deviceInfo == "" {
		deviceInfo = stored.DeviceInfo
	}
	if len(deviceInfo) > maxDeviceInfoLen {
		deviceInfo = deviceInfo[:maxDeviceInfoLen]
	}

	newRaw, newHash, err := generateRefreshToken()
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	newRecord := models.RefreshToken{
		UserID:      stored.UserID,
		TokenHash:   newHash,
		FamilyID:    stored.FamilyID,
		AMR:         stored.AMR,
		DeviceInfo:  deviceInfo,
		CreatedByIP: clientIP,
		ExpiresAt:   now.Add(time.Duration(s.ExpireDays()) * 24 * time.Hour),
	}

	lostRace := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&newRecord).Error; err != nil {
			return err
		}
		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", stored.ID).
			Updates(map[string]interface{}{
				"revoked_at":           now,
				"revoked_reason":       models.RevokedReasonRotated,
				"replaced_by_token_id": newRecord.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			lostRace = true
			return ErrRefreshTokenInvalid
		}
		return nil
	})
	if err != nil {
		if lostRace {
			// A concurrent rotation retired the presented token first;
			// a second presentation of the same raw token is a replay.
			s.handleReuse(stored)
			return "", nil, ErrRefreshTokenInvalid
		}
		return "", nil, err
	}

	return newRaw, &newRecord, nil
}

// RevokeFamily marks every unrevoked token in the family revoked. Idempotent;
// the second call affects zero rows and does not error.
func (s *RefreshTokenService) RevokeFamily(familyID, reason string) (int64, error) {
	res := s.db.Model(&models.RefreshToken{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Updates(map[string]interface{}{
			"revoked_at":     time.Now(),
			"revoked_reason": reason,
		})
	return res.RowsAffected, res.Error
}

// RevokeUserTokens revokes every active token the user owns, across all
// families. Used on password change and "log out everywhere".
func (s *RefreshTokenService) RevokeUserTokens(userID uint, reason string) (int64, error) {
	res := s.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]interface{}{
			"revoked_at":     time.Now(),
			"revoked_reason": reason,
		})
	return res.RowsAffected, res.Error
}

// ActiveSessions returns the user's currently-valid tokens, newest first.
func (s *RefreshTokenService) ActiveSessions(userID uint) ([]models.RefreshToken, error) {
	var tokens []models.RefreshToken
	err := s.db.Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&tokens).Error
	return tokens, err
}

// CleanupExpired deletes rows that are expired, or revoked for longer than
// the forensics grace window.
func (s *RefreshTokenService) CleanupExpired() (int64, error) {
	res := s.db.Where("expires_at < ? OR revoked_at < ?", time.Now(), time.Now().Add(-revokedTokenGrace)).
		Delete(&models.RefreshToken{})
	return res.RowsAffected, res.Error
}

// handleReuse is the theft-detection cascade. It must run to completion (or
// at least be attempted) before the caller sees the rejection.
func (s *RefreshTokenService) handleReuse(stored *models.RefreshToken) {
	count, err := s.RevokeFamily(stored.FamilyID, models.RevokedReasonReuseDetected)
	if err != nil {
		logger.Error().Err(err).Str("family_id", stored.FamilyID).Msg("family revocation failed after token reuse")
	}

	logger.Warn().
		Uint("user_id", stored.UserID).
		Str("family_id", stored.FamilyID).
		Int64("revoked", count).
		Msg("refresh token reuse detected, family revoked")

	if s.audit != nil {
		s.audit.Log(AuditEntry{
			Action:     models.AuditTokenReuseDetected,
			ActorID:    &stored.UserID,
			TargetType: "token_family",
			TargetID:   stored.FamilyID,
			Details:    fmt.Sprintf("replay of token %d revoked %d siblings", stored.ID, count),
		})
	}
}

func generateRefreshToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, 32)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(randomBytes)
	tokenHash = hashRefreshToken(token)
	return token, tokenHash, nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
