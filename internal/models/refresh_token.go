package models

import (
	"strings"
	"time"
)

// Revocation reasons. Replaying a token revoked by rotation (or by an earlier
// reuse detection) proves the raw token leaked; replaying one revoked by
// logout or an admin does not.
const (
	RevokedReasonRotated        = "rotated"
	RevokedReasonLogout         = "logout"
	RevokedReasonPasswordChange = "password_change"
	RevokedReasonReuseDetected  = "reuse_detected"
	RevokedReasonAdmin          = "admin"
)

// RefreshToken is one generation in a rotation lineage. Only the SHA-256 hash
// of the raw token is ever stored; FamilyID links every generation descended
// from one login.
type RefreshToken struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"index;not null" json:"user_id"`
	TokenHash         string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	FamilyID          string     `gorm:"index;size:36;not null" json:"family_id"`
	AMR               string     `gorm:"size:64" json:"-"`
	DeviceInfo        string     `gorm:"size:255" json:"device_info,omitempty"`
	ExpiresAt         time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt         *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason     string     `gorm:"size:32" json:"revoked_reason,omitempty"`
	ReplacedByTokenID *uint      `gorm:"index" json:"replaced_by_token_id,omitempty"`
	CreatedByIP       string     `gorm:"size:64" json:"created_by_ip,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

func (t *RefreshToken) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) IsValid() bool {
	return !t.IsExpired() && !t.IsRevoked()
}

// AuthMethods returns the authentication methods recorded when the family was
// opened. The set is fixed at creation; rotation never changes it.
func (t *RefreshToken) AuthMethods() []string {
	if t.AMR == "" {
		return nil
	}
	return strings.Split(t.AMR, ",")
}

// JoinAuthMethods is the storage encoding for AuthMethods.
func JoinAuthMethods(amr []string) string {
	return strings.Join(amr, ",")
}
