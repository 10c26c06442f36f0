package models

import "time"

// MFABackupCode stores one single-use recovery code. The plaintext is shown
// to the user exactly once at generation time; only the bcrypt hash persists.
// UsedAt marks the slot consumed and it is never cleared.
type MFABackupCode struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"index;not null" json:"user_id"`
	CodeHash  string     `gorm:"size:255;not null" json:"-"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (MFABackupCode) TableName() string { return "mfa_backup_codes" }
