package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account holder
type User struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Email         string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password      string         `gorm:"size:255" json:"-"` // Hashed password, empty for OAuth-only users
	Name          string         `gorm:"size:100" json:"name"`
	Avatar        string         `gorm:"size:500" json:"avatar"`
	Role          string         `gorm:"size:50;default:user" json:"role"`       // admin, user
	AuthType      string         `gorm:"size:20;default:local" json:"auth_type"` // local, google
	IsActive      bool           `gorm:"default:true" json:"is_active"`
	EmailVerified bool           `gorm:"default:false" json:"email_verified"`
	MFAEnabled    bool           `gorm:"default:false" json:"mfa_enabled"`
	TOTPSecret    string         `gorm:"size:255" json:"-"` // Base32 secret, set during enrollment
	LastLogin     *time.Time     `json:"last_login"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }
