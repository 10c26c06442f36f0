package models

import (
	"time"

	"gorm.io/gorm"
)

// Team roles, most to least privileged.
const (
	TeamRoleOwner  = "owner"
	TeamRoleAdmin  = "admin"
	TeamRoleMember = "member"
)

// Team represents a shared workspace
type Team struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:200;not null" json:"name"`
	Slug        string         `gorm:"uniqueIndex;size:100;not null" json:"slug"`
	Description string         `gorm:"size:500" json:"description"`
	OwnerID     uint           `gorm:"index;not null" json:"owner_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Team) TableName() string { return "teams" }

// TeamMember links a user to a team with a role
type TeamMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TeamID    uint      `gorm:"uniqueIndex:idx_team_user;not null" json:"team_id"`
	UserID    uint      `gorm:"uniqueIndex:idx_team_user;not null" json:"user_id"`
	Role      string    `gorm:"size:20;default:member" json:"role"` // owner, admin, member
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TeamMember) TableName() string { return "team_members" }
