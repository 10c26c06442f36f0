package models

import "time"

// Audit actions recorded by the auth core.
const (
	AuditMFAChallengeSuccess = "mfa.challenge.success"
	AuditMFAChallengeFailed  = "mfa.challenge.failed"
	AuditTokenReuseDetected  = "token.reuse_detected"
	AuditLoginSuccess        = "auth.login.success"
	AuditLoginFailed         = "auth.login.failed"
	AuditPasswordChanged     = "auth.password.changed"
	AuditPasswordReset       = "auth.password.reset"
	AuditEmailVerified       = "auth.email.verified"
	AuditMFAEnabled          = "mfa.enabled"
	AuditMFADisabled         = "mfa.disabled"
	AuditBackupCodesIssued   = "mfa.backup_codes.issued"
)

// AuditLog is the durable security-event record. Besides operator
// visibility it backs the MFA failed-attempt counter, so the
// (action, actor_id, created_at) index is load-bearing.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Action     string    `gorm:"size:100;index:idx_audit_action_actor,priority:1" json:"action"`
	ActorID    *uint     `gorm:"index:idx_audit_action_actor,priority:2" json:"actor_id"`
	ActorEmail string    `gorm:"size:255" json:"actor_email"`
	TargetType string    `gorm:"size:50;index" json:"target_type,omitempty"`
	TargetID   string    `gorm:"size:64" json:"target_id,omitempty"`
	Details    string    `gorm:"type:text" json:"details,omitempty"`
	IP         string    `gorm:"size:50" json:"ip"`
	UserAgent  string    `gorm:"size:500" json:"user_agent"`
	CreatedAt  time.Time `gorm:"index:idx_audit_action_actor,priority:3" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
