package services

import (
	"time"

	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/pkg/logger"
	"gorm.io/gorm"
)

// AuditEntry is the write-side shape of an audit record.
type AuditEntry struct {
	Action     string
	ActorID    *uint
	ActorEmail string
	TargetType string
	TargetID   string
	Details    string
	IP         string
	UserAgent  string
}

// AuditService is the durable security-event sink. It also serves as the
// counter source for the MFA failed-attempt limiter.
type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Log writes one audit row. Audit failures are logged but never propagated;
// an audit outage must not block authentication itself.
func (s *AuditService) Log(entry AuditEntry) {
	row := models.AuditLog{
		Action:     entry.Action,
		ActorID:    entry.ActorID,
		ActorEmail: entry.ActorEmail,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Details:    entry.Details,
		IP:         entry.IP,
		UserAgent:  entry.UserAgent,
		CreatedAt:  time.Now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		logger.Error().Err(err).Str("action", entry.Action).Msg("failed to write audit log")
	}
}

// CountRecent returns how many events of the given action the actor produced
// inside the rolling window.
func (s *AuditService) CountRecent(action string, actorID uint, window time.Duration) (int64, error) {
	var count int64
	err := s.db.Model(&models.AuditLog{}).
		Where("action = ? AND actor_id = ? AND created_at >= ?", action, actorID, time.Now().Add(-window)).
		Count(&count).Error
	return count, err
}

type AuditListRequest struct {
	Page      int    `form:"page" binding:"min=0"`
	PageSize  int    `form:"page_size" binding:"min=0,max=100"`
	Action    string `form:"action"`
	ActorID   uint   `form:"actor_id"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

type AuditListResponse struct {
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Items    []models.AuditLog `json:"items"`
}

// List returns a filtered page of audit rows for the admin panel.
func (s *AuditService) List(req *AuditListRequest) (*AuditListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var rows []models.AuditLog
	var total int64

	query := s.db.Model(&models.AuditLog{})

	if req.Action != "" {
		query = query.Where("action LIKE ?", req.Action+"%")
	}
	if req.ActorID > 0 {
		query = query.Where("actor_id = ?", req.ActorID)
	}
	if req.StartDate != "" {
		query = query.Where("created_at >= ?", req.StartDate)
	}
	if req.EndDate != "" {
		query = query.Where("created_at <= ?", req.EndDate+" 23:59:59")
	}

	query.Count(&total)

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	return &AuditListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    rows,
	}, nil
}

// CleanupOld deletes audit rows older than retentionDays.
func (s *AuditService) CleanupOld(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res := s.db.Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	return res.RowsAffected, res.Error
}
