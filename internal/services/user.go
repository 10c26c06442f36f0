package services

import (
	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
	"gorm.io/gorm"
)

// UserAdminService backs the admin panel's user management.
type UserAdminService struct {
	db         *gorm.DB
	refreshSvc *RefreshTokenService
	audit      *AuditService
}

func NewUserAdminService(db *gorm.DB, refreshSvc *RefreshTokenService, audit *AuditService) *UserAdminService {
	return &UserAdminService{db: db, refreshSvc: refreshSvc, audit: audit}
}

type UserListRequest struct {
	Page     int    `form:"page" binding:"min=0"`
	PageSize int    `form:"page_size" binding:"min=0,max=100"`
	Search   string `form:"search"`
	Role     string `form:"role"`
}

type UserListResponse struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []models.User `json:"items"`
}

func (s *UserAdminService) List(req *UserListRequest) (*UserListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var users []models.User
	var total int64

	query := s.db.Model(&models.User{})
	if req.Search != "" {
		query = query.Where("email LIKE ? OR name LIKE ?", "%"+req.Search+"%", "%"+req.Search+"%")
	}
	if req.Role != "" {
		query = query.Where("role = ?", req.Role)
	}

	query.Count(&total)

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, err
	}

	return &UserListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    users,
	}, nil
}

// SetActive enables or disables an account. Disabling also revokes every
// refresh token the user holds, ending their sessions immediately.
func (s *UserAdminService) SetActive(actorID, userID uint, active bool) error {
	if actorID == userID && !active {
		return response.NewBadRequest("cannot disable your own account")
	}

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return response.NewNotFound("user not found")
	}

	if err := s.db.Model(&user).Update("is_active", active).Error; err != nil {
		return err
	}

	if !active {
		s.refreshSvc.RevokeUserTokens(userID, models.RevokedReasonAdmin)
	}

	action := "admin.user.enabled"
	if !active {
		action = "admin.user.disabled"
	}
	s.audit.Log(AuditEntry{
		Action:     action,
		ActorID:    &actorID,
		TargetType: "user",
		TargetID:   user.Email,
	})
	return nil
}

// SetRole changes a user's global role (admin or user).
func (s *UserAdminService) SetRole(actorID, userID uint, role string) error {
	if role != "admin" && role != "user" {
		return response.NewBadRequest("invalid role")
	}
	if actorID == userID {
		return response.NewBadRequest("cannot change your own role")
	}

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return response.NewNotFound("user not found")
	}

	if err := s.db.Model(&user).Update("role", role).Error; err != nil {
		return err
	}

	s.audit.Log(AuditEntry{
		Action:     "admin.user.role_changed",
		ActorID:    &actorID,
		TargetType: "user",
		TargetID:   user.Email,
		Details:    "role=" + role,
	})
	return nil
}
