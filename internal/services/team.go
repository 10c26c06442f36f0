package services

import (
	"errors"
	"regexp"
	"strings"

	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
	"gorm.io/gorm"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// TeamService manages shared workspaces and membership roles.
type TeamService struct {
	db *gorm.DB
}

func NewTeamService(db *gorm.DB) *TeamService {
	return &TeamService{db: db}
}

type CreateTeamRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description" binding:"max=500"`
}

// Create makes a team and enrolls the creator as owner.
func (s *TeamService) Create(ownerID uint, req *CreateTeamRequest) (*models.Team, error) {
	slug := slugify(req.Name)

	var count int64
	s.db.Model(&models.Team{}).Where("slug = ?", slug).Count(&count)
	if count > 0 {
		return nil, response.NewConflict("a team with this name already exists")
	}

	team := models.Team{
		Name:        req.Name,
		Slug:        slug,
		Description: req.Description,
		OwnerID:     ownerID,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		member := models.TeamMember{
			TeamID: team.ID,
			UserID: ownerID,
			Role:   models.TeamRoleOwner,
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		return nil, err
	}

	return &team, nil
}

// GetByID returns a team the user belongs to.
func (s *TeamService) GetByID(teamID, userID uint) (*models.Team, error) {
	if _, err := s.memberRole(teamID, userID); err != nil {
		return nil, err
	}

	var team models.Team
	if err := s.db.First(&team, teamID).Error; err != nil {
		return nil, response.NewNotFound("team not found")
	}
	return &team, nil
}

// ListForUser returns every team the user is a member of.
func (s *TeamService) ListForUser(userID uint) ([]models.Team, error) {
	var teams []models.Team
	err := s.db.
		Joins("JOIN team_members ON team_members.team_id = teams.id").
		Where("team_members.user_id = ?", userID).
		Order("teams.created_at").
		Find(&teams).Error
	return teams, err
}

type TeamMemberInfo struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// Members lists team membership with user details.
func (s *TeamService) Members(teamID, userID uint) ([]TeamMemberInfo, error) {
	if _, err := s.memberRole(teamID, userID); err != nil {
		return nil, err
	}

	var members []TeamMemberInfo
	err := s.db.Model(&models.TeamMember{}).
		Select("team_members.user_id, users.email, users.name, team_members.role").
		Joins("JOIN users ON users.id = team_members.user_id").
		Where("team_members.team_id = ?", teamID).
		Order("team_members.created_at").
		Scan(&members).Error
	return members, err
}

type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required,oneof=admin member"`
}

// AddMember enrolls a user by email. Only owners and admins may add, and
// nobody can grant a role above their own.
func (s *TeamService) AddMember(teamID, actorID uint, req *AddMemberRequest) (*models.TeamMember, error) {
	actorRole, err := s.memberRole(teamID, actorID)
	if err != nil {
		return nil, err
	}
	if !roleAtLeast(actorRole, models.TeamRoleAdmin) {
		return nil, response.NewForbidden("admin role required")
	}

	var user models.User
	if err := s.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("no account with this email")
		}
		return nil, err
	}

	var count int64
	s.db.Model(&models.TeamMember{}).Where("team_id = ? AND user_id = ?", teamID, user.ID).Count(&count)
	if count > 0 {
		return nil, response.NewConflict("user is already a member")
	}

	member := models.TeamMember{
		TeamID: teamID,
		UserID: user.ID,
		Role:   req.Role,
	}
	if err := s.db.Create(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

// UpdateMemberRole changes a member's role. Owners cannot be demoted here;
// ownership moves via TransferOwnership.
func (s *TeamService) UpdateMemberRole(teamID, actorID, targetUserID uint, role string) error {
	actorRole, err := s.memberRole(teamID, actorID)
	if err != nil {
		return err
	}
	if !roleAtLeast(actorRole, models.TeamRoleAdmin) {
		return response.NewForbidden("admin role required")
	}
	if role != models.TeamRoleAdmin && role != models.TeamRoleMember {
		return response.NewBadRequest("invalid role")
	}

	targetRole, err := s.memberRole(teamID, targetUserID)
	if err != nil {
		return err
	}
	if targetRole == models.TeamRoleOwner {
		return response.NewForbidden("cannot change the owner's role")
	}

	return s.db.Model(&models.TeamMember{}).
		Where("team_id = ? AND user_id = ?", teamID, targetUserID).
		Update("role", role).Error
}

// RemoveMember removes a user from the team. Admins may remove members;
// only the owner may remove admins. The owner cannot be removed.
func (s *TeamService) RemoveMember(teamID, actorID, targetUserID uint) error {
	actorRole, err := s.memberRole(teamID, actorID)
	if err != nil {
		return err
	}
	targetRole, err := s.memberRole(teamID, targetUserID)
	if err != nil {
		return err
	}

	if targetRole == models.TeamRoleOwner {
		return response.NewForbidden("the owner cannot be removed")
	}
	if targetRole == models.TeamRoleAdmin && actorRole != models.TeamRoleOwner {
		return response.NewForbidden("only the owner can remove an admin")
	}
	if !roleAtLeast(actorRole, models.TeamRoleAdmin) && actorID != targetUserID {
		return response.NewForbidden("admin role required")
	}

	return s.db.Where("team_id = ? AND user_id = ?", teamID, targetUserID).
		Delete(&models.TeamMember{}).Error
}

// Leave removes the caller from the team. The owner must transfer ownership
// or delete the team instead.
func (s *TeamService) Leave(teamID, userID uint) error {
	role, err := s.memberRole(teamID, userID)
	if err != nil {
		return err
	}
	if role == models.TeamRoleOwner {
		return response.NewBadRequest("the owner cannot leave; transfer ownership or delete the team")
	}
	return s.db.Where("team_id = ? AND user_id = ?", teamID, userID).
		Delete(&models.TeamMember{}).Error
}

// TransferOwnership hands the team to another existing member.
func (s *TeamService) TransferOwnership(teamID, ownerID, newOwnerID uint) error {
	role, err := s.memberRole(teamID, ownerID)
	if err != nil {
		return err
	}
	if role != models.TeamRoleOwner {
		return response.NewForbidden("only the owner can transfer ownership")
	}
	if _, err := s.memberRole(teamID, newOwnerID); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Team{}).Where("id = ?", teamID).
			Update("owner_id", newOwnerID).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.TeamMember{}).
			Where("team_id = ? AND user_id = ?", teamID, ownerID).
			Update("role", models.TeamRoleAdmin).Error; err != nil {
			return err
		}
		return tx.Model(&models.TeamMember{}).
			Where("team_id = ? AND user_id = ?", teamID, newOwnerID).
			Update("role", models.TeamRoleOwner).Error
	})
}

// Delete removes the team and its memberships. Owner only.
func (s *TeamService) Delete(teamID, userID uint) error {
	role, err := s.memberRole(teamID, userID)
	if err != nil {
		return err
	}
	if role != models.TeamRoleOwner {
		return response.NewForbidden("only the owner can delete the team")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("team_id = ?", teamID).Delete(&models.TeamMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Team{}, teamID).Error
	})
}

func (s *TeamService) memberRole(teamID, userID uint) (string, error) {
	var member models.TeamMember
	err := s.db.Where("team_id = ? AND user_id = ?", teamID, userID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", response.NewNotFound("team not found")
	}
	if err != nil {
		return "", err
	}
	return member.Role, nil
}

func roleAtLeast(role, want string) bool {
	rank := map[string]int{
		models.TeamRoleMember: 1,
		models.TeamRoleAdmin:  2,
		models.TeamRoleOwner:  3,
	}
	return rank[role] >= rank[want]
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugPattern.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
