package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/middleware"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
)

type TeamHandler struct {
	teamService *services.TeamService
}

func NewTeamHandler(teamService *services.TeamService) *TeamHandler {
	return &TeamHandler{teamService: teamService}
}

func teamIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid team id")
		return 0, false
	}
	return uint(id), true
}

// Create creates a team owned by the current user.
// POST /api/teams
func (h *TeamHandler) Create(c *gin.Context) {
	var req services.CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	team, err := h.teamService.Create(middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, team)
}

// List returns the teams the current user belongs to.
// GET /api/teams
func (h *TeamHandler) List(c *gin.Context) {
	teams, err := h.teamService.ListForUser(middleware.GetUserID(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"teams": teams})
}

// Get returns one team the current user belongs to.
// GET /api/teams/:id
func (h *TeamHandler) Get(c *gin.Context) {
	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}

	team, err := h.teamService.GetByID(teamID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, team)
}

// Members lists the team's members.
// GET /api/teams/:id/members
func (h *TeamHandler) Members(c *gin.Context) {
	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}

	members, err := h.teamService.Members(teamID, middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"members": members})
}

// AddMember adds a user to the team by email.
// POST /api/teams/:id/members
func (h *TeamHandler) AddMember(c *gin.Context) {
	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}

	var req services.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	member, err := h.teamService.AddMember(teamID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, member)
}

// UpdateMemberRole changes a member's role.
// PUT /api/teams/:id/members/:user_id
func (h *TeamHandler) UpdateMemberRole(c *gin.Context) {
	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}
	targetID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.teamService.UpdateMemberRole(teamID, middleware.GetUserID(c), uint(targetID), req.Role); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "role updated"})
}

// RemoveMember removes a member from the team.
// DELETE /api/teams/:id/members/:user_id
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}
	targetID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	if err := h.teamService.RemoveMember(teamID, middleware.GetUserID(c), uint(targetID)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "member removed"})
}

// Leave removes the current user from the team.
// POST /api/teams/:id/leave
func (h *TeamHandler) Leave(c *gin.Context) {
	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}

	if err := h.teamService.Leave(teamID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "left team"})
}

// TransferOwnership hands the team to another member.
// POST /api/teams/:id/transfer
func (h *TeamHandler) TransferOwnership(c *gin.Context) {
	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}

	var req struct {
		NewOwnerID uint `json:"new_owner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.teamService.TransferOwnership(teamID, middleware.GetUserID(c), req.NewOwnerID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "ownership transferred"})
}

// Delete deletes the team. Owner only.
// DELETE /api/teams/:id
func (h *TeamHandler) Delete(c *gin.Context) {
	teamID, ok := teamIDParam(c)
	if !ok {
		return
	}

	if err := h.teamService.Delete(teamID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "team deleted"})
}
