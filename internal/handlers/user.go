package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/internal/middleware"
	"github.com/kvasir-auth/kvasir/backend/internal/services"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
)

// UserHandler exposes the admin user management API.
type UserHandler struct {
	userService *services.UserAdminService
}

func NewUserHandler(userService *services.UserAdminService) *UserHandler {
	return &UserHandler{userService: userService}
}

// List returns a filtered page of users.
// GET /api/admin/users
func (h *UserHandler) List(c *gin.Context) {
	var req services.UserListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.userService.List(&req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, resp)
}

// SetActive enables or disables an account. Disabling revokes all of the
// user's refresh tokens.
// PUT /api/admin/users/:id/active
func (h *UserHandler) SetActive(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.userService.SetActive(middleware.GetUserID(c), uint(id), *req.Active); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "user updated"})
}

// SetRole changes a user's role.
// PUT /api/admin/users/:id/role
func (h *UserHandler) SetRole(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
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

	if err := h.userService.SetRole(middleware.GetUserID(c), uint(id), req.Role); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"message": "role updated"})
}
