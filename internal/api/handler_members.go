package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"emergency-portal-backend/internal/membership"
	"emergency-portal-backend/internal/model"
)

type joinRequest struct {
	Email     string  `json:"email" binding:"required"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

type changeRoleRequest struct {
	Role model.Role `json:"role" binding:"required"`
}

func (h *Handler) ListMembers(c *gin.Context) {
	members, err := h.members.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

// JoinOrganization adds the given user to the organization.
func (h *Handler) JoinOrganization(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	member, err := h.members.Join(c.Request.Context(), c.Param("id"), membership.JoinRequest{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *Handler) ChangeMemberRole(c *gin.Context) {
	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required"})
		return
	}

	member, err := h.members.ChangeRole(c.Request.Context(), c.Param("id"), c.Param("memberId"), req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *Handler) RemoveMember(c *gin.Context) {
	member, err := h.members.Leave(c.Request.Context(), c.Param("id"), c.Param("memberId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member removed", "member": member})
}
