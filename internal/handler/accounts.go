package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type registerAdminRequest struct {
	Handle          string `json:"handle" binding:"required"`
	Password        string `json:"password" binding:"required"`
	RegistrationKey string `json:"registration_key" binding:"required"`
}

func (h *Handler) RegisterAdmin(c *gin.Context) {
	var req registerAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	a, err := h.accounts.RegisterAdmin(c.Request.Context(), req.Handle, req.Password, req.RegistrationKey)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

type registerParticipantRequest struct {
	ID       string `json:"id" binding:"required"`
	Handle   string `json:"handle" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) RegisterParticipant(c *gin.Context) {
	var req registerParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.accounts.RegisterParticipant(c.Request.Context(), req.ID, req.Handle, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type loginRequest struct {
	Role     string `json:"role" binding:"required,oneof=admin participant"`
	Handle   string `json:"handle" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	pair, id, err := h.accounts.Login(c.Request.Context(), req.Role, req.Handle, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": id, "tokens": pair})
}

func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	pair, id, err := h.accounts.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": id, "tokens": pair})
}
