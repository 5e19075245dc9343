package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"base-api/internal/domain"
	"base-api/internal/service"
)

// UserHandler mantiene dependencias para endpoints de usuarios.
type UserHandler struct {
	logger   *zap.Logger
	userServ *service.UserService
}

// NewUserHandler crea una instancia de UserHandler con dependencias necesarias.
func NewUserHandler(logger *zap.Logger, userServ *service.UserService) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{
		logger:   logger,
		userServ: userServ,
	}
}

type adminChange func(ctx context.Context, caller domain.User, email string) (domain.User, error)

// emailRequest no valida formato: debe poder apuntar a cualquier email guardado,
// incluido un OFFLINE_ADMIN_EMAIL que no tenga forma de email.
type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

// CreateUser maneja POST {prefix}/users/.
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req struct {
		Email     string  `json:"email" binding:"required,email"`
		Firstname string  `json:"firstname" binding:"required"`
		Lastname  *string `json:"lastname"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create user request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.userServ.CreateUser(c.Request.Context(), service.CreateUserInput{
		Email:     req.Email,
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserExists):
			c.JSON(http.StatusBadRequest, gin.H{"error": "User already exists"})
		case errors.Is(err, service.ErrInvalidEmail), errors.Is(err, service.ErrFirstnameRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		default:
			h.logger.Error("create user failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create user"})
		}
		return
	}

	c.JSON(http.StatusCreated, user)
}

// ListUsers maneja GET {prefix}/users/.
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.userServ.ListUsers(c.Request.Context())
	if err != nil {
		h.logger.Error("list users failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// DeleteUser maneja DELETE {prefix}/users/.
func (h *UserHandler) DeleteUser(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid delete user request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.userServ.DeleteUser(c.Request.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.logger.Error("delete user failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete user"})
		return
	}
	c.Status(http.StatusNoContent)
}

// PromoteUser maneja POST {prefix}/users/adminize.
func (h *UserHandler) PromoteUser(c *gin.Context) {
	h.changeAdmin(c, h.userServ.PromoteUser)
}

// DemoteUser maneja POST {prefix}/users/deadminize.
func (h *UserHandler) DemoteUser(c *gin.Context) {
	h.changeAdmin(c, h.userServ.DemoteUser)
}

func (h *UserHandler) changeAdmin(c *gin.Context, apply adminChange) {
	caller, ok := GetAuthUser(c)
	if !ok {
		unauthorized(c, "Missing bearer token")
		return
	}

	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid admin change request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := apply(c.Request.Context(), caller, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAdminRequired):
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin required"})
		case errors.Is(err, service.ErrSelfDemotion):
			c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot deadminize yourself"})
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		default:
			h.logger.Error("admin change failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update user"})
		}
		return
	}
	c.JSON(http.StatusOK, user)
}
