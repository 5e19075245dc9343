package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"base-api/internal/service"
)

// AuthHandler expone el intercambio de tokens de Google y los endpoints base.
type AuthHandler struct {
	logger  *zap.Logger
	authSvc *service.AuthService
	limiter service.ExchangeRateLimiter
}

// NewAuthHandler crea el handler. limiter puede ser nil (sin limite).
func NewAuthHandler(logger *zap.Logger, authSvc *service.AuthService, limiter service.ExchangeRateLimiter) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		logger:  logger,
		authSvc: authSvc,
		limiter: limiter,
	}
}

// GoogleLogin maneja POST {prefix}/auth/google.
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	if h.limiter != nil && !h.limiter.Allow(c.Request.Context(), c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}

	var req struct {
		IDToken string `json:"id_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid google login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	resp, err := h.authSvc.ExchangeGoogleToken(c.Request.Context(), req.IDToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAudienceNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google audience is not configured"})
		case errors.Is(err, service.ErrInvalidCredentials):
			unauthorized(c, "Invalid or expired Google credentials")
		case errors.Is(err, service.ErrEmailClaimMissing):
			unauthorized(c, "Google email claim is missing")
		case errors.Is(err, service.ErrUserDisabled):
			c.JSON(http.StatusForbidden, gin.H{"error": "User is disabled"})
		default:
			h.logger.Error("google login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not complete google login"})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Health maneja GET /health. Requiere AuthMiddleware.
func (h *AuthHandler) Health(c *gin.Context) {
	user, ok := GetAuthUser(c)
	if !ok {
		unauthorized(c, "Missing bearer token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "user": user.Email})
}

// Root maneja GET /.
func (h *AuthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Base API is running."})
}
