package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"base-api/internal/service"
)

// RouterConfig trae del entorno lo que el engine necesita.
type RouterConfig struct {
	APIPrefix string
	// TrustedProxies vacio hace que ClientIP ignore X-Forwarded-For.
	TrustedProxies []string
	CORSOrigins    []string
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	rc RouterConfig,
	authSvc *service.AuthService,
	authH *AuthHandler,
	userH *UserHandler,
) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(nonEmpty(rc.TrustedProxies)); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())
	if origins := nonEmpty(rc.CORSOrigins); len(origins) > 0 {
		corsCfg := cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		if err := corsCfg.Validate(); err != nil {
			return nil, fmt.Errorf("cors: %w", err)
		}
		r.Use(cors.New(corsCfg))
	}
	r.Use(jsonContentTypeMiddleware())

	requireAuth := AuthMiddleware(logger, authSvc)

	r.GET("/", authH.Root)
	r.GET("/health", requireAuth, authH.Health)

	api := r.Group(rc.APIPrefix)

	users := api.Group("/users")
	users.POST("/", userH.CreateUser)
	users.GET("/", requireAuth, userH.ListUsers)
	users.DELETE("/", requireAuth, userH.DeleteUser)
	users.POST("/adminize", requireAuth, userH.PromoteUser)
	users.POST("/deadminize", requireAuth, userH.DemoteUser)

	auth := api.Group("/auth")
	auth.POST("/google", authH.GoogleLogin)

	return r, nil
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
