package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"base-api/internal/config"
	"base-api/internal/db"
	apihttp "base-api/internal/http"
	"base-api/internal/repository"
	"base-api/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// El .env del repo pisa variables exportadas viejas.
	if err := godotenv.Overload(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()
	if cfg.Debug {
		logger.Debug("database target", zap.String("db", db.Describe(pool)))
	}

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	authCfg := service.AuthConfig{
		DebugAuth:         cfg.Auth.DebugAuth,
		SharedSecret:      cfg.Auth.SecretKey,
		OfflineMode:       cfg.Auth.OfflineMode,
		OfflineAdminEmail: cfg.Auth.OfflineAdminEmail,
		Audience:          cfg.Auth.Audience(),
		VerifyTimeout:     cfg.Auth.VerifyTimeout,
	}
	if authCfg.Audience == "" {
		logger.Warn("google audience not configured; provider verification disabled")
	}
	if authCfg.OfflineMode {
		logger.Warn("offline mode enabled; every request authenticates as the offline admin",
			zap.String("email", authCfg.OfflineAdminEmail))
	}

	userRepo := repository.NewPgUserRepository(pool)
	googleVerifier := service.NewGoogleTokenVerifier(logger, cfg.Auth.GoogleCertsURL, cfg.Auth.VerifyTimeout)
	defer googleVerifier.Close()

	identityVerifier := service.NewIdentityVerifier(logger, authCfg, googleVerifier)
	resolver := service.NewUserResolver(logger, userRepo)
	authSvc := service.NewAuthService(logger, authCfg, identityVerifier, resolver)
	userSvc := service.NewUserService(logger, userRepo)

	limiter, closeLimiter := newExchangeLimiter(ctx, logger, cfg)
	defer closeLimiter()

	router, err := apihttp.NewRouter(
		logger,
		apihttp.RouterConfig{
			APIPrefix:      cfg.APIPrefix,
			TrustedProxies: cfg.TrustedProxies,
			CORSOrigins:    cfg.CORSOrigins,
		},
		authSvc,
		apihttp.NewAuthHandler(logger, authSvc, limiter),
		apihttp.NewUserHandler(logger, userSvc),
	)
	if err != nil {
		logger.Fatal("router setup", zap.Error(err))
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("api_prefix", cfg.APIPrefix))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
}

func newLogger(debug bool) *zap.Logger {
	build := zap.NewProduction
	if debug {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// newExchangeLimiter usa redis si responde y cae al limiter en memoria si no.
// El closer devuelto libera el cliente redis.
func newExchangeLimiter(ctx context.Context, logger *zap.Logger, cfg *config.Config) (service.ExchangeRateLimiter, func()) {
	window, limit := cfg.Auth.ExchangeWindow, cfg.Auth.ExchangeLimit
	if cfg.RedisAddr == "" {
		return service.NewMemoryRateLimiter(window, limit), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		logger.Warn("redis ping failed; using in-memory rate limiter", zap.Error(err))
		_ = client.Close()
		return service.NewMemoryRateLimiter(window, limit), func() {}
	}
	return redisExchangeLimiter(logger, client, cfg)
}

func redisExchangeLimiter(logger *zap.Logger, client *redis.Client, cfg *config.Config) (service.ExchangeRateLimiter, func()) {
	limiter := service.NewRedisRateLimiter(logger, client, cfg.Auth.ExchangeWindow, cfg.Auth.ExchangeLimit)
	return limiter, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close", zap.Error(err))
		}
	}
}
