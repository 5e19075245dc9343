package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"base-api/internal/domain"
)

const defaultVerifyTimeout = 5 * time.Second

// AuthConfig se construye una vez al arrancar y se inyecta en verifier y gate.
type AuthConfig struct {
	DebugAuth         bool
	SharedSecret      string
	OfflineMode       bool
	OfflineAdminEmail string
	Audience          string
	VerifyTimeout     time.Duration
}

// IdentityVerifier resuelve un token a un ClaimSet, via bypass de debug o via el proveedor.
type IdentityVerifier struct {
	logger   *zap.Logger
	cfg      AuthConfig
	provider ProviderVerifier
}

// NewIdentityVerifier crea el verifier. provider puede ser nil: en ese caso
// la verificacion contra el proveedor siempre falla.
func NewIdentityVerifier(logger *zap.Logger, cfg AuthConfig, provider ProviderVerifier) *IdentityVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = defaultVerifyTimeout
	}
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.OfflineAdminEmail = normalizeEmail(cfg.OfflineAdminEmail)
	return &IdentityVerifier{
		logger:   logger,
		cfg:      cfg,
		provider: provider,
	}
}

// AudienceConfigured indica si el camino del proveedor puede usarse.
func (v *IdentityVerifier) AudienceConfigured() bool {
	return v.cfg.Audience != ""
}

// Verify devuelve los claims del token o false. Los motivos de fallo no salen de aqui.
func (v *IdentityVerifier) Verify(ctx context.Context, token string) (domain.ClaimSet, bool) {
	if token == "" {
		return domain.ClaimSet{}, false
	}

	if claims, ok := v.debugClaims(token); ok {
		v.logger.Info("[auth] debug token accepted", zap.String("email", claims.Email))
		return claims, true
	}

	if v.provider == nil {
		v.debugFailure("provider_unavailable", nil)
		return domain.ClaimSet{}, false
	}
	if v.cfg.Audience == "" {
		v.debugFailure("audience_not_configured", nil)
		return domain.ClaimSet{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.VerifyTimeout)
	defer cancel()

	claims, err := v.provider.VerifyIDToken(ctx, token, v.cfg.Audience)
	if err != nil {
		v.debugFailure(failureCategory(err), err)
		return domain.ClaimSet{}, false
	}
	if v.cfg.DebugAuth {
		v.logger.Info("[auth] decoded token", zap.String("email", claims.Email))
	}
	return claims, true
}

func (v *IdentityVerifier) debugClaims(token string) (domain.ClaimSet, bool) {
	if !v.cfg.DebugAuth || v.cfg.SharedSecret == "" {
		return domain.ClaimSet{}, false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.cfg.SharedSecret)) != 1 {
		return domain.ClaimSet{}, false
	}
	return domain.ClaimSet{
		Email:      v.cfg.OfflineAdminEmail,
		GivenName:  "Dev",
		FamilyName: "Admin",
	}, true
}

func (v *IdentityVerifier) debugFailure(category string, err error) {
	if !v.cfg.DebugAuth {
		return
	}
	fields := []zap.Field{zap.String("reason", category)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	v.logger.Warn("[auth] google verification failed", fields...)
}

func failureCategory(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenAudience):
		return "audience"
	case errors.Is(err, ErrTokenIssuer):
		return "issuer"
	case errors.Is(err, ErrTokenSignature):
		return "signature"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrProviderUnavailable):
		return "keys_unavailable"
	default:
		return "invalid"
	}
}
