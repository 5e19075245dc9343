package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"base-api/internal/domain"
)

// TokenResponse es la respuesta del intercambio de un ID token de Google.
// AccessToken es el mismo ID token recibido; el servicio no emite tokens propios.
type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	User        domain.User `json:"user"`
}

// AuthService es el punto de entrada de autenticacion por request.
type AuthService struct {
	logger   *zap.Logger
	cfg      AuthConfig
	verifier *IdentityVerifier
	resolver *UserResolver
	now      func() time.Time
}

func NewAuthService(logger *zap.Logger, cfg AuthConfig, verifier *IdentityVerifier, resolver *UserResolver) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		logger:   logger,
		cfg:      cfg,
		verifier: verifier,
		resolver: resolver,
		now:      time.Now,
	}
}

// Authenticate resuelve la credencial cruda del request a un usuario habilitado.
// No encontrado y deshabilitado devuelven el mismo ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, rawCredential string) (domain.User, error) {
	if s.cfg.OfflineMode {
		user, err := s.resolver.EnsureOfflineAdmin(ctx, s.cfg.OfflineAdminEmail)
		if err != nil {
			return domain.User{}, fmt.Errorf("offline bootstrap: %w", err)
		}
		return user, nil
	}

	token := NormalizeToken(rawCredential)
	if token == "" {
		return domain.User{}, ErrMissingToken
	}

	claims, ok := s.verifier.Verify(ctx, token)
	if !ok || strings.TrimSpace(claims.Email) == "" {
		return domain.User{}, ErrInvalidCredentials
	}

	user, err := s.resolver.ResolveFromEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrUserDisabled) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	return user, nil
}

// ExchangeGoogleToken verifica un ID token, crea el usuario si hace falta y
// devuelve el mismo token como credencial bearer de la API.
func (s *AuthService) ExchangeGoogleToken(ctx context.Context, idToken string) (TokenResponse, error) {
	if !s.verifier.AudienceConfigured() {
		return TokenResponse{}, ErrAudienceNotConfigured
	}

	claims, ok := s.verifier.Verify(ctx, idToken)
	if !ok {
		return TokenResponse{}, ErrInvalidCredentials
	}
	if strings.TrimSpace(claims.Email) == "" {
		return TokenResponse{}, ErrEmailClaimMissing
	}

	user, err := s.resolver.ResolveFromClaims(ctx, claims)
	if err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken: idToken,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn(claims, s.now()),
		User:        user,
	}, nil
}

func expiresIn(claims domain.ClaimSet, now time.Time) int64 {
	if claims.ExpiresAt == 0 {
		return 0
	}
	return max(0, claims.ExpiresAt-now.Unix())
}
