package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"base-api/internal/domain"
)

// ProviderVerifier valida firma, audiencia y expiracion de un ID token externo.
type ProviderVerifier interface {
	VerifyIDToken(ctx context.Context, token, audience string) (domain.ClaimSet, error)
}

var (
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrProviderTimeout     = errors.New("identity provider timeout")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenAudience       = errors.New("token audience mismatch")
	ErrTokenIssuer         = errors.New("token issuer mismatch")
	ErrTokenSignature      = errors.New("token signature invalid")
	ErrTokenMalformed      = errors.New("token malformed")
	ErrTokenInvalid        = errors.New("token invalid")
)

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

type googleIDTokenClaims struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Name       string `json:"name"`
	jwt.RegisteredClaims
}

// jwksRetryBackoff es cuanto se espera tras una descarga fallida antes de reintentar.
const jwksRetryBackoff = 30 * time.Second

// GoogleTokenVerifier verifica ID tokens de Google contra sus JWKS publicas.
// Las JWKS se descargan una sola vez por intento, aunque haya muchos requests esperando.
type GoogleTokenVerifier struct {
	logger   *zap.Logger
	certsURL string
	client   *http.Client
	timeout  time.Duration
	backoff  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	keyfunc  jwt.Keyfunc
	jwks     *keyfunc.JWKS
	fetching chan struct{}
	lastErr  error
	failedAt time.Time
	closed   bool
	bgCtx    context.Context
	cancelBg context.CancelFunc
}

// NewGoogleTokenVerifier crea un verificador que descarga las JWKS en el primer uso.
func NewGoogleTokenVerifier(logger *zap.Logger, certsURL string, timeout time.Duration) *GoogleTokenVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	return &GoogleTokenVerifier{
		logger:   logger,
		certsURL: strings.TrimSpace(certsURL),
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		backoff:  jwksRetryBackoff,
		now:      time.Now,
		bgCtx:    bgCtx,
		cancelBg: cancel,
	}
}

// Close detiene el refresco en background de las JWKS.
func (v *GoogleTokenVerifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
	v.cancelBg()
}

func (v *GoogleTokenVerifier) VerifyIDToken(ctx context.Context, token, audience string) (domain.ClaimSet, error) {
	if strings.TrimSpace(token) == "" {
		return domain.ClaimSet{}, ErrTokenMalformed
	}
	if strings.TrimSpace(audience) == "" {
		return domain.ClaimSet{}, ErrTokenAudience
	}
	if err := ctx.Err(); err != nil {
		return domain.ClaimSet{}, fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}

	kf, err := v.loadKeyfunc(ctx)
	if err != nil {
		return domain.ClaimSet{}, err
	}
	return v.parse(token, audience, kf)
}

func (v *GoogleTokenVerifier) parse(token, audience string, kf jwt.Keyfunc) (domain.ClaimSet, error) {
	var claims googleIDTokenClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if _, err := parser.ParseWithClaims(token, &claims, kf); err != nil {
		return domain.ClaimSet{}, mapJWTError(err)
	}
	if !isGoogleIssuer(claims.Issuer) {
		return domain.ClaimSet{}, ErrTokenIssuer
	}

	out := domain.ClaimSet{
		Email:      strings.TrimSpace(claims.Email),
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
		Name:       claims.Name,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out, nil
}

// loadKeyfunc devuelve el keyfunc cacheado o espera la descarga en curso.
// Tras un fallo responde ErrProviderUnavailable sin red hasta que pase el backoff.
func (v *GoogleTokenVerifier) loadKeyfunc(ctx context.Context) (jwt.Keyfunc, error) {
	v.mu.Lock()
	if v.keyfunc != nil {
		kf := v.keyfunc
		v.mu.Unlock()
		return kf, nil
	}
	if v.certsURL == "" {
		v.mu.Unlock()
		return nil, fmt.Errorf("%w: certs url not configured", ErrProviderUnavailable)
	}
	if v.fetching == nil && !v.failedAt.IsZero() && v.now().Sub(v.failedAt) < v.backoff {
		err := v.lastErr
		v.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	done := v.fetching
	if done == nil {
		done = make(chan struct{})
		v.fetching = done
		go v.fetchJWKS(done)
	}
	v.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrProviderTimeout, ctx.Err())
	case <-done:
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.keyfunc != nil {
		return v.keyfunc, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, v.lastErr)
}

// fetchJWKS corre sin el lock; el http.Client acota su duracion.
func (v *GoogleTokenVerifier) fetchJWKS(done chan struct{}) {
	jwks, err := keyfunc.Get(v.certsURL, keyfunc.Options{
		Ctx:    v.bgCtx,
		Client: v.client,
		RefreshErrorHandler: func(err error) {
			v.logger.Warn("google jwks refresh failed", zap.Error(err))
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    v.timeout,
		RefreshUnknownKID: true,
	})

	v.mu.Lock()
	defer v.mu.Unlock()
	defer close(done)
	v.fetching = nil

	if err != nil {
		v.lastErr = err
		v.failedAt = v.now()
		v.logger.Warn("google jwks fetch failed", zap.String("url", v.certsURL), zap.Error(err))
		return
	}
	if v.closed {
		jwks.EndBackground()
		v.lastErr = errors.New("verifier closed")
		v.failedAt = v.now()
		return
	}
	v.jwks = jwks
	v.keyfunc = jwks.Keyfunc
	v.lastErr = nil
	v.failedAt = time.Time{}
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrTokenAudience
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

func isGoogleIssuer(iss string) bool {
	for _, allowed := range googleIssuers {
		if iss == allowed {
			return true
		}
	}
	return false
}
