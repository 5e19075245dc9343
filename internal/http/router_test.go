package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"base-api/internal/domain"
	"base-api/internal/repository"
	"base-api/internal/service"
)

const testAudience = "client-123.apps.googleusercontent.com"

type mockUserRepo struct {
	mu        sync.Mutex
	usersByID map[string]domain.User
	idByEmail map[string]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID: make(map[string]domain.User),
		idByEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(user.Email)
	if _, ok := m.idByEmail[key]; ok {
		return repository.ErrUserExists
	}
	m.usersByID[user.ID] = user
	m.idByEmail[key] = user.ID
	return nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.idByEmail[strings.ToLower(email)]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.usersByID[id], nil
}

func (m *mockUserRepo) List(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]domain.User, 0, len(m.usersByID))
	for _, u := range m.usersByID {
		users = append(users, u)
	}
	return users, nil
}

func (m *mockUserRepo) DeleteByEmail(_ context.Context, email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(email)
	id, ok := m.idByEmail[key]
	if !ok {
		return 0, nil
	}
	delete(m.idByEmail, key)
	delete(m.usersByID, id)
	return 1, nil
}

func (m *mockUserRepo) UpdateFlags(_ context.Context, id string, isAdmin, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.IsAdmin = isAdmin
	user.Disabled = disabled
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) seed(t *testing.T, user domain.User) {
	t.Helper()
	if user.ID == "" {
		user.ID = "id-" + user.Email
	}
	if user.Firstname == "" {
		user.Firstname = "Test"
	}
	if err := m.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
}

// tokenProvider acepta tokens con la forma "valid:<email>".
type tokenProvider struct {
	claims map[string]domain.ClaimSet
}

func (p *tokenProvider) VerifyIDToken(_ context.Context, token string, _ string) (domain.ClaimSet, error) {
	if claims, ok := p.claims[token]; ok {
		return claims, nil
	}
	if email, ok := strings.CutPrefix(token, "valid:"); ok {
		return domain.ClaimSet{Email: email}, nil
	}
	return domain.ClaimSet{}, service.ErrTokenSignature
}

type mockLimiter struct {
	allow bool
}

func (m *mockLimiter) Allow(_ context.Context, _ string) bool {
	return m.allow
}

type testServer struct {
	router *gin.Engine
	repo   *mockUserRepo
}

const testOrigin = "http://localhost:3000"

func testRouterConfig() RouterConfig {
	return RouterConfig{APIPrefix: "/api", CORSOrigins: []string{testOrigin}}
}

func newTestServer(cfg service.AuthConfig, provider service.ProviderVerifier, limiter service.ExchangeRateLimiter) *testServer {
	return newTestServerWith(testRouterConfig(), cfg, provider, limiter)
}

func newTestServerWith(rc RouterConfig, cfg service.AuthConfig, provider service.ProviderVerifier, limiter service.ExchangeRateLimiter) *testServer {
	gin.SetMode(gin.TestMode)
	repo := newMockUserRepo()
	logger := zap.NewNop()

	verifier := service.NewIdentityVerifier(logger, cfg, provider)
	resolver := service.NewUserResolver(logger, repo)
	authSvc := service.NewAuthService(logger, cfg, verifier, resolver)
	userSvc := service.NewUserService(logger, repo)

	router, err := NewRouter(logger, rc, authSvc,
		NewAuthHandler(logger, authSvc, limiter),
		NewUserHandler(logger, userSvc),
	)
	if err != nil {
		panic(err)
	}
	return &testServer{router: router, repo: repo}
}

func defaultServer() *testServer {
	return newTestServer(service.AuthConfig{Audience: testAudience}, &tokenProvider{}, nil)
}

func performRequest(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func performRequestWithHeaders(r http.Handler, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRoot(t *testing.T) {
	srv := defaultServer()
	rec := performRequest(srv.router, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := decodeBody[map[string]string](t, rec); body["message"] != "Base API is running." {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealth(t *testing.T) {
	srv := defaultServer()
	srv.repo.seed(t, domain.User{Email: "pat@example.com"})

	rec := performRequest(srv.router, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if body := decodeBody[map[string]string](t, rec); body["error"] != "Missing bearer token" {
		t.Fatalf("unexpected error body %v", body)
	}

	rec = performRequest(srv.router, http.MethodGet, "/health", "Bearer valid:Pat@Example.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["status"] != "ok" || body["user"] != "pat@example.com" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestAuthMiddleware_RawTokenAccepted(t *testing.T) {
	srv := defaultServer()
	srv.repo.seed(t, domain.User{Email: "pat@example.com"})

	rec := performRequest(srv.router, http.MethodGet, "/api/users/", "valid:pat@example.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	srv := defaultServer()
	srv.repo.seed(t, domain.User{Email: "off@example.com", Disabled: true})

	cases := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "bad signature", token: "Bearer forged"},
		{name: "unknown user", token: "Bearer valid:ghost@example.com"},
		{name: "disabled user", token: "Bearer valid:off@example.com"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := performRequest(srv.router, http.MethodGet, "/api/users/", c.token, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Fatalf("expected WWW-Authenticate header")
			}
		})
	}
}

func TestOfflineModeAuthenticatesWithoutToken(t *testing.T) {
	srv := newTestServer(service.AuthConfig{OfflineMode: true, OfflineAdminEmail: "devadmin@example.com"}, nil, nil)

	rec := performRequest(srv.router, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := decodeBody[map[string]string](t, rec); body["user"] != "devadmin@example.com" {
		t.Fatalf("unexpected health body %v", body)
	}

	rec = performRequest(srv.router, http.MethodPost, "/api/users/adminize", "", map[string]string{"email": "devadmin@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected offline admin to adminize, got %d", rec.Code)
	}
}

func TestRouter_ForwardedForIgnoredWithoutTrustedProxies(t *testing.T) {
	limiter := service.NewMemoryRateLimiter(time.Minute, 2)
	srv := newTestServer(service.AuthConfig{Audience: testAudience}, &tokenProvider{}, limiter)

	admitted := 0
	for i := 0; i < 10; i++ {
		rec := performRequestWithHeaders(srv.router, http.MethodPost, "/api/auth/google",
			map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1)},
			map[string]string{"id_token": fmt.Sprintf("valid:user%d@example.com", i)})
		switch rec.Code {
		case http.StatusOK:
			admitted++
		case http.StatusTooManyRequests:
		default:
			t.Fatalf("request %d: unexpected status %d", i, rec.Code)
		}
	}
	if admitted != 2 {
		t.Fatalf("expected 2 admitted exchanges from one peer, got %d", admitted)
	}
}

func TestRouter_TrustedProxyForwardsClientIP(t *testing.T) {
	limiter := service.NewMemoryRateLimiter(time.Minute, 1)
	rc := testRouterConfig()
	// httptest.NewRequest usa 192.0.2.1 como peer.
	rc.TrustedProxies = []string{"192.0.2.1"}
	srv := newTestServerWith(rc, service.AuthConfig{Audience: testAudience}, &tokenProvider{}, limiter)

	for i := 0; i < 3; i++ {
		rec := performRequestWithHeaders(srv.router, http.MethodPost, "/api/auth/google",
			map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1)},
			map[string]string{"id_token": fmt.Sprintf("valid:user%d@example.com", i)})
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, rec.Code)
		}
	}

	rec := performRequestWithHeaders(srv.router, http.MethodPost, "/api/auth/google",
		map[string]string{"X-Forwarded-For": "203.0.113.1"},
		map[string]string{"id_token": "valid:again@example.com"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected repeated client to be limited, got %d", rec.Code)
	}
}

func TestNewRouter_InvalidTrustedProxy(t *testing.T) {
	rc := testRouterConfig()
	rc.TrustedProxies = []string{"not-an-ip"}
	if _, err := NewRouter(zap.NewNop(), rc, nil, &AuthHandler{}, &UserHandler{}); err == nil {
		t.Fatalf("expected error for invalid trusted proxy")
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	srv := defaultServer()

	rec := performRequestWithHeaders(srv.router, http.MethodOptions, "/api/users/", map[string]string{
		"Origin":                         testOrigin,
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "Authorization, Content-Type",
	}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Fatalf("expected allow origin %q, got %q", testOrigin, got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials allowed")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete) {
		t.Fatalf("expected DELETE among allowed methods, got %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}

	rec = performRequestWithHeaders(srv.router, http.MethodOptions, "/api/users/", map[string]string{
		"Origin":                        "https://evil.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for unknown origin, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected no allow origin for unknown origin")
	}
}

func TestRouter_CORSOnSimpleRequest(t *testing.T) {
	srv := defaultServer()

	rec := performRequestWithHeaders(srv.router, http.MethodGet, "/", map[string]string{"Origin": testOrigin}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Fatalf("expected allow origin %q, got %q", testOrigin, got)
	}
}
