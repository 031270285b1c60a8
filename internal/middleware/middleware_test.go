package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/domain"
)

type fakePrincipals struct {
	byName map[string]*domain.Principal
}

func (f *fakePrincipals) GetByName(_ context.Context, name string) (*domain.Principal, error) {
	p, ok := f.byName[name]
	if !ok {
		return nil, domain.ErrNotFound("principal %q not found", name)
	}
	return p, nil
}

func (f *fakePrincipals) Create(_ context.Context, p *domain.Principal) (*domain.Principal, error) {
	f.byName[p.Name] = p
	return p, nil
}

func (f *fakePrincipals) List(context.Context) ([]domain.Principal, error) { return nil, nil }

type fakeGroups struct {
	byPrincipal map[int64][]int64
}

func (f *fakeGroups) Create(_ context.Context, g *domain.Group) (*domain.Group, error) {
	return g, nil
}

func (f *fakeGroups) AddMember(context.Context, int64, int64) error { return nil }

func (f *fakeGroups) GroupIDsForPrincipal(_ context.Context, principalID int64) ([]int64, error) {
	return f.byPrincipal[principalID], nil
}

func signToken(t *testing.T, secret []byte, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func authedHandler(t *testing.T) (http.Handler, *domain.ContextPrincipal) {
	t.Helper()
	secret := []byte("test-secret")
	principals := &fakePrincipals{byName: map[string]*domain.Principal{
		"alice": {ID: 1, Name: "alice"},
		"root":  {ID: 2, Name: "root", IsAdmin: true},
	}}
	groups := &fakeGroups{byPrincipal: map[int64][]int64{1: {10, 20}}}

	var seen domain.ContextPrincipal
	handler := Auth(secret, principals, groups)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := domain.PrincipalFromContext(r.Context())
		require.True(t, ok)
		seen = p
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &seen
}

func TestAuth_ValidToken(t *testing.T) {
	handler, seen := authedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("test-secret"), "alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", seen.Name)
	assert.False(t, seen.IsAdmin)
	assert.Equal(t, []int64{10, 20}, seen.Groups)
}

func TestAuth_AdminFlag(t *testing.T) {
	handler, seen := authedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("test-secret"), "root"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, seen.IsAdmin)
}

func TestAuth_Rejections(t *testing.T) {
	handler, _ := authedHandler(t)

	cases := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"no header", func(*http.Request) {}},
		{"wrong secret", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, []byte("other-secret"), "alice"))
		}},
		{"unknown subject", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, []byte("test-secret"), "mallory"))
		}},
		{"garbage token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer garbage")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, got)
	assert.Equal(t, got, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", got)
}

func TestRateLimiter_RejectsBeyondBurst(t *testing.T) {
	handler := RateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
