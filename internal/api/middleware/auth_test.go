package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bcnelson/membership-manager/internal/auth"
	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[string]*domain.Principal

func (f fakeResolver) GetByHandle(_ context.Context, handle string) (*domain.Principal, error) {
	for _, p := range f {
		if p.Handle == handle {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f fakeResolver) GetByEmail(_ context.Context, email string) (*domain.Principal, error) {
	for _, p := range f {
		if p.Email == email {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeVerifier map[string]string

func (f fakeVerifier) Verify(_ context.Context, raw string) (*auth.Claims, error) {
	email, ok := f[raw]
	if !ok {
		return nil, errors.New("bad token")
	}
	return &auth.Claims{Email: email, EmailVerified: true}, nil
}

var alice = &domain.Principal{ID: "p1", Handle: "alice", Email: "alice@example.com"}

func serve(t *testing.T, verifier auth.TokenVerifier, mustAuth bool, setup func(r *http.Request)) (*httptest.ResponseRecorder, *domain.Principal) {
	t.Helper()
	var seen *domain.Principal
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	if mustAuth {
		h = RequirePrincipal(h)
	}
	h = Identity(fakeResolver{"alice": alice}, verifier)(h)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	setup(req)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestIdentityFromHandleHeader(t *testing.T) {
	rec, p := serve(t, nil, true, func(r *http.Request) { r.Header.Set(HandleHeader, "alice") })
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, p)
	assert.Equal(t, "p1", p.ID)
}

func TestIdentityUnknownHandle(t *testing.T) {
	rec, _ := serve(t, nil, false, func(r *http.Request) { r.Header.Set(HandleHeader, "mallory") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrCodeUnauthorized)
}

func TestIdentityAnonymous(t *testing.T) {
	rec, p := serve(t, nil, false, func(*http.Request) {})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, p)

	rec, _ = serve(t, nil, true, func(*http.Request) {})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityFromBearerToken(t *testing.T) {
	verifier := fakeVerifier{"good": "alice@example.com", "stranger": "bob@example.com"}

	rec, p := serve(t, verifier, true, func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") })
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Handle)

	rec, _ = serve(t, verifier, true, func(r *http.Request) { r.Header.Set("Authorization", "Bearer forged") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, verifier, true, func(r *http.Request) { r.Header.Set("Authorization", "Bearer stranger") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, verifier, true, func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityIgnoresBearerWithoutVerifier(t *testing.T) {
	rec, p := serve(t, nil, false, func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") })
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, p)
}
