package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bcnelson/membership-manager/internal/auth"
	"github.com/bcnelson/membership-manager/internal/domain"
	"github.com/rs/zerolog/log"
)

type contextKey string

// PrincipalContextKey holds the requesting *domain.Principal.
const PrincipalContextKey contextKey = "principal"

// HandleHeader names the header carrying the requester's handle.
const HandleHeader = "X-Auth"

// PrincipalResolver looks principals up by handle or email.
type PrincipalResolver interface {
	GetByHandle(ctx context.Context, handle string) (*domain.Principal, error)
	GetByEmail(ctx context.Context, email string) (*domain.Principal, error)
}

// Identity resolves the requesting principal and stores it in the request
// context. A bearer token is only honoured when verifier is non-nil;
// otherwise the X-Auth handle header is used. Requests carrying neither pass
// through anonymously; RequirePrincipal rejects them where needed.
func Identity(resolver PrincipalResolver, verifier auth.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var (
				principal *domain.Principal
				err       error
			)
			authHeader := r.Header.Get("Authorization")
			handle := strings.TrimSpace(r.Header.Get(HandleHeader))

			switch {
			case verifier != nil && authHeader != "":
				rawToken, ok := strings.CutPrefix(authHeader, "Bearer ")
				if !ok || rawToken == "" {
					writeError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "invalid authorization header format")
					return
				}
				claims, verr := verifier.Verify(ctx, rawToken)
				if verr != nil {
					log.Debug().Err(verr).Msg("bearer token rejected")
					writeError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "invalid token")
					return
				}
				principal, err = resolver.GetByEmail(ctx, claims.Email)
			case handle != "":
				principal, err = resolver.GetByHandle(ctx, handle)
			default:
				next.ServeHTTP(w, r)
				return
			}

			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "unknown principal")
					return
				}
				log.Error().Err(err).Msg("resolving principal")
				writeError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "internal server error")
				return
			}

			ctx = context.WithValue(ctx, PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePrincipal answers 401 unless Identity resolved a principal.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipalFromContext(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetPrincipalFromContext retrieves the requesting principal, or nil.
func GetPrincipalFromContext(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(PrincipalContextKey).(*domain.Principal)
	return p
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&domain.StandardErrorResponse{
		Error: domain.StandardError{Code: code, Message: message},
	})
}
