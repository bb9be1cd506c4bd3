package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/http/response"
	"github.com/surveyforge/surveyforge-backend/internal/security"
	"github.com/surveyforge/surveyforge-backend/internal/service"
)

type contextKey string

const credentialContextKey contextKey = "credential"

// Reason codes returned with 401/403 responses. Clients branch on these, so
// they are part of the API contract.
const (
	CodeNoToken          = "NO_TOKEN"
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeInvalidToken     = "INVALID_TOKEN"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeForbidden        = "FORBIDDEN"
)

// Authenticate requires a usable bearer credential. Revoked, superseded and
// unknown credentials all surface as INVALID_TOKEN; only the expiry case gets
// its own code so clients know a refresh may help.
func Authenticate(sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.ExtractBearer(r.Header.Get("Authorization"))
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, CodeNoToken, "authorization credential required", nil)
				return
			}
			verified, err := sessions.VerifyAccessCredential(r.Context(), raw)
			if err != nil {
				writeVerifyError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), credentialContextKey, verified)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthenticate attaches the verified credential when one is presented
// and valid, and lets the request through anonymously otherwise. Store
// outages still fail the request: "maybe authenticated" is not a state we
// serve from.
func OptionalAuthenticate(sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.ExtractBearer(r.Header.Get("Authorization"))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			verified, err := sessions.VerifyAccessCredential(r.Context(), raw)
			if err != nil {
				if errors.Is(err, service.ErrStoreUnavailable) {
					response.Error(w, r, http.StatusServiceUnavailable, CodeStoreUnavailable, "credential store unavailable", nil)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), credentialContextKey, verified)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authorize gates a subtree to the given roles. It must run behind
// Authenticate; a missing credential here is a wiring bug and is treated as
// unauthenticated rather than a panic.
func Authorize(roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verified, ok := CredentialFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, CodeNoToken, "authorization credential required", nil)
				return
			}
			if _, ok := allowed[verified.Owner.Role]; !ok {
				response.Error(w, r, http.StatusForbidden, CodeForbidden, "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CredentialFromContext(ctx context.Context) (*service.VerifiedCredential, bool) {
	v, ok := ctx.Value(credentialContextKey).(*service.VerifiedCredential)
	return v, ok
}

func writeVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrCredentialExpired):
		response.Error(w, r, http.StatusUnauthorized, CodeTokenExpired, "credential expired", nil)
	case errors.Is(err, service.ErrStoreUnavailable):
		response.Error(w, r, http.StatusServiceUnavailable, CodeStoreUnavailable, "credential store unavailable", nil)
	case errors.Is(err, service.ErrOwnerInactive):
		response.Error(w, r, http.StatusUnauthorized, CodeInvalidToken, "credential not accepted", nil)
	default:
		response.Error(w, r, http.StatusUnauthorized, CodeInvalidToken, "credential not accepted", nil)
	}
}
