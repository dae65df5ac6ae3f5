package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"vault_router/internal/auth"
	"vault_router/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// TenantIDKey is the context key for the authenticated tenant id
	TenantIDKey ContextKey = "tenantID"

	// TokenScopesKey is the context key for the token's scopes
	TokenScopesKey ContextKey = "tokenScopes"
)

// TenantAuth authenticates requests with either a tenant bearer token or
// an exchanged session JWT, and checks the X-Tenant-ID header against
// the token's tenant. A mismatch is rejected exactly like a missing
// token; the response never reveals whether the named tenant exists.
func TenantAuth(store *auth.TokenStore, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}
			bearer := strings.TrimPrefix(authHeader, "Bearer ")

			tenantHeader := r.Header.Get("X-Tenant-ID")
			if tenantHeader == "" {
				utils.RespondWithError(w, http.StatusBadRequest, "X-Tenant-ID header is required")
				return
			}
			claimedTenant, err := uuid.Parse(tenantHeader)
			if err != nil {
				utils.RespondWithError(w, http.StatusBadRequest, "Invalid X-Tenant-ID header")
				return
			}

			tokenTenant, scopes, err := resolveBearer(r.Context(), store, jwtSecret, bearer)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidToken) {
					utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
					return
				}
				utils.RespondWithError(w, http.StatusInternalServerError, "Error validating token")
				return
			}

			if tokenTenant != claimedTenant {
				utils.RespondWithError(w, http.StatusForbidden, "Access denied")
				return
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, tokenTenant)
			ctx = context.WithValue(ctx, TokenScopesKey, scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveBearer(ctx context.Context, store *auth.TokenStore, jwtSecret []byte, bearer string) (uuid.UUID, []string, error) {
	if strings.HasPrefix(bearer, auth.TokenPrefix) {
		token, err := store.Authenticate(ctx, bearer)
		if err != nil {
			return uuid.Nil, nil, err
		}
		return token.TenantID, token.Scopes, nil
	}

	claims, err := auth.ValidateJWT(bearer, jwtSecret)
	if err != nil {
		return uuid.Nil, nil, auth.ErrInvalidToken
	}
	return claims.TenantID, claims.Scopes, nil
}

// GetTenantID retrieves the authenticated tenant from the request context
func GetTenantID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(TenantIDKey).(uuid.UUID)
	return id, ok
}

// GetScopes retrieves the token scopes from the request context
func GetScopes(ctx context.Context) []string {
	scopes, _ := ctx.Value(TokenScopesKey).([]string)
	return scopes
}

// RequireScope rejects requests whose token lacks the given scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, s := range GetScopes(r.Context()) {
				if s == scope || s == auth.ScopeAdmin {
					next.ServeHTTP(w, r)
					return
				}
			}
			utils.RespondWithError(w, http.StatusForbidden, "Access denied")
		})
	}
}
