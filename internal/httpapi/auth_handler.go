package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"vault_router/internal/auth"
	"vault_router/internal/utils"
)

// AuthHandler exchanges a tenant token for a short-lived session JWT.
type AuthHandler struct {
	tokens    *auth.TokenStore
	jwtSecret []byte
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(tokens *auth.TokenStore, jwtSecret []byte) *AuthHandler {
	return &AuthHandler{tokens: tokens, jwtSecret: jwtSecret}
}

// Exchange handles POST /auth/token. The tenant token arrives as a
// bearer; no X-Tenant-ID is needed since the token names its tenant.
func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing bearer token")
		return
	}

	token, err := h.tokens.Authenticate(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Error validating token")
		return
	}

	signed, exp, err := auth.GenerateJWT(token.TenantID, token.ID, token.Scopes, h.jwtSecret)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Error generating token")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"token":    signed,
		"exp":      exp,
		"tenantId": token.TenantID.String(),
	})
}
