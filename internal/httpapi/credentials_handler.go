package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"vault_router/internal/credentials"
	"vault_router/internal/middleware"
	"vault_router/internal/models"
	"vault_router/internal/secrets"
	"vault_router/internal/storage"
	"vault_router/internal/utils"
)

// CredentialsHandler serves the tenant credential endpoints.
type CredentialsHandler struct {
	service CredentialService
}

// NewCredentialsHandler creates a credentials handler.
func NewCredentialsHandler(service CredentialService) *CredentialsHandler {
	return &CredentialsHandler{service: service}
}

// CreateCredentialRequest is the POST /credentials body.
type CreateCredentialRequest struct {
	Provider    string   `json:"provider"`
	KeyType     string   `json:"keyType"`
	KeyValue    string   `json:"keyValue"`
	Permissions []string `json:"permissions"`
	RateLimit   int      `json:"rateLimit"`
	TTLDays     int      `json:"ttlDays"`
}

// CredentialResponse is the masked public view of a credential. Key
// material and secret handles never appear in responses.
type CredentialResponse struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	KeyType       string     `json:"keyType"`
	MaskedValue   string     `json:"maskedValue"`
	Status        string     `json:"status"`
	StrengthScore int        `json:"strengthScore"`
	Permissions   []string   `json:"permissions"`
	RateLimit     int        `json:"rateLimit"`
	UsageCount    int64      `json:"usageCount"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func toCredentialResponse(c *models.Credential) CredentialResponse {
	return CredentialResponse{
		ID:            c.ID.String(),
		Provider:      c.ProviderID,
		KeyType:       c.KeyType,
		MaskedValue:   c.MaskedPreview,
		Status:        string(c.Status),
		StrengthScore: c.StrengthScore,
		Permissions:   c.Permissions,
		RateLimit:     c.RateLimitPerMinute,
		UsageCount:    c.UsageCount,
		ExpiresAt:     c.ExpiresAt,
		CreatedAt:     c.CreatedAt,
	}
}

// Collection dispatches /credentials.
func (h *CredentialsHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.List(w, r)
	case http.MethodPost:
		h.Create(w, r)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Item dispatches /credentials/{id} and /credentials/{id}/rotate.
func (h *CredentialsHandler) Item(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid credential ID")
		return
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid credential ID format")
		return
	}

	switch {
	case len(parts) == 3 && parts[2] == "rotate" && r.Method == http.MethodPost:
		h.Rotate(w, r, id)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		h.Revoke(w, r, id)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// List returns the tenant's masked credential records.
func (h *CredentialsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing tenant")
		return
	}

	creds, err := h.service.ListCredentials(r.Context(), tenantID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list credentials")
		return
	}

	out := make([]CredentialResponse, 0, len(creds))
	for _, c := range creds {
		out = append(out, toCredentialResponse(c))
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

// Create stores a new credential for the tenant.
func (h *CredentialsHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing tenant")
		return
	}

	var req CreateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Provider == "" || req.KeyType == "" || req.KeyValue == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "provider, keyType and keyValue are required")
		return
	}
	// Secret paths are segmented on these characters; a provider or key
	// type containing one would store under a path no lookup can parse.
	if strings.ContainsAny(req.Provider, "/#") || strings.ContainsAny(req.KeyType, "/#") {
		utils.RespondWithError(w, http.StatusBadRequest, "provider and keyType must not contain '/' or '#'")
		return
	}

	cred, err := h.service.AddCredential(r.Context(), tenantID, credentials.AddInput{
		Provider:           req.Provider,
		KeyType:            req.KeyType,
		KeyValue:           req.KeyValue,
		Permissions:        req.Permissions,
		RateLimitPerMinute: req.RateLimit,
		TTLDays:            req.TTLDays,
	})
	if err != nil {
		if errors.Is(err, credentials.ErrWeakCredential) {
			utils.RespondWithJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"code":    "WeakCredential",
				"message": err.Error(),
			})
			return
		}
		if errors.Is(err, secrets.ErrBackendUnavailable) {
			utils.RespondWithError(w, http.StatusServiceUnavailable, "Secret store unavailable")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to store credential")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, map[string]any{
		"id":            cred.ID.String(),
		"maskedValue":   cred.MaskedPreview,
		"strengthScore": cred.StrengthScore,
	})
}

// RotateCredentialRequest is the optional POST /credentials/{id}/rotate
// body. Without a keyValue the existing material is re-wrapped.
type RotateCredentialRequest struct {
	KeyValue string `json:"keyValue"`
}

// Rotate replaces a credential, leaving the old one usable through the
// grace window.
func (h *CredentialsHandler) Rotate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing tenant")
		return
	}

	var req RotateCredentialRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	old, replacement, err := h.service.RotateCredential(r.Context(), tenantID, id, req.KeyValue)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCredentialNotFound):
			utils.RespondWithError(w, http.StatusNotFound, "Credential not found")
		case errors.Is(err, credentials.ErrWeakCredential):
			utils.RespondWithJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"code":    "WeakCredential",
				"message": err.Error(),
			})
		case errors.Is(err, credentials.ErrNotRotatable):
			utils.RespondWithError(w, http.StatusConflict, "Credential is not active")
		case errors.Is(err, secrets.ErrBackendUnavailable):
			utils.RespondWithError(w, http.StatusServiceUnavailable, "Secret store unavailable")
		default:
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to rotate credential")
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"oldId": old.ID.String(),
		"newId": replacement.ID.String(),
	})
}

// Revoke tombstones a credential immediately.
func (h *CredentialsHandler) Revoke(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing tenant")
		return
	}

	if err := h.service.RevokeCredential(r.Context(), tenantID, id); err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Credential not found")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to revoke credential")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
