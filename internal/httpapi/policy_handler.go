package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"vault_router/internal/middleware"
	"vault_router/internal/models"
	"vault_router/internal/policy"
	"vault_router/internal/utils"
)

// PolicyHandler serves the tenant routing policy endpoints.
type PolicyHandler struct {
	service PolicyService
}

// NewPolicyHandler creates a policy handler.
func NewPolicyHandler(service PolicyService) *PolicyHandler {
	return &PolicyHandler{service: service}
}

// PolicyRequest is the PUT /policy body.
type PolicyRequest struct {
	BudgetTier         string   `json:"budgetTier"`
	PreferredProviders []string `json:"preferredProviders"`
	BlockedProviders   []string `json:"blockedProviders"`
	MaxMonthlyCost     *float64 `json:"maxMonthlyCost"`
	Region             string   `json:"region"`
}

// PolicyResponse mirrors the stored policy.
type PolicyResponse struct {
	BudgetTier         string   `json:"budgetTier"`
	PreferredProviders []string `json:"preferredProviders"`
	BlockedProviders   []string `json:"blockedProviders"`
	MaxMonthlyCost     *float64 `json:"maxMonthlyCost,omitempty"`
	Region             string   `json:"region,omitempty"`
}

// Handle dispatches /policy.
func (h *PolicyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.Get(w, r)
	case http.MethodPut:
		h.Put(w, r)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Get returns the tenant's effective policy.
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing tenant")
		return
	}

	p, err := h.service.Get(r.Context(), tenantID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to load policy")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, PolicyResponse{
		BudgetTier:         string(p.BudgetTier),
		PreferredProviders: p.PreferredProviders,
		BlockedProviders:   p.BlockedProviders,
		MaxMonthlyCost:     p.MaxMonthlyCostUSD,
		Region:             p.Region,
	})
}

// Put replaces the tenant's policy.
func (h *PolicyHandler) Put(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing tenant")
		return
	}

	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p := &models.Policy{
		TenantID:           tenantID,
		BudgetTier:         models.BudgetTier(req.BudgetTier),
		PreferredProviders: req.PreferredProviders,
		BlockedProviders:   req.BlockedProviders,
		MaxMonthlyCostUSD:  req.MaxMonthlyCost,
		Region:             req.Region,
	}

	if err := h.service.Put(r.Context(), p); err != nil {
		if errors.Is(err, policy.ErrInvalidPolicy) {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to store policy")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
