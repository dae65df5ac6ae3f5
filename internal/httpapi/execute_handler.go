package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"vault_router/internal/executor"
	"vault_router/internal/middleware"
	"vault_router/internal/models"
	"vault_router/internal/routing"
	"vault_router/internal/utils"
)

// ExecuteHandler serves POST /execute.
type ExecuteHandler struct {
	service ExecuteService
}

// NewExecuteHandler creates an execute handler.
func NewExecuteHandler(service ExecuteService) *ExecuteHandler {
	return &ExecuteHandler{service: service}
}

// ExecuteRequest is the POST /execute body.
type ExecuteRequest struct {
	TaskType     string         `json:"taskType"`
	Capabilities []string       `json:"capabilities"`
	MaxLatencyMs int64          `json:"maxLatencyMs"`
	MaxCostHint  float64        `json:"maxCostHint"`
	Payload      map[string]any `json:"payload"`
}

// executeFailure is the error body for routing and execution failures.
type executeFailure struct {
	Code               string                   `json:"code"`
	Message            string                   `json:"message"`
	AttemptedProviders []executor.FailedAttempt `json:"attemptedProviders,omitempty"`
}

// Handle routes and executes one request.
func (h *ExecuteHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing tenant")
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TaskType == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "taskType is required")
		return
	}

	desc := &models.RequestDescriptor{
		TaskType:     req.TaskType,
		Capabilities: req.Capabilities,
		MaxCostHint:  req.MaxCostHint,
		Payload:      req.Payload,
	}
	if req.MaxLatencyMs > 0 {
		desc.MaxLatency = time.Duration(req.MaxLatencyMs) * time.Millisecond
	}
	if len(desc.Capabilities) == 0 {
		desc.Capabilities = []string{req.TaskType}
	}

	result, err := h.service.Execute(r.Context(), tenantID, desc)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, result)
}

func (h *ExecuteHandler) respondError(w http.ResponseWriter, err error) {
	var exhaustion *executor.ExhaustionError

	switch {
	case errors.Is(err, routing.ErrNoEligibleProvider):
		utils.RespondWithJSON(w, http.StatusUnprocessableEntity, executeFailure{
			Code:    "NoEligibleProvider",
			Message: err.Error(),
		})
	case errors.Is(err, executor.ErrNoCredentialAvailable):
		utils.RespondWithJSON(w, http.StatusUnprocessableEntity, executeFailure{
			Code:    "NoCredentialAvailable",
			Message: err.Error(),
		})
	case errors.As(err, &exhaustion):
		utils.RespondWithJSON(w, http.StatusBadGateway, executeFailure{
			Code:               "AllProvidersFailed",
			Message:            "every routed provider failed",
			AttemptedProviders: exhaustion.Attempts,
		})
	case errors.Is(err, context.Canceled):
		// client went away, nothing useful to say
		utils.RespondWithJSON(w, 499, executeFailure{
			Code:    "RequestCanceled",
			Message: "request canceled by client",
		})
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, "Execution failed")
	}
}
