package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the uniform error body for every endpoint. Error
// messages describe the request, never backend state a caller should
// not learn about.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondWithError writes a JSON error body with the given status.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithJSON writes payload as JSON with the given status.
func RespondWithJSON(w http.ResponseWriter, code int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}
