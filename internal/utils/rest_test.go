package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithErrorShape(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
	}{
		{"bad request", http.StatusBadRequest, "provider, keyType and keyValue are required"},
		{"unauthorized", http.StatusUnauthorized, "Missing or invalid authorization header"},
		{"not found", http.StatusNotFound, "Credential not found"},
		{"backend down", http.StatusServiceUnavailable, "Secret store unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondWithError(w, tt.code, tt.message)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.message, body.Error)
		})
	}
}

func TestRespondWithJSON(t *testing.T) {
	w := httptest.NewRecorder()
	err := RespondWithJSON(w, http.StatusCreated, map[string]any{
		"id":          "2b1e9f30-5c8d-4a77-9e21-3f6d8c0b4a55",
		"maskedValue": "sk-p***c40",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "sk-p***c40", body["maskedValue"])
}

func TestRespondWithJSONUnencodablePayload(t *testing.T) {
	w := httptest.NewRecorder()
	err := RespondWithJSON(w, http.StatusOK, map[string]any{"bad": func() {}})
	assert.Error(t, err)
}
