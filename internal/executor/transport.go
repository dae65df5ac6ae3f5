package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vault_router/internal/models"
)

// ProviderResponse is the normalized result of one provider call.
type ProviderResponse struct {
	StatusCode int
	Body       json.RawMessage
	Latency    time.Duration
}

// Invoker performs a single provider call with a resolved credential.
type Invoker interface {
	Invoke(ctx context.Context, provider *models.Provider, model string, apiKey []byte, payload map[string]any) (*ProviderResponse, error)
}

// HTTPInvoker talks to providers over their JSON HTTP endpoints. One
// shared client serves all providers; per-attempt deadlines come from
// the caller's context.
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker creates the shared provider transport.
func NewHTTPInvoker() *HTTPInvoker {
	return &HTTPInvoker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Invoke posts the payload to the provider endpoint. The model name is
// injected into the payload when absent. Non-2xx responses are errors so
// the caller's fallback chain treats them like transport failures.
func (i *HTTPInvoker) Invoke(ctx context.Context, provider *models.Provider, model string, apiKey []byte, payload map[string]any) (*ProviderResponse, error) {
	start := time.Now()

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	if body["model"] == nil {
		body["model"] = model
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	header := provider.AuthHeader
	if header == "" {
		header = "Authorization"
	}
	prefix := provider.AuthPrefix
	if prefix == "" && header == "Authorization" {
		prefix = "Bearer "
	}
	httpReq.Header.Set(header, prefix+string(apiKey))

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider API returned status %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	return &ProviderResponse{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Latency:    latency,
	}, nil
}

// Close releases idle connections.
func (i *HTTPInvoker) Close() error {
	i.client.CloseIdleConnections()
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
