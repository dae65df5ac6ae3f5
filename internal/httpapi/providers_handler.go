package httpapi

import (
	"net/http"

	"vault_router/internal/utils"
)

// ProvidersHandler serves the read-only provider catalog.
type ProvidersHandler struct {
	catalog CatalogService
}

// NewProvidersHandler creates a providers handler.
func NewProvidersHandler(catalog CatalogService) *ProvidersHandler {
	return &ProvidersHandler{catalog: catalog}
}

// ProviderView is one catalog entry as exposed over the API.
type ProviderView struct {
	ID           string      `json:"id"`
	Kind         string      `json:"kind"`
	Capabilities []string    `json:"capabilities"`
	Regions      []string    `json:"regions,omitempty"`
	Models       []ModelView `json:"models"`
}

// ModelView is one model offered by a provider.
type ModelView struct {
	Name          string   `json:"name"`
	CostPerK      float64  `json:"costPerK"`
	ContextWindow int      `json:"contextWindow,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

// List returns the enabled catalog. Endpoints and auth settings stay
// internal.
func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	snap := h.catalog.Snapshot()
	providers := snap.Providers()

	out := make([]ProviderView, 0, len(providers))
	for _, p := range providers {
		view := ProviderView{
			ID:           p.ID,
			Kind:         string(p.Kind),
			Capabilities: p.Capabilities,
			Regions:      p.Regions,
		}
		for _, m := range p.Models {
			view.Models = append(view.Models, ModelView{
				Name:          m.Name,
				CostPerK:      m.CostPerK,
				ContextWindow: m.ContextWindow,
				Capabilities:  m.Capabilities,
			})
		}
		out = append(out, view)
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"providers": out})
}
