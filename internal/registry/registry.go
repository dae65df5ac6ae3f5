package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"vault_router/internal/models"
	"vault_router/internal/storage"
	"vault_router/internal/utils"
)

// Candidate is one (provider, model) pair the registry can offer for a
// request.
type Candidate struct {
	Provider *models.Provider
	Model    models.ProviderModel
}

// Snapshot is an immutable view of the catalog. Routing works against a
// snapshot for the whole request, so a concurrent reload never shows a
// half-updated table.
type Snapshot struct {
	providers []*models.Provider
	byID      map[string]*models.Provider
	loadedAt  time.Time
}

// NewSnapshot validates a provider list and builds a snapshot from it.
func NewSnapshot(providers []*models.Provider) (*Snapshot, error) {
	byID := make(map[string]*models.Provider, len(providers))
	for _, p := range providers {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid catalog entry: %w", err)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", p.ID)
		}
		byID[p.ID] = p
	}

	return &Snapshot{
		providers: providers,
		byID:      byID,
		loadedAt:  time.Now(),
	}, nil
}

// Providers returns the full catalog, ordered as loaded.
func (s *Snapshot) Providers() []*models.Provider {
	return s.providers
}

// Get looks up one provider by id.
func (s *Snapshot) Get(id string) (*models.Provider, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Resolve returns every (provider, model) pair that serves the required
// capability tags in the given region. A tag is satisfied if either the
// provider or the specific model declares it.
func (s *Snapshot) Resolve(capabilities []string, region string) []Candidate {
	var out []Candidate
	for _, p := range s.providers {
		if !p.Enabled || !p.ServesRegion(region) {
			continue
		}
		for _, m := range p.Models {
			if satisfies(p, m, capabilities) {
				out = append(out, Candidate{Provider: p, Model: m})
			}
		}
	}
	return out
}

func satisfies(p *models.Provider, m models.ProviderModel, capabilities []string) bool {
	for _, tag := range capabilities {
		if p.HasCapability(tag) {
			continue
		}
		found := false
		for _, mc := range m.Capabilities {
			if mc == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Registry serves catalog snapshots and reloads them out-of-band from
// the database. No per-request mutable state.
type Registry struct {
	repo     *storage.ProviderRepository
	snapshot atomic.Pointer[Snapshot]
	interval time.Duration
	logger   *utils.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// Config holds registry construction options.
type Config struct {
	Repo           *storage.ProviderRepository
	SeedFile       string
	ReloadInterval time.Duration
}

// New loads the initial catalog and starts the reload loop. When a seed
// file is configured its entries are upserted into the database first,
// so file and table converge on the same catalog.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	r := &Registry{
		repo:        cfg.Repo,
		interval:    cfg.ReloadInterval,
		logger:      utils.NewLogger("registry"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}

	if cfg.SeedFile != "" {
		seeded, err := LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog seed: %w", err)
		}
		for _, p := range seeded {
			if err := r.repo.Upsert(ctx, p); err != nil {
				return nil, fmt.Errorf("failed to seed provider %q: %w", p.ID, err)
			}
		}
		r.logger.Info("Seeded provider catalog", "file", cfg.SeedFile, "providers", len(seeded))
	}

	if err := r.reload(ctx); err != nil {
		return nil, err
	}

	if r.interval > 0 {
		go r.reloadLoop()
	}

	return r, nil
}

// Snapshot returns the current immutable catalog view.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Close stops the reload loop.
func (r *Registry) Close() error {
	close(r.stopChan)
	if r.interval > 0 {
		<-r.stoppedChan
	}
	return nil
}

func (r *Registry) reload(ctx context.Context) error {
	providers, err := r.repo.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load provider catalog: %w", err)
	}

	snap, err := NewSnapshot(providers)
	if err != nil {
		return err
	}

	r.snapshot.Store(snap)
	r.logger.Debug("Provider catalog reloaded", "providers", len(providers))
	return nil
}

func (r *Registry) reloadLoop() {
	defer close(r.stoppedChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := r.reload(ctx); err != nil {
				// Keep serving the previous snapshot on reload failure.
				r.logger.Error("Catalog reload failed", "error", err)
			}
			cancel()
		}
	}
}
