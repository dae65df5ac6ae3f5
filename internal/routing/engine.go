package routing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"vault_router/internal/config"
	"vault_router/internal/models"
	"vault_router/internal/registry"
	"vault_router/internal/utils"
)

// ErrNoEligibleProvider means no provider survived the capability,
// region and blocklist filters. The wrapped message names the
// constraint that emptied the set.
var ErrNoEligibleProvider = errors.New("no eligible provider")

// WarningBudgetExceeded is attached when every capable provider costs
// more than the tenant's ceiling and the cheapest one was returned
// anyway.
const WarningBudgetExceeded = "BudgetExceeded"

// Scorer produces a quality score in [0,1] for a (tenant, provider,
// model) key. Implemented by the performance ledger.
type Scorer interface {
	Score(tenant uuid.UUID, provider, model string, tierCeiling float64) float64
}

// Snapshot is the immutable state a single Select call works against.
// It is assembled per request so concurrent policy or catalog updates
// never shift the ground under a decision in progress.
type Snapshot struct {
	Policy  *models.Policy
	Catalog *registry.Snapshot
	Scores  Scorer
}

// Ranked is a candidate with its final score.
type Ranked struct {
	registry.Candidate
	Score float64
}

// Decision is the ordered candidate list for one request, primary first.
type Decision struct {
	Candidates []Ranked
	Warning    string
}

// Engine turns a request descriptor into an ordered provider candidate
// list using the tenant's policy and observed performance.
type Engine struct {
	cfg    config.RoutingConfig
	logger *utils.Logger
}

// NewEngine creates a routing engine.
func NewEngine(cfg config.RoutingConfig) *Engine {
	if cfg.TopN <= 0 {
		cfg.TopN = 3
	}
	return &Engine{cfg: cfg, logger: utils.NewLogger("routing")}
}

// Select filters and ranks the catalog for one request.
//
// Filtering runs in a fixed order: capability and region first, then
// the budget ceiling (with a cheapest-candidate fallback when the
// ceiling excludes everything), then the tenant's blocklist. Ranking is
// the ledger score plus a preferred-provider bonus; ties break on lower
// cost, then provider id, then model name, so identical state always
// yields an identical decision.
func (e *Engine) Select(snap Snapshot, desc *models.RequestDescriptor) (*Decision, error) {
	policy := snap.Policy
	tenant := policy.TenantID

	candidates := snap.Catalog.Resolve(desc.Capabilities, policy.Region)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no provider offers capabilities %v in region %q",
			ErrNoEligibleProvider, desc.Capabilities, policy.Region)
	}

	ceiling := policy.BudgetTier.CostCeiling()
	if desc.MaxCostHint > 0 && desc.MaxCostHint < ceiling {
		ceiling = desc.MaxCostHint
	}

	warning := ""
	within := candidates[:0:0]
	for _, c := range candidates {
		if c.Model.CostPerK <= ceiling {
			within = append(within, c)
		}
	}
	if len(within) == 0 {
		within = []registry.Candidate{cheapest(candidates)}
		warning = WarningBudgetExceeded
		e.logger.Warn("Budget ceiling excludes all capable providers, using cheapest",
			"tenant", tenant, "ceiling", ceiling, "fallback", within[0].Provider.ID)
	}

	eligible := within[:0:0]
	for _, c := range within {
		if !policy.Blocks(c.Provider.ID) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: tenant blocklist excludes every capable provider",
			ErrNoEligibleProvider)
	}

	tierCeiling := policy.BudgetTier.CostCeiling()
	ranked := make([]Ranked, 0, len(eligible))
	for _, c := range eligible {
		score := snap.Scores.Score(tenant, c.Provider.ID, c.Model.Name, tierCeiling)
		if policy.Prefers(c.Provider.ID) {
			score += e.cfg.PreferredBonus
		}
		ranked = append(ranked, Ranked{Candidate: c, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Model.CostPerK != b.Model.CostPerK {
			return a.Model.CostPerK < b.Model.CostPerK
		}
		if a.Provider.ID != b.Provider.ID {
			return a.Provider.ID < b.Provider.ID
		}
		return a.Model.Name < b.Model.Name
	})

	if len(ranked) > e.cfg.TopN {
		ranked = ranked[:e.cfg.TopN]
	}

	return &Decision{Candidates: ranked, Warning: warning}, nil
}

func cheapest(candidates []registry.Candidate) registry.Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Model.CostPerK < best.Model.CostPerK ||
			(c.Model.CostPerK == best.Model.CostPerK && c.Provider.ID < best.Provider.ID) {
			best = c
		}
	}
	return best
}
