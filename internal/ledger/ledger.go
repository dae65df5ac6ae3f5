package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"vault_router/internal/models"
	"vault_router/internal/utils"
)

// Config holds scoring parameters. Weights should sum to 1.
type Config struct {
	SuccessWeight    float64
	LatencyWeight    float64
	CostWeight       float64
	OptimisticPrior  float64
	EMAAlpha         float64
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration
}

// DefaultConfig returns the default scoring parameters.
func DefaultConfig() Config {
	return Config{
		SuccessWeight:    0.4,
		LatencyWeight:    0.3,
		CostWeight:       0.3,
		OptimisticPrior:  0.7,
		EMAAlpha:         0.1,
		BreakerThreshold: 3,
		BreakerWindow:    60 * time.Second,
		BreakerCooldown:  30 * time.Second,
	}
}

// latencyHalfPoint is the EMA latency (ms) at which the latency term of
// the score reaches 0.5.
const latencyHalfPoint = 1000.0

// breakerPenalty multiplies a tripped key's score during cooldown.
const breakerPenalty = 0.1

// key identifies one rolling statistic. Tenant id is always part of the
// key: one tenant's outcomes never influence another's scores.
type key struct {
	tenant   uuid.UUID
	provider string
	model    string
}

// entry is the live statistic for one key. Guarded by its own mutex so
// concurrent updates to the same key serialize while distinct keys
// proceed independently.
type entry struct {
	mu sync.Mutex

	successCount int64
	failureCount int64
	emaLatencyMs float64
	emaCostUSD   float64
	seeded       bool

	consecFailures int
	streakStart    time.Time
	lastFailureAt  time.Time
	breakerUntil   time.Time
}

// Sink receives every recorded outcome for async persistence.
type Sink interface {
	Enqueue(ctx context.Context, outcome *models.Outcome) error
}

// Ledger keeps per-(tenant, provider, model) success, latency and cost
// statistics and turns them into a [0,1] routing score.
type Ledger struct {
	mu      sync.RWMutex
	entries map[key]*entry

	cfg    Config
	sink   Sink
	logger *utils.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates an empty ledger.
func New(cfg Config, sink Sink) *Ledger {
	if cfg.BreakerThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Ledger{
		entries: make(map[key]*entry),
		cfg:     cfg,
		sink:    sink,
		logger:  utils.NewLogger("ledger"),
		now:     time.Now,
	}
}

func (l *Ledger) get(k key) *entry {
	l.mu.RLock()
	e, ok := l.entries[k]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[k]; ok {
		return e
	}
	e = &entry{}
	l.entries[k] = e
	return e
}

// RecordOutcome folds one attempt into the rolling statistics. Every
// attempt the executor makes, success or failure, lands here exactly
// once; that is what lets routing adapt.
func (l *Ledger) RecordOutcome(ctx context.Context, tenant uuid.UUID, provider, model string, success bool, latencyMs int64, costUSD float64) {
	now := l.now()
	e := l.get(key{tenant, provider, model})

	e.mu.Lock()
	if !e.seeded {
		e.emaLatencyMs = float64(latencyMs)
		e.emaCostUSD = costUSD
		e.seeded = true
	} else {
		alpha := l.cfg.EMAAlpha
		e.emaLatencyMs = e.emaLatencyMs*(1-alpha) + float64(latencyMs)*alpha
		e.emaCostUSD = e.emaCostUSD*(1-alpha) + costUSD*alpha
	}

	if success {
		e.successCount++
		// A success after the cooldown elapsed heals the breaker; the
		// failure streak always resets.
		e.consecFailures = 0
		if !e.breakerUntil.IsZero() && now.After(e.breakerUntil) {
			e.breakerUntil = time.Time{}
		}
	} else {
		e.failureCount++
		if e.consecFailures == 0 || now.Sub(e.streakStart) > l.cfg.BreakerWindow {
			e.consecFailures = 1
			e.streakStart = now
		} else {
			e.consecFailures++
		}
		e.lastFailureAt = now

		if e.consecFailures >= l.cfg.BreakerThreshold {
			e.breakerUntil = now.Add(l.cfg.BreakerCooldown)
			l.logger.Warn("Circuit breaker tripped",
				"tenant", tenant, "provider", provider, "model", model,
				"until", e.breakerUntil.Format(time.RFC3339))
		}
	}
	e.mu.Unlock()

	if l.sink != nil {
		outcome := &models.Outcome{
			TenantID:   tenant,
			ProviderID: provider,
			Model:      model,
			Success:    success,
			LatencyMs:  latencyMs,
			CostUSD:    costUSD,
			Timestamp:  now,
		}
		if err := l.sink.Enqueue(ctx, outcome); err != nil {
			l.logger.Error("Failed to enqueue outcome", "error", err)
		}
	}
}

// Score returns the routing score for a key in [0,1]. Unseen keys get
// the optimistic prior so new providers are explored. tierCeiling is the
// tenant's budget-tier cost ceiling used to normalize the cost term.
func (l *Ledger) Score(tenant uuid.UUID, provider, model string, tierCeiling float64) float64 {
	l.mu.RLock()
	e, ok := l.entries[key{tenant, provider, model}]
	l.mu.RUnlock()
	if !ok {
		return l.cfg.OptimisticPrior
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	total := e.successCount + e.failureCount
	if total == 0 {
		return l.cfg.OptimisticPrior
	}

	successRate := float64(e.successCount) / float64(total)

	normLatency := e.emaLatencyMs / (e.emaLatencyMs + latencyHalfPoint)

	normCost := 0.0
	if tierCeiling > 0 {
		normCost = e.emaCostUSD / tierCeiling
		if normCost > 1 {
			normCost = 1
		}
	}

	score := l.cfg.SuccessWeight*successRate +
		l.cfg.LatencyWeight*(1-normLatency) +
		l.cfg.CostWeight*(1-normCost)

	if l.now().Before(e.breakerUntil) {
		score *= breakerPenalty
	}

	return score
}

// Tripped reports whether the breaker is currently holding a key down.
func (l *Ledger) Tripped(tenant uuid.UUID, provider, model string) bool {
	l.mu.RLock()
	e, ok := l.entries[key{tenant, provider, model}]
	l.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return l.now().Before(e.breakerUntil)
}

// Warm seeds the ledger from persisted records on startup. Breaker state
// is not restored; it re-establishes from live traffic.
func (l *Ledger) Warm(records []*models.PerformanceRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range records {
		k := key{r.TenantID, r.ProviderID, r.Model}
		l.entries[k] = &entry{
			successCount: r.SuccessCount,
			failureCount: r.FailureCount,
			emaLatencyMs: r.EMALatencyMs,
			emaCostUSD:   r.EMACostUSD,
			seeded:       true,
		}
	}
}
