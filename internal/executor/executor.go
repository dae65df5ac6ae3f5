package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vault_router/internal/audit"
	"vault_router/internal/credentials"
	"vault_router/internal/models"
	"vault_router/internal/ratelimit"
	"vault_router/internal/registry"
	"vault_router/internal/routing"
	"vault_router/internal/utils"
)

var (
	// ErrNoCredentialAvailable means every routed candidate was skipped
	// because the tenant holds no usable credential for it.
	ErrNoCredentialAvailable = errors.New("no credential available for any eligible provider")

	// ErrAllProvidersFailed means every attempted candidate failed.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// FailedAttempt records the last error for one attempted candidate.
type FailedAttempt struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Err      string `json:"error"`
}

// ExhaustionError carries the per-candidate failures behind
// ErrAllProvidersFailed.
type ExhaustionError struct {
	Attempts []FailedAttempt
}

func (e *ExhaustionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", a.Provider, a.Model, a.Err))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

func (e *ExhaustionError) Unwrap() error {
	return ErrAllProvidersFailed
}

// Result is a successful execution.
type Result struct {
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	LatencyMs int64           `json:"latency_ms"`
	CostUSD   float64         `json:"cost_usd"`
	Result    json.RawMessage `json:"result"`
	Warning   string          `json:"warning,omitempty"`
}

// PolicySource serves tenant policy snapshots.
type PolicySource interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*models.Policy, error)
}

// CatalogSource serves the current provider catalog snapshot.
type CatalogSource interface {
	Snapshot() *registry.Snapshot
}

// Router turns a request into an ordered candidate list.
type Router interface {
	Select(snap routing.Snapshot, desc *models.RequestDescriptor) (*routing.Decision, error)
}

// Performance both scores candidates and absorbs attempt outcomes.
type Performance interface {
	routing.Scorer
	RecordOutcome(ctx context.Context, tenant uuid.UUID, provider, model string, success bool, latencyMs int64, costUSD float64)
}

// CredentialSource resolves a usable credential and its plaintext.
type CredentialSource interface {
	ResolveForProvider(ctx context.Context, tenantID uuid.UUID, providerID, permission string) (*models.Credential, []byte, error)
}

// Limiter enforces per-credential rate limits.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

// BudgetTracker answers monthly budget checks and absorbs spend.
type BudgetTracker interface {
	WithinBudget(ctx context.Context, policy *models.Policy) bool
	AddSpend(ctx context.Context, tenantID uuid.UUID, costUSD float64) error
}

// Executor walks the routed candidate chain for one request: resolve a
// credential, call the provider under a bounded timeout, record the
// outcome, fall through on failure.
type Executor struct {
	policies PolicySource
	catalog  CatalogSource
	router   Router
	perf     Performance
	creds    CredentialSource
	limiter  Limiter
	budget   BudgetTracker
	invoker  Invoker
	audit    audit.Sink
	logger   *utils.Logger

	defaultTimeout time.Duration
}

// Config wires an Executor.
type Config struct {
	Policies       PolicySource
	Catalog        CatalogSource
	Router         Router
	Performance    Performance
	Credentials    CredentialSource
	Limiter        Limiter
	Budget         BudgetTracker
	Invoker        Invoker
	Audit          audit.Sink
	DefaultTimeout time.Duration
}

// New creates an executor.
func New(cfg Config) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NewNoopSink()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewNoopLimiter()
	}
	return &Executor{
		policies:       cfg.Policies,
		catalog:        cfg.Catalog,
		router:         cfg.Router,
		perf:           cfg.Performance,
		creds:          cfg.Credentials,
		limiter:        cfg.Limiter,
		budget:         cfg.Budget,
		invoker:        cfg.Invoker,
		audit:          cfg.Audit,
		logger:         utils.NewLogger("executor"),
		defaultTimeout: cfg.DefaultTimeout,
	}
}

// Execute routes and runs one request for a tenant. On success the
// first working candidate's response is returned immediately. Every
// attempt, success or failure, is recorded to the performance ledger
// exactly once.
func (e *Executor) Execute(ctx context.Context, tenantID uuid.UUID, desc *models.RequestDescriptor) (*Result, error) {
	policy, err := e.policies.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	decision, err := e.router.Select(routing.Snapshot{
		Policy:  policy,
		Catalog: e.catalog.Snapshot(),
		Scores:  e.perf,
	}, desc)
	if err != nil {
		return nil, err
	}

	warning := decision.Warning
	if e.budget != nil && !e.budget.WithinBudget(ctx, policy) {
		warning = routing.WarningBudgetExceeded
		e.logger.Warn("Tenant over monthly budget", "tenant", tenantID)
	}

	timeout := e.defaultTimeout
	if desc.MaxLatency > 0 {
		timeout = desc.MaxLatency
	}

	var attempts []FailedAttempt
	attempted := 0

	for _, candidate := range decision.Candidates {
		providerID := candidate.Provider.ID
		model := candidate.Model.Name

		cred, apiKey, err := e.creds.ResolveForProvider(ctx, tenantID, providerID, desc.TaskType)
		if err != nil {
			if errors.Is(err, credentials.ErrNoUsableCredential) {
				continue
			}
			return nil, err
		}

		if !e.allowed(ctx, cred) {
			e.logger.Debug("Credential rate limited, trying next candidate",
				"tenant", tenantID, "credential", cred.ID)
			continue
		}

		attempted++

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		resp, err := e.invoker.Invoke(attemptCtx, candidate.Provider, model, apiKey, desc.Payload)
		cancel()

		latencyMs := time.Since(start).Milliseconds()
		costUSD := candidate.Model.CostPerK / 1000

		if err != nil {
			e.perf.RecordOutcome(context.WithoutCancel(ctx), tenantID, providerID, model, false, latencyMs, 0)
			e.logger.Warn("Provider attempt failed",
				"tenant", tenantID, "provider", providerID, "model", model,
				"recoverable", utils.IsRecoverableError(err), "error", err)
			_ = e.audit.Enqueue(&audit.Event{
				TenantID: tenantID,
				Action:   audit.ActionProviderFailed,
				Provider: providerID,
				Detail:   map[string]string{"model": model, "error": err.Error()},
			})
			attempts = append(attempts, FailedAttempt{Provider: providerID, Model: model, Err: err.Error()})

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		e.perf.RecordOutcome(ctx, tenantID, providerID, model, true, latencyMs, costUSD)
		if e.budget != nil {
			if err := e.budget.AddSpend(ctx, tenantID, costUSD); err != nil {
				e.logger.Warn("Failed to track spend", "tenant", tenantID, "error", err)
			}
		}

		return &Result{
			Provider:  providerID,
			Model:     model,
			LatencyMs: latencyMs,
			CostUSD:   costUSD,
			Result:    resp.Body,
			Warning:   warning,
		}, nil
	}

	if attempted == 0 {
		return nil, fmt.Errorf("%w: %d candidates considered", ErrNoCredentialAvailable, len(decision.Candidates))
	}

	failed := make([]string, 0, len(attempts))
	for _, a := range attempts {
		failed = append(failed, a.Provider+"/"+a.Model)
	}
	_ = e.audit.Enqueue(&audit.Event{
		TenantID: tenantID,
		Action:   audit.ActionExecuteFailed,
		Detail: map[string]string{
			"attempts":  fmt.Sprintf("%d", len(attempts)),
			"providers": strings.Join(failed, ","),
		},
	})
	return nil, &ExhaustionError{Attempts: attempts}
}

func (e *Executor) allowed(ctx context.Context, cred *models.Credential) bool {
	if cred.RateLimitPerMinute <= 0 {
		return true
	}
	ok, err := e.limiter.Allow(ctx, "cred:"+cred.ID.String(), cred.RateLimitPerMinute)
	if err != nil {
		// limiter trouble must not take down the request path
		return true
	}
	return ok
}
