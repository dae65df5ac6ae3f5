package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault_router/internal/audit"
	"vault_router/internal/config"
	"vault_router/internal/credentials"
	"vault_router/internal/models"
	"vault_router/internal/ratelimit"
	"vault_router/internal/registry"
	"vault_router/internal/routing"
)

type staticPolicies struct {
	policy *models.Policy
}

func (s *staticPolicies) Get(_ context.Context, tenantID uuid.UUID) (*models.Policy, error) {
	if s.policy != nil {
		return s.policy, nil
	}
	return models.DefaultPolicy(tenantID), nil
}

type staticCatalog struct {
	snap *registry.Snapshot
}

func (s *staticCatalog) Snapshot() *registry.Snapshot { return s.snap }

type recordedOutcome struct {
	provider string
	model    string
	success  bool
	costUSD  float64
}

type fakePerf struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (f *fakePerf) Score(_ uuid.UUID, _, _ string, _ float64) float64 { return 0.7 }

func (f *fakePerf) RecordOutcome(_ context.Context, _ uuid.UUID, provider, model string, success bool, _ int64, costUSD float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, recordedOutcome{provider, model, success, costUSD})
}

func (f *fakePerf) recorded() []recordedOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedOutcome, len(f.outcomes))
	copy(out, f.outcomes)
	return out
}

// fakeCreds serves a credential per provider id; missing providers get
// ErrNoUsableCredential.
type fakeCreds struct {
	keys map[string]string
}

func (f *fakeCreds) ResolveForProvider(_ context.Context, tenantID uuid.UUID, providerID, _ string) (*models.Credential, []byte, error) {
	key, ok := f.keys[providerID]
	if !ok {
		return nil, nil, credentials.ErrNoUsableCredential
	}
	return &models.Credential{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ProviderID: providerID,
		Status:     models.CredentialActive,
	}, []byte(key), nil
}

// scriptedInvoker fails or succeeds per provider id.
type scriptedInvoker struct {
	mu       sync.Mutex
	failures map[string]error
	delay    time.Duration
	calls    []string
}

func (s *scriptedInvoker) Invoke(ctx context.Context, provider *models.Provider, model string, apiKey []byte, _ map[string]any) (*ProviderResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, provider.ID)
	failure := s.failures[provider.ID]
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	body, _ := json.Marshal(map[string]string{"echo": provider.ID + "/" + model, "key": string(apiKey)})
	return &ProviderResponse{StatusCode: 200, Body: body, Latency: time.Millisecond}, nil
}

func testCatalog(t *testing.T) *registry.Snapshot {
	t.Helper()
	providers := []*models.Provider{
		{
			ID: "alpha", Kind: models.ProviderKindOpenAI, Endpoint: "https://alpha.example/v1",
			Capabilities: []string{"chat"}, MinCostPerK: 0.1, MaxCostPerK: 5, Enabled: true,
			Models: []models.ProviderModel{{Name: "alpha-1", CostPerK: 1.0}},
		},
		{
			ID: "beta", Kind: models.ProviderKindAnthropic, Endpoint: "https://beta.example/v1",
			Capabilities: []string{"chat"}, MinCostPerK: 0.1, MaxCostPerK: 5, Enabled: true,
			Models: []models.ProviderModel{{Name: "beta-1", CostPerK: 2.0}},
		},
		{
			ID: "gamma", Kind: models.ProviderKindCustom, Endpoint: "https://gamma.example/v1",
			Capabilities: []string{"chat"}, MinCostPerK: 0.1, MaxCostPerK: 5, Enabled: true,
			Models: []models.ProviderModel{{Name: "gamma-1", CostPerK: 3.0}},
		},
	}
	snap, err := registry.NewSnapshot(providers)
	require.NoError(t, err)
	return snap
}

type harness struct {
	exec    *Executor
	perf    *fakePerf
	invoker *scriptedInvoker
	creds   *fakeCreds
	tenant  uuid.UUID
}

func setupExecutor(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	perf := &fakePerf{}
	invoker := &scriptedInvoker{failures: map[string]error{}}
	creds := &fakeCreds{keys: map[string]string{
		"alpha": "sk-alpha", "beta": "sk-beta", "gamma": "sk-gamma",
	}}

	cfg := Config{
		Policies:    &staticPolicies{},
		Catalog:     &staticCatalog{snap: testCatalog(t)},
		Router:      routing.NewEngine(routingConfig()),
		Performance: perf,
		Credentials: creds,
		Invoker:     invoker,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &harness{
		exec:    New(cfg),
		perf:    perf,
		invoker: invoker,
		creds:   creds,
		tenant:  uuid.New(),
	}
}

func routingConfig() config.RoutingConfig {
	return config.RoutingConfig{
		SuccessWeight:   0.4,
		LatencyWeight:   0.3,
		CostWeight:      0.3,
		OptimisticPrior: 0.7,
		PreferredBonus:  0.15,
		TopN:            3,
	}
}

func chatRequest() *models.RequestDescriptor {
	return &models.RequestDescriptor{
		TaskType:     "chat",
		Capabilities: []string{"chat"},
		Payload:      map[string]any{"messages": []any{}},
	}
}

func TestExecuteSucceedsOnPrimary(t *testing.T) {
	h := setupExecutor(t, nil)

	result, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	require.NoError(t, err)

	// equal scores, so the cheapest candidate leads
	assert.Equal(t, "alpha", result.Provider)
	assert.Equal(t, "alpha-1", result.Model)
	assert.InDelta(t, 0.001, result.CostUSD, 1e-9)
	assert.NotEmpty(t, result.Result)

	outcomes := h.perf.recorded()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].success)
	assert.Equal(t, "alpha", outcomes[0].provider)
}

func TestExecuteFallsBackOnFailure(t *testing.T) {
	h := setupExecutor(t, nil)
	h.invoker.failures["alpha"] = errors.New("provider API returned status 503")

	result, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "beta", result.Provider)

	outcomes := h.perf.recorded()
	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].success)
	assert.Equal(t, "alpha", outcomes[0].provider)
	assert.True(t, outcomes[1].success)
	assert.Equal(t, "beta", outcomes[1].provider)
}

func TestExecuteExhaustionReturnsPerCandidateErrors(t *testing.T) {
	h := setupExecutor(t, nil)
	h.invoker.failures["alpha"] = errors.New("alpha down")
	h.invoker.failures["beta"] = errors.New("beta down")
	h.invoker.failures["gamma"] = errors.New("gamma down")

	_, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)

	var exhaustion *ExhaustionError
	require.ErrorAs(t, err, &exhaustion)
	require.Len(t, exhaustion.Attempts, 3)
	assert.Equal(t, "alpha", exhaustion.Attempts[0].Provider)
	assert.Contains(t, exhaustion.Attempts[0].Err, "alpha down")

	// every attempt recorded as a failure, exactly once each
	outcomes := h.perf.recorded()
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.False(t, o.success)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *recordingSink) Enqueue(event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) byAction(action string) []*audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func TestExecuteAuditsEachFailedAttempt(t *testing.T) {
	sink := &recordingSink{}
	h := setupExecutor(t, func(cfg *Config) { cfg.Audit = sink })
	h.invoker.failures["alpha"] = errors.New("alpha down")
	h.invoker.failures["beta"] = errors.New("beta down")

	result, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "gamma", result.Provider)

	failures := sink.byAction(audit.ActionProviderFailed)
	require.Len(t, failures, 2)
	assert.Equal(t, h.tenant, failures[0].TenantID)
	assert.Equal(t, "alpha", failures[0].Provider)
	assert.Equal(t, "alpha-1", failures[0].Detail["model"])
	assert.Contains(t, failures[0].Detail["error"], "alpha down")
	assert.Equal(t, "beta", failures[1].Provider)

	// the attempt that succeeded produced no failure event
	assert.Empty(t, sink.byAction(audit.ActionExecuteFailed))
}

func TestExecuteExhaustionAuditCarriesAttemptedProviders(t *testing.T) {
	sink := &recordingSink{}
	h := setupExecutor(t, func(cfg *Config) { cfg.Audit = sink })
	h.invoker.failures["alpha"] = errors.New("alpha down")
	h.invoker.failures["beta"] = errors.New("beta down")
	h.invoker.failures["gamma"] = errors.New("gamma down")

	_, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	require.Error(t, err)

	require.Len(t, sink.byAction(audit.ActionProviderFailed), 3)
	exhausted := sink.byAction(audit.ActionExecuteFailed)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "3", exhausted[0].Detail["attempts"])
	assert.Equal(t, "alpha/alpha-1,beta/beta-1,gamma/gamma-1", exhausted[0].Detail["providers"])
}

func TestExecuteSkipsCandidatesWithoutCredentials(t *testing.T) {
	h := setupExecutor(t, nil)
	delete(h.creds.keys, "alpha")

	result, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "beta", result.Provider)

	// the skipped candidate never reached the provider or the ledger
	assert.NotContains(t, h.invoker.calls, "alpha")
	require.Len(t, h.perf.recorded(), 1)
}

func TestExecuteNoCredentialAnywhere(t *testing.T) {
	h := setupExecutor(t, nil)
	h.creds.keys = map[string]string{}

	_, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	assert.ErrorIs(t, err, ErrNoCredentialAvailable)
	assert.Empty(t, h.perf.recorded())
}

func TestExecuteNoEligibleProviderPassesThrough(t *testing.T) {
	h := setupExecutor(t, nil)

	_, err := h.exec.Execute(context.Background(), h.tenant, &models.RequestDescriptor{
		TaskType:     "chat",
		Capabilities: []string{"long_context"},
	})
	assert.ErrorIs(t, err, routing.ErrNoEligibleProvider)
}

func TestExecuteTreatsRateLimitedCredentialAsUnusable(t *testing.T) {
	var limiter *countingLimiter
	h := setupExecutor(t, func(cfg *Config) {
		limiter = &countingLimiter{allowFrom: 2}
		cfg.Limiter = limiter
	})
	// credentials need a positive limit for the limiter to be consulted
	h.creds.keys = map[string]string{"alpha": "sk-alpha", "beta": "sk-beta"}
	h.exec.creds = &limitedCreds{inner: h.creds}

	result, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "beta", result.Provider)
	assert.NotContains(t, h.invoker.calls, "alpha")
}

func TestExecuteWithoutLimiterAllowsLimitedCredentials(t *testing.T) {
	// No limiter configured: the noop fallback must satisfy the
	// Limiter contract and let rate-limited credentials through.
	var _ Limiter = ratelimit.NewNoopLimiter()

	h := setupExecutor(t, nil)
	h.exec.creds = &limitedCreds{inner: h.creds}

	result, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.Provider)
}

// countingLimiter denies the first allowFrom-1 checks.
type countingLimiter struct {
	mu        sync.Mutex
	calls     int
	allowFrom int
}

func (l *countingLimiter) Allow(_ context.Context, _ string, _ int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.calls >= l.allowFrom, nil
}

// limitedCreds decorates credentials with a positive rate limit.
type limitedCreds struct {
	inner CredentialSource
}

func (c *limitedCreds) ResolveForProvider(ctx context.Context, tenantID uuid.UUID, providerID, permission string) (*models.Credential, []byte, error) {
	cred, key, err := c.inner.ResolveForProvider(ctx, tenantID, providerID, permission)
	if err != nil {
		return nil, nil, err
	}
	cred.RateLimitPerMinute = 10
	return cred, key, nil
}

type fixedBudget struct {
	within bool
	mu     sync.Mutex
	spent  float64
}

func (b *fixedBudget) WithinBudget(_ context.Context, _ *models.Policy) bool { return b.within }

func (b *fixedBudget) AddSpend(_ context.Context, _ uuid.UUID, costUSD float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent += costUSD
	return nil
}

func TestExecuteOverBudgetStillRunsWithWarning(t *testing.T) {
	budget := &fixedBudget{within: false}
	h := setupExecutor(t, func(cfg *Config) { cfg.Budget = budget })

	result, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	require.NoError(t, err)
	assert.Equal(t, routing.WarningBudgetExceeded, result.Warning)
}

func TestExecuteTracksSpendOnSuccess(t *testing.T) {
	budget := &fixedBudget{within: true}
	h := setupExecutor(t, func(cfg *Config) { cfg.Budget = budget })

	_, err := h.exec.Execute(context.Background(), h.tenant, chatRequest())
	require.NoError(t, err)
	assert.InDelta(t, 0.001, budget.spent, 1e-9)
}

func TestExecuteCancellationRecordsFailure(t *testing.T) {
	h := setupExecutor(t, nil)
	h.invoker.delay = 500 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := h.exec.Execute(ctx, h.tenant, chatRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	outcomes := h.perf.recorded()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].success)
}

func TestExecutePerAttemptTimeoutFromMaxLatency(t *testing.T) {
	h := setupExecutor(t, nil)
	h.invoker.delay = 200 * time.Millisecond

	desc := chatRequest()
	desc.MaxLatency = 20 * time.Millisecond

	start := time.Now()
	_, err := h.exec.Execute(context.Background(), h.tenant, desc)
	elapsed := time.Since(start)

	// each attempt deadlines at 20ms, all three fail quickly
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Len(t, h.perf.recorded(), 3)
}

