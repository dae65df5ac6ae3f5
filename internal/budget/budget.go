package budget

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vault_router/internal/models"
	"vault_router/internal/utils"
)

// Tracker follows per-tenant monthly spend and answers budget checks.
type Tracker interface {
	WithinBudget(ctx context.Context, policy *models.Policy) bool
	AddSpend(ctx context.Context, tenantID uuid.UUID, costUSD float64) error
	MonthlySpend(ctx context.Context, tenantID uuid.UUID) (float64, error)
}

// NoopTracker never blocks and discards spend.
type NoopTracker struct{}

func NewNoopTracker() *NoopTracker {
	return &NoopTracker{}
}

func (t *NoopTracker) WithinBudget(ctx context.Context, policy *models.Policy) bool {
	return true
}

func (t *NoopTracker) AddSpend(ctx context.Context, tenantID uuid.UUID, costUSD float64) error {
	return nil
}

func (t *NoopTracker) MonthlySpend(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	return 0, nil
}

// Syncer persists monthly totals when the tracker flushes Redis to the
// database.
type Syncer interface {
	UpsertMonthlySpend(ctx context.Context, tenantID uuid.UUID, month string, totalUSD float64) error
}

// RedisTracker keeps running monthly totals in Redis and periodically
// syncs them to the database. Counters expire after two months so stale
// tenants cost nothing.
type RedisTracker struct {
	redis  *redis.Client
	syncer Syncer
	logger *utils.Logger

	stopCh chan struct{}
}

// spendTTL keeps counters around long enough to survive month rollover.
const spendTTL = 60 * 24 * time.Hour

var addSpendScript = redis.NewScript(`
	local key = KEYS[1]
	local cost = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key)) or 0
	local total = current + cost

	redis.call('SET', key, total, 'EX', ttl)
	return tostring(total)
`)

// NewRedisTracker creates a tracker and starts its sync worker. Pass a
// nil syncer to keep totals in Redis only.
func NewRedisTracker(client *redis.Client, syncer Syncer, syncInterval time.Duration) *RedisTracker {
	t := &RedisTracker{
		redis:  client,
		syncer: syncer,
		logger: utils.NewLogger("budget"),
		stopCh: make(chan struct{}),
	}

	if syncInterval > 0 {
		go t.syncWorker(syncInterval)
	}

	return t
}

// WithinBudget checks the tenant's running monthly total against the
// policy ceiling. No ceiling means unlimited; a Redis failure allows
// the request rather than blocking traffic on the budget path.
func (t *RedisTracker) WithinBudget(ctx context.Context, policy *models.Policy) bool {
	if policy.MaxMonthlyCostUSD == nil {
		return true
	}

	spend, err := t.MonthlySpend(ctx, policy.TenantID)
	if err != nil {
		t.logger.Warn("Budget check failed, allowing request", "tenant", policy.TenantID, "error", err)
		return true
	}

	return spend < *policy.MaxMonthlyCostUSD
}

// AddSpend atomically adds the cost of one successful call to the
// tenant's monthly counter.
func (t *RedisTracker) AddSpend(ctx context.Context, tenantID uuid.UUID, costUSD float64) error {
	if costUSD <= 0 {
		return nil
	}

	key := monthlyKey(tenantID, time.Now().UTC())
	_, err := addSpendScript.Run(ctx, t.redis, []string{key}, costUSD, int(spendTTL.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("failed to add spend: %w", err)
	}
	return nil
}

// MonthlySpend returns the tenant's total for the current month.
func (t *RedisTracker) MonthlySpend(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	key := monthlyKey(tenantID, time.Now().UTC())

	val, err := t.redis.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get monthly spend: %w", err)
	}
	return val, nil
}

// Close stops the sync worker.
func (t *RedisTracker) Close() error {
	close(t.stopCh)
	return nil
}

func monthlyKey(tenantID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("spend:%s:%s", tenantID, now.Format("2006-01"))
}

func (t *RedisTracker) syncWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := t.syncToDatabase(ctx); err != nil {
				t.logger.Error("Failed to sync spend totals", "error", err)
			}
			cancel()
		case <-t.stopCh:
			return
		}
	}
}

func (t *RedisTracker) syncToDatabase(ctx context.Context) error {
	if t.syncer == nil {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := t.redis.Scan(ctx, cursor, "spend:*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan spend keys: %w", err)
		}

		for _, key := range keys {
			if err := t.syncKey(ctx, key); err != nil {
				t.logger.Warn("Failed to sync spend key", "key", key, "error", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (t *RedisTracker) syncKey(ctx context.Context, key string) error {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return fmt.Errorf("invalid spend key format: %s", key)
	}

	tenantID, err := uuid.Parse(parts[1])
	if err != nil {
		return fmt.Errorf("invalid tenant id in spend key: %w", err)
	}

	total, err := t.redis.Get(ctx, key).Float64()
	if err != nil {
		return fmt.Errorf("failed to read spend value: %w", err)
	}

	return t.syncer.UpsertMonthlySpend(ctx, tenantID, parts[2], total)
}
