package budget

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault_router/internal/models"
)

func setupTracker(t *testing.T) *RedisTracker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	// no sync worker in tests
	tracker := NewRedisTracker(client, nil, 0)
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func TestAddSpendAccumulates(t *testing.T) {
	tracker := setupTracker(t)
	ctx := context.Background()
	tenant := uuid.New()

	require.NoError(t, tracker.AddSpend(ctx, tenant, 1.25))
	require.NoError(t, tracker.AddSpend(ctx, tenant, 0.75))

	spend, err := tracker.MonthlySpend(ctx, tenant)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, spend, 0.0001)
}

func TestSpendIsPerTenant(t *testing.T) {
	tracker := setupTracker(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, tracker.AddSpend(ctx, a, 5.0))

	spend, err := tracker.MonthlySpend(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, spend)
}

func TestWithinBudgetNoCeilingIsUnlimited(t *testing.T) {
	tracker := setupTracker(t)
	ctx := context.Background()
	tenant := uuid.New()

	require.NoError(t, tracker.AddSpend(ctx, tenant, 1000000))
	policy := models.DefaultPolicy(tenant)
	assert.True(t, tracker.WithinBudget(ctx, policy))
}

func TestWithinBudgetEnforcesCeiling(t *testing.T) {
	tracker := setupTracker(t)
	ctx := context.Background()
	tenant := uuid.New()
	ceiling := 10.0

	policy := models.DefaultPolicy(tenant)
	policy.MaxMonthlyCostUSD = &ceiling

	require.NoError(t, tracker.AddSpend(ctx, tenant, 9.99))
	assert.True(t, tracker.WithinBudget(ctx, policy))

	require.NoError(t, tracker.AddSpend(ctx, tenant, 0.02))
	assert.False(t, tracker.WithinBudget(ctx, policy))
}

func TestZeroCostIsIgnored(t *testing.T) {
	tracker := setupTracker(t)
	ctx := context.Background()
	tenant := uuid.New()

	require.NoError(t, tracker.AddSpend(ctx, tenant, 0))
	spend, err := tracker.MonthlySpend(ctx, tenant)
	require.NoError(t, err)
	assert.Zero(t, spend)
}

func TestNoopTrackerAlwaysAllows(t *testing.T) {
	tracker := NewNoopTracker()
	ctx := context.Background()
	ceiling := 0.0
	policy := models.DefaultPolicy(uuid.New())
	policy.MaxMonthlyCostUSD = &ceiling

	assert.True(t, tracker.WithinBudget(ctx, policy))
	assert.NoError(t, tracker.AddSpend(ctx, uuid.New(), 100))
}
