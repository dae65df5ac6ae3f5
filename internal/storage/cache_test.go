package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault_router/internal/models"
)

func TestLRUCacheRoundtrip(t *testing.T) {
	cache := NewLRUCache(10, time.Minute)

	cred := &models.Credential{ID: uuid.New(), ProviderID: "openai"}
	cache.Set(cred.ID.String(), cred)

	got, found := cache.Get(cred.ID.String())
	require.True(t, found)
	assert.Same(t, cred, got.(*models.Credential))

	_, found = cache.Get(uuid.NewString())
	assert.False(t, found)
}

func TestLRUCacheEvictsOldest(t *testing.T) {
	cache := NewLRUCache(2, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)

	// touching "a" makes "b" the eviction candidate
	_, found := cache.Get("a")
	require.True(t, found)

	cache.Set("c", 3)
	assert.Equal(t, 2, cache.Len())

	_, found = cache.Get("b")
	assert.False(t, found)
	_, found = cache.Get("a")
	assert.True(t, found)
}

func TestLRUCacheExpiresOnRead(t *testing.T) {
	cache := NewLRUCache(10, 10*time.Millisecond)

	cache.Set("token", "tenant")
	time.Sleep(20 * time.Millisecond)

	_, found := cache.Get("token")
	assert.False(t, found)
	assert.Equal(t, 0, cache.Len())
}

func TestLRUCacheDeleteAndClear(t *testing.T) {
	cache := NewLRUCache(10, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)

	cache.Delete("a")
	_, found := cache.Get("a")
	assert.False(t, found)

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestLRUCacheCleanupExpired(t *testing.T) {
	cache := NewLRUCache(10, 10*time.Millisecond)

	cache.Set("a", 1)
	cache.Set("b", 2)
	time.Sleep(20 * time.Millisecond)
	cache.Set("c", 3)

	removed := cache.CleanupExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, cache.Len())
}
