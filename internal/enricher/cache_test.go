package enricher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claim-enricher/internal/storage/memory"
)

func newTestCache(t *testing.T) (*CacheStore, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewCacheStore(store, newRecordingLogger()), store
}

func TestCacheStore_MissThenHit(t *testing.T) {
	cache, _ := newTestCache(t)
	ep := baseEndpoint()

	_, hit := cache.ReadIfValid("user-1", "cfg", ep, 5*time.Minute)
	assert.False(t, hit)

	claims := map[string]interface{}{
		"user_role":   "admin",
		"user_groups": []string{"a", "b"},
	}
	require.NoError(t, cache.Write("user-1", "cfg", ep, claims))

	cached, hit := cache.ReadIfValid("user-1", "cfg", ep, 5*time.Minute)
	require.True(t, hit)
	assert.Equal(t, claims, cached)
}

func TestCacheStore_TTLExpiry(t *testing.T) {
	cache, _ := newTestCache(t)
	ep := baseEndpoint()

	require.NoError(t, cache.Write("user-1", "cfg", ep, map[string]interface{}{"user_role": "admin"}))

	// Within TTL
	_, hit := cache.ReadIfValid("user-1", "cfg", ep, time.Minute)
	assert.True(t, hit)

	// Advance past TTL
	cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, hit = cache.ReadIfValid("user-1", "cfg", ep, time.Minute)
	assert.False(t, hit)
}

func TestCacheStore_ZeroTTLAlwaysMisses(t *testing.T) {
	cache, _ := newTestCache(t)
	ep := baseEndpoint()

	require.NoError(t, cache.Write("user-1", "cfg", ep, map[string]interface{}{"user_role": "admin"}))

	_, hit := cache.ReadIfValid("user-1", "cfg", ep, 0)
	assert.False(t, hit)
}

func TestCacheStore_FingerprintMismatchInvalidatesImmediately(t *testing.T) {
	cache, _ := newTestCache(t)
	ep := baseEndpoint()

	require.NoError(t, cache.Write("user-1", "cfg", ep, map[string]interface{}{"user_role": "admin"}))

	// Edit the mapping: well within TTL, but the record must be invalid now
	edited := baseEndpoint()
	edited.MappingRules = append(edited.MappingRules, MappingRule{SourceField: "x", ClaimName: "y"})

	_, hit := cache.ReadIfValid("user-1", "cfg", edited, time.Hour)
	assert.False(t, hit)
}

func TestCacheStore_MalformedMarkerIsMiss(t *testing.T) {
	cache, store := newTestCache(t)
	ep := baseEndpoint()

	markers := []string{
		"not-a-number|abcdef",
		"1700000000",
		"1700000000|",
		"",
	}
	for _, marker := range markers {
		require.NoError(t, store.SetAttribute("user-1", markerKey("cfg", ep.Index), []string{marker}))
		_, hit := cache.ReadIfValid("user-1", "cfg", ep, time.Hour)
		assert.False(t, hit, "marker %q must be a miss", marker)
	}
}

func TestCacheStore_WriteIsIdempotent(t *testing.T) {
	cache, _ := newTestCache(t)
	ep := baseEndpoint()
	claims := map[string]interface{}{"user_role": "admin"}

	require.NoError(t, cache.Write("user-1", "cfg", ep, claims))
	require.NoError(t, cache.Write("user-1", "cfg", ep, claims))

	cached, hit := cache.ReadIfValid("user-1", "cfg", ep, time.Hour)
	require.True(t, hit)
	assert.Equal(t, claims, cached)
}

func TestCacheStore_ConfigIDNamespacesKeys(t *testing.T) {
	cache, _ := newTestCache(t)
	ep := baseEndpoint()

	require.NoError(t, cache.Write("user-1", "cfg-a", ep, map[string]interface{}{"user_role": "admin"}))

	_, hit := cache.ReadIfValid("user-1", "cfg-b", ep, time.Hour)
	assert.False(t, hit)
}

func TestCacheStore_IdentitiesAreIsolated(t *testing.T) {
	cache, _ := newTestCache(t)
	ep := baseEndpoint()

	require.NoError(t, cache.Write("user-1", "cfg", ep, map[string]interface{}{"user_role": "admin"}))

	_, hit := cache.ReadIfValid("user-2", "cfg", ep, time.Hour)
	assert.False(t, hit)
}

func TestCacheStore_KeyLayout(t *testing.T) {
	assert.Equal(t, "rest_claims.cfg.ep2.cached_at", markerKey("cfg", 2))
	assert.Equal(t, "rest_claims.cfg.user_role", claimKey("cfg", "user_role"))
}
