package enricher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claim-enricher/internal/storage/memory"
)

func newTestOrchestrator(t *testing.T, store *memory.Store, deadline time.Duration) *Orchestrator {
	t.Helper()
	logger := newRecordingLogger()

	var cache *CacheStore
	if store != nil {
		cache = NewCacheStore(store, logger)
	}

	pool := NewWorkerPool(8)
	t.Cleanup(pool.Stop)

	return NewOrchestrator(
		NewScriptEvaluator(logger),
		NewFetcher(nil, logger),
		NewExtractor(logger),
		cache,
		pool,
		deadline,
		logger,
	)
}

func claimServer(t *testing.T, hits *int32, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEnrich_TransientFetchesLive(t *testing.T) {
	var hits int32
	server := claimServer(t, &hits, `{"role":"admin"}`)

	store := memory.NewStore()
	o := newTestOrchestrator(t, store, time.Second)

	req := Request{
		Identity: Identity{ID: "ext-user", Persistent: false},
		Context:  map[string]string{"username": "alice"},
		Endpoints: []EndpointConfig{{
			Index:        1,
			URL:          server.URL,
			AuthType:     "apikey",
			QueryScript:  `""`,
			MappingRules: []MappingRule{{SourceField: "role", ClaimName: "user_role"}},
		}},
		ConfigID: "cfg",
		TTL:      time.Hour,
	}

	claims := o.Enrich(context.Background(), req)
	assert.Equal(t, map[string]interface{}{"user_role": "admin"}, claims)

	// Transient identities are fetched live every time and never cached
	claims = o.Enrich(context.Background(), req)
	assert.Equal(t, map[string]interface{}{"user_role": "admin"}, claims)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	marker, err := store.GetAttribute("ext-user", markerKey("cfg", 1))
	require.NoError(t, err)
	assert.Empty(t, marker)
}

func TestEnrich_PersistentCachesAcrossCalls(t *testing.T) {
	var hits int32
	server := claimServer(t, &hits, `{"role":"admin"}`)

	o := newTestOrchestrator(t, memory.NewStore(), time.Second)

	req := Request{
		Identity: Identity{ID: "user-1", Persistent: true},
		Context:  map[string]string{},
		Endpoints: []EndpointConfig{{
			Index:        1,
			URL:          server.URL,
			AuthType:     "apikey",
			QueryScript:  `""`,
			MappingRules: []MappingRule{{SourceField: "role", ClaimName: "user_role"}},
		}},
		ConfigID: "cfg",
		TTL:      time.Hour,
	}

	first := o.Enrich(context.Background(), req)
	assert.Equal(t, map[string]interface{}{"user_role": "admin"}, first)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// Second call is served from the cache without a network call
	second := o.Enrich(context.Background(), req)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestEnrich_ConfigEditForcesRefetch(t *testing.T) {
	var hits int32
	server := claimServer(t, &hits, `{"role":"admin","dept":"it"}`)

	o := newTestOrchestrator(t, memory.NewStore(), time.Second)

	endpoint := EndpointConfig{
		Index:        1,
		URL:          server.URL,
		AuthType:     "apikey",
		QueryScript:  `""`,
		MappingRules: []MappingRule{{SourceField: "role", ClaimName: "user_role"}},
	}
	req := Request{
		Identity:  Identity{ID: "user-1", Persistent: true},
		Context:   map[string]string{},
		Endpoints: []EndpointConfig{endpoint},
		ConfigID:  "cfg",
		TTL:       time.Hour,
	}

	o.Enrich(context.Background(), req)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// An edited mapping changes the fingerprint: well within TTL, but the
	// next call must go back to the network
	endpoint.MappingRules = append(endpoint.MappingRules,
		MappingRule{SourceField: "dept", ClaimName: "department"})
	req.Endpoints = []EndpointConfig{endpoint}

	claims := o.Enrich(context.Background(), req)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, map[string]interface{}{"user_role": "admin", "department": "it"}, claims)
}

func TestEnrich_SlowEndpointAbandonedAtDeadline(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"slow":"value"}`))
	}))
	t.Cleanup(func() {
		close(release)
		slow.Close()
	})

	fast := claimServer(t, nil, `{"role":"admin"}`)

	deadline := 300 * time.Millisecond
	o := newTestOrchestrator(t, nil, deadline)

	req := Request{
		Identity: Identity{ID: "ext-user", Persistent: false},
		Context:  map[string]string{},
		Endpoints: []EndpointConfig{
			{
				Index:        1,
				URL:          slow.URL,
				AuthType:     "apikey",
				QueryScript:  `""`,
				MappingRules: []MappingRule{{SourceField: "slow", ClaimName: "slow_claim"}},
			},
			{
				Index:        2,
				URL:          fast.URL,
				AuthType:     "apikey",
				QueryScript:  `""`,
				MappingRules: []MappingRule{{SourceField: "role", ClaimName: "user_role"}},
			},
		},
	}

	start := time.Now()
	claims := o.Enrich(context.Background(), req)
	elapsed := time.Since(start)

	// Only the fast endpoint contributes; the call completes at the
	// deadline, neither much earlier nor much later
	assert.Equal(t, map[string]interface{}{"user_role": "admin"}, claims)
	assert.GreaterOrEqual(t, elapsed, deadline)
	assert.Less(t, elapsed, deadline+2*time.Second)
}

func TestEnrich_FailedEndpointDoesNotAffectSiblings(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(failing.Close)

	healthy := claimServer(t, nil, `{"role":"admin"}`)

	o := newTestOrchestrator(t, nil, time.Second)

	claims := o.Enrich(context.Background(), Request{
		Identity: Identity{ID: "ext-user", Persistent: false},
		Context:  map[string]string{},
		Endpoints: []EndpointConfig{
			{
				Index:        1,
				URL:          failing.URL,
				AuthType:     "apikey",
				QueryScript:  `""`,
				MappingRules: []MappingRule{{SourceField: "x", ClaimName: "never_set"}},
			},
			{
				Index:        2,
				URL:          healthy.URL,
				AuthType:     "apikey",
				QueryScript:  `""`,
				MappingRules: []MappingRule{{SourceField: "role", ClaimName: "user_role"}},
			},
		},
	})

	assert.Equal(t, map[string]interface{}{"user_role": "admin"}, claims)
}

func TestEnrich_QueryScriptBuildsRequest(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"role":"admin"}`))
	}))
	t.Cleanup(server.Close)

	o := newTestOrchestrator(t, nil, time.Second)

	o.Enrich(context.Background(), Request{
		Identity: Identity{ID: "ext-user", Persistent: false},
		Context:  map[string]string{"username": "alice", "email": "a@example.com"},
		Endpoints: []EndpointConfig{{
			Index:        1,
			URL:          server.URL,
			AuthType:     "apikey",
			QueryParams:  []string{"username"},
			QueryScript:  `"?user=" + username`,
			MappingRules: []MappingRule{{SourceField: "role", ClaimName: "user_role"}},
		}},
	})

	assert.Equal(t, "user=alice", gotQuery)
}

func TestEnrich_UndeclaredContextFieldNotExposed(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	o := newTestOrchestrator(t, nil, time.Second)

	o.Enrich(context.Background(), Request{
		Identity: Identity{ID: "ext-user", Persistent: false},
		Context:  map[string]string{"username": "alice", "email": "a@example.com"},
		Endpoints: []EndpointConfig{{
			Index:       1,
			URL:         server.URL,
			AuthType:    "apikey",
			QueryParams: []string{"username"},
			// email was not declared as a query param, so the script
			// fails and yields an empty query string
			QueryScript: `"?mail=" + email`,
		}},
	})

	assert.Equal(t, "", gotQuery)
}

func TestEnrich_UnconfiguredEndpointsIgnored(t *testing.T) {
	o := newTestOrchestrator(t, nil, time.Second)

	claims := o.Enrich(context.Background(), Request{
		Identity:  Identity{ID: "ext-user", Persistent: false},
		Endpoints: []EndpointConfig{{Index: 1, URL: ""}},
	})

	assert.Empty(t, claims)
}

func TestEnrich_NeverReturnsNil(t *testing.T) {
	o := newTestOrchestrator(t, nil, time.Second)

	claims := o.Enrich(context.Background(), Request{
		Identity: Identity{ID: "ext-user", Persistent: false},
	})

	assert.NotNil(t, claims)
	assert.Empty(t, claims)
}
