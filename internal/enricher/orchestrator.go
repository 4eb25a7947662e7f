package enricher

import (
	"context"
	"time"

	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/storage"
)

// DefaultDeadline bounds the aggregation wait for all dispatched units
const DefaultDeadline = 10 * time.Second

// Identity names the subject of one enrichment call. Persistent identities
// are durably stored and eligible for claim caching; transient identities
// are always fetched live.
type Identity struct {
	ID         string
	Persistent bool
}

// Request carries everything one enrichment call needs
type Request struct {
	Identity Identity
	// Context maps identity field names to values, read-only to the engine
	Context map[string]string
	// Endpoints are the parsed endpoint configurations
	Endpoints []EndpointConfig
	// ConfigID namespaces cache keys per configuration instance
	ConfigID string
	// TTL is the cache time-to-live; zero disables caching effectively
	TTL time.Duration
}

// Orchestrator coordinates one enrichment call: per-endpoint cache checks,
// concurrent dispatch of misses through evaluate → fetch → extract, a shared
// aggregation deadline, cache write-back and the final claim merge.
type Orchestrator struct {
	evaluator Evaluator
	fetcher   *Fetcher
	extractor *Extractor
	cache     *CacheStore
	pool      *WorkerPool
	deadline  time.Duration
	logger    logging.Logger
}

// NewOrchestrator wires the engine together. A non-positive deadline uses
// DefaultDeadline.
func NewOrchestrator(evaluator Evaluator, fetcher *Fetcher, extractor *Extractor,
	cache *CacheStore, pool *WorkerPool, deadline time.Duration, logger logging.Logger) *Orchestrator {

	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Orchestrator{
		evaluator: evaluator,
		fetcher:   fetcher,
		extractor: extractor,
		cache:     cache,
		pool:      pool,
		deadline:  deadline,
		logger:    logger,
	}
}

type unitResult struct {
	ep     EndpointConfig
	claims map[string]interface{}
	ok     bool
}

// Enrich runs one enrichment call and returns the merged claim set. It never
// panics or returns an error: on any unexpected failure it degrades to an
// empty map so the surrounding token operation always completes.
//
// When two endpoints map to the same claim name the value that lands last
// wins; completion order between endpoints is not defined.
func (o *Orchestrator) Enrich(ctx context.Context, req Request) (claims map[string]interface{}) {
	claims = make(map[string]interface{})

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Enrichment call panicked, returning empty claim set", nil,
				logging.Field{Key: "panic", Value: r},
				logging.String("identity", req.Identity.ID))
		}
	}()

	results := make(chan unitResult, len(req.Endpoints))
	dispatched := 0

	for _, ep := range req.Endpoints {
		if !ep.IsConfigured() {
			continue
		}

		if req.Identity.Persistent && o.cache != nil {
			if cached, hit := o.cache.ReadIfValid(req.Identity.ID, req.ConfigID, ep, req.TTL); hit {
				o.logger.Debug("Cache hit",
					logging.String("identity", req.Identity.ID),
					logging.Int("endpoint", ep.Index))
				for name, value := range cached {
					claims[name] = value
				}
				continue
			}
			o.logger.Debug("Cache miss, fetching live",
				logging.String("identity", req.Identity.ID),
				logging.Int("endpoint", ep.Index))
		}

		ep := ep
		dispatched++
		o.pool.Submit(func() {
			o.runUnit(ctx, ep, req, results)
		})
	}

	if dispatched == 0 {
		return claims
	}

	// The deadline bounds the aggregation wait only; an abandoned unit's
	// network call may still complete but its result is discarded.
	timer := time.NewTimer(o.deadline)
	defer timer.Stop()

	for collected := 0; collected < dispatched; collected++ {
		select {
		case result := <-results:
			if !result.ok {
				continue
			}
			for name, value := range result.claims {
				claims[name] = value
			}
			if req.Identity.Persistent && o.cache != nil {
				if err := o.cache.Write(req.Identity.ID, req.ConfigID, result.ep, result.claims); err != nil {
					o.logger.Error("Failed to write claim cache", err,
						logging.String("identity", req.Identity.ID),
						logging.Int("endpoint", result.ep.Index))
				}
			}
		case <-timer.C:
			o.logger.Error("Enrichment deadline exceeded, abandoning remaining endpoints", nil,
				logging.String("identity", req.Identity.ID),
				logging.Int("abandoned", dispatched-collected),
				logging.Duration("deadline", o.deadline))
			return claims
		}
	}

	return claims
}

// runUnit executes one endpoint's evaluate → fetch → extract chain. It always
// sends exactly one result, even on panic, so the collector never stalls.
func (o *Orchestrator) runUnit(ctx context.Context, ep EndpointConfig, req Request, results chan<- unitResult) {
	result := unitResult{ep: ep}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Endpoint unit panicked", nil,
				logging.Field{Key: "panic", Value: r},
				logging.Int("endpoint", ep.Index))
			result.claims = nil
			result.ok = false
		}
		results <- result
	}()

	vars := make(map[string]string, len(ep.QueryParams))
	for _, param := range ep.QueryParams {
		vars[param] = req.Context[param]
	}

	queryString := o.evaluator.Evaluate(ep.QueryScript, vars)

	body, err := o.fetcher.Fetch(ctx, ep, queryString)
	if err != nil {
		o.logger.Error("Endpoint fetch failed", err,
			logging.Int("endpoint", ep.Index),
			logging.String("identity", req.Identity.ID))
		return
	}

	mapped, err := o.extractor.Extract(body, ep.MappingRules)
	if err != nil {
		o.logger.Error("Endpoint response could not be parsed", err,
			logging.Int("endpoint", ep.Index))
		return
	}

	result.claims = mapped
	result.ok = true
}

// BuildIdentityContext flattens a stored identity into the field map exposed
// to query scripts. Profile attributes contribute their first value and never
// shadow the standard fields.
func BuildIdentityContext(identity *storage.Identity, sessionID string) map[string]string {
	ctx := map[string]string{
		"sub":       identity.ID,
		"username":  identity.Username,
		"email":     identity.Email,
		"firstName": identity.FirstName,
		"lastName":  identity.LastName,
		"sessionId": sessionID,
	}
	for name, values := range identity.Attributes {
		if _, exists := ctx[name]; !exists && len(values) > 0 {
			ctx[name] = values[0]
		}
	}
	return ctx
}
