// Package handlers exposes the enrichment engine over HTTP: an admin dry-run
// endpoint, a synchronous enrichment endpoint and a health check.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/config"
	"claim-enricher/internal/enricher"
	"claim-enricher/internal/storage"
)

type Handlers struct {
	store        storage.AttributeStore
	orchestrator *enricher.Orchestrator
	evaluator    enricher.Evaluator
	fetcher      *enricher.Fetcher
	extractor    *enricher.Extractor
	config       *config.Config
	logger       logging.Logger
}

func New(store storage.AttributeStore, orchestrator *enricher.Orchestrator,
	evaluator enricher.Evaluator, fetcher *enricher.Fetcher, extractor *enricher.Extractor,
	cfg *config.Config, logger logging.Logger) *Handlers {

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		store:        store,
		orchestrator: orchestrator,
		evaluator:    evaluator,
		fetcher:      fetcher,
		extractor:    extractor,
		config:       cfg,
		logger:       logger,
	}
}

// TestQueryRequest is the admin dry-run input for a single endpoint
type TestQueryRequest struct {
	URL         string            `json:"url"`
	AuthType    string            `json:"authType"`
	AuthValue   string            `json:"authValue"`
	QueryParams []string          `json:"queryParams"`
	QueryScript string            `json:"queryScript"`
	Mapping     string            `json:"mapping"`
	TestVars    map[string]string `json:"testVars"`
}

// TestQueryResponse carries the dry-run outcome. A failed remote call is
// still HTTP 200: RawResponse stays null and Error describes the failure.
type TestQueryResponse struct {
	QueryString  string                 `json:"queryString"`
	RawResponse  *string                `json:"rawResponse"`
	MappedClaims map[string]interface{} `json:"mappedClaims"`
	Error        *string                `json:"error,omitempty"`
}

// TestQuery runs one endpoint configuration synchronously through the same
// evaluate → fetch → extract chain the engine uses
func (h *Handlers) TestQuery(w http.ResponseWriter, r *http.Request) {
	var req TestQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.URL) == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	ep := enricher.EndpointConfig{
		Index:        1,
		URL:          strings.TrimSpace(req.URL),
		AuthType:     req.AuthType,
		AuthValue:    req.AuthValue,
		QueryParams:  req.QueryParams,
		QueryScript:  req.QueryScript,
		MappingRules: enricher.ParseMappingRules(req.Mapping, h.logger),
	}

	vars := make(map[string]string, len(ep.QueryParams))
	for _, param := range ep.QueryParams {
		vars[param] = req.TestVars[param]
	}
	queryString := h.evaluator.Evaluate(ep.QueryScript, vars)

	response := TestQueryResponse{
		QueryString:  queryString,
		MappedClaims: map[string]interface{}{},
	}

	body, err := h.fetcher.Fetch(r.Context(), ep, queryString)
	if err != nil {
		msg := err.Error()
		response.Error = &msg
		writeJSON(w, http.StatusOK, response)
		return
	}

	raw := string(body)
	response.RawResponse = &raw

	claims, err := h.extractor.Extract(body, ep.MappingRules)
	if err != nil {
		msg := err.Error()
		response.Error = &msg
	} else {
		response.MappedClaims = claims
	}

	writeJSON(w, http.StatusOK, response)
}

// EnrichRequest invokes the full engine for one identity
type EnrichRequest struct {
	IdentityID string            `json:"identityId"`
	Persistent bool              `json:"persistent"`
	SessionID  string            `json:"sessionId"`
	Context    map[string]string `json:"context"`
	ConfigID   string            `json:"configId"`
	Config     map[string]string `json:"config"`
	TTLSeconds *int64            `json:"ttlSeconds"`
}

// EnrichResponse is the merged claim set for the call
type EnrichResponse struct {
	Claims map[string]interface{} `json:"claims"`
}

// Enrich stands in for the host's token-issuance hook: it parses the flat
// configuration map, builds the identity context and runs one enrichment
// call. Persistent identities known to the store contribute their stored
// fields; request context entries override them.
func (h *Handlers) Enrich(w http.ResponseWriter, r *http.Request) {
	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.IdentityID) == "" {
		http.Error(w, "identityId is required", http.StatusBadRequest)
		return
	}

	endpoints := enricher.ParseEndpoints(req.Config, h.logger)

	identityCtx := map[string]string{"sub": req.IdentityID, "sessionId": req.SessionID}
	if req.Persistent {
		identity, err := h.store.GetIdentity(req.IdentityID)
		if err != nil {
			h.logger.Error("Identity lookup failed", err,
				logging.String("identity", req.IdentityID))
		} else if identity != nil {
			identityCtx = enricher.BuildIdentityContext(identity, req.SessionID)
		}
	}
	for name, value := range req.Context {
		identityCtx[name] = value
	}

	ttl := enricher.ParseCacheTTL(req.Config, h.config.CacheTTLSeconds)
	if req.TTLSeconds != nil && *req.TTLSeconds >= 0 {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}

	configID := req.ConfigID
	if configID == "" {
		configID = "default"
	}

	claims := h.orchestrator.Enrich(r.Context(), enricher.Request{
		Identity:  enricher.Identity{ID: req.IdentityID, Persistent: req.Persistent},
		Context:   identityCtx,
		Endpoints: endpoints,
		ConfigID:  configID,
		TTL:       ttl,
	})

	writeJSON(w, http.StatusOK, EnrichResponse{Claims: claims})
}

// HealthCheck reports liveness and storage health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if err := h.store.Health(); err != nil {
		status["status"] = "degraded"
		status["storage"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
