// Package enricher implements the claim enrichment engine: parsing endpoint
// configurations, evaluating query scripts, fetching from external REST
// sources, extracting claims from responses, and caching results per identity.
package enricher

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"claim-enricher/internal/common/logging"
)

const (
	// MaxEndpoints is the maximum number of endpoint slots per configuration
	MaxEndpoints = 3

	// MaxQueryParams is the maximum number of script variables per endpoint
	MaxQueryParams = 5
)

// MappingRule converts one field of a source response into one claim
type MappingRule struct {
	// SourceField is either a plain top-level field name or a JSONPath
	// expression starting with "$"
	SourceField string
	// ClaimName is the claim the resolved value is stored under
	ClaimName string
}

// IsPathQuery reports whether the rule's source field is a JSONPath expression
func (r MappingRule) IsPathQuery() bool {
	return strings.HasPrefix(r.SourceField, "$")
}

func (r MappingRule) String() string {
	return r.SourceField + "->" + r.ClaimName
}

// EndpointConfig is the parsed configuration for a single numbered endpoint
type EndpointConfig struct {
	// Index is the 1-based slot number, used to namespace cache keys
	Index int
	// URL is the base URL of the REST source
	URL string
	// AuthType is "apikey", "basic" or "oauth2"
	AuthType string
	// AuthValue is the secret whose structure depends on AuthType:
	// apikey sends the raw value as X-API-Key, basic sends a pre-encoded
	// Authorization header value, oauth2 expects clientId:clientSecret:tokenUrl
	AuthValue string
	// QueryParams are identity context field names bound as script variables
	QueryParams []string
	// QueryScript is the expression that builds the query string
	QueryScript string
	// MappingRules are applied in order to the response document
	MappingRules []MappingRule
}

// IsConfigured reports whether this endpoint slot has a URL set
func (e EndpointConfig) IsConfigured() bool {
	return strings.TrimSpace(e.URL) != ""
}

// arrow matches both the ASCII and the Unicode arrow spelling
var arrow = regexp.MustCompile(`→|->`)

// ParseEndpoints parses the flat configuration map into the configured
// endpoint slots. Slots without a URL are skipped entirely.
//
// Recognized keys:
//
//	endpoint.count           - integer, active slots (1..MaxEndpoints)
//	endpoint.N.url
//	endpoint.N.auth.type     - "apikey" | "basic" | "oauth2"
//	endpoint.N.auth.value
//	endpoint.N.query.param.K - K in 1..MaxQueryParams, a context field name
//	endpoint.N.query.script
//	endpoint.N.mapping       - comma-separated "field→claim" pairs
func ParseEndpoints(config map[string]string, logger logging.Logger) []EndpointConfig {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	count := parseIntOrDefault(config["endpoint.count"], MaxEndpoints)
	endpoints := make([]EndpointConfig, 0, count)

	for n := 1; n <= count; n++ {
		prefix := "endpoint." + strconv.Itoa(n) + "."

		url := config[prefix+"url"]
		if strings.TrimSpace(url) == "" {
			continue
		}

		authType := getOrDefault(config, prefix+"auth.type", "apikey")
		authValue := getOrDefault(config, prefix+"auth.value", "")
		script := getOrDefault(config, prefix+"query.script", `""`)
		mapping := getOrDefault(config, prefix+"mapping", "")

		var queryParams []string
		for k := 1; k <= MaxQueryParams; k++ {
			param := config[prefix+"query.param."+strconv.Itoa(k)]
			if strings.TrimSpace(param) != "" {
				queryParams = append(queryParams, strings.TrimSpace(param))
			}
		}

		endpoints = append(endpoints, EndpointConfig{
			Index:        n,
			URL:          strings.TrimSpace(url),
			AuthType:     strings.TrimSpace(authType),
			AuthValue:    authValue,
			QueryParams:  queryParams,
			QueryScript:  script,
			MappingRules: ParseMappingRules(mapping, logger),
		})
	}

	return endpoints
}

// ParseMappingRules parses a comma-separated mapping string. Each entry must
// split into exactly two non-empty trimmed parts on "→" or "->"; malformed
// entries are dropped with a warning.
func ParseMappingRules(mapping string, logger logging.Logger) []MappingRule {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	var rules []MappingRule
	if strings.TrimSpace(mapping) == "" {
		return rules
	}

	for _, entry := range strings.Split(mapping, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := arrow.Split(entry, 2)
		if len(parts) != 2 {
			logger.Warn("Skipping malformed mapping rule, expected 'field→claim'",
				logging.String("entry", entry))
			continue
		}

		sourceField := strings.TrimSpace(parts[0])
		claimName := strings.TrimSpace(parts[1])
		if sourceField == "" || claimName == "" {
			logger.Warn("Skipping mapping rule with empty field or claim",
				logging.String("entry", entry))
			continue
		}

		rules = append(rules, MappingRule{SourceField: sourceField, ClaimName: claimName})
	}

	return rules
}

// ParseCacheTTL reads the global "cache.ttl.seconds" key from the flat
// configuration map. An absent, invalid or negative value falls back to
// defaultSeconds. Zero is valid and effectively disables caching.
func ParseCacheTTL(config map[string]string, defaultSeconds int64) time.Duration {
	raw := strings.TrimSpace(config["cache.ttl.seconds"])
	if raw == "" {
		return time.Duration(defaultSeconds) * time.Second
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return time.Duration(defaultSeconds) * time.Second
	}
	return time.Duration(v) * time.Second
}

func parseIntOrDefault(value string, defaultValue int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(value)
	if err != nil || v < 1 {
		return defaultValue
	}
	if v > MaxEndpoints {
		return MaxEndpoints
	}
	return v
}

func getOrDefault(config map[string]string, key, defaultValue string) string {
	if v, ok := config[key]; ok {
		return v
	}
	return defaultValue
}
