package enricher

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"claim-enricher/internal/common/errors"
	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/storage"
)

// cachePrefix namespaces all attribute keys written by the engine
const cachePrefix = "rest_claims"

// CacheStore implements the TTL plus configuration-fingerprint validity
// protocol on top of the durable per-identity attribute store.
//
// Key layout per configuration instance:
//
//	rest_claims.<configID>.<claimName>       - cached claim value
//	rest_claims.<configID>.ep<N>.cached_at   - "<epochSeconds>|<fingerprintHex>"
type CacheStore struct {
	store  storage.AttributeStore
	logger logging.Logger
	now    func() time.Time
}

// NewCacheStore creates a cache store over the given attribute store
func NewCacheStore(store storage.AttributeStore, logger logging.Logger) *CacheStore {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CacheStore{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// ReadIfValid returns the cached claims for (identity, endpoint) when the
// stored marker is younger than ttl and its fingerprint matches the current
// endpoint configuration. A missing, expired, mismatched or malformed marker
// is a miss. A fingerprint mismatch invalidates immediately regardless of
// remaining TTL, so configuration edits take effect on the next call.
func (c *CacheStore) ReadIfValid(identityID, configID string, ep EndpointConfig, ttl time.Duration) (map[string]interface{}, bool) {
	markerValues, err := c.store.GetAttribute(identityID, markerKey(configID, ep.Index))
	if err != nil {
		c.logger.Debug("Cache marker read failed",
			logging.String("identity", identityID),
			logging.Int("endpoint", ep.Index),
			logging.String("error", err.Error()))
		return nil, false
	}
	if len(markerValues) == 0 {
		return nil, false
	}

	storedAt, fingerprint, ok := parseMarker(markerValues[0])
	if !ok {
		c.logger.Debug("Malformed cache marker, treating as miss",
			logging.String("identity", identityID),
			logging.Int("endpoint", ep.Index))
		return nil, false
	}

	if age := c.now().Sub(storedAt); age >= ttl {
		return nil, false
	}
	if fingerprint != Fingerprint(ep) {
		c.logger.Debug("Endpoint configuration changed, invalidating cache",
			logging.String("identity", identityID),
			logging.Int("endpoint", ep.Index))
		return nil, false
	}

	claims := make(map[string]interface{})
	for _, rule := range ep.MappingRules {
		values, err := c.store.GetAttribute(identityID, claimKey(configID, rule.ClaimName))
		if err != nil || len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			claims[rule.ClaimName] = values[0]
		} else {
			claims[rule.ClaimName] = values
		}
	}
	return claims, true
}

// Write stores each produced claim value plus a fresh validity marker.
// Writes are idempotent: repeating a write replaces the same keys.
func (c *CacheStore) Write(identityID, configID string, ep EndpointConfig, claims map[string]interface{}) error {
	for name, value := range claims {
		var values []string
		switch v := value.(type) {
		case string:
			values = []string{v}
		case []string:
			values = v
		default:
			values = []string{fmt.Sprintf("%v", v)}
		}
		if err := c.store.SetAttribute(identityID, claimKey(configID, name), values); err != nil {
			return errors.CacheError(fmt.Sprintf("failed to store claim %s for identity %s", name, identityID))
		}
	}

	marker := fmt.Sprintf("%d|%s", c.now().Unix(), Fingerprint(ep))
	if err := c.store.SetAttribute(identityID, markerKey(configID, ep.Index), []string{marker}); err != nil {
		return errors.CacheError(fmt.Sprintf("failed to store cache marker for identity %s endpoint %d", identityID, ep.Index))
	}
	return nil
}

func markerKey(configID string, index int) string {
	return fmt.Sprintf("%s.%s.ep%d.cached_at", cachePrefix, configID, index)
}

func claimKey(configID, claimName string) string {
	return fmt.Sprintf("%s.%s.%s", cachePrefix, configID, claimName)
}

// parseMarker decodes "<epochSeconds>|<fingerprintHex>"
func parseMarker(marker string) (time.Time, string, bool) {
	parts := strings.SplitN(marker, "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", false
	}
	epoch, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", false
	}
	return time.Unix(epoch, 0), parts[1], true
}
