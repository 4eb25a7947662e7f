package enricher

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Fingerprint computes a deterministic hash over every configuration field of
// an endpoint. Two definitions fingerprint equal iff all their fields are
// equal, so a stored fingerprint detects configuration edits and invalidates
// cached values immediately instead of waiting out the TTL.
//
// Each field is written with a length prefix so adjacent fields cannot run
// together and produce colliding serializations.
func Fingerprint(ep EndpointConfig) string {
	h := sha256.New()

	writeField := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}

	writeField(ep.URL)
	writeField(ep.AuthType)
	writeField(ep.AuthValue)
	writeField(ep.QueryScript)

	writeField(strconv.Itoa(len(ep.QueryParams)))
	for _, p := range ep.QueryParams {
		writeField(p)
	}

	writeField(strconv.Itoa(len(ep.MappingRules)))
	for _, r := range ep.MappingRules {
		writeField(r.SourceField)
		writeField(r.ClaimName)
	}

	return hex.EncodeToString(h.Sum(nil))
}
