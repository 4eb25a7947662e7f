// Package storage defines the durable per-identity attribute store used for
// claim caching, plus identity lookups for the enrichment service.
package storage

// Identity is a locally known identity eligible for enrichment
type Identity struct {
	ID        string            `json:"id"`
	Username  string            `json:"username"`
	Email     string            `json:"email"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	// Attributes holds arbitrary profile attributes (first value wins when
	// building the enrichment context)
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// AttributeStore is the narrow get/set contract the enrichment engine caches
// through. Values are ordered lists of strings; a set replaces all previous
// values for that attribute name.
type AttributeStore interface {
	// GetAttribute returns all values stored for (identityID, name), in
	// order. A missing attribute returns an empty slice and no error.
	GetAttribute(identityID, name string) ([]string, error)

	// SetAttribute replaces the values stored for (identityID, name)
	SetAttribute(identityID, name string, values []string) error

	// GetIdentity returns a stored identity, or nil if unknown
	GetIdentity(identityID string) (*Identity, error)

	// UpsertIdentity creates or updates an identity record
	UpsertIdentity(identity *Identity) error

	Health() error
	Close() error
}
