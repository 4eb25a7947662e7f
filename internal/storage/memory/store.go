// Package memory implements the attribute store in process memory. It backs
// tests and deployments that do not need durable claim caching.
package memory

import (
	"sync"

	"claim-enricher/internal/storage"
)

type Store struct {
	mu         sync.RWMutex
	attributes map[string]map[string][]string
	identities map[string]*storage.Identity
}

func NewStore() *Store {
	return &Store{
		attributes: make(map[string]map[string][]string),
		identities: make(map[string]*storage.Identity),
	}
}

func (s *Store) GetAttribute(identityID, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := s.attributes[identityID][name]
	result := make([]string, len(values))
	copy(result, values)
	return result, nil
}

func (s *Store) SetAttribute(identityID, name string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attributes[identityID] == nil {
		s.attributes[identityID] = make(map[string][]string)
	}
	stored := make([]string, len(values))
	copy(stored, values)
	s.attributes[identityID][name] = stored
	return nil
}

func (s *Store) GetIdentity(identityID string) (*storage.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[identityID]
	if !ok {
		return nil, nil
	}
	clone := *identity
	return &clone, nil
}

func (s *Store) UpsertIdentity(identity *storage.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *identity
	s.identities[identity.ID] = &clone
	return nil
}

func (s *Store) Health() error { return nil }

func (s *Store) Close() error { return nil }
