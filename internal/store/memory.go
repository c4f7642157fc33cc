// Package store provides storage backends for the movierec engine.
//
// This file implements a simple in-memory store used by tests and as a
// fallback when no DSN is configured.
package store

import (
	"sort"
	"strings"
	"sync"
)

// Key prefixes namespace the two record kinds in the flat key space.
const (
	preferencesKeyPrefix = "prefs:"
	completionKeyPrefix  = "complete:"
)

// InMemoryStore is a simple in-memory key-value store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]string)}
}

func (s *InMemoryStore) GetPreferences(identity string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.data[preferencesKeyPrefix+identity]
	if !ok || payload == "" {
		return "", false, nil
	}
	return payload, true, nil
}

func (s *InMemoryStore) SavePreferences(identity, payloadJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[preferencesKeyPrefix+identity] = payloadJSON
	return nil
}

func (s *InMemoryStore) DeletePreferences(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, preferencesKeyPrefix+identity)
	return nil
}

func (s *InMemoryStore) GetCompletionFlag(identity string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[completionKeyPrefix+identity]
	if !ok {
		return false, false, nil
	}
	return val == "true", true, nil
}

func (s *InMemoryStore) SetCompletionFlag(identity string, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if completed {
		s.data[completionKeyPrefix+identity] = "true"
	} else {
		s.data[completionKeyPrefix+identity] = "false"
	}
	return nil
}

func (s *InMemoryStore) DeleteCompletionFlag(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, completionKeyPrefix+identity)
	return nil
}

func (s *InMemoryStore) ListIdentities() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var identities []string
	for key := range s.data {
		if strings.HasPrefix(key, preferencesKeyPrefix) {
			identities = append(identities, strings.TrimPrefix(key, preferencesKeyPrefix))
		}
	}
	sort.Strings(identities)
	return identities, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
