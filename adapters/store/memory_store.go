package store

import (
	"sync"

	"github.com/layer-3/parlor/core"
	"github.com/layer-3/parlor/ports"
)

// MemoryStore keeps the credential in memory only. It is the degraded mode of
// FileStore and the default for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	cred core.Credential
	has  bool
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() ports.CredentialStore {
	return &MemoryStore{}
}

// Save atomically overwrites the stored credential.
func (s *MemoryStore) Save(cred core.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = cred
	s.has = true
}

// Load is a no-op for the memory store.
func (s *MemoryStore) Load() {}

// Status returns the current session view.
func (s *MemoryStore) Status() core.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return statusOf(s.cred, s.has)
}

// Token returns the raw bearer token, or "" when none is stored.
func (s *MemoryStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.has {
		return ""
	}
	return s.cred.Token
}

// Clear removes the credential.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = core.Credential{}
	s.has = false
}

// statusOf derives a SessionStatus from a cached credential.
func statusOf(cred core.Credential, has bool) core.SessionStatus {
	if !has {
		return core.SessionStatus{}
	}

	expired := cred.IsExpired()
	return core.SessionStatus{
		IsAuthenticated: cred.Token != "" && !expired,
		Wallet:          cred.Wallet,
		ExpiresAt:       cred.ExpiresAt,
		IsExpired:       expired,
	}
}
