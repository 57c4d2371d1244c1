package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryConfig configures the in-process store.
type MemoryConfig struct {
	// TTL bounds how long a code stays valid. Zero keeps codes until consumed or overwritten.
	TTL       time.Duration
	Generator CodeGenerator
	Clock     func() time.Time
}

// MemoryStore keeps codes in a process-lifetime map. Verification is an atomic
// compare-and-delete under the store mutex.
type MemoryStore struct {
	mu        sync.Mutex
	codes     map[string]memoryEntry
	ttl       time.Duration
	generator CodeGenerator
	clock     func() time.Time
}

type memoryEntry struct {
	code      string
	expiresAt time.Time
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	generator := cfg.Generator
	if generator == nil {
		generator = GenerateCode
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		codes:     make(map[string]memoryEntry),
		ttl:       cfg.TTL,
		generator: generator,
		clock:     clock,
	}
}

// Issue stores a fresh code for the email, replacing any outstanding one.
func (s *MemoryStore) Issue(_ context.Context, email string) (string, error) {
	key := normalizeEmail(email)
	if key == "" {
		return "", ErrInvalidEmail
	}
	code, err := s.generator()
	if err != nil {
		return "", err
	}
	entry := memoryEntry{code: code}
	if s.ttl > 0 {
		entry.expiresAt = s.clock().Add(s.ttl)
	}

	s.mu.Lock()
	s.codes[key] = entry
	s.mu.Unlock()
	return code, nil
}

// Verify consumes the stored code when it matches. Mismatches leave the entry intact.
func (s *MemoryStore) Verify(_ context.Context, email, code string) (bool, error) {
	key := normalizeEmail(email)
	if key == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[key]
	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && s.clock().After(entry.expiresAt) {
		delete(s.codes, key)
		return false, nil
	}
	if !codesEqual(entry.code, code) {
		return false, nil
	}
	delete(s.codes, key)
	return true, nil
}

// Len reports the number of outstanding codes.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}
