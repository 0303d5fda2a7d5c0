package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

type Entry struct {
	Value     json.RawMessage
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// TTLStore is a bounded in-process key/value store with expiry. It backs the
// enqueue idempotency window and the consume-once tracking for OAuth
// callbacks.
type TTLStore struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
}

func NewTTLStore(config Config) *TTLStore {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	return &TTLStore{
		entries:    make(map[string]Entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

func (s *TTLStore) Get(key string) (Entry, bool) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return Entry{}, false
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return Entry{}, false
	}
	return cloneEntry(entry), true
}

func (s *TTLStore) Set(key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value)
}

// PutIfAbsent stores value only when key is missing or expired and reports
// whether this call won. Exactly one caller wins per key per TTL window,
// which is the consume-once primitive the OAuth callback relies on.
func (s *TTLStore) PutIfAbsent(key string, value json.RawMessage) (Entry, bool) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.entries[key]; exists && now.Before(existing.ExpiresAt) {
		return cloneEntry(existing), false
	}
	s.setLocked(key, value)
	return cloneEntry(s.entries[key]), true
}

// BuildKey derives a stable cache key from its parts.
func (s *TTLStore) BuildKey(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.TrimSpace(part))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "||")))
	return hex.EncodeToString(sum[:])
}

func (s *TTLStore) setLocked(key string, value json.RawMessage) {
	now := time.Now().UTC()
	if len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[key] = Entry{
		Value:     append(json.RawMessage(nil), value...),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
}

func (s *TTLStore) evictOldestLocked() {
	if len(s.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value Entry
	}
	pairs := make([]pair, 0, len(s.entries))
	for key, value := range s.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.CreatedAt.Before(pairs[j].value.CreatedAt)
	})
	delete(s.entries, pairs[0].key)
}

func cloneEntry(entry Entry) Entry {
	clone := entry
	clone.Value = append(json.RawMessage(nil), entry.Value...)
	return clone
}
