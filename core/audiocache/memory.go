package audiocache

import (
	"sync"
	"time"

	"readecho/model"
)

// memoryEntry wraps a cached asset with tier-local bookkeeping.
type memoryEntry struct {
	asset      *model.AudioAsset
	expiresAt  time.Time
	lastAccess time.Time
}

// MemoryTier is the fastest cache tier: a small in-process map with a short
// TTL and least-recently-used eviction once full.
type MemoryTier struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	maxEntries int
	ttl        time.Duration
}

// NewMemoryTier creates a memory tier. maxEntries <= 0 defaults to 512.
func NewMemoryTier(maxEntries int, ttl time.Duration) *MemoryTier {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryTier{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get returns the cached asset or nil on miss.
func (m *MemoryTier) Get(key string) *model.AudioAsset {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	entry.lastAccess = time.Now()
	return entry.asset
}

// Put stores the asset, evicting the least recently used entry when full.
func (m *MemoryTier) Put(key string, asset *model.AudioAsset) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictOldestLocked()
	}
	now := time.Now()
	m.entries[key] = &memoryEntry{
		asset:      asset,
		expiresAt:  now.Add(m.ttl),
		lastAccess: now,
	}
}

// Delete removes an entry.
func (m *MemoryTier) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// PurgeExpired drops entries past their TTL and returns the count removed.
func (m *MemoryTier) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryTier) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range m.entries {
		if oldestKey == "" || entry.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = entry.lastAccess
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}
