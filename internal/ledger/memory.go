package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/clock"
)

type memoryEntry struct {
	principalID string
	family      string
	state       string
	expiresAt   time.Time
}

// MemoryLedger is a process-local Ledger for development and tests
type MemoryLedger struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	families  map[string]time.Time // revoked family -> retain until
	clock     clock.Clock
	retention time.Duration
}

// NewMemoryLedger creates a MemoryLedger that keeps blacklisted ids for retention
func NewMemoryLedger(clk clock.Clock, retention time.Duration) *MemoryLedger {
	return &MemoryLedger{
		entries:   make(map[string]*memoryEntry),
		families:  make(map[string]time.Time),
		clock:     clk,
		retention: retention,
	}
}

func (m *MemoryLedger) Record(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[entry.ID]; exists {
		return nil
	}

	e := &memoryEntry{
		principalID: entry.PrincipalID,
		family:      entry.Family,
		state:       stateLive,
		expiresAt:   entry.ExpiresAt,
	}
	if _, revoked := m.families[entry.Family]; revoked && entry.Family != "" {
		e.state = stateBlacklisted
		e.expiresAt = retainUntil(m.clock.Now(), m.retention, entry.ExpiresAt)
	}
	m.entries[entry.ID] = e
	return nil
}

func (m *MemoryLedger) Blacklist(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blacklistLocked(id)
	return nil
}

func (m *MemoryLedger) blacklistLocked(id string) {
	now := m.clock.Now()
	e, exists := m.entries[id]
	if !exists {
		m.entries[id] = &memoryEntry{state: stateBlacklisted, expiresAt: now.Add(m.retention)}
		return
	}
	e.state = stateBlacklisted
	e.expiresAt = retainUntil(now, m.retention, e.expiresAt)
}

func (m *MemoryLedger) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[id]
	return exists && e.state == stateBlacklisted, nil
}

func (m *MemoryLedger) Consume(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, exists := m.entries[id]; exists && e.state == stateBlacklisted {
		return false, nil
	}
	m.blacklistLocked(id)
	return true, nil
}

func (m *MemoryLedger) BlacklistFamily(ctx context.Context, family string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.families[family] = m.clock.Now().Add(m.retention)

	var count int64
	for id, e := range m.entries {
		if e.family == family && e.state != stateBlacklisted {
			m.blacklistLocked(id)
			count++
		}
	}
	return count, nil
}

func (m *MemoryLedger) Purge(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var removed int64
	for id, e := range m.entries {
		if !e.expiresAt.After(now) {
			delete(m.entries, id)
			removed++
		}
	}
	for family, until := range m.families {
		if !until.After(now) {
			delete(m.families, family)
		}
	}
	return removed, nil
}

// Len returns the number of stored entries
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
