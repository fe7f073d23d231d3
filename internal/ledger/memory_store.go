package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/workbridge/paycore/internal/idgen"
)

// MemoryStore implements Store in memory for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]*Entry // escrowID -> entries in sequence order
	keys    map[string]struct{} // idempotency keys seen
}

// NewMemoryStore creates an in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]*Entry),
		keys:    make(map[string]struct{}),
	}
}

// Append adds an entry, enforcing idempotency-key uniqueness and
// assigning the next sequence number for the escrow.
func (m *MemoryStore) Append(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[entry.IdempotencyKey]; exists {
		return ErrDuplicateIdempotencyKey
	}

	if entry.ID == "" {
		entry.ID = idgen.WithPrefix("le_")
	}
	entry.Sequence = int64(len(m.entries[entry.EscrowID])) + 1
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	m.keys[entry.IdempotencyKey] = struct{}{}
	m.entries[entry.EscrowID] = append(m.entries[entry.EscrowID], entry)
	return nil
}

// ListByEscrow returns entries for an escrow in sequence order.
func (m *MemoryStore) ListByEscrow(ctx context.Context, escrowID string, limit, offset int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.entries[escrowID]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	out := make([]*Entry, end-offset)
	copy(out, all[offset:end])
	return out, nil
}

// Balance folds the signed deltas for an escrow.
func (m *MemoryStore) Balance(ctx context.Context, escrowID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, e := range m.entries[escrowID] {
		sum += e.AmountDelta
	}
	return sum, nil
}

// HasKey reports whether an idempotency key has been used.
func (m *MemoryStore) HasKey(ctx context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.keys[idempotencyKey]
	return ok, nil
}

// EscrowIDs returns every escrow ID that has at least one entry.
func (m *MemoryStore) EscrowIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids, nil
}
