package escrow

import (
	"context"
	"sync"

	"github.com/workbridge/paycore/internal/ledger"
	"github.com/workbridge/paycore/internal/syncutil"
)

// MemoryStore implements Store in memory for development and tests. A
// per-escrow lock stands in for the database's transactional
// guarantees: version check and ledger append happen under one critical
// section for that escrow, while transitions on unrelated escrows
// proceed in parallel.
type MemoryStore struct {
	mu           sync.RWMutex // guards the maps
	transitions  syncutil.ContextShardedMutex
	records      map[string]*Record
	byAssignment map[string]string // assignmentID -> escrowID
	ledger       ledger.Store
	order        []string
}

// NewMemoryStore creates an in-memory escrow store that appends ledger
// entries into the given ledger store.
func NewMemoryStore(ledgerStore ledger.Store) *MemoryStore {
	return &MemoryStore{
		records:      make(map[string]*Record),
		byAssignment: make(map[string]string),
		ledger:       ledgerStore,
	}
}

// Create inserts a new escrow record.
func (m *MemoryStore) Create(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byAssignment[rec.AssignmentID]; exists {
		return ErrEscrowExists
	}
	cp := *rec
	m.records[rec.ID] = &cp
	m.byAssignment[rec.AssignmentID] = rec.ID
	m.order = append(m.order, rec.ID)
	return nil
}

// Get returns an escrow record by ID.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetByAssignment returns the escrow record for an assignment.
func (m *MemoryStore) GetByAssignment(ctx context.Context, assignmentID string) (*Record, error) {
	m.mu.RLock()
	id, ok := m.byAssignment[assignmentID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return m.Get(ctx, id)
}

// ApplyTransition performs the version-checked update and the ledger
// append atomically.
func (m *MemoryStore) ApplyTransition(ctx context.Context, rec *Record, expectedVersion int64, entry *ledger.Entry) error {
	unlock, err := m.transitions.LockContext(ctx, rec.ID)
	if err != nil {
		return err
	}
	defer unlock()

	m.mu.RLock()
	current, ok := m.records[rec.ID]
	var currentVersion int64
	if ok {
		currentVersion = current.Version
	}
	m.mu.RUnlock()

	if !ok {
		return ErrEscrowNotFound
	}
	if currentVersion != expectedVersion {
		return ErrVersionConflict
	}

	if entry != nil {
		if err := m.ledger.Append(ctx, entry); err != nil {
			return err
		}
	}

	m.mu.Lock()
	cp := *rec
	m.records[rec.ID] = &cp
	m.mu.Unlock()
	return nil
}

// List returns escrow records in creation order.
func (m *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if offset >= len(m.order) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(m.order) {
		end = len(m.order)
	}

	out := make([]*Record, 0, end-offset)
	for _, id := range m.order[offset:end] {
		cp := *m.records[id]
		out = append(out, &cp)
	}
	return out, nil
}
