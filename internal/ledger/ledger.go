// Package ledger is the append-only record of every balance change on an
// escrow. Entries are immutable facts: once written they are never updated
// or deleted, and an escrow's balance is always the signed sum of its
// entries.
//
// The unique idempotency key on each entry is the lowest-level guard
// against double processing: submitting the same logical operation twice
// fails the second append with ErrDuplicateIdempotencyKey, which callers
// treat as "already done".
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateIdempotencyKey = errors.New("ledger: idempotency key already used")
	ErrEntryNotFound           = errors.New("ledger: entry not found")
)

// Actor identifies who caused a ledger entry.
type Actor string

const (
	ActorSystem  Actor = "system"
	ActorGateway Actor = "gateway"
	ActorAdmin   Actor = "admin"
)

// Entry is one immutable balance-changing fact for an escrow.
type Entry struct {
	ID             string            `json:"id"`
	EscrowID       string            `json:"escrowId"`
	Sequence       int64             `json:"sequence"` // monotonic per escrow
	FromState      string            `json:"fromState"`
	ToState        string            `json:"toState"`
	AmountDelta    int64             `json:"amountDelta"` // minor units, signed
	IdempotencyKey string            `json:"idempotencyKey"`
	Actor          Actor             `json:"actor"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Store persists ledger entries.
//
// Append must enforce idempotency-key uniqueness across the whole ledger
// and assign the next per-escrow sequence number. Both guarantees must
// come from the storage layer itself (unique constraints), not from
// in-process locking, because multiple instances may append concurrently.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ListByEscrow(ctx context.Context, escrowID string, limit, offset int) ([]*Entry, error)
	Balance(ctx context.Context, escrowID string) (int64, error)
	HasKey(ctx context.Context, idempotencyKey string) (bool, error)
	EscrowIDs(ctx context.Context) ([]string, error)
}

// Ledger provides the read-side query surface over entries. Writes go
// through the escrow state machine, which pairs each append with the
// escrow state change in one atomic commit.
type Ledger struct {
	store Store
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Entries returns the entries for an escrow in sequence order.
func (l *Ledger) Entries(ctx context.Context, escrowID string, limit, offset int) ([]*Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.ListByEscrow(ctx, escrowID, limit, offset)
}

// Balance folds the signed deltas for an escrow.
func (l *Ledger) Balance(ctx context.Context, escrowID string) (int64, error) {
	return l.store.Balance(ctx, escrowID)
}
