package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/workbridge/paycore/internal/idgen"
	"github.com/workbridge/paycore/internal/testutil"
)

func pgAppend(t *testing.T, store *PostgresStore, escrowID string, delta int64) *Entry {
	t.Helper()
	entry := &Entry{
		ID:             idgen.WithPrefix("led"),
		EscrowID:       escrowID,
		FromState:      "pending",
		ToState:        "held",
		AmountDelta:    delta,
		IdempotencyKey: idgen.WithPrefix("key"),
		Actor:          ActorSystem,
		Metadata:       map[string]string{"source": "test"},
	}
	if err := store.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return entry
}

func TestPostgresAppendAssignsSequence(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)

	escrowID := idgen.WithPrefix("esc")
	e1 := pgAppend(t, store, escrowID, 10000)
	e2 := pgAppend(t, store, escrowID, -4000)

	if e1.Sequence != 1 || e2.Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", e1.Sequence, e2.Sequence)
	}
	if e1.CreatedAt.IsZero() {
		t.Error("CreatedAt not set by insert")
	}

	// A different escrow starts its own sequence.
	other := pgAppend(t, store, idgen.WithPrefix("esc"), 500)
	if other.Sequence != 1 {
		t.Errorf("other escrow sequence = %d, want 1", other.Sequence)
	}
}

func TestPostgresAppendRejectsDuplicateKey(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	escrowID := idgen.WithPrefix("esc")
	first := pgAppend(t, store, escrowID, 10000)

	dup := &Entry{
		ID:             idgen.WithPrefix("led"),
		EscrowID:       idgen.WithPrefix("esc"), // even across escrows
		FromState:      "pending",
		ToState:        "held",
		AmountDelta:    2500,
		IdempotencyKey: first.IdempotencyKey,
		Actor:          ActorSystem,
	}
	if err := store.Append(ctx, dup); !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("Append() error = %v, want ErrDuplicateIdempotencyKey", err)
	}

	has, err := store.HasKey(ctx, first.IdempotencyKey)
	if err != nil || !has {
		t.Errorf("HasKey() = %v, %v, want true, nil", has, err)
	}
}

func TestPostgresBalanceAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	escrowID := idgen.WithPrefix("esc")
	pgAppend(t, store, escrowID, 10000)
	pgAppend(t, store, escrowID, -4000)
	pgAppend(t, store, escrowID, -6000)

	balance, err := store.Balance(ctx, escrowID)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}

	// Unknown escrow folds to zero, not an error.
	balance, err = store.Balance(ctx, idgen.WithPrefix("esc"))
	if err != nil || balance != 0 {
		t.Errorf("Balance(unknown) = %d, %v, want 0, nil", balance, err)
	}

	entries, err := store.ListByEscrow(ctx, escrowID, 2, 0)
	if err != nil {
		t.Fatalf("ListByEscrow() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Sequence != 1 || entries[1].Sequence != 2 {
		t.Errorf("first page wrong: %+v", entries)
	}

	entries, err = store.ListByEscrow(ctx, escrowID, 2, 2)
	if err != nil {
		t.Fatalf("ListByEscrow() offset error = %v", err)
	}
	if len(entries) != 1 || entries[0].Sequence != 3 {
		t.Errorf("second page wrong: %+v", entries)
	}

	if entries[0].Metadata["source"] != "test" {
		t.Errorf("metadata not round-tripped: %v", entries[0].Metadata)
	}

	ids, err := store.EscrowIDs(ctx)
	if err != nil {
		t.Fatalf("EscrowIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != escrowID {
		t.Errorf("EscrowIDs() = %v", ids)
	}
}
