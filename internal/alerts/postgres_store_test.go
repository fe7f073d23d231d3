package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/workbridge/paycore/internal/idgen"
	"github.com/workbridge/paycore/internal/testutil"
)

func pgAlert(kind Kind) *Alert {
	return &Alert{
		ID:        idgen.WithPrefix("alr"),
		Kind:      kind,
		EscrowID:  idgen.WithPrefix("esc"),
		Provider:  "stripe",
		Message:   "payout failed after release committed",
		Metadata:  map[string]string{"attempts": "3"},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresAlertCreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	a := pgAlert(KindPayoutFailed)
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Kind != KindPayoutFailed || got.Acknowledged {
		t.Errorf("Get() = %+v", got)
	}
	if got.Metadata["attempts"] != "3" {
		t.Errorf("metadata not round-tripped: %v", got.Metadata)
	}

	if _, err := store.Get(ctx, idgen.WithPrefix("alr")); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrAlertNotFound", err)
	}
}

func TestPostgresAlertAcknowledge(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	a := pgAlert(KindLedgerDrift)
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.Acknowledge(ctx, a.ID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	got, _ := store.Get(ctx, a.ID)
	if !got.Acknowledged {
		t.Error("alert not acknowledged")
	}

	if err := store.Acknowledge(ctx, idgen.WithPrefix("alr")); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("Acknowledge(unknown) error = %v, want ErrAlertNotFound", err)
	}
}

func TestPostgresAlertList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	first := pgAlert(KindPayoutFailed)
	second := pgAlert(KindEscrowStuck)
	second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
	for _, a := range []*Alert{first, second} {
		if err := store.Create(ctx, a); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := store.Acknowledge(ctx, first.ID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	all, err := store.List(ctx, false, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}

	unacked, err := store.List(ctx, true, 10)
	if err != nil {
		t.Fatalf("List(unacked) error = %v", err)
	}
	if len(unacked) != 1 || unacked[0].ID != second.ID {
		t.Errorf("unacked = %+v", unacked)
	}
}
