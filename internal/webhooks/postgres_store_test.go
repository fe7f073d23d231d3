package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/workbridge/paycore/internal/idgen"
	"github.com/workbridge/paycore/internal/testutil"
)

func pgEvent(provider string) *Event {
	return &Event{
		Provider:    provider,
		EventID:     idgen.WithPrefix("evt"),
		PayloadHash: "deadbeef",
		ReceivedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresInsertDeduplicates(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	ev := pgEvent("stripe")
	if err := store.Insert(ctx, ev); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	// Redelivery of the same (provider, event_id) is rejected.
	if err := store.Insert(ctx, ev); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("Insert(dup) error = %v, want ErrDuplicateEvent", err)
	}

	// Same event ID from a different provider is a distinct event.
	other := *ev
	other.Provider = "adyen"
	if err := store.Insert(ctx, &other); err != nil {
		t.Errorf("Insert(other provider) error = %v", err)
	}
}

func TestPostgresSetOutcome(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	ev := pgEvent("stripe")
	if err := store.Insert(ctx, ev); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	processedAt := time.Now().UTC().Truncate(time.Microsecond)
	if err := store.SetOutcome(ctx, ev.Provider, ev.EventID, OutcomeProcessed, processedAt); err != nil {
		t.Fatalf("SetOutcome() error = %v", err)
	}

	got, err := store.Get(ctx, ev.Provider, ev.EventID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Outcome != OutcomeProcessed {
		t.Errorf("outcome = %s, want processed", got.Outcome)
	}
	if got.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}

	if err := store.SetOutcome(ctx, "stripe", idgen.WithPrefix("evt"), OutcomeProcessed, processedAt); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("SetOutcome(unknown) error = %v, want ErrEventNotFound", err)
	}
}

func TestPostgresEventList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ev := pgEvent("stripe")
		ev.ReceivedAt = ev.ReceivedAt.Add(time.Duration(i) * time.Millisecond)
		if err := store.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if err := store.Insert(ctx, pgEvent("adyen")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	all, err := store.List(ctx, "", time.Time{}, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}

	stripe, err := store.List(ctx, "stripe", time.Time{}, 10)
	if err != nil {
		t.Fatalf("List(stripe) error = %v", err)
	}
	if len(stripe) != 2 {
		t.Errorf("stripe = %d, want 2", len(stripe))
	}

	// Cursor bound: strictly earlier than the newest event.
	older, err := store.List(ctx, "", all[0].ReceivedAt, 10)
	if err != nil {
		t.Fatalf("List(before) error = %v", err)
	}
	if len(older) != 2 {
		t.Errorf("older = %d, want 2", len(older))
	}
}
