package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/workbridge/paycore/internal/ledger"
)

func newTestService() (*Service, *ledger.Ledger) {
	store := ledger.NewMemoryStore()
	led := ledger.New(store)
	return NewService(NewMemoryStore(store), led), led
}

func capture(t *testing.T, svc *Service, assignmentID string, amount int64) *Record {
	t.Helper()
	rec, err := svc.CaptureEscrow(context.Background(), CaptureRequest{
		AssignmentID:   assignmentID,
		Provider:       "stripe",
		Currency:       "USD",
		Amount:         amount,
		IdempotencyKey: "capture:" + assignmentID,
	})
	if err != nil {
		t.Fatalf("CaptureEscrow: %v", err)
	}
	return rec
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StatePending, StateHeld},
		{StateHeld, StateReleasing},
		{StateHeld, StateRefunding},
		{StateHeld, StateDisputed},
		{StateReleasing, StateReleased},
		{StateReleasing, StateRefunding},
		{StateRefunding, StateRefunded},
		{StateRefunding, StateHeld},
		{StateReleased, StateDisputed},
		{StateDisputed, StateResolvedReleased},
		{StateDisputed, StateResolvedRefunded},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to State }{
		{StatePending, StateReleased},
		{StateHeld, StateReleased},  // must pass through releasing
		{StateHeld, StateRefunded},  // must pass through refunding
		{StateReleased, StateHeld},  // no un-release
		{StateRefunded, StateHeld},  // terminal
		{StateDisputed, StateHeld},  // only resolution exits a dispute
		{StateDisputed, StateReleasing},
		{StateResolvedReleased, StateDisputed},
		{StateResolvedRefunded, StateRefunding},
		{StateReleasing, StateHeld},
	}
	for _, tr := range forbidden {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be forbidden", tr.from, tr.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []State{StateRefunded, StateResolvedReleased, StateResolvedRefunded} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	// A dispute can still be opened against a released escrow.
	for _, s := range []State{StatePending, StateHeld, StateReleasing, StateRefunding, StateReleased, StateDisputed} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCaptureEscrow(t *testing.T) {
	ctx := context.Background()
	svc, led := newTestService()

	rec := capture(t, svc, "asg_1", 10000)
	if rec.State != StateHeld {
		t.Errorf("state = %s, want held", rec.State)
	}
	if rec.CapturedAmount != 10000 || rec.CurrentBalance != 10000 {
		t.Errorf("amounts = %d/%d, want 10000/10000", rec.CapturedAmount, rec.CurrentBalance)
	}
	if rec.Version != 2 { // create at 1, capture transition bumps
		t.Errorf("version = %d, want 2", rec.Version)
	}

	entries, err := led.Entries(ctx, rec.ID, 0, 0)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.FromState != "pending" || e.ToState != "held" || e.AmountDelta != 10000 || e.Sequence != 1 {
		t.Errorf("capture entry: %+v", e)
	}

	// Same assignment again returns the existing record.
	dup, err := svc.CaptureEscrow(ctx, CaptureRequest{
		AssignmentID: "asg_1", Provider: "stripe", Currency: "USD",
		Amount: 10000, IdempotencyKey: "capture:asg_1:again",
	})
	if !errors.Is(err, ErrEscrowExists) {
		t.Fatalf("got %v, want ErrEscrowExists", err)
	}
	if dup.ID != rec.ID {
		t.Errorf("duplicate capture returned a different escrow")
	}

	if _, err := svc.CaptureEscrow(ctx, CaptureRequest{AssignmentID: "asg_2", Amount: -5}); err == nil {
		t.Error("non-positive amount should be rejected")
	}
}

func TestTransitionStateVersionConflict(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	rec := capture(t, svc, "asg_1", 10000)

	stale := *rec
	if _, err := svc.TransitionState(ctx, rec, StateDisputed, TransitionMeta{IdempotencyKey: "d1"}); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	_, err := svc.TransitionState(ctx, &stale, StateDisputed, TransitionMeta{IdempotencyKey: "d2"})
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale writer: got %v, want ErrVersionConflict", err)
	}
}

func TestRecordedTransitionRequiresIdempotencyKey(t *testing.T) {
	svc, _ := newTestService()
	rec := capture(t, svc, "asg_1", 10000)

	_, err := svc.TransitionState(context.Background(), rec, StateDisputed, TransitionMeta{})
	if !errors.Is(err, ErrMissingIdempotency) {
		t.Errorf("got %v, want ErrMissingIdempotency", err)
	}
}

func TestRequestEdgesAppendNothing(t *testing.T) {
	ctx := context.Background()
	svc, led := newTestService()
	rec := capture(t, svc, "asg_1", 10000)

	// held -> releasing is a request edge: state moves, ledger doesn't.
	if _, err := svc.TransitionState(ctx, rec, StateReleasing, TransitionMeta{}); err != nil {
		t.Fatalf("TransitionState: %v", err)
	}
	entries, _ := led.Entries(ctx, rec.ID, 0, 0)
	if len(entries) != 1 {
		t.Errorf("request edge appended an entry: %d entries, want 1", len(entries))
	}
	if rec.CurrentBalance != 10000 {
		t.Errorf("request edge moved the balance: %d", rec.CurrentBalance)
	}
}

func TestReleaseEscrow(t *testing.T) {
	ctx := context.Background()
	svc, led := newTestService()
	rec := capture(t, svc, "asg_1", 10000)

	var payoutCalls int
	out, err := svc.ReleaseEscrow(ctx, rec.ID, TransitionMeta{
		IdempotencyKey: "release:" + rec.ID,
		Metadata:       map[string]string{"fee": "1000"},
	}, func(ctx context.Context) (map[string]string, bool, error) {
		payoutCalls++
		return map[string]string{"payoutTxId": "po_1"}, true, nil
	})
	if err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}
	if out.State != StateReleased {
		t.Errorf("state = %s, want released", out.State)
	}
	if payoutCalls != 1 {
		t.Errorf("payout called %d times", payoutCalls)
	}

	entries, _ := led.Entries(ctx, rec.ID, 0, 0)
	if len(entries) != 2 {
		t.Fatalf("ledger has %d entries, want 2 (capture + release marker)", len(entries))
	}
	marker := entries[1]
	if marker.AmountDelta != 0 {
		t.Errorf("release marker delta = %d, want 0", marker.AmountDelta)
	}
	if marker.Metadata["fee"] != "1000" || marker.Metadata["payoutTxId"] != "po_1" {
		t.Errorf("release marker metadata: %v", marker.Metadata)
	}
}

func TestReleaseEscrowPayoutFailureStaysReleasing(t *testing.T) {
	ctx := context.Background()
	svc, led := newTestService()
	rec := capture(t, svc, "asg_1", 10000)

	_, err := svc.ReleaseEscrow(ctx, rec.ID, TransitionMeta{IdempotencyKey: "release:" + rec.ID},
		func(ctx context.Context) (map[string]string, bool, error) {
			return nil, false, errors.New("gateway down")
		})
	if err == nil {
		t.Fatal("payout failure should surface")
	}

	got, _ := svc.GetEscrowState(ctx, rec.ID)
	if got.State != StateReleasing {
		t.Errorf("state = %s, want releasing (held for operator follow-up)", got.State)
	}
	entries, _ := led.Entries(ctx, rec.ID, 0, 0)
	if len(entries) != 1 {
		t.Errorf("failed payout appended an entry: %d entries", len(entries))
	}
}

func TestReleaseEscrowAsyncStopsAtReleasing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	rec := capture(t, svc, "asg_1", 10000)

	out, err := svc.ReleaseEscrow(ctx, rec.ID, TransitionMeta{IdempotencyKey: "release:" + rec.ID},
		func(ctx context.Context) (map[string]string, bool, error) {
			return map[string]string{"payoutTxId": "po_async"}, false, nil
		})
	if err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}
	if out.State != StateReleasing {
		t.Errorf("state = %s, want releasing until the gateway confirms", out.State)
	}
}

func TestRefundEscrowPartialAndFull(t *testing.T) {
	ctx := context.Background()
	svc, led := newTestService()
	rec := capture(t, svc, "asg_1", 10000)

	noop := func(ctx context.Context) (map[string]string, bool, error) { return nil, true, nil }

	out, err := svc.RefundEscrow(ctx, rec.ID, 4000, TransitionMeta{IdempotencyKey: "refund:1"}, noop)
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if out.State != StateHeld || out.CurrentBalance != 6000 {
		t.Errorf("after partial refund: %s/%d, want held/6000", out.State, out.CurrentBalance)
	}

	out, err = svc.RefundEscrow(ctx, rec.ID, 6000, TransitionMeta{IdempotencyKey: "refund:2"}, noop)
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if out.State != StateRefunded || out.CurrentBalance != 0 {
		t.Errorf("after full refund: %s/%d, want refunded/0", out.State, out.CurrentBalance)
	}

	bal, _ := led.Balance(ctx, rec.ID)
	if bal != 0 {
		t.Errorf("ledger balance = %d, want 0", bal)
	}
	entries, _ := led.Entries(ctx, rec.ID, 0, 0)
	if len(entries) != 3 {
		t.Errorf("ledger has %d entries, want 3", len(entries))
	}
	if entries[1].AmountDelta != -4000 || entries[2].AmountDelta != -6000 {
		t.Errorf("refund deltas: %d, %d", entries[1].AmountDelta, entries[2].AmountDelta)
	}
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	svc, led := newTestService()
	resolver := NewResolver(svc)

	rec := capture(t, svc, "asg_1", 10000)
	if _, err := svc.TransitionState(ctx, rec, StateDisputed, TransitionMeta{IdempotencyKey: "d1"}); err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	out, err := resolver.Resolve(ctx, rec.ID, ResolutionRefund, "client favored")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.State != StateResolvedRefunded || out.CurrentBalance != 0 {
		t.Errorf("resolved: %s/%d, want resolved_refunded/0", out.State, out.CurrentBalance)
	}
	bal, _ := led.Balance(ctx, rec.ID)
	if bal != 0 {
		t.Errorf("ledger balance = %d, want 0", bal)
	}

	// Resolution is only valid out of disputed.
	rec2 := capture(t, svc, "asg_2", 5000)
	if _, err := resolver.Resolve(ctx, rec2.ID, ResolutionRelease, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resolve undisputed escrow: got %v, want ErrInvalidTransition", err)
	}
	if _, err := resolver.Resolve(ctx, rec.ID, "split", "x"); !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("bogus outcome: got %v, want ErrInvalidResolution", err)
	}
}

func TestResolverReleaseKeepsBalanceRecorded(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	resolver := NewResolver(svc)

	rec := capture(t, svc, "asg_1", 10000)
	if _, err := svc.TransitionState(ctx, rec, StateDisputed, TransitionMeta{IdempotencyKey: "d1"}); err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	out, err := resolver.Resolve(ctx, rec.ID, ResolutionRelease, "worker favored")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.State != StateResolvedReleased {
		t.Errorf("state = %s, want resolved_released", out.State)
	}
}
