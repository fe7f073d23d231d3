// Package escrow owns the finite-state lifecycle of funds held between
// capture and release.
//
// Flow:
//  1. Client books a shift → funds captured at the gateway → escrow held
//  2. Shift completed → release requested → funds paid out to the worker
//  3. Problem with the shift → refund (full or partial) back to the client
//  4. Chargeback or complaint → dispute freezes the escrow until resolved
//
// Every state change is validated against a closed transition table and
// committed together with its ledger entry in one atomic unit. Concurrent
// writers are detected by an optimistic version check, never by in-process
// locking: ingestion may be horizontally scaled, so correctness has to
// come from the storage layer.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/workbridge/paycore/internal/idgen"
	"github.com/workbridge/paycore/internal/ledger"
)

var (
	ErrEscrowNotFound     = errors.New("escrow: not found")
	ErrEscrowExists       = errors.New("escrow: record already exists for assignment")
	ErrInvalidTransition  = errors.New("escrow: invalid state transition")
	ErrVersionConflict    = errors.New("escrow: version conflict, concurrent writer detected")
	ErrMissingIdempotency = errors.New("escrow: recorded transition requires an idempotency key")
)

// State is an escrow lifecycle state.
type State string

const (
	StatePending          State = "pending"
	StateHeld             State = "held"
	StateReleasing        State = "releasing"
	StateReleased         State = "released"
	StateRefunding        State = "refunding"
	StateRefunded         State = "refunded"
	StateDisputed         State = "disputed"
	StateResolvedReleased State = "resolved_released"
	StateResolvedRefunded State = "resolved_refunded"
)

// IsTerminal reports whether no edge leads out of the state. Released is
// not terminal: a dispute can still be opened against it.
func (s State) IsTerminal() bool {
	switch s {
	case StateRefunded, StateResolvedReleased, StateResolvedRefunded:
		return true
	}
	return false
}

// edge describes one allowed transition. Recorded edges append a ledger
// entry; request edges (held→releasing, held→refunding) only move state,
// so a request-then-confirm pair produces exactly one entry.
type edge struct {
	recorded bool
}

// transitions is the closed transition table. Any (from, to) pair absent
// here fails with ErrInvalidTransition.
var transitions = map[State]map[State]edge{
	StatePending: {
		StateHeld: {recorded: true}, // capture confirmed
	},
	StateHeld: {
		StateReleasing: {recorded: false}, // release requested
		StateRefunding: {recorded: false}, // refund requested
		StateDisputed:  {recorded: true},  // dispute opened
	},
	StateReleasing: {
		StateReleased:  {recorded: true},  // release confirmed
		StateRefunding: {recorded: false}, // refund requested mid-release
	},
	StateRefunding: {
		StateRefunded: {recorded: true}, // refund confirmed, balance exhausted
		StateHeld:     {recorded: true}, // partial refund confirmed, balance remains
	},
	StateReleased: {
		StateDisputed: {recorded: true}, // dispute opened post-payout
	},
	StateDisputed: {
		StateResolvedReleased: {recorded: true},
		StateResolvedRefunded: {recorded: true},
	},
}

// CanTransition reports whether the table allows from→to.
func CanTransition(from, to State) bool {
	_, ok := transitions[from][to]
	return ok
}

// Record identifies funds held for one shift assignment. Mutated only
// through validated transitions; never deleted, terminal states are
// retained for audit.
type Record struct {
	ID             string    `json:"id"`
	AssignmentID   string    `json:"assignmentId"`
	Provider       string    `json:"provider"`
	Currency       string    `json:"currency"`
	CapturedAmount int64     `json:"capturedAmount"` // minor units
	CurrentBalance int64     `json:"currentBalance"` // == signed sum of ledger entries
	State          State     `json:"state"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TransitionMeta carries the ledger-facing details of a transition.
type TransitionMeta struct {
	Delta          int64 // signed amount change, minor units
	IdempotencyKey string
	Actor          ledger.Actor
	Metadata       map[string]string
}

// Store persists escrow records. ApplyTransition must perform the
// version-checked record update and the ledger append (when entry is
// non-nil) in one atomic commit, returning ErrVersionConflict if
// expectedVersion no longer matches.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByAssignment(ctx context.Context, assignmentID string) (*Record, error)
	ApplyTransition(ctx context.Context, rec *Record, expectedVersion int64, entry *ledger.Entry) error
	List(ctx context.Context, limit, offset int) ([]*Record, error)
}

// CaptureRequest contains the parameters for opening an escrow.
type CaptureRequest struct {
	AssignmentID   string
	Provider       string
	Currency       string
	Amount         int64
	IdempotencyKey string
	Actor          ledger.Actor
	Metadata       map[string]string
}

// Service is the escrow state machine.
type Service struct {
	store  Store
	ledger *ledger.Ledger
}

// NewService creates the state machine over a store. The ledger is the
// read surface for GetLedger; appends always go through the store's
// atomic ApplyTransition.
func NewService(store Store, led *ledger.Ledger) *Service {
	return &Service{store: store, ledger: led}
}

// Store exposes the underlying store for read-side collaborators
// (reconciliation, status projection).
func (s *Service) Store() Store {
	return s.store
}

// CaptureEscrow creates a new escrow in pending and immediately applies
// the capture-confirmed transition to held, appending the +amount entry.
func (s *Service) CaptureEscrow(ctx context.Context, req CaptureRequest) (*Record, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("escrow: capture amount must be positive, got %d", req.Amount)
	}
	if existing, err := s.store.GetByAssignment(ctx, req.AssignmentID); err == nil && existing != nil {
		return existing, ErrEscrowExists
	}

	now := time.Now()
	rec := &Record{
		ID:           idgen.WithPrefix("esc_"),
		AssignmentID: req.AssignmentID,
		Provider:     req.Provider,
		Currency:     req.Currency,
		State:        StatePending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("escrow: create record: %w", err)
	}

	return s.TransitionState(ctx, rec, StateHeld, TransitionMeta{
		Delta:          req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          req.Actor,
		Metadata:       req.Metadata,
	})
}

// TransitionState validates and applies one transition. On a recorded
// edge it appends exactly one ledger entry in the same atomic commit as
// the state/version update. A stale version fails with
// ErrVersionConflict and must be retried by the caller with a fresh
// read, never silently overwritten.
func (s *Service) TransitionState(ctx context.Context, rec *Record, to State, meta TransitionMeta) (*Record, error) {
	e, ok := transitions[rec.State][to]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.State, to)
	}

	var entry *ledger.Entry
	if e.recorded {
		if meta.IdempotencyKey == "" {
			return nil, ErrMissingIdempotency
		}
		actor := meta.Actor
		if actor == "" {
			actor = ledger.ActorSystem
		}
		entry = &ledger.Entry{
			EscrowID:       rec.ID,
			FromState:      string(rec.State),
			ToState:        string(to),
			AmountDelta:    meta.Delta,
			IdempotencyKey: meta.IdempotencyKey,
			Actor:          actor,
			Metadata:       meta.Metadata,
		}
	}

	next := *rec
	next.State = to
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now()
	if entry != nil {
		next.CurrentBalance += meta.Delta
	}
	if rec.State == StatePending && to == StateHeld {
		next.CapturedAmount = meta.Delta
	}

	if err := s.store.ApplyTransition(ctx, &next, rec.Version, entry); err != nil {
		if entry != nil {
			ledger.ObserveAppend(string(to), err)
		}
		return nil, err
	}
	if entry != nil {
		ledger.ObserveAppend(string(to), nil)
	}

	*rec = next
	return rec, nil
}

// ReleaseEscrow drives held→releasing→released. The payout callback runs
// between the two hops against the gateway; if it fails the escrow stays
// in releasing for operational follow-up, because once the release intent
// is committed a retry with a new intent risks double payout. A payout
// that reports confirmed=false (gateway settles asynchronously) leaves
// the escrow in releasing; the provider's release-confirmed webhook
// finishes the second hop.
func (s *Service) ReleaseEscrow(ctx context.Context, id string, meta TransitionMeta, payout func(ctx context.Context) (map[string]string, bool, error)) (*Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rec, err = s.TransitionState(ctx, rec, StateReleasing, TransitionMeta{})
	if err != nil {
		return nil, err
	}

	if payout != nil {
		gatewayMeta, confirmed, err := payout(ctx)
		if err != nil {
			return rec, fmt.Errorf("escrow: payout failed after release committed: %w", err)
		}
		if meta.Metadata == nil {
			meta.Metadata = make(map[string]string)
		}
		for k, v := range gatewayMeta {
			meta.Metadata[k] = v
		}
		if !confirmed {
			return rec, nil
		}
	}

	// Release marker: delta 0, the balance stays attributed to the escrow
	// for audit while the fee split lives in the entry metadata.
	meta.Delta = 0
	return s.TransitionState(ctx, rec, StateReleased, meta)
}

// RefundEscrow drives held→refunding→{held|refunded}. amount is the
// refund in minor units; the caller validates it against the balance.
// A refund that exhausts the balance is terminal, a partial refund
// returns the escrow to held with the reduced balance. An unconfirmed
// refund leaves the escrow in refunding for the provider's
// refund-confirmed webhook.
func (s *Service) RefundEscrow(ctx context.Context, id string, amount int64, meta TransitionMeta, refund func(ctx context.Context) (map[string]string, bool, error)) (*Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rec, err = s.TransitionState(ctx, rec, StateRefunding, TransitionMeta{})
	if err != nil {
		return nil, err
	}

	if refund != nil {
		gatewayMeta, confirmed, err := refund(ctx)
		if err != nil {
			return rec, fmt.Errorf("escrow: gateway refund failed after refund committed: %w", err)
		}
		if meta.Metadata == nil {
			meta.Metadata = make(map[string]string)
		}
		for k, v := range gatewayMeta {
			meta.Metadata[k] = v
		}
		if !confirmed {
			return rec, nil
		}
	}

	target := StateHeld
	if amount >= rec.CurrentBalance {
		target = StateRefunded
	}
	meta.Delta = -amount
	return s.TransitionState(ctx, rec, target, meta)
}

// GetEscrowState returns the escrow record. Read-only.
func (s *Service) GetEscrowState(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// GetByAssignment returns the escrow for an assignment. Read-only.
func (s *Service) GetByAssignment(ctx context.Context, assignmentID string) (*Record, error) {
	return s.store.GetByAssignment(ctx, assignmentID)
}

// GetLedger returns the ledger entries for an escrow. Read-only.
func (s *Service) GetLedger(ctx context.Context, id string) ([]*ledger.Entry, error) {
	return s.ledger.Entries(ctx, id, 0, 0)
}
