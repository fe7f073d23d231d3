package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/workbridge/paycore/internal/ledger"
)

// Resolution outcomes for a disputed escrow.
const (
	ResolutionRelease = "release"
	ResolutionRefund  = "refund"
)

var ErrInvalidResolution = errors.New("escrow: resolution must be release or refund")

// Resolver is the single path by which a disputed escrow leaves the
// disputed state. There is no automatic timeout resolution; an operator
// decision is always required.
type Resolver struct {
	sm *Service
}

// NewResolver creates a dispute resolver over the state machine.
func NewResolver(sm *Service) *Resolver {
	return &Resolver{sm: sm}
}

// Resolve applies disputed→resolved_released or disputed→resolved_refunded.
// A refund resolution zeroes the remaining balance; a release resolution
// keeps the balance attributed to the escrow as a payout marker.
func (r *Resolver) Resolve(ctx context.Context, escrowID, outcome, reason string) (*Record, error) {
	rec, err := r.sm.GetEscrowState(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	meta := TransitionMeta{
		IdempotencyKey: fmt.Sprintf("resolve:%s:v%d", escrowID, rec.Version),
		Actor:          ledger.ActorAdmin,
		Metadata:       map[string]string{"reason": reason},
	}

	switch outcome {
	case ResolutionRelease:
		return r.sm.TransitionState(ctx, rec, StateResolvedReleased, meta)
	case ResolutionRefund:
		meta.Delta = -rec.CurrentBalance
		return r.sm.TransitionState(ctx, rec, StateResolvedRefunded, meta)
	default:
		return nil, ErrInvalidResolution
	}
}
