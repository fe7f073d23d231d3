// Package reconciliation cross-checks escrow balances against the ledger.
//
// The stored CurrentBalance on each escrow record is a projection of the
// ledger; the ledger is the source of truth. Any divergence means a bug
// or a partial write and is surfaced as drift, never auto-corrected.
// Escrows parked in a transient state (releasing, refunding) longer than
// the stuck threshold are flagged too: those represent gateway calls
// whose confirmation never arrived.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/workbridge/paycore/internal/alerts"
	"github.com/workbridge/paycore/internal/escrow"
	"github.com/workbridge/paycore/internal/ledger"
)

// Drift is one escrow whose stored balance diverges from its ledger sum.
type Drift struct {
	EscrowID        string `json:"escrowId"`
	State           string `json:"state"`
	RecordedBalance int64  `json:"recordedBalance"`
	LedgerBalance   int64  `json:"ledgerBalance"`
	Diff            int64  `json:"diff"`
}

// Stuck is one escrow sitting in a transient state past the threshold.
type Stuck struct {
	EscrowID string        `json:"escrowId"`
	State    string        `json:"state"`
	Age      time.Duration `json:"age"`
}

// Result holds the outcome of one reconciliation run.
type Result struct {
	CheckedAt time.Time `json:"checkedAt"`
	Checked   int       `json:"checked"`
	Drifts    []Drift   `json:"drifts,omitempty"`
	Stuck     []Stuck   `json:"stuck,omitempty"`
}

// Clean reports whether the run found nothing to flag.
func (r *Result) Clean() bool {
	return len(r.Drifts) == 0 && len(r.Stuck) == 0
}

// Service runs the checks.
type Service struct {
	escrows        escrow.Store
	ledger         *ledger.Ledger
	alerts         *alerts.Queue
	logger         *slog.Logger
	stuckThreshold time.Duration
	pageSize       int
}

// NewService creates a reconciliation service. The stuck threshold
// defaults to one hour; async gateways normally confirm within minutes.
func NewService(escrows escrow.Store, led *ledger.Ledger, queue *alerts.Queue, logger *slog.Logger) *Service {
	return &Service{
		escrows:        escrows,
		ledger:         led,
		alerts:         queue,
		logger:         logger,
		stuckThreshold: time.Hour,
		pageSize:       200,
	}
}

// SetStuckThreshold overrides how long an escrow may sit in releasing or
// refunding before being flagged.
func (s *Service) SetStuckThreshold(d time.Duration) {
	if d > 0 {
		s.stuckThreshold = d
	}
}

// Run walks every escrow and compares its stored balance against the
// ledger fold. Drift and stuck escrows raise alerts; the run itself
// never mutates escrow state.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{CheckedAt: start}

	for offset := 0; ; offset += s.pageSize {
		page, err := s.escrows.List(ctx, s.pageSize, offset)
		if err != nil {
			reconcileErrors.Inc()
			return nil, fmt.Errorf("reconciliation: list escrows: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, rec := range page {
			res.Checked++

			bal, err := s.ledger.Balance(ctx, rec.ID)
			if err != nil {
				reconcileErrors.Inc()
				return nil, fmt.Errorf("reconciliation: ledger balance for %s: %w", rec.ID, err)
			}
			if bal != rec.CurrentBalance {
				res.Drifts = append(res.Drifts, Drift{
					EscrowID:        rec.ID,
					State:           string(rec.State),
					RecordedBalance: rec.CurrentBalance,
					LedgerBalance:   bal,
					Diff:            rec.CurrentBalance - bal,
				})
			}

			if s.isStuck(rec, start) {
				res.Stuck = append(res.Stuck, Stuck{
					EscrowID: rec.ID,
					State:    string(rec.State),
					Age:      start.Sub(rec.UpdatedAt),
				})
			}
		}

		if len(page) < s.pageSize {
			break
		}
	}

	s.record(ctx, res)
	reconcileDuration.Observe(time.Since(start).Seconds())
	return res, nil
}

func (s *Service) isStuck(rec *escrow.Record, now time.Time) bool {
	switch rec.State {
	case escrow.StateReleasing, escrow.StateRefunding:
		return now.Sub(rec.UpdatedAt) > s.stuckThreshold
	}
	return false
}

func (s *Service) record(ctx context.Context, res *Result) {
	reconcileDrift.Set(float64(len(res.Drifts)))
	reconcileStuckEscrows.Set(float64(len(res.Stuck)))

	for _, d := range res.Drifts {
		s.alerts.Raise(ctx, &alerts.Alert{
			Kind:     alerts.KindLedgerDrift,
			EscrowID: d.EscrowID,
			Message:  fmt.Sprintf("escrow balance %d diverges from ledger sum %d", d.RecordedBalance, d.LedgerBalance),
			Metadata: map[string]string{
				"recordedBalance": fmt.Sprintf("%d", d.RecordedBalance),
				"ledgerBalance":   fmt.Sprintf("%d", d.LedgerBalance),
				"state":           d.State,
			},
		})
	}
	for _, st := range res.Stuck {
		s.alerts.Raise(ctx, &alerts.Alert{
			Kind:     alerts.KindEscrowStuck,
			EscrowID: st.EscrowID,
			Message:  fmt.Sprintf("escrow stuck in %s for %s", st.State, st.Age.Round(time.Second)),
			Metadata: map[string]string{"state": st.State},
		})
	}

	if res.Clean() {
		s.logger.Debug("reconciliation clean", "checked", res.Checked)
	} else {
		s.logger.Warn("reconciliation found issues",
			"checked", res.Checked, "drifts", len(res.Drifts), "stuck", len(res.Stuck))
	}
}
