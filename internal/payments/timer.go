package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/workbridge/paycore/internal/assignments"
	"github.com/workbridge/paycore/internal/escrow"
)

// Timer is the scheduled release batch: it pays out held escrows whose
// shift assignments have completed. A webhook-triggered release racing
// the batch is harmless; whoever loses the version check treats the
// escrow as already released.
type Timer struct {
	service     PaymentService
	store       Store
	assignments assignments.Reader
	escrows     *escrow.Service
	interval    time.Duration
	lookback    time.Duration
	batchSize   int
	logger      *slog.Logger
	stop        chan struct{}
	stopOnce    sync.Once
	running     atomic.Bool
}

// NewTimer creates the release batch timer.
func NewTimer(service PaymentService, store Store, reader assignments.Reader, escrows *escrow.Service, logger *slog.Logger) *Timer {
	return &Timer{
		service:     service,
		store:       store,
		assignments: reader,
		escrows:     escrows,
		interval:    30 * time.Second,
		lookback:    48 * time.Hour,
		batchSize:   100,
		logger:      logger,
		stop:        make(chan struct{}),
	}
}

// SetInterval overrides how often the batch runs. Call before Start.
func (t *Timer) SetInterval(d time.Duration) {
	if d > 0 {
		t.interval = d
	}
}

// SetBatchSize overrides how many assignments one run pays out. Call
// before Start.
func (t *Timer) SetBatchSize(n int) {
	if n > 0 {
		t.batchSize = n
	}
}

// Running reports whether the batch loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the release batch loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeReleaseCompleted(ctx)
		}
	}
}

// Stop signals the timer to stop. The signal persists, so a Stop that
// lands mid-batch still ends the loop on the next select.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) safeReleaseCompleted(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in release batch", "panic", fmt.Sprint(r))
		}
	}()
	t.releaseCompleted(ctx)
}

func (t *Timer) releaseCompleted(ctx context.Context) {
	cutoff := time.Now().Add(-t.lookback)
	completed, err := t.assignments.CompletedSince(ctx, cutoff, t.batchSize)
	if err != nil {
		t.logger.Warn("failed to list completed assignments", "error", err)
		return
	}

	for _, asg := range completed {
		payment, err := t.store.GetByAssignment(ctx, asg.ID)
		if err != nil {
			if !errors.Is(err, ErrPaymentNotFound) {
				t.logger.Warn("failed to load payment for completed assignment",
					"assignmentId", asg.ID, "error", err)
			}
			continue
		}
		if payment.Status != StatusHeld {
			continue
		}
		rec, err := t.escrows.GetEscrowState(ctx, payment.EscrowID)
		if err != nil || rec.State != escrow.StateHeld {
			continue
		}

		if _, err := t.service.ReleaseEscrow(ctx, payment.EscrowID); err != nil {
			// Lost to a concurrent webhook release or a fresh dispute.
			if errors.Is(err, escrow.ErrInvalidTransition) || errors.Is(err, escrow.ErrVersionConflict) {
				t.logger.Debug("escrow already moving, skipping batch release",
					"escrowId", payment.EscrowID)
				continue
			}
			t.logger.Warn("batch release failed",
				"escrowId", payment.EscrowID, "assignmentId", asg.ID, "error", err)
			continue
		}
		t.logger.Info("batch released escrow",
			"escrowId", payment.EscrowID, "assignmentId", asg.ID, "netAmount", payment.NetAmount)
	}
}
