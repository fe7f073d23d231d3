package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/workbridge/paycore/internal/alerts"
	"github.com/workbridge/paycore/internal/assignments"
	"github.com/workbridge/paycore/internal/circuitbreaker"
	"github.com/workbridge/paycore/internal/escrow"
	"github.com/workbridge/paycore/internal/gateway"
	"github.com/workbridge/paycore/internal/idgen"
	"github.com/workbridge/paycore/internal/ledger"
	"github.com/workbridge/paycore/internal/retry"
	"github.com/workbridge/paycore/internal/traces"
)

// PaymentService is the orchestration surface consumed by HTTP handlers,
// the webhook ingestor, and the release batch.
type PaymentService interface {
	ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*ShiftPayment, error)
	ReleaseEscrow(ctx context.Context, escrowID string) (*ShiftPayment, error)
	ProcessRefund(ctx context.Context, escrowID string, amount int64, reason string) (*ShiftPayment, error)
	ProcessDispute(ctx context.Context, escrowID, reason string) (*ShiftPayment, error)
	ResolveDispute(ctx context.Context, escrowID, outcome, reason string) (*ShiftPayment, error)
	GetPaymentStatus(ctx context.Context, id string) (*ShiftPayment, error)
	VerifyWebhookSignature(ctx context.Context, provider gateway.Provider, payload []byte, signature string) error
	ProcessWebhook(ctx context.Context, ev *gateway.Event, idempotencyKey string) error
}

// Notifier receives payment lifecycle updates, e.g. the realtime ops
// feed. Implementations must not block.
type Notifier interface {
	PaymentUpdated(p *ShiftPayment)
}

// AmountLimits bounds a single capture for one provider, minor units.
// Zero Max means unbounded.
type AmountLimits struct {
	Min int64
	Max int64
}

// ProcessPaymentRequest books funds for a shift assignment.
type ProcessPaymentRequest struct {
	AssignmentID string `json:"assignmentId"`
	Provider     string `json:"provider"`
	PaymentToken string `json:"paymentToken"`
}

const (
	captureAttempts  = 3
	captureBaseDelay = 500 * time.Millisecond
)

// Orchestrator implements PaymentService over the escrow state machine,
// the gateway registry, and the ShiftPayment projection store.
type Orchestrator struct {
	store       Store
	escrows     *escrow.Service
	resolver    *escrow.Resolver
	gateways    *gateway.Registry
	assignments assignments.Reader
	alerts      *alerts.Queue
	breaker     *circuitbreaker.Breaker
	limits      map[string]AmountLimits
	feeBps      int64
	notifier    Notifier
	logger      *slog.Logger
}

// Config wires an Orchestrator.
type Config struct {
	Store       Store
	Escrows     *escrow.Service
	Gateways    *gateway.Registry
	Assignments assignments.Reader
	Alerts      *alerts.Queue
	Limits      map[string]AmountLimits // per provider, minor units
	FeeBps      int64                   // platform fee in basis points
	Notifier    Notifier                // optional
	Logger      *slog.Logger
}

func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		store:       cfg.Store,
		escrows:     cfg.Escrows,
		resolver:    escrow.NewResolver(cfg.Escrows),
		gateways:    cfg.Gateways,
		assignments: cfg.Assignments,
		alerts:      cfg.Alerts,
		breaker:     circuitbreaker.New(5, 30*time.Second),
		limits:      cfg.Limits,
		feeBps:      cfg.FeeBps,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
	}
}

// ProcessPayment captures the assignment amount at the gateway and opens
// an escrow. Safe to call twice for the same assignment: the existing
// payment is returned instead of charging again.
func (o *Orchestrator) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*ShiftPayment, error) {
	start := time.Now()
	var err error
	defer func() { observeOp("process_payment", start, err) }()

	ctx, span := traces.StartSpan(ctx, "payments.ProcessPayment",
		traces.AssignmentID(req.AssignmentID), traces.GatewayProvider(req.Provider))
	defer span.End()

	provider, perr := gateway.ParseProvider(req.Provider)
	if perr != nil {
		err = fmt.Errorf("%w: %v", ErrValidation, perr)
		return nil, err
	}
	if req.PaymentToken == "" {
		err = fmt.Errorf("%w: paymentToken is required", ErrValidation)
		return nil, err
	}

	// Business-level idempotency: one payment per assignment.
	if existing, gerr := o.store.GetByAssignment(ctx, req.AssignmentID); gerr == nil {
		return existing, nil
	}

	asg, aerr := o.assignments.Get(ctx, req.AssignmentID)
	if aerr != nil {
		if errors.Is(aerr, assignments.ErrAssignmentNotFound) {
			err = fmt.Errorf("%w: %s", ErrAssignmentNotFound, req.AssignmentID)
			return nil, err
		}
		err = fmt.Errorf("resolve assignment: %w", aerr)
		return nil, err
	}
	if asg.Status == assignments.StatusCancelled {
		err = fmt.Errorf("%w: assignment %s is cancelled", ErrValidation, req.AssignmentID)
		return nil, err
	}
	if verr := o.checkLimits(provider, asg.Amount); verr != nil {
		err = verr
		return nil, err
	}

	adapter, gerr := o.gateways.Get(provider)
	if gerr != nil {
		err = fmt.Errorf("%w: %v", ErrValidation, gerr)
		return nil, err
	}

	// Capture: retried only here, before any local state exists.
	captureKey := "capture:" + req.AssignmentID
	capture, cerr := o.captureWithRetry(ctx, adapter, gateway.CaptureRequest{
		AssignmentID:   req.AssignmentID,
		Amount:         asg.Amount,
		Currency:       asg.Currency,
		PaymentToken:   req.PaymentToken,
		IdempotencyKey: captureKey,
	})
	if cerr != nil {
		err = cerr
		return nil, err
	}

	meta := map[string]string{"externalTxId": capture.ExternalTxID}
	for k, v := range capture.Metadata {
		meta[k] = v
	}
	rec, eerr := o.escrows.CaptureEscrow(ctx, escrow.CaptureRequest{
		AssignmentID:   req.AssignmentID,
		Provider:       string(provider),
		Currency:       asg.Currency,
		Amount:         asg.Amount,
		IdempotencyKey: captureKey,
		Actor:          ledger.ActorSystem,
		Metadata:       meta,
	})
	if eerr != nil {
		if errors.Is(eerr, escrow.ErrEscrowExists) {
			// Lost a race with a concurrent ProcessPayment for the same
			// assignment; the winner's projection is the answer.
			if existing, gerr := o.store.GetByAssignment(ctx, req.AssignmentID); gerr == nil {
				return existing, nil
			}
		}
		// Funds are captured at the gateway with no escrow to show for
		// them. Never retried automatically: an operator has to unwind.
		o.alerts.Raise(ctx, &alerts.Alert{
			Kind:     alerts.KindCaptureOrphaned,
			Provider: string(provider),
			Message:  fmt.Sprintf("captured %d %s for assignment %s but escrow open failed: %v", asg.Amount, asg.Currency, req.AssignmentID, eerr),
			Metadata: map[string]string{"externalTxId": capture.ExternalTxID, "assignmentId": req.AssignmentID},
		})
		err = fmt.Errorf("open escrow after capture: %w", eerr)
		return nil, err
	}

	fee := asg.Amount * o.feeBps / 10000
	now := time.Now()
	payment := &ShiftPayment{
		ID:           idgen.WithPrefix("pay_"),
		AssignmentID: req.AssignmentID,
		EscrowID:     rec.ID,
		Provider:     string(provider),
		ExternalTxID: capture.ExternalTxID,
		Status:       StatusHeld,
		Amount:       asg.Amount,
		Fee:          fee,
		NetAmount:    asg.Amount - fee,
		Currency:     asg.Currency,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if serr := o.store.Create(ctx, payment); serr != nil {
		err = fmt.Errorf("persist payment: %w", serr)
		return nil, err
	}

	o.logger.Info("payment captured",
		"paymentId", payment.ID, "assignmentId", req.AssignmentID,
		"escrowId", rec.ID, "provider", provider, "amount", asg.Amount)
	o.notify(payment)
	return payment, nil
}

// ReleaseEscrow pays the worker out of a held escrow. Providers that
// settle asynchronously leave the escrow in releasing until their
// release-confirmed webhook lands; the payment flips to paid then.
func (o *Orchestrator) ReleaseEscrow(ctx context.Context, escrowID string) (*ShiftPayment, error) {
	start := time.Now()
	var err error
	defer func() { observeOp("release", start, err) }()

	ctx, span := traces.StartSpan(ctx, "payments.ReleaseEscrow", traces.EscrowID(escrowID))
	defer span.End()

	payment, perr := o.store.GetByEscrow(ctx, escrowID)
	if perr != nil {
		err = perr
		return nil, err
	}
	asg, aerr := o.assignments.Get(ctx, payment.AssignmentID)
	if aerr != nil {
		err = fmt.Errorf("resolve assignment: %w", aerr)
		return nil, err
	}
	adapter, gerr := o.gateways.Get(gateway.Provider(payment.Provider))
	if gerr != nil {
		err = gerr
		return nil, err
	}

	meta := escrow.TransitionMeta{
		IdempotencyKey: "release:" + escrowID,
		Actor:          ledger.ActorSystem,
		Metadata: map[string]string{
			"fee":       fmt.Sprintf("%d", payment.Fee),
			"netAmount": fmt.Sprintf("%d", payment.NetAmount),
			"workerId":  asg.WorkerID,
		},
	}

	rec, rerr := o.escrows.ReleaseEscrow(ctx, escrowID, meta, func(ctx context.Context) (map[string]string, bool, error) {
		res, perr := o.callPayout(ctx, adapter, gateway.PayoutRequest{
			EscrowID:       escrowID,
			Amount:         payment.NetAmount,
			Currency:       payment.Currency,
			Destination:    asg.WorkerID,
			IdempotencyKey: "payout:" + escrowID,
		})
		if perr != nil {
			return nil, false, perr
		}
		return map[string]string{"payoutTxId": res.ExternalTxID}, res.Confirmed, nil
	})
	if rerr != nil {
		// A rejected transition failed before anything committed; a
		// payout failure happened after the release intent did. The
		// latter can't be retried blindly without risking double payout,
		// so it goes to an operator.
		if !errors.Is(rerr, escrow.ErrInvalidTransition) && !errors.Is(rerr, escrow.ErrVersionConflict) &&
			!errors.Is(rerr, escrow.ErrEscrowNotFound) {
			o.alerts.Raise(ctx, &alerts.Alert{
				Kind:     alerts.KindPayoutFailed,
				EscrowID: escrowID,
				Provider: payment.Provider,
				Message:  fmt.Sprintf("payout for escrow %s failed: %v", escrowID, rerr),
				Metadata: map[string]string{"paymentId": payment.ID, "workerId": asg.WorkerID},
			})
		}
		err = rerr
		return nil, err
	}

	if rec.State == escrow.StateReleased {
		payment.Status = StatusPaid
		payment.UpdatedAt = time.Now()
		if uerr := o.store.Update(ctx, payment); uerr != nil {
			err = fmt.Errorf("update payment projection: %w", uerr)
			return nil, err
		}
		o.logger.Info("escrow released",
			"escrowId", escrowID, "paymentId", payment.ID, "netAmount", payment.NetAmount)
		o.notify(payment)
	} else {
		o.logger.Info("payout pending gateway confirmation",
			"escrowId", escrowID, "paymentId", payment.ID, "provider", payment.Provider)
	}
	return payment, nil
}

// ProcessRefund returns amount to the payer. A refund of the full
// remaining balance closes the escrow; a smaller one returns it to held.
func (o *Orchestrator) ProcessRefund(ctx context.Context, escrowID string, amount int64, reason string) (*ShiftPayment, error) {
	start := time.Now()
	var err error
	defer func() { observeOp("refund", start, err) }()

	ctx, span := traces.StartSpan(ctx, "payments.ProcessRefund", traces.EscrowID(escrowID))
	defer span.End()

	if amount <= 0 {
		err = fmt.Errorf("%w: refund amount must be positive", ErrValidation)
		return nil, err
	}
	payment, perr := o.store.GetByEscrow(ctx, escrowID)
	if perr != nil {
		err = perr
		return nil, err
	}
	rec, rerr := o.escrows.GetEscrowState(ctx, escrowID)
	if rerr != nil {
		err = rerr
		return nil, err
	}
	if amount > rec.CurrentBalance {
		err = fmt.Errorf("%w: %d > balance %d", ErrInsufficientFunds, amount, rec.CurrentBalance)
		return nil, err
	}
	adapter, gerr := o.gateways.Get(gateway.Provider(payment.Provider))
	if gerr != nil {
		err = gerr
		return nil, err
	}

	meta := escrow.TransitionMeta{
		IdempotencyKey: fmt.Sprintf("refund:%s:v%d", escrowID, rec.Version),
		Actor:          ledger.ActorSystem,
		Metadata:       map[string]string{"reason": reason},
	}
	captureMeta := o.captureMetadata(ctx, escrowID)

	rec, rerr = o.escrows.RefundEscrow(ctx, escrowID, amount, meta, func(ctx context.Context) (map[string]string, bool, error) {
		callCtx, cancel := context.WithTimeout(ctx, gateway.DefaultCallTimeout)
		defer cancel()
		res, ferr := adapter.Refund(callCtx, gateway.RefundRequest{
			EscrowID:       escrowID,
			ExternalTxID:   payment.ExternalTxID,
			Amount:         amount,
			Currency:       payment.Currency,
			Reason:         reason,
			IdempotencyKey: meta.IdempotencyKey,
			Metadata:       captureMeta,
		})
		if ferr != nil {
			return nil, false, ferr
		}
		return map[string]string{"refundTxId": res.ExternalTxID}, res.Confirmed, nil
	})
	if rerr != nil {
		o.alerts.Raise(ctx, &alerts.Alert{
			Kind:     alerts.KindRefundFailed,
			EscrowID: escrowID,
			Provider: payment.Provider,
			Message:  fmt.Sprintf("refund of %d for escrow %s failed: %v", amount, escrowID, rerr),
			Metadata: map[string]string{"paymentId": payment.ID},
		})
		err = rerr
		return nil, err
	}

	if rec.State == escrow.StateRefunded {
		payment.Status = StatusRefunded
	}
	payment.UpdatedAt = time.Now()
	if uerr := o.store.Update(ctx, payment); uerr != nil {
		err = fmt.Errorf("update payment projection: %w", uerr)
		return nil, err
	}
	o.logger.Info("refund processed",
		"escrowId", escrowID, "paymentId", payment.ID, "amount", amount, "state", rec.State)
	o.notify(payment)
	return payment, nil
}

// ProcessDispute freezes the escrow. Only ResolveDispute moves it on.
func (o *Orchestrator) ProcessDispute(ctx context.Context, escrowID, reason string) (*ShiftPayment, error) {
	start := time.Now()
	var err error
	defer func() { observeOp("dispute", start, err) }()

	payment, perr := o.store.GetByEscrow(ctx, escrowID)
	if perr != nil {
		err = perr
		return nil, err
	}
	rec, rerr := o.escrows.GetEscrowState(ctx, escrowID)
	if rerr != nil {
		err = rerr
		return nil, err
	}

	if _, terr := o.escrows.TransitionState(ctx, rec, escrow.StateDisputed, escrow.TransitionMeta{
		IdempotencyKey: fmt.Sprintf("dispute:%s:v%d", escrowID, rec.Version),
		Actor:          ledger.ActorGateway,
		Metadata:       map[string]string{"reason": reason},
	}); terr != nil {
		err = terr
		return nil, err
	}

	payment.Status = StatusDisputed
	payment.UpdatedAt = time.Now()
	if uerr := o.store.Update(ctx, payment); uerr != nil {
		err = fmt.Errorf("update payment projection: %w", uerr)
		return nil, err
	}
	o.logger.Warn("dispute opened", "escrowId", escrowID, "paymentId", payment.ID, "reason", reason)
	o.notify(payment)
	return payment, nil
}

// ResolveDispute applies an operator or provider ruling.
func (o *Orchestrator) ResolveDispute(ctx context.Context, escrowID, outcome, reason string) (*ShiftPayment, error) {
	start := time.Now()
	var err error
	defer func() { observeOp("resolve_dispute", start, err) }()

	payment, perr := o.store.GetByEscrow(ctx, escrowID)
	if perr != nil {
		err = perr
		return nil, err
	}

	rec, rerr := o.resolver.Resolve(ctx, escrowID, outcome, reason)
	if rerr != nil {
		err = rerr
		return nil, err
	}

	switch rec.State {
	case escrow.StateResolvedReleased:
		payment.Status = StatusPaid
	case escrow.StateResolvedRefunded:
		payment.Status = StatusRefunded
	}
	payment.UpdatedAt = time.Now()
	if uerr := o.store.Update(ctx, payment); uerr != nil {
		err = fmt.Errorf("update payment projection: %w", uerr)
		return nil, err
	}
	o.logger.Info("dispute resolved",
		"escrowId", escrowID, "paymentId", payment.ID, "outcome", outcome)
	o.notify(payment)
	return payment, nil
}

// GetPaymentStatus returns the payment projection by ID.
func (o *Orchestrator) GetPaymentStatus(ctx context.Context, id string) (*ShiftPayment, error) {
	return o.store.Get(ctx, id)
}

// VerifyWebhookSignature fails closed: unknown providers and bad
// signatures are both rejections, and bad signatures are escalated
// because they may be probing.
func (o *Orchestrator) VerifyWebhookSignature(ctx context.Context, provider gateway.Provider, payload []byte, signature string) error {
	adapter, err := o.gateways.Get(provider)
	if err != nil {
		return err
	}
	if err := adapter.VerifySignature(payload, signature); err != nil {
		o.logger.Warn("webhook signature verification failed", "provider", provider)
		o.alerts.Raise(ctx, &alerts.Alert{
			Kind:     alerts.KindSignatureFailed,
			Provider: string(provider),
			Message:  "webhook signature verification failed",
		})
		return err
	}
	return nil
}

// ProcessWebhook applies one verified, deduplicated gateway event to the
// escrow it concerns. Events that race with a synchronous path and lose
// are treated as already applied.
func (o *Orchestrator) ProcessWebhook(ctx context.Context, ev *gateway.Event, idempotencyKey string) error {
	start := time.Now()
	var err error
	defer func() { observeOp("webhook", start, err) }()

	ctx, span := traces.StartSpan(ctx, "payments.ProcessWebhook",
		traces.GatewayProvider(string(ev.Provider)))
	defer span.End()

	payment, perr := o.findPayment(ctx, ev)
	if perr != nil {
		err = perr
		return err
	}
	rec, rerr := o.escrows.GetEscrowState(ctx, payment.EscrowID)
	if rerr != nil {
		err = rerr
		return err
	}

	switch ev.Kind {
	case gateway.EventCaptureConfirmed:
		err = o.applyCaptureConfirmed(ctx, rec, ev, idempotencyKey)
	case gateway.EventReleaseConfirmed:
		err = o.applyReleaseConfirmed(ctx, payment, rec, ev, idempotencyKey)
	case gateway.EventRefundConfirmed:
		err = o.applyRefundConfirmed(ctx, payment, rec, ev, idempotencyKey)
	case gateway.EventDisputeOpened:
		_, derr := o.ProcessDispute(ctx, payment.EscrowID, "provider dispute "+ev.ID)
		if errors.Is(derr, escrow.ErrInvalidTransition) && rec.State == escrow.StateDisputed {
			derr = nil // replayed open
		}
		err = derr
	case gateway.EventDisputeResolved:
		_, derr := o.ResolveDispute(ctx, payment.EscrowID, ev.Resolution, "provider ruling "+ev.ID)
		if errors.Is(derr, escrow.ErrInvalidTransition) && rec.State.IsTerminal() {
			derr = nil // replayed resolution
		}
		err = derr
	default:
		err = fmt.Errorf("%w: %s", gateway.ErrUnrecognizedEvent, ev.Kind)
	}
	return err
}

// applyCaptureConfirmed finishes a pending escrow. Synchronous captures
// already did this, so a held escrow makes the event a no-op.
func (o *Orchestrator) applyCaptureConfirmed(ctx context.Context, rec *escrow.Record, ev *gateway.Event, key string) error {
	if rec.State != escrow.StatePending {
		return nil
	}
	_, err := o.escrows.TransitionState(ctx, rec, escrow.StateHeld, escrow.TransitionMeta{
		Delta:          ev.Amount,
		IdempotencyKey: key,
		Actor:          ledger.ActorGateway,
		Metadata:       map[string]string{"externalTxId": ev.ExternalTxID, "eventId": ev.ID},
	})
	return err
}

// applyReleaseConfirmed finishes an in-flight release for providers
// that settle payouts asynchronously.
func (o *Orchestrator) applyReleaseConfirmed(ctx context.Context, payment *ShiftPayment, rec *escrow.Record, ev *gateway.Event, key string) error {
	switch rec.State {
	case escrow.StateReleased, escrow.StateResolvedReleased:
		return nil // batch or a replay won
	case escrow.StateReleasing:
	default:
		return fmt.Errorf("%w: release-confirmed in state %s", escrow.ErrInvalidTransition, rec.State)
	}

	if _, err := o.escrows.TransitionState(ctx, rec, escrow.StateReleased, escrow.TransitionMeta{
		IdempotencyKey: key,
		Actor:          ledger.ActorGateway,
		Metadata: map[string]string{
			"eventId":   ev.ID,
			"fee":       fmt.Sprintf("%d", payment.Fee),
			"netAmount": fmt.Sprintf("%d", payment.NetAmount),
		},
	}); err != nil {
		if errors.Is(err, escrow.ErrVersionConflict) || errors.Is(err, escrow.ErrInvalidTransition) {
			return nil // concurrent confirm won
		}
		return err
	}

	payment.Status = StatusPaid
	payment.UpdatedAt = time.Now()
	if err := o.store.Update(ctx, payment); err != nil {
		return fmt.Errorf("update payment projection: %w", err)
	}
	o.notify(payment)
	return nil
}

// applyRefundConfirmed finishes an in-flight refund.
func (o *Orchestrator) applyRefundConfirmed(ctx context.Context, payment *ShiftPayment, rec *escrow.Record, ev *gateway.Event, key string) error {
	switch rec.State {
	case escrow.StateRefunded, escrow.StateResolvedRefunded:
		return nil
	case escrow.StateRefunding:
	default:
		return fmt.Errorf("%w: refund-confirmed in state %s", escrow.ErrInvalidTransition, rec.State)
	}

	amount := ev.Amount
	if amount <= 0 || amount > rec.CurrentBalance {
		amount = rec.CurrentBalance
	}
	target := escrow.StateHeld
	if amount == rec.CurrentBalance {
		target = escrow.StateRefunded
	}

	if _, err := o.escrows.TransitionState(ctx, rec, target, escrow.TransitionMeta{
		Delta:          -amount,
		IdempotencyKey: key,
		Actor:          ledger.ActorGateway,
		Metadata:       map[string]string{"eventId": ev.ID},
	}); err != nil {
		if errors.Is(err, escrow.ErrVersionConflict) || errors.Is(err, escrow.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	if target == escrow.StateRefunded {
		payment.Status = StatusRefunded
	}
	payment.UpdatedAt = time.Now()
	if err := o.store.Update(ctx, payment); err != nil {
		return fmt.Errorf("update payment projection: %w", err)
	}
	o.notify(payment)
	return nil
}

// captureMetadata recovers the capture entry's metadata (payer account,
// original tx reference) for providers that need it to route a refund.
func (o *Orchestrator) captureMetadata(ctx context.Context, escrowID string) map[string]string {
	entries, err := o.escrows.GetLedger(ctx, escrowID)
	if err != nil || len(entries) == 0 {
		return nil
	}
	return entries[0].Metadata
}

// findPayment resolves the payment an event concerns, preferring the
// assignment reference and falling back to the provider transaction ID.
func (o *Orchestrator) findPayment(ctx context.Context, ev *gateway.Event) (*ShiftPayment, error) {
	if ev.AssignmentID != "" {
		if p, err := o.store.GetByAssignment(ctx, ev.AssignmentID); err == nil {
			return p, nil
		}
	}
	if ev.ExternalTxID != "" {
		if p, err := o.store.GetByExternalTx(ctx, string(ev.Provider), ev.ExternalTxID); err == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no payment for event %s/%s", ErrPaymentNotFound, ev.Provider, ev.ID)
}

func (o *Orchestrator) checkLimits(provider gateway.Provider, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	lim, ok := o.limits[string(provider)]
	if !ok {
		return nil
	}
	if amount < lim.Min {
		return fmt.Errorf("%w: amount %d below %s minimum %d", ErrValidation, amount, provider, lim.Min)
	}
	if lim.Max > 0 && amount > lim.Max {
		return fmt.Errorf("%w: amount %d above %s maximum %d", ErrValidation, amount, provider, lim.Max)
	}
	return nil
}

// captureWithRetry calls the gateway behind the circuit breaker,
// retrying only errors the provider marked retryable. Once this returns
// success the charge is definitive.
func (o *Orchestrator) captureWithRetry(ctx context.Context, adapter gateway.Adapter, req gateway.CaptureRequest) (*gateway.CaptureResult, error) {
	key := string(adapter.Provider())
	if !o.breaker.Allow(key) {
		return nil, fmt.Errorf("gateway %s circuit open", key)
	}

	var result *gateway.CaptureResult
	err := retry.Do(ctx, captureAttempts, captureBaseDelay, func() error {
		callCtx, cancel := context.WithTimeout(ctx, gateway.DefaultCallTimeout)
		defer cancel()

		res, cerr := adapter.Capture(callCtx, req)
		if cerr != nil {
			var gwErr *gateway.Error
			if errors.As(cerr, &gwErr) && !gwErr.Retryable {
				return retry.Permanent(cerr)
			}
			return cerr
		}
		result = res
		return nil
	})
	if err != nil {
		o.breaker.RecordFailure(key)
		return nil, fmt.Errorf("gateway capture: %w", err)
	}
	o.breaker.RecordSuccess(key)
	return result, nil
}

// callPayout calls the gateway payout behind the circuit breaker. No
// retry: by the time this runs the release intent is committed.
func (o *Orchestrator) callPayout(ctx context.Context, adapter gateway.Adapter, req gateway.PayoutRequest) (*gateway.PayoutResult, error) {
	key := string(adapter.Provider())
	if !o.breaker.Allow(key) {
		return nil, fmt.Errorf("gateway %s circuit open", key)
	}

	callCtx, cancel := context.WithTimeout(ctx, gateway.DefaultCallTimeout)
	defer cancel()
	res, err := adapter.Payout(callCtx, req)
	if err != nil {
		o.breaker.RecordFailure(key)
		return nil, err
	}
	o.breaker.RecordSuccess(key)
	return res, nil
}

func (o *Orchestrator) notify(p *ShiftPayment) {
	if o.notifier == nil {
		return
	}
	cp := *p
	o.notifier.PaymentUpdated(&cp)
}
