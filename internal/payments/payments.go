// Package payments is the orchestration layer between shift
// assignments, payment gateways, and the escrow state machine. It owns
// the ShiftPayment projection that the rest of the platform reads,
// while the escrow ledger stays the source of truth for money.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrPaymentNotFound    = errors.New("payments: not found")
	ErrValidation         = errors.New("payments: validation failed")
	ErrInsufficientFunds  = errors.New("payments: refund exceeds escrow balance")
	ErrAssignmentNotFound = errors.New("payments: assignment not found")
)

// Status is the public projection of where a payment stands. It is
// derived from escrow state, never authoritative on its own.
type Status string

const (
	StatusPending  Status = "pending"
	StatusHeld     Status = "held"
	StatusPaid     Status = "paid"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
	StatusFailed   Status = "failed"
)

// ShiftPayment is the payment record for one shift assignment.
// Amounts are minor units; NetAmount = Amount - Fee is what the worker
// receives on release.
type ShiftPayment struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignmentId"`
	EscrowID     string    `json:"escrowId"`
	Provider     string    `json:"provider"`
	ExternalTxID string    `json:"externalTxId,omitempty"`
	Status       Status    `json:"status"`
	Amount       int64     `json:"amount"`
	Fee          int64     `json:"fee"`
	NetAmount    int64     `json:"netAmount"`
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists ShiftPayment projections.
type Store interface {
	Create(ctx context.Context, p *ShiftPayment) error
	Get(ctx context.Context, id string) (*ShiftPayment, error)
	GetByAssignment(ctx context.Context, assignmentID string) (*ShiftPayment, error)
	GetByEscrow(ctx context.Context, escrowID string) (*ShiftPayment, error)
	GetByExternalTx(ctx context.Context, provider, externalTxID string) (*ShiftPayment, error)
	Update(ctx context.Context, p *ShiftPayment) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*ShiftPayment, error)
}

var (
	paymentsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "payments",
		Name:      "processed_total",
		Help:      "Total payment operations by operation and result.",
	}, []string{"op", "result"})

	paymentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paycore",
		Subsystem: "payments",
		Name:      "operation_duration_seconds",
		Help:      "Payment operation latency including gateway calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(paymentsProcessedTotal, paymentDuration)
}

func observeOp(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	paymentsProcessedTotal.WithLabelValues(op, result).Inc()
	paymentDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
