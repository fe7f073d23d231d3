package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/workbridge/paycore/internal/idgen"
	"github.com/workbridge/paycore/internal/syncutil"
)

// CreditLedger is the balance source for platform wallet accounts.
// Entries are in minor units; Debit must fail rather than overdraw.
type CreditLedger interface {
	Debit(ctx context.Context, accountID string, amount int64) error
	Credit(ctx context.Context, accountID string, amount int64) error
	Balance(ctx context.Context, accountID string) (int64, error)
}

// ErrWalletInsufficient is returned when a wallet capture would overdraw
// the payer's credit balance.
var ErrWalletInsufficient = fmt.Errorf("insufficient wallet balance")

// WalletAdapter settles payments against internal platform credit.
// There is no external processor, so every operation confirms
// synchronously and webhook callbacks only arrive from in-platform
// services (signed with a shared-secret HMAC like the chain watcher).
type WalletAdapter struct {
	credits CreditLedger
	secret  string
}

func NewWalletAdapter(credits CreditLedger, secret string) *WalletAdapter {
	return &WalletAdapter{credits: credits, secret: secret}
}

func (a *WalletAdapter) Provider() Provider { return ProviderWallet }

// Capture debits the payer's credit account. The payment token is the
// wallet account ID.
func (a *WalletAdapter) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	err := a.credits.Debit(ctx, req.PaymentToken, req.Amount)
	ObserveCall(ProviderWallet, "capture", err)
	if err != nil {
		return nil, &Error{Provider: ProviderWallet, Op: "capture", Err: err}
	}
	return &CaptureResult{
		ExternalTxID: idgen.WithPrefix("wtx"),
		Metadata:     map[string]string{"wallet_account": req.PaymentToken},
	}, nil
}

// Payout credits the worker's wallet account.
func (a *WalletAdapter) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	err := a.credits.Credit(ctx, req.Destination, req.Amount)
	ObserveCall(ProviderWallet, "payout", err)
	if err != nil {
		return nil, &Error{Provider: ProviderWallet, Op: "payout", Err: err}
	}
	return &PayoutResult{ExternalTxID: idgen.WithPrefix("wtx"), Confirmed: true}, nil
}

// Refund credits the payer's wallet account back.
func (a *WalletAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	account := req.Metadata["wallet_account"]
	if account == "" {
		err := fmt.Errorf("refund %s: wallet account unknown", req.ExternalTxID)
		ObserveCall(ProviderWallet, "refund", err)
		return nil, &Error{Provider: ProviderWallet, Op: "refund", Err: err}
	}
	err := a.credits.Credit(ctx, account, req.Amount)
	ObserveCall(ProviderWallet, "refund", err)
	if err != nil {
		return nil, &Error{Provider: ProviderWallet, Op: "refund", Err: err}
	}
	return &RefundResult{ExternalTxID: idgen.WithPrefix("wtx"), Confirmed: true}, nil
}

// VerifySignature checks the internal caller's hex HMAC-SHA256
// signature.
func (a *WalletAdapter) VerifySignature(payload []byte, signature string) error {
	return verifyHMAC(hmacSHA256Hex(a.secret, payload), signature)
}

type walletWebhookEvent struct {
	watcherEvent
	Resolution string `json:"resolution"`
}

// ParseEvent decodes an internal wallet callback, which uses the same
// normalized shape as the chain watcher plus a resolution field for
// dispute outcomes.
func (a *WalletAdapter) ParseEvent(payload []byte) (*Event, error) {
	var w walletWebhookEvent
	if err := unmarshalEvent(payload, &w); err != nil {
		return nil, err
	}

	kind := EventKind(w.Kind)
	switch kind {
	case EventCaptureConfirmed, EventReleaseConfirmed, EventRefundConfirmed,
		EventDisputeOpened, EventDisputeResolved:
	default:
		return nil, fmt.Errorf("%w: wallet %s", ErrUnrecognizedEvent, w.Kind)
	}

	ev := &Event{
		Provider:     ProviderWallet,
		ID:           w.EventID,
		Kind:         kind,
		AssignmentID: w.AssignmentID,
		ExternalTxID: w.TxHash,
		Amount:       w.Amount,
		Resolution:   w.Resolution,
	}
	return ev, nil
}

// MemoryCreditLedger is an in-memory CreditLedger for development and
// tests. Balances are locked per account so a burst of captures for
// different payers does not serialize on one mutex.
type MemoryCreditLedger struct {
	locks    syncutil.ShardedMutex
	mu       sync.RWMutex // guards the map itself
	balances map[string]int64
}

func NewMemoryCreditLedger() *MemoryCreditLedger {
	return &MemoryCreditLedger{balances: make(map[string]int64)}
}

func (l *MemoryCreditLedger) get(accountID string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[accountID]
}

func (l *MemoryCreditLedger) set(accountID string, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[accountID] = balance
}

func (l *MemoryCreditLedger) Debit(_ context.Context, accountID string, amount int64) error {
	unlock := l.locks.Lock(accountID)
	defer unlock()
	balance := l.get(accountID)
	if balance < amount {
		return fmt.Errorf("%w: account %s has %d, need %d",
			ErrWalletInsufficient, accountID, balance, amount)
	}
	l.set(accountID, balance-amount)
	return nil
}

func (l *MemoryCreditLedger) Credit(_ context.Context, accountID string, amount int64) error {
	unlock := l.locks.Lock(accountID)
	defer unlock()
	l.set(accountID, l.get(accountID)+amount)
	return nil
}

func (l *MemoryCreditLedger) Balance(_ context.Context, accountID string) (int64, error) {
	return l.get(accountID), nil
}
