package gateway

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc20ABI is the minimal ABI needed for transfers and the Transfer event.
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

const (
	usdcGasLimit            = uint64(100000)
	usdcConfirmTimeout      = 90 * time.Second
	usdcConfirmPollInterval = 2 * time.Second
)

// usdcEthClient abstracts the go-ethereum client for testing.
type usdcEthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	NetworkID(ctx context.Context) (*big.Int, error)
}

var _ usdcEthClient = (*ethclient.Client)(nil)

// USDCAdapter settles captures and payouts on-chain in USDC. Amounts for
// the usdc provider are carried in the token's smallest units (6
// decimals). Captures verify a payer-submitted transfer transaction into
// the platform deposit address; payouts transfer out of it. Webhook
// callbacks come from the platform's own chain watcher and are signed
// with a shared-secret HMAC.
type USDCAdapter struct {
	client        usdcEthClient
	key           *ecdsa.PrivateKey
	platformAddr  common.Address
	tokenAddr     common.Address
	parsedABI     abi.ABI
	chainID       *big.Int
	watcherSecret string
}

// NewUSDCAdapter connects to the RPC endpoint and prepares the platform
// signing key.
func NewUSDCAdapter(rpcURL, privateKeyHex, tokenAddress, watcherSecret string) (*USDCAdapter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("usdc adapter: invalid private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("usdc adapter: dial %s: %w", rpcURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("usdc adapter: parse ABI: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	chainID, err := client.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("usdc adapter: fetch chain id: %w", err)
	}

	return &USDCAdapter{
		client:        client,
		key:           key,
		platformAddr:  crypto.PubkeyToAddress(key.PublicKey),
		tokenAddr:     common.HexToAddress(tokenAddress),
		parsedABI:     parsed,
		chainID:       chainID,
		watcherSecret: watcherSecret,
	}, nil
}

func (a *USDCAdapter) Provider() Provider { return ProviderUSDC }

// Capture verifies that the payer's transfer transaction moved at least
// the booking amount into the platform deposit address. The "payment
// token" is the transaction hash.
func (a *USDCAdapter) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	txHash := common.HexToHash(req.PaymentToken)

	from, value, err := a.transferInto(ctx, txHash, a.platformAddr)
	ObserveCall(ProviderUSDC, "capture", err)
	if err != nil {
		return nil, &Error{Provider: ProviderUSDC, Op: "capture", Retryable: true, Err: err}
	}
	if value.Cmp(big.NewInt(req.Amount)) < 0 {
		return nil, &Error{
			Provider: ProviderUSDC, Op: "capture",
			Err: fmt.Errorf("transfer %s carries %s units, need %d", txHash, value, req.Amount),
		}
	}

	return &CaptureResult{
		ExternalTxID: txHash.Hex(),
		Metadata:     map[string]string{"payer_address": from.Hex()},
	}, nil
}

// Payout transfers USDC from the platform wallet to the worker's address
// and waits for the receipt, so on-chain releases confirm synchronously.
func (a *USDCAdapter) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	txHash, err := a.sendTransfer(ctx, common.HexToAddress(req.Destination), big.NewInt(req.Amount))
	ObserveCall(ProviderUSDC, "payout", err)
	if err != nil {
		return nil, &Error{Provider: ProviderUSDC, Op: "payout", Err: err}
	}
	if err := a.waitMined(ctx, txHash); err != nil {
		return nil, &Error{Provider: ProviderUSDC, Op: "payout", Err: err}
	}
	return &PayoutResult{ExternalTxID: txHash.Hex(), Confirmed: true}, nil
}

// Refund sends USDC back to whichever address funded the original
// capture transaction.
func (a *USDCAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	payer, _, err := a.transferInto(ctx, common.HexToHash(req.ExternalTxID), a.platformAddr)
	if err != nil {
		ObserveCall(ProviderUSDC, "refund", err)
		return nil, &Error{Provider: ProviderUSDC, Op: "refund", Err: err}
	}

	txHash, err := a.sendTransfer(ctx, payer, big.NewInt(req.Amount))
	ObserveCall(ProviderUSDC, "refund", err)
	if err != nil {
		return nil, &Error{Provider: ProviderUSDC, Op: "refund", Err: err}
	}
	if err := a.waitMined(ctx, txHash); err != nil {
		return nil, &Error{Provider: ProviderUSDC, Op: "refund", Err: err}
	}
	return &RefundResult{ExternalTxID: txHash.Hex(), Confirmed: true}, nil
}

// VerifySignature checks the chain watcher's hex HMAC-SHA256 signature.
func (a *USDCAdapter) VerifySignature(payload []byte, signature string) error {
	return verifyHMAC(hmacSHA256Hex(a.watcherSecret, payload), signature)
}

type watcherEvent struct {
	EventID      string `json:"eventId"`
	Kind         string `json:"kind"`
	AssignmentID string `json:"assignmentId"`
	TxHash       string `json:"txHash"`
	Amount       int64  `json:"amount"`
}

// ParseEvent decodes a chain-watcher callback. The watcher already emits
// the normalized kind vocabulary.
func (a *USDCAdapter) ParseEvent(payload []byte) (*Event, error) {
	var w watcherEvent
	if err := unmarshalEvent(payload, &w); err != nil {
		return nil, err
	}

	kind := EventKind(w.Kind)
	switch kind {
	case EventCaptureConfirmed, EventReleaseConfirmed, EventRefundConfirmed:
	default:
		return nil, fmt.Errorf("%w: usdc watcher %s", ErrUnrecognizedEvent, w.Kind)
	}

	return &Event{
		Provider:     ProviderUSDC,
		ID:           w.EventID,
		Kind:         kind,
		AssignmentID: w.AssignmentID,
		ExternalTxID: w.TxHash,
		Amount:       w.Amount,
		Currency:     "USDC",
	}, nil
}

// transferInto inspects a mined transaction's logs for an ERC-20
// Transfer into the given address and returns the sender and value.
func (a *USDCAdapter) transferInto(ctx context.Context, txHash common.Hash, into common.Address) (common.Address, *big.Int, error) {
	receipt, err := a.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, nil, fmt.Errorf("transaction %s reverted", txHash)
	}

	transferSig := a.parsedABI.Events["Transfer"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != a.tokenAddr || len(lg.Topics) != 3 || lg.Topics[0] != transferSig {
			continue
		}
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if to != into {
			continue
		}
		from := common.BytesToAddress(lg.Topics[1].Bytes())
		value := new(big.Int).SetBytes(lg.Data)
		return from, value, nil
	}
	return common.Address{}, nil, fmt.Errorf("no USDC transfer into %s in tx %s", into.Hex(), txHash)
}

// sendTransfer signs and broadcasts an ERC-20 transfer from the platform
// wallet.
func (a *USDCAdapter) sendTransfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	nonce, err := a.client.PendingNonceAt(ctx, a.platformAddr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	data, err := a.parsedABI.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack transfer: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &a.tokenAddr,
		Gas:      usdcGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), a.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("broadcast transaction: %w", err)
	}
	return signed.Hash(), nil
}

// waitMined polls for the receipt until the transaction mines or the
// bounded timeout expires.
func (a *USDCAdapter) waitMined(ctx context.Context, txHash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, usdcConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(usdcConfirmPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := a.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", txHash)
			}
			return nil
		}
		if err != ethereum.NotFound {
			return fmt.Errorf("poll receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction %s not mined before deadline: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}
