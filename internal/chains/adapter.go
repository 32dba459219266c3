package chains

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus describes how far a transaction has progressed on chain
type TxStatus struct {
	Found         bool
	Confirmed     bool
	Success       bool
	Confirmations int64
	BlockTime     time.Time
}

// TransferLeg is a single value movement inside a transaction
type TransferLeg struct {
	From   string
	To     string
	Amount decimal.Decimal // base units
}

// TxDetails carries the decoded value flow of a confirmed transaction
type TxDetails struct {
	Success bool
	Fee     decimal.Decimal // base units
	Legs    []TransferLeg
}

// TransferCheck is the result of verifying an expected transfer against
// what the chain actually recorded
type TransferCheck struct {
	Verified     bool
	ActualAmount decimal.Decimal // base units
	Fee          decimal.Decimal
	Problems     []string
}

// BalanceChange reports the net movement observed at an address
type BalanceChange struct {
	Found  bool
	Change decimal.Decimal // base units, signed
}

// Adapter abstracts one blockchain for the settlement engine. All
// amounts cross this boundary in the chain's base units (satoshi, wei,
// lamports) carried as decimals.
type Adapter interface {
	// ChainKey returns the configured identifier, e.g. "eth-mainnet"
	ChainKey() string

	// HotWalletAddress returns the monitored hot wallet address
	HotWalletAddress() string

	// GetHotWalletBalance returns the hot wallet's native balance
	GetHotWalletBalance(ctx context.Context) (decimal.Decimal, error)

	// GetAddressBalance returns the native balance of any address
	GetAddressBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// GetTransactionStatus reports confirmation progress for a tx reference
	GetTransactionStatus(ctx context.Context, ref string) (*TxStatus, error)

	// GetTransactionDetails decodes the value flow of a transaction.
	// Only meaningful once the transaction is confirmed.
	GetTransactionDetails(ctx context.Context, ref string) (*TxDetails, error)

	// VerifyTransfer checks that a transaction moved the expected amount
	// from the expected sender to the expected recipient
	VerifyTransfer(ctx context.Context, ref, from, to string, amount decimal.Decimal) (*TransferCheck, error)

	// GetAddressBalanceChange reports the net movement a transaction
	// caused at one address
	GetAddressBalanceChange(ctx context.Context, ref, address string) (*BalanceChange, error)

	// ValidateAddress reports whether an address is well formed for this chain
	ValidateAddress(address string) error

	// NormalizeAddress canonicalizes an address for comparison
	NormalizeAddress(address string) string
}

// ErrTxNotFound is returned when the chain has no record of a transaction
// reference. Callers treat it as transient until the verification budget
// runs out.
var ErrTxNotFound = fmt.Errorf("transaction not found on chain")

// ErrConfirmationTimeout is returned when the required confirmation
// depth was not reached before the timeout
var ErrConfirmationTimeout = errors.New("confirmation timeout")

// WaitForStatus polls an adapter until the transaction reaches the
// required confirmation depth, the context expires, or the timeout
// passes. Transient lookup errors are swallowed and retried. onPoll,
// when non-nil, observes every status the chain reports on the way.
func WaitForStatus(ctx context.Context, a Adapter, ref string, required int64, interval, timeout time.Duration, onPoll func(*TxStatus)) (*TxStatus, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := a.GetTransactionStatus(ctx, ref)
		if err == nil && status.Found {
			if onPoll != nil {
				onPoll(status)
			}
			if status.Confirmed && status.Confirmations >= required {
				return status, nil
			}
			if status.Confirmed && !status.Success {
				// Definitively failed on chain, no point waiting
				return status, nil
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %d confirmations of %s on %s", ErrConfirmationTimeout, required, ref, a.ChainKey())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// normalizeHex lowercases hex-encoded addresses so case differences do
// not break comparisons. Checksummed and plain forms compare equal.
func normalizeHex(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// amountsMatch compares an expected amount with the observed amount
// within an absolute tolerance in base units
func amountsMatch(expected, actual, tolerance decimal.Decimal) bool {
	return expected.Sub(actual).Abs().LessThanOrEqual(tolerance)
}
