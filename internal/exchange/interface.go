package exchange

import (
	"context"
	"time"
)

// Client is the exchange API surface the settlement engine consumes.
// RESTClient talks to the real exchange; MockClient backs tests and mock mode.
type Client interface {
	// IsAPIEnabled reports whether the account's API permits withdrawals
	IsAPIEnabled(ctx context.Context) (bool, error)

	// GetAssetBalance returns the balance row for an asset, nil when the
	// account holds none of it
	GetAssetBalance(ctx context.Context, asset string) (*AssetBalance, error)

	// GetDepositAddress resolves the deposit address for an asset/network pair
	GetDepositAddress(ctx context.Context, asset, network string) (*DepositAddress, error)

	// Withdraw submits a withdrawal and returns the exchange withdrawal id
	Withdraw(ctx context.Context, req WithdrawRequest) (string, error)

	// GetDepositHistory lists deposit records for an asset in a time window
	GetDepositHistory(ctx context.Context, asset string, start, end time.Time) ([]DepositRecord, error)

	// GetWithdrawalStatus returns the record for one withdrawal id
	GetWithdrawalStatus(ctx context.Context, asset, id string) (*WithdrawalRecord, error)
}
