package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetBalance is one exchange balance row. The exchange does not track
// which network a credited balance arrived from.
type AssetBalance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total returns free + locked
func (b AssetBalance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// DepositAddress is the exchange-side deposit address for an asset/network pair
type DepositAddress struct {
	Asset   string `json:"asset"`
	Network string `json:"network"`
	Address string `json:"address"`
	Tag     string `json:"tag,omitempty"`
}

// WithdrawRequest describes one withdrawal from the exchange account
type WithdrawRequest struct {
	Asset   string
	Network string
	Address string
	Tag     string
	Amount  decimal.Decimal
}

// Deposit status codes as reported by the exchange
const (
	DepositStatusPending  = 0
	DepositStatusSuccess  = 1 // Fully credited and withdrawable
	DepositStatusCredited = 6 // Credited but not yet withdrawable
)

// DepositRecord is one row of the exchange deposit history
type DepositRecord struct {
	Asset      string          `json:"asset"`
	Network    string          `json:"network"`
	Address    string          `json:"address"`
	TxID       string          `json:"tx_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     int             `json:"status"`
	InsertTime time.Time       `json:"insert_time"`
}

// Settled reports whether the deposit is fully credited and withdrawable
func (d DepositRecord) Settled() bool {
	return d.Status == DepositStatusSuccess
}

// Withdrawal status codes as reported by the exchange
const (
	WithdrawalStatusEmailSent        = 0
	WithdrawalStatusCancelled        = 1
	WithdrawalStatusAwaitingApproval = 2
	WithdrawalStatusRejected         = 3
	WithdrawalStatusProcessing       = 4
	WithdrawalStatusFailure          = 5
	WithdrawalStatusCompleted        = 6
)

// WithdrawalRecord is one row of the exchange withdrawal history
type WithdrawalRecord struct {
	ID        string          `json:"id"`
	Asset     string          `json:"asset"`
	Network   string          `json:"network"`
	Address   string          `json:"address"`
	TxID      string          `json:"tx_id"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Status    int             `json:"status"`
	ApplyTime time.Time       `json:"apply_time"`
}

// Completed reports whether the withdrawal finished and broadcast on-chain
func (w WithdrawalRecord) Completed() bool {
	return w.Status == WithdrawalStatusCompleted
}

// Terminal reports whether the withdrawal can no longer progress
func (w WithdrawalRecord) Terminal() bool {
	switch w.Status {
	case WithdrawalStatusCancelled, WithdrawalStatusRejected, WithdrawalStatusFailure, WithdrawalStatusCompleted:
		return true
	}
	return false
}
