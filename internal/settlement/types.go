// Package settlement implements scheduled rebalancing between hot
// wallets and the exchange account. It computes per-asset imbalances,
// executes the resulting deposits and withdrawals, verifies them on
// both sides, and produces reconciliation reports.
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transfer direction relative to the exchange
const (
	KindDeposit    = "deposit"    // Hot wallet pays in to the exchange
	KindWithdrawal = "withdrawal" // Exchange pays out to a hot wallet
)

// Verification states for a submitted transfer
const (
	StateSubmitted      = "SUBMITTED"       // Accepted for execution, not yet observed
	StateConfirming     = "CONFIRMING"      // Observed on chain, accumulating confirmations
	StateMatched        = "MATCHED"         // Confirmed on chain and credited by the exchange
	StateAmountMismatch = "AMOUNT_MISMATCH" // Settled, but amounts disagree beyond tolerance
	StateNotFound       = "NOT_FOUND"       // Definitively absent or failed on chain
	StateTimedOut       = "TIMED_OUT"       // Verification budget exhausted without a terminal answer
)

// TerminalState reports whether a verification state can no longer change
func TerminalState(state string) bool {
	switch state {
	case StateMatched, StateAmountMismatch, StateNotFound, StateTimedOut:
		return true
	}
	return false
}

// TransferInstruction is one planned movement produced by the
// rebalance calculator. Amounts are in coin units.
type TransferInstruction struct {
	ChainKey string          `json:"chain_key"`
	TokenID  string          `json:"token_id"`
	Asset    string          `json:"asset"` // Exchange-side asset symbol
	Kind     string          `json:"kind"`  // deposit or withdrawal
	Amount   decimal.Decimal `json:"amount"`
}

// VerificationDetails records what both ledgers reported for a transfer
type VerificationDetails struct {
	State          string          `json:"state"`
	Confirmations  int64           `json:"confirmations"`
	OnChainAmount  decimal.Decimal `json:"on_chain_amount"`  // Coin units observed on chain
	ExchangeAmount decimal.Decimal `json:"exchange_amount"`  // Coin units recorded by the exchange
	Fee            decimal.Decimal `json:"fee"`              // Coin units
	Problems       []string        `json:"problems,omitempty"`
	CheckedAt      time.Time       `json:"checked_at"`
}

// SettlementResult is the per-transfer outcome of one cycle
type SettlementResult struct {
	ID           string               `json:"id"` // UUID assigned at creation
	CycleID      string               `json:"cycle_id"`
	ChainKey     string               `json:"chain_key"`
	TokenID      string               `json:"token_id"`
	Asset        string               `json:"asset"`
	Kind         string               `json:"kind"`
	Amount       decimal.Decimal      `json:"amount"` // Coin units
	FromAddress  string               `json:"from_address"`
	ToAddress    string               `json:"to_address"`
	TxRef        string               `json:"tx_ref,omitempty"`        // Chain transaction reference
	WithdrawalID string               `json:"withdrawal_id,omitempty"` // Exchange withdrawal id
	State        string               `json:"state"`
	Skipped      bool                 `json:"skipped"`
	SkipReason   string               `json:"skip_reason,omitempty"`
	Error        string               `json:"error,omitempty"`
	Verification *VerificationDetails `json:"verification,omitempty"`
	SubmittedAt  time.Time            `json:"submitted_at"`
	CompletedAt  time.Time            `json:"completed_at"`
}

// Succeeded reports whether the transfer fully settled on both ledgers
func (r *SettlementResult) Succeeded() bool {
	return !r.Skipped && r.Error == "" && r.State == StateMatched
}

// Discrepancy is one reconciliation finding that needs operator attention
type Discrepancy struct {
	ChainKey    string          `json:"chain_key"`
	Asset       string          `json:"asset"`
	Kind        string          `json:"kind"`
	State       string          `json:"state"`
	Expected    decimal.Decimal `json:"expected"` // Coin units
	Observed    decimal.Decimal `json:"observed"` // Coin units
	TxRef       string          `json:"tx_ref,omitempty"`
	Description string          `json:"description"`
}

// ReconciliationReport summarizes one settlement cycle
type ReconciliationReport struct {
	CycleID        string                     `json:"cycle_id"`
	StartedAt      time.Time                  `json:"started_at"`
	CompletedAt    time.Time                  `json:"completed_at"`
	PairsExamined  int                        `json:"pairs_examined"` // (chain, asset) pairs evaluated
	Transfers      int                        `json:"transfers"`      // Transfers actually submitted
	Matched        int                        `json:"matched"`
	Skipped        int                        `json:"skipped"`
	Failed         int                        `json:"failed"`
	TotalDeposited map[string]decimal.Decimal `json:"total_deposited"` // Per asset, coin units
	TotalWithdrawn map[string]decimal.Decimal `json:"total_withdrawn"` // Per asset, coin units
	Discrepancies  []Discrepancy              `json:"discrepancies,omitempty"`
	Results        []*SettlementResult        `json:"results"`
}

// Clean reports whether the cycle completed without discrepancies
func (r *ReconciliationReport) Clean() bool {
	return len(r.Discrepancies) == 0 && r.Failed == 0
}

// BalanceObservation is a point-in-time reading of one hot wallet and the
// exchange balance it settles against, emitted during cycle planning
type BalanceObservation struct {
	CycleID         string          `json:"cycle_id"`
	ChainKey        string          `json:"chain_key"`
	Asset           string          `json:"asset"`
	WalletBalance   decimal.Decimal `json:"wallet_balance"`   // Coin units
	ExchangeBalance decimal.Decimal `json:"exchange_balance"` // Coin units
	ObservedAt      time.Time       `json:"observed_at"`
}

// Store persists settlement outcomes and reports
type Store interface {
	SaveSettlementResult(ctx context.Context, result *SettlementResult) error
	UpdateSettlementResult(ctx context.Context, result *SettlementResult) error
	SettlementHistory(ctx context.Context, limit, offset int) ([]*SettlementResult, error)
	SaveReconciliationReport(ctx context.Context, report *ReconciliationReport) error
	RecentReports(ctx context.Context, limit int) ([]*ReconciliationReport, error)
}
