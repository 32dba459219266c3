package settlement

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"hotwallet-settlement/internal/logging"
)

// WalletBalance is one hot wallet's position in an asset, in coin units
type WalletBalance struct {
	ChainKey string
	TokenID  string
	Address  string
	Balance  decimal.Decimal
	Reserve  decimal.Decimal // Withheld for fees/rent, never transferred out
}

// Available returns the transferable portion of the balance
func (w WalletBalance) Available() decimal.Decimal {
	avail := w.Balance.Sub(w.Reserve)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Allocation is one wallet's share of a planned rebalance
type Allocation struct {
	ChainKey string          `json:"chain_key"`
	TokenID  string          `json:"token_id"`
	Address  string          `json:"address"`
	Amount   decimal.Decimal `json:"amount"` // Coin units
}

// RebalancePlan is the calculator's output for one exchange asset
type RebalancePlan struct {
	Asset       string          `json:"asset"`
	Kind        string          `json:"kind"`   // deposit or withdrawal
	Amount      decimal.Decimal `json:"amount"` // Total magnitude, coin units
	Allocations []Allocation    `json:"allocations"`
	Skipped     bool            `json:"skipped"`
	SkipReason  string          `json:"skip_reason,omitempty"`
}

// PlanRequest carries both sides of the ledger for one exchange asset
type PlanRequest struct {
	Asset           string
	Decimals        int32 // Smallest representable coin-unit precision
	Wallets         []WalletBalance
	ExchangeBalance decimal.Decimal
}

// Calculator computes the transfers needed to hold hot wallet and
// exchange balances at a one-to-one split
type Calculator struct {
	minAmount decimal.Decimal
	log       *logging.Logger
}

// NewCalculator creates a calculator with the configured minimum
// transfer floor in coin units
func NewCalculator(minAmount decimal.Decimal) *Calculator {
	return &Calculator{
		minAmount: minAmount,
		log:       logging.Default().WithComponent("calculator"),
	}
}

// Plan computes the rebalance for one asset. The target is an equal
// split: transfer half of the difference between the total hot balance
// and the exchange balance. A positive difference moves funds to the
// exchange; a negative one pulls them back.
func (c *Calculator) Plan(req PlanRequest) (*RebalancePlan, error) {
	if len(req.Wallets) == 0 {
		return nil, fmt.Errorf("no wallets provided for asset %s", req.Asset)
	}
	if req.ExchangeBalance.IsNegative() {
		return nil, fmt.Errorf("negative exchange balance for asset %s", req.Asset)
	}

	totalHot := decimal.Zero
	for _, w := range req.Wallets {
		if w.Balance.IsNegative() {
			return nil, fmt.Errorf("negative wallet balance for %s on %s", req.Asset, w.ChainKey)
		}
		totalHot = totalHot.Add(w.Balance)
	}

	// Half the imbalance, truncated to the asset's precision so base
	// unit conversion is exact
	half := totalHot.Sub(req.ExchangeBalance).Div(decimal.NewFromInt(2)).Truncate(req.Decimals)

	plan := &RebalancePlan{Asset: req.Asset, Amount: half.Abs()}
	switch {
	case half.IsPositive():
		plan.Kind = KindDeposit
	case half.IsNegative():
		plan.Kind = KindWithdrawal
	default:
		plan.Skipped = true
		plan.SkipReason = "balances already split evenly"
		return plan, nil
	}

	if plan.Amount.LessThan(c.minAmount) {
		plan.Skipped = true
		plan.SkipReason = fmt.Sprintf("amount %s below minimum %s", plan.Amount, c.minAmount)
		c.log.Debug("Skipping rebalance below floor", "asset", req.Asset, "amount", plan.Amount)
		return plan, nil
	}

	var err error
	if plan.Kind == KindDeposit {
		plan.Allocations, plan.Amount, err = c.allocateDeposit(req, plan.Amount)
	} else {
		plan.Allocations, err = c.allocateWithdrawal(req, plan.Amount)
	}
	if err != nil {
		return nil, err
	}
	if len(plan.Allocations) == 0 {
		plan.Skipped = true
		plan.SkipReason = "no wallet has transferable balance"
	}
	return plan, nil
}

// allocateDeposit splits the deposit amount across wallets in
// proportion to their available balances. A wallet never contributes
// more than its available balance; if reserves cap the total below the
// target, the deposit shrinks to what is available.
func (c *Calculator) allocateDeposit(req PlanRequest, amount decimal.Decimal) ([]Allocation, decimal.Decimal, error) {
	totalAvail := decimal.Zero
	for _, w := range req.Wallets {
		totalAvail = totalAvail.Add(w.Available())
	}
	if totalAvail.IsZero() {
		return nil, decimal.Zero, nil
	}
	if amount.GreaterThan(totalAvail) {
		c.log.Warn("Deposit capped by reserves", "asset", req.Asset, "target", amount, "available", totalAvail)
		amount = totalAvail.Truncate(req.Decimals)
	}

	allocations := distribute(req.Wallets, amount, req.Decimals, true, func(w WalletBalance) decimal.Decimal {
		return w.Available()
	})
	return allocations, amount, nil
}

// allocateWithdrawal splits the withdrawal amount across wallets in
// proportion to their current balances, so chains holding more of the
// float receive more of the returning funds.
func (c *Calculator) allocateWithdrawal(req PlanRequest, amount decimal.Decimal) ([]Allocation, error) {
	allocations := distribute(req.Wallets, amount, req.Decimals, false, func(w WalletBalance) decimal.Decimal {
		return w.Balance
	})
	if len(allocations) == 0 {
		// Every wallet is empty; send the whole amount to the first
		w := req.Wallets[0]
		allocations = []Allocation{{ChainKey: w.ChainKey, TokenID: w.TokenID, Address: w.Address, Amount: amount}}
	}
	return allocations, nil
}

// distribute apportions amount across wallets by weight. Each share is
// truncated to the asset precision; the rounding remainder goes to the
// largest-weight wallets first so the shares always sum exactly to
// amount. When capped is set, no wallet's share exceeds its weight.
func distribute(wallets []WalletBalance, amount decimal.Decimal, decimals int32, capped bool, weight func(WalletBalance) decimal.Decimal) []Allocation {
	totalWeight := decimal.Zero
	for _, w := range wallets {
		totalWeight = totalWeight.Add(weight(w))
	}
	if totalWeight.IsZero() {
		return nil
	}

	var (
		allocations []Allocation
		weights     []decimal.Decimal
		assigned    = decimal.Zero
	)
	for _, w := range wallets {
		wt := weight(w)
		if wt.IsZero() {
			continue
		}
		share := amount.Mul(wt).Div(totalWeight).Truncate(decimals)
		allocations = append(allocations, Allocation{
			ChainKey: w.ChainKey,
			TokenID:  w.TokenID,
			Address:  w.Address,
			Amount:   share,
		})
		weights = append(weights, wt)
		assigned = assigned.Add(share)
	}

	// Spread the truncation remainder, largest weight first, without
	// overdrawing capped wallets
	remainder := amount.Sub(assigned)
	order := make([]int, len(allocations))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return weights[order[a]].GreaterThan(weights[order[b]])
	})
	for _, i := range order {
		if remainder.IsZero() {
			break
		}
		add := remainder
		if capped {
			headroom := weights[i].Sub(allocations[i].Amount)
			if add.GreaterThan(headroom) {
				add = headroom
			}
		}
		if add.IsPositive() {
			allocations[i].Amount = allocations[i].Amount.Add(add)
			remainder = remainder.Sub(add)
		}
	}

	// Drop zero shares produced by truncation
	out := allocations[:0]
	for _, a := range allocations {
		if a.Amount.IsPositive() {
			out = append(out, a)
		}
	}
	return out
}
