package settlement

import (
	"testing"

	"github.com/shopspring/decimal"
)

// ============================================================================
// REBALANCE MATH
// ============================================================================

// TestPlanDepositHalvesSurplus verifies the even-split target: the hot
// side holds 10, the exchange 4, so 3 moves to the exchange leaving 7/7
func TestPlanDepositHalvesSurplus(t *testing.T) {
	calc := NewCalculator(dec("0.001"))

	plan, err := calc.Plan(PlanRequest{
		Asset:           "BTC",
		Decimals:        8,
		Wallets:         []WalletBalance{{ChainKey: "BTC", TokenID: "BTC", Balance: dec("10")}},
		ExchangeBalance: dec("4"),
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if plan.Kind != KindDeposit {
		t.Errorf("expected deposit, got %s", plan.Kind)
	}
	if !plan.Amount.Equal(dec("3")) {
		t.Errorf("expected amount 3, got %s", plan.Amount)
	}
	if len(plan.Allocations) != 1 || !plan.Allocations[0].Amount.Equal(dec("3")) {
		t.Errorf("expected single allocation of 3, got %+v", plan.Allocations)
	}

	// After the transfer both sides hold 7
	remaining := dec("10").Sub(plan.Amount)
	exchangeAfter := dec("4").Add(plan.Amount)
	if !remaining.Equal(exchangeAfter) {
		t.Errorf("split not even: wallet %s, exchange %s", remaining, exchangeAfter)
	}
}

// TestPlanWithdrawalHalvesDeficit verifies the reverse direction: the
// exchange holds the surplus and half of the difference comes back
func TestPlanWithdrawalHalvesDeficit(t *testing.T) {
	calc := NewCalculator(dec("0.001"))

	plan, err := calc.Plan(PlanRequest{
		Asset:           "ETH",
		Decimals:        18,
		Wallets:         []WalletBalance{{ChainKey: "ETH", TokenID: "ETH", Balance: dec("2")}},
		ExchangeBalance: dec("8"),
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if plan.Kind != KindWithdrawal {
		t.Errorf("expected withdrawal, got %s", plan.Kind)
	}
	if !plan.Amount.Equal(dec("3")) {
		t.Errorf("expected amount 3, got %s", plan.Amount)
	}
}

// TestPlanSkipsBelowMinimum verifies the floor suppresses dust transfers
func TestPlanSkipsBelowMinimum(t *testing.T) {
	calc := NewCalculator(dec("0.5"))

	plan, err := calc.Plan(PlanRequest{
		Asset:           "BTC",
		Decimals:        8,
		Wallets:         []WalletBalance{{ChainKey: "BTC", TokenID: "BTC", Balance: dec("10.4")}},
		ExchangeBalance: dec("10"),
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if !plan.Skipped {
		t.Error("expected plan to be skipped below the floor")
	}
	if len(plan.Allocations) != 0 {
		t.Errorf("skipped plan must carry no allocations, got %d", len(plan.Allocations))
	}
}

// TestPlanSkipsWhenBalanced verifies no transfer when already split evenly
func TestPlanSkipsWhenBalanced(t *testing.T) {
	calc := NewCalculator(dec("0.001"))

	plan, err := calc.Plan(PlanRequest{
		Asset:           "BTC",
		Decimals:        8,
		Wallets:         []WalletBalance{{ChainKey: "BTC", TokenID: "BTC", Balance: dec("5")}},
		ExchangeBalance: dec("5"),
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !plan.Skipped {
		t.Error("expected balanced ledgers to skip")
	}
}

// ============================================================================
// MULTI-WALLET DISTRIBUTION
// ============================================================================

// TestDepositDistributionProportional verifies shares track available
// balances and sum exactly to the planned amount
func TestDepositDistributionProportional(t *testing.T) {
	calc := NewCalculator(dec("0.001"))

	// Total hot 90 (60+30), exchange 30: deposit (90-30)/2 = 30
	plan, err := calc.Plan(PlanRequest{
		Asset:    "SOL",
		Decimals: 9,
		Wallets: []WalletBalance{
			{ChainKey: "SOL", TokenID: "SOL", Address: "walletA", Balance: dec("60")},
			{ChainKey: "SOL2", TokenID: "SOL", Address: "walletB", Balance: dec("30")},
		},
		ExchangeBalance: dec("30"),
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if !plan.Amount.Equal(dec("30")) {
		t.Fatalf("expected amount 30, got %s", plan.Amount)
	}

	total := decimal.Zero
	byAddr := make(map[string]decimal.Decimal)
	for _, a := range plan.Allocations {
		total = total.Add(a.Amount)
		byAddr[a.Address] = a.Amount
	}
	if !total.Equal(plan.Amount) {
		t.Errorf("allocations sum %s, expected %s", total, plan.Amount)
	}
	if !byAddr["walletA"].Equal(dec("20")) || !byAddr["walletB"].Equal(dec("10")) {
		t.Errorf("expected 20/10 split, got %+v", byAddr)
	}
}

// TestDistributionRemainderToLargest verifies the truncation remainder
// lands on the largest-share wallet so the total stays exact
func TestDistributionRemainderToLargest(t *testing.T) {
	calc := NewCalculator(dec("0.000001"))

	// 1 satoshi-scale remainder: 0.00000001 split over a 2:1 weighting
	plan, err := calc.Plan(PlanRequest{
		Asset:    "BTC",
		Decimals: 8,
		Wallets: []WalletBalance{
			{ChainKey: "BTC", TokenID: "BTC", Address: "big", Balance: dec("0.00000002")},
			{ChainKey: "BTC2", TokenID: "BTC", Address: "small", Balance: dec("0.00000001")},
		},
		ExchangeBalance: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Skipped {
		return // Below floor, nothing to assert about distribution
	}

	total := decimal.Zero
	for _, a := range plan.Allocations {
		total = total.Add(a.Amount)
	}
	if !total.Equal(plan.Amount) {
		t.Errorf("allocations sum %s, expected exact %s", total, plan.Amount)
	}
}

// TestDepositRespectsReserve verifies a wallet never contributes its
// fee reserve, and the deposit shrinks when reserves cap the total
func TestDepositRespectsReserve(t *testing.T) {
	calc := NewCalculator(dec("0.001"))

	plan, err := calc.Plan(PlanRequest{
		Asset:    "ETH",
		Decimals: 18,
		Wallets: []WalletBalance{
			{ChainKey: "ETH", TokenID: "ETH", Address: "hot", Balance: dec("10"), Reserve: dec("9")},
		},
		ExchangeBalance: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	// Target would be 5 but only 1 is transferable
	if !plan.Amount.Equal(dec("1")) {
		t.Errorf("expected deposit capped at 1, got %s", plan.Amount)
	}
	for _, a := range plan.Allocations {
		if a.Amount.GreaterThan(dec("1")) {
			t.Errorf("allocation %s overdraws available balance", a.Amount)
		}
	}
}

// TestDepositNeverOverdrawsAnyWallet verifies remainder assignment
// cannot push a wallet past its available balance
func TestDepositNeverOverdrawsAnyWallet(t *testing.T) {
	calc := NewCalculator(decimal.Zero)

	wallets := []WalletBalance{
		{ChainKey: "A", TokenID: "BTC", Address: "a", Balance: dec("0.00000003")},
		{ChainKey: "B", TokenID: "BTC", Address: "b", Balance: dec("0.00000003")},
		{ChainKey: "C", TokenID: "BTC", Address: "c", Balance: dec("0.00000003")},
	}
	plan, err := calc.Plan(PlanRequest{
		Asset:           "BTC",
		Decimals:        8,
		Wallets:         wallets,
		ExchangeBalance: dec("0.00000001"),
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Skipped {
		t.Fatalf("unexpected skip: %s", plan.SkipReason)
	}

	avail := map[string]decimal.Decimal{"a": dec("0.00000003"), "b": dec("0.00000003"), "c": dec("0.00000003")}
	for _, a := range plan.Allocations {
		if a.Amount.GreaterThan(avail[a.Address]) {
			t.Errorf("wallet %s allocated %s beyond available %s", a.Address, a.Amount, avail[a.Address])
		}
	}
}

// TestWithdrawalDistributionByBalance verifies returning funds favor
// the chains already holding more of the float
func TestWithdrawalDistributionByBalance(t *testing.T) {
	calc := NewCalculator(dec("0.001"))

	plan, err := calc.Plan(PlanRequest{
		Asset:    "SOL",
		Decimals: 9,
		Wallets: []WalletBalance{
			{ChainKey: "SOL", TokenID: "SOL", Address: "heavy", Balance: dec("9")},
			{ChainKey: "SOL2", TokenID: "SOL", Address: "light", Balance: dec("1")},
		},
		ExchangeBalance: dec("30"),
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	// (10-30)/2 = -10: withdraw 10, split 9:1
	if plan.Kind != KindWithdrawal || !plan.Amount.Equal(dec("10")) {
		t.Fatalf("expected withdrawal of 10, got %s %s", plan.Kind, plan.Amount)
	}

	byAddr := make(map[string]decimal.Decimal)
	for _, a := range plan.Allocations {
		byAddr[a.Address] = a.Amount
	}
	if !byAddr["heavy"].Equal(dec("9")) || !byAddr["light"].Equal(dec("1")) {
		t.Errorf("expected 9/1 split, got %+v", byAddr)
	}
}

// TestPlanRejectsNegativeInputs verifies corrupt balances fail loudly
func TestPlanRejectsNegativeInputs(t *testing.T) {
	calc := NewCalculator(decimal.Zero)

	_, err := calc.Plan(PlanRequest{
		Asset:           "BTC",
		Decimals:        8,
		Wallets:         []WalletBalance{{ChainKey: "BTC", TokenID: "BTC", Balance: dec("-1")}},
		ExchangeBalance: decimal.Zero,
	})
	if err == nil {
		t.Error("expected negative wallet balance to be rejected")
	}

	_, err = calc.Plan(PlanRequest{
		Asset:           "BTC",
		Decimals:        8,
		Wallets:         []WalletBalance{{ChainKey: "BTC", TokenID: "BTC", Balance: dec("1")}},
		ExchangeBalance: dec("-1"),
	})
	if err == nil {
		t.Error("expected negative exchange balance to be rejected")
	}
}
