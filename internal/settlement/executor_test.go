package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"hotwallet-settlement/internal/chains"
	"hotwallet-settlement/internal/circuit"
	"hotwallet-settlement/internal/exchange"
	"hotwallet-settlement/internal/wallet"
)

func testExecutor(t *testing.T, adapter *fakeAdapter, ex exchange.Client, signer *fakeSigner) *Executor {
	t.Helper()
	registry := chains.NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("failed to register adapter: %v", err)
	}
	signers := wallet.NewRegistry()
	if signer != nil {
		signers.Register(adapter.chainKey, signer)
	}
	breakers := circuit.NewRegistry(&circuit.BreakerConfig{Enabled: true, FailureLimit: 1, Cooldown: time.Minute})
	return NewExecutor(ex, testMapper(), registry, signers, breakers)
}

// TestExecuteDepositSubmits verifies the signed transfer goes to the
// exchange's validated deposit address with base unit conversion
func TestExecuteDepositSubmits(t *testing.T) {
	adapter := &fakeAdapter{chainKey: "ETH", hotWallet: "0xhot"}
	signer := &fakeSigner{address: "0xhot"}
	ex := exchange.NewMockClient()
	ex.SetDepositAddress("ETH", "ETH", "0xdeposit")

	result, err := testExecutor(t, adapter, ex, signer).Execute(context.Background(), "c1", KindDeposit, Allocation{
		ChainKey: "ETH", TokenID: "ETH", Amount: dec("1.5"),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.State != StateSubmitted {
		t.Errorf("expected SUBMITTED, got %s", result.State)
	}
	if result.TxRef == "" || result.ToAddress != "0xdeposit" || result.FromAddress != "0xhot" {
		t.Errorf("unexpected result routing: %+v", result)
	}
	if len(signer.Calls) != 1 || !signer.Calls[0].Value.Equal(dec("1500000000000000000")) {
		t.Errorf("expected 1.5 ETH in wei, got %+v", signer.Calls)
	}
}

// TestExecuteDepositRejectsBadAddress verifies no funds move when the
// exchange hands back an address invalid for the chain
func TestExecuteDepositRejectsBadAddress(t *testing.T) {
	adapter := &fakeAdapter{chainKey: "ETH", hotWallet: "0xhot"}
	signer := &fakeSigner{address: "0xhot"}
	ex := exchange.NewMockClient()
	ex.SetDepositAddress("ETH", "ETH", "") // fakeAdapter rejects empty

	_, err := testExecutor(t, adapter, ex, signer).Execute(context.Background(), "c1", KindDeposit, Allocation{
		ChainKey: "ETH", TokenID: "ETH", Amount: dec("1"),
	})
	if err == nil {
		t.Fatal("expected address validation failure")
	}
	if len(signer.Calls) != 0 {
		t.Error("no transfer should have been signed")
	}
}

// TestExecuteWithdrawalSubmits verifies the payout request targets the
// hot wallet
func TestExecuteWithdrawalSubmits(t *testing.T) {
	adapter := &fakeAdapter{chainKey: "BTC", hotWallet: "bc1hot"}
	ex := exchange.NewMockClient()

	result, err := testExecutor(t, adapter, ex, nil).Execute(context.Background(), "c1", KindWithdrawal, Allocation{
		ChainKey: "BTC", TokenID: "BTC", Amount: dec("0.5"),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.WithdrawalID == "" || result.ToAddress != "bc1hot" {
		t.Errorf("unexpected withdrawal routing: %+v", result)
	}
	if len(ex.WithdrawCalls) != 1 || !ex.WithdrawCalls[0].Amount.Equal(dec("0.5")) {
		t.Errorf("expected withdrawal of 0.5 BTC, got %+v", ex.WithdrawCalls)
	}
}

// TestExecuteBreakerBlocksAfterFailures verifies the exchange breaker
// opens after repeated failures and short-circuits the next call
func TestExecuteBreakerBlocksAfterFailures(t *testing.T) {
	adapter := &fakeAdapter{chainKey: "BTC", hotWallet: "bc1hot"}
	ex := exchange.NewMockClient()
	ex.WithdrawErr = errors.New("503 service unavailable")

	executor := testExecutor(t, adapter, ex, nil)
	alloc := Allocation{ChainKey: "BTC", TokenID: "BTC", Amount: dec("1")}

	// FailureLimit is 1: the first failure trips the breaker
	if _, err := executor.Execute(context.Background(), "c1", KindWithdrawal, alloc); err == nil {
		t.Fatal("expected withdrawal failure")
	}
	_, err := executor.Execute(context.Background(), "c1", KindWithdrawal, alloc)
	if err == nil || !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
	if len(ex.WithdrawCalls) != 0 {
		t.Errorf("failed calls must not be recorded as submissions, got %d", len(ex.WithdrawCalls))
	}
}

// TestExecuteUnmappedAssetFails verifies unmapped (chain, token) pairs
// are rejected before any side effect
func TestExecuteUnmappedAssetFails(t *testing.T) {
	adapter := &fakeAdapter{chainKey: "ETH", hotWallet: "0xhot"}
	ex := exchange.NewMockClient()

	_, err := testExecutor(t, adapter, ex, nil).Execute(context.Background(), "c1", KindDeposit, Allocation{
		ChainKey: "ETH", TokenID: "WETH", Amount: dec("1"),
	})
	if err == nil {
		t.Fatal("expected unmapped asset error")
	}

	var te *TransferError
	if !errors.As(err, &te) || te.Phase != "plan" {
		t.Errorf("expected plan-phase transfer error, got %v", err)
	}
}
