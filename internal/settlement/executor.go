package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hotwallet-settlement/internal/assets"
	"hotwallet-settlement/internal/chains"
	"hotwallet-settlement/internal/circuit"
	"hotwallet-settlement/internal/exchange"
	"hotwallet-settlement/internal/logging"
	"hotwallet-settlement/internal/wallet"
)

// Executor turns a single rebalance allocation into a submitted
// transfer. Deposits are signed and broadcast by the chain's wallet
// signer; withdrawals are requested from the exchange.
type Executor struct {
	exchange exchange.Client
	mapper   *assets.Mapper
	registry *chains.Registry
	signers  *wallet.Registry
	breakers *circuit.Registry
	log      *logging.Logger
}

// NewExecutor creates a transfer executor
func NewExecutor(ex exchange.Client, mapper *assets.Mapper, registry *chains.Registry, signers *wallet.Registry, breakers *circuit.Registry) *Executor {
	return &Executor{
		exchange: ex,
		mapper:   mapper,
		registry: registry,
		signers:  signers,
		breakers: breakers,
		log:      logging.Default().WithComponent("executor"),
	}
}

// Execute submits one allocation and returns it as a SUBMITTED result.
// The result carries enough references for the matcher to track both
// ledgers.
func (e *Executor) Execute(ctx context.Context, cycleID, kind string, alloc Allocation) (*SettlementResult, error) {
	result := &SettlementResult{
		ID:          uuid.New().String(),
		CycleID:     cycleID,
		ChainKey:    alloc.ChainKey,
		TokenID:     alloc.TokenID,
		Kind:        kind,
		Amount:      alloc.Amount,
		State:       StateSubmitted,
		SubmittedAt: time.Now(),
	}

	mapping, err := e.mapper.ToExchange(alloc.ChainKey, alloc.TokenID)
	if err != nil {
		return nil, e.wrap(cycleID, kind, alloc, "plan", err)
	}
	result.Asset = mapping.ExchangeAsset

	switch kind {
	case KindDeposit:
		err = e.executeDeposit(ctx, result, mapping, alloc)
	case KindWithdrawal:
		err = e.executeWithdrawal(ctx, result, mapping, alloc)
	default:
		err = fmt.Errorf("unknown transfer kind %q", kind)
	}
	if err != nil {
		return nil, e.wrap(cycleID, kind, alloc, "submit", err)
	}
	return result, nil
}

// executeDeposit broadcasts a transfer from the hot wallet to the
// exchange deposit address
func (e *Executor) executeDeposit(ctx context.Context, result *SettlementResult, mapping assets.Mapping, alloc Allocation) error {
	adapter, err := e.registry.Get(alloc.ChainKey)
	if err != nil {
		return err
	}

	breaker := e.breakers.Get("exchange")
	if !breaker.Allow() {
		return fmt.Errorf("%w: exchange", ErrBreakerOpen)
	}

	depositAddr, err := e.exchange.GetDepositAddress(ctx, mapping.ExchangeAsset, mapping.ExchangeNetwork)
	if err != nil {
		breaker.RecordFailure(err.Error())
		return fmt.Errorf("error fetching deposit address for %s/%s: %w", mapping.ExchangeAsset, mapping.ExchangeNetwork, err)
	}
	breaker.RecordSuccess()

	// The exchange must hand back an address valid on this chain before
	// any funds move
	if err := adapter.ValidateAddress(depositAddr.Address); err != nil {
		return fmt.Errorf("exchange deposit address failed validation: %w", err)
	}

	signer, ok := e.signers.Get(alloc.ChainKey)
	if !ok {
		return fmt.Errorf("no wallet signer registered for %s", alloc.ChainKey)
	}

	baseUnits := mapping.ToBaseUnits(alloc.Amount)
	txRef, err := signer.Transfer(ctx, wallet.TransferRequest{
		TokenID: alloc.TokenID,
		From:    adapter.HotWalletAddress(),
		To:      depositAddr.Address,
		Value:   baseUnits,
	})
	if err != nil {
		return fmt.Errorf("error broadcasting transfer on %s: %w", alloc.ChainKey, err)
	}

	result.FromAddress = adapter.HotWalletAddress()
	result.ToAddress = depositAddr.Address
	result.TxRef = txRef

	e.log.Info("Deposit submitted",
		"cycle", result.CycleID, "chain", alloc.ChainKey, "asset", mapping.ExchangeAsset,
		"amount", alloc.Amount, "tx", txRef)
	return nil
}

// executeWithdrawal asks the exchange to pay out to the hot wallet
func (e *Executor) executeWithdrawal(ctx context.Context, result *SettlementResult, mapping assets.Mapping, alloc Allocation) error {
	adapter, err := e.registry.Get(alloc.ChainKey)
	if err != nil {
		return err
	}

	breaker := e.breakers.Get("exchange")
	if !breaker.Allow() {
		return fmt.Errorf("%w: exchange", ErrBreakerOpen)
	}

	withdrawalID, err := e.exchange.Withdraw(ctx, exchange.WithdrawRequest{
		Asset:   mapping.ExchangeAsset,
		Network: mapping.ExchangeNetwork,
		Address: adapter.HotWalletAddress(),
		Amount:  alloc.Amount,
	})
	if err != nil {
		breaker.RecordFailure(err.Error())
		return fmt.Errorf("error requesting withdrawal of %s %s: %w", alloc.Amount, mapping.ExchangeAsset, err)
	}
	breaker.RecordSuccess()

	result.ToAddress = adapter.HotWalletAddress()
	result.WithdrawalID = withdrawalID

	e.log.Info("Withdrawal submitted",
		"cycle", result.CycleID, "chain", alloc.ChainKey, "asset", mapping.ExchangeAsset,
		"amount", alloc.Amount, "withdrawal_id", withdrawalID)
	return nil
}

func (e *Executor) wrap(cycleID, kind string, alloc Allocation, phase string, err error) error {
	classifier := &ErrorClassifier{}
	return &TransferError{
		CycleID:   cycleID,
		ChainKey:  alloc.ChainKey,
		Asset:     alloc.TokenID,
		Kind:      kind,
		Phase:     phase,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: classifier.IsRetryable(err),
	}
}
