package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hotwallet-settlement/internal/assets"
	"hotwallet-settlement/internal/chains"
	"hotwallet-settlement/internal/exchange"
	"hotwallet-settlement/internal/logging"
)

// MatcherConfig tunes verification polling
type MatcherConfig struct {
	PollInterval  time.Duration
	VerifyTimeout time.Duration
	Confirmations map[string]uint64 // Required depth per chain key
	Tolerance     decimal.Decimal   // Acceptable amount drift in coin units
}

// Matcher drives a submitted transfer to a terminal state by polling
// both the chain and the exchange. One matcher instance serves all
// transfers; each Match call owns one transfer.
type Matcher struct {
	exchange exchange.Client
	mapper   *assets.Mapper
	registry *chains.Registry
	cfg      MatcherConfig
	log      *logging.Logger
}

// NewMatcher creates a transaction matcher
func NewMatcher(ex exchange.Client, mapper *assets.Mapper, registry *chains.Registry, cfg MatcherConfig) *Matcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 30 * time.Minute
	}
	return &Matcher{
		exchange: ex,
		mapper:   mapper,
		registry: registry,
		cfg:      cfg,
		log:      logging.Default().WithComponent("matcher"),
	}
}

// Match verifies a submitted transfer until it reaches a terminal
// state. The result is mutated in place; its final state is always
// terminal when Match returns without error. Transient poll failures
// are retried until the verification budget runs out.
func (m *Matcher) Match(ctx context.Context, result *SettlementResult) error {
	mapping, err := m.mapper.ToExchange(result.ChainKey, result.TokenID)
	if err != nil {
		return err
	}

	// The budget is enforced by wall clock checks rather than a context
	// deadline so an exhausted budget lands in TIMED_OUT instead of a
	// context error
	deadline := time.Now().Add(m.cfg.VerifyTimeout)

	switch result.Kind {
	case KindDeposit:
		err = m.matchDeposit(ctx, result, mapping, deadline)
	case KindWithdrawal:
		err = m.matchWithdrawal(ctx, result, mapping, deadline)
	default:
		return fmt.Errorf("unknown transfer kind %q", result.Kind)
	}
	if err != nil {
		return err
	}

	result.CompletedAt = time.Now()
	m.log.Info("Verification finished",
		"cycle", result.CycleID, "chain", result.ChainKey, "asset", result.Asset,
		"kind", result.Kind, "state", result.State)
	return nil
}

// matchDeposit follows hot wallet funds onto the exchange: first the
// chain must confirm the transaction, then the exchange must credit it
func (m *Matcher) matchDeposit(ctx context.Context, result *SettlementResult, mapping assets.Mapping, deadline time.Time) error {
	adapter, err := m.registry.Get(result.ChainKey)
	if err != nil {
		return err
	}
	required := int64(m.cfg.Confirmations[result.ChainKey])

	verification := &VerificationDetails{State: StateConfirming}
	result.Verification = verification

	// Phase 1: chain confirmation
	status, err := m.awaitChain(ctx, adapter, result, required, deadline)
	if err != nil {
		return err
	}
	if TerminalState(result.State) {
		return nil
	}
	verification.Confirmations = status.Confirmations

	if !status.Success {
		m.finish(result, StateNotFound, "transaction failed on chain")
		return nil
	}

	// Phase 2: on-chain value check and exchange credit. Both legs are
	// polled; a transient failure of either is retried until the budget
	// runs out, and amounts are only compared after a successful read.
	verified := false
	for {
		if !verified {
			check, err := adapter.VerifyTransfer(ctx, result.TxRef, result.FromAddress, result.ToAddress, mapping.ToBaseUnits(result.Amount))
			if err != nil {
				m.log.Warn("Transfer verification poll failed", "cycle", result.CycleID, "tx", result.TxRef, "error", err)
			} else {
				verified = true
				verification.OnChainAmount = mapping.ToCoinUnits(check.ActualAmount)
				verification.Fee = mapping.ToCoinUnits(check.Fee)
				if !check.Verified {
					verification.Problems = append(verification.Problems, check.Problems...)
				}
				if check.ActualAmount.IsZero() {
					m.finish(result, StateNotFound, "transaction pays nothing to the deposit address")
					return nil
				}
			}
		}

		record, found, err := m.findDepositRecord(ctx, result, mapping.ExchangeAsset)
		if err == nil && found {
			verification.ExchangeAmount = record.Amount
			verification.CheckedAt = time.Now()
			switch {
			case !record.Settled():
				// Credited but not yet withdrawable; keep polling
			case !verified:
				// Exchange credited but the chain read has not landed
				// yet; keep polling rather than compare against zero
			case m.withinTolerance(result.Amount, record.Amount) && m.withinTolerance(result.Amount, verification.OnChainAmount):
				m.finish(result, StateMatched, "")
				return nil
			default:
				m.finish(result, StateAmountMismatch,
					fmt.Sprintf("expected %s, chain reports %s, exchange credited %s",
						result.Amount, verification.OnChainAmount, record.Amount))
				return nil
			}
		}
		if err != nil {
			m.log.Warn("Deposit history poll failed", "cycle", result.CycleID, "tx", result.TxRef, "error", err)
		}

		if time.Now().After(deadline) {
			if !verified {
				m.finish(result, StateTimedOut, "on-chain amount could not be verified within the verification budget")
			} else {
				m.finish(result, StateTimedOut, "exchange never credited the deposit within the verification budget")
			}
			return nil
		}
		if err := sleepCtx(ctx, m.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// matchWithdrawal follows exchange funds back to the hot wallet: the
// exchange must complete the payout and hand over a transaction
// reference, then the chain must confirm that transaction
func (m *Matcher) matchWithdrawal(ctx context.Context, result *SettlementResult, mapping assets.Mapping, deadline time.Time) error {
	adapter, err := m.registry.Get(result.ChainKey)
	if err != nil {
		return err
	}
	required := int64(m.cfg.Confirmations[result.ChainKey])

	verification := &VerificationDetails{State: StateConfirming}
	result.Verification = verification

	// Phase 1: exchange processing
	for result.TxRef == "" {
		record, err := m.exchange.GetWithdrawalStatus(ctx, mapping.ExchangeAsset, result.WithdrawalID)
		if err == nil {
			verification.ExchangeAmount = record.Amount
			verification.CheckedAt = time.Now()
			if record.Completed() && record.TxID != "" {
				result.TxRef = record.TxID
				result.State = StateConfirming
				break
			}
			if record.Terminal() {
				m.finish(result, StateNotFound, fmt.Sprintf("exchange finalized withdrawal with status %d and no transaction", record.Status))
				return nil
			}
		} else {
			m.log.Warn("Withdrawal status poll failed", "cycle", result.CycleID, "withdrawal_id", result.WithdrawalID, "error", err)
		}

		if time.Now().After(deadline) {
			m.finish(result, StateTimedOut, "exchange never completed the withdrawal within the verification budget")
			return nil
		}
		if err := sleepCtx(ctx, m.cfg.PollInterval); err != nil {
			return err
		}
	}

	// Phase 2: chain confirmation of the payout transaction
	status, err := m.awaitChain(ctx, adapter, result, required, deadline)
	if err != nil {
		return err
	}
	if TerminalState(result.State) {
		return nil
	}
	verification.Confirmations = status.Confirmations

	if !status.Success {
		m.finish(result, StateNotFound, "payout transaction failed on chain")
		return nil
	}

	// Transient read failures are retried on the remaining budget
	var check *chains.TransferCheck
	for {
		check, err = adapter.VerifyTransfer(ctx, result.TxRef, "", result.ToAddress, mapping.ToBaseUnits(result.Amount))
		if err == nil {
			break
		}
		m.log.Warn("Payout verification poll failed", "cycle", result.CycleID, "tx", result.TxRef, "error", err)
		if time.Now().After(deadline) {
			m.finish(result, StateTimedOut, "payout transaction could not be inspected within the verification budget")
			return nil
		}
		if err := sleepCtx(ctx, m.cfg.PollInterval); err != nil {
			return err
		}
	}
	verification.OnChainAmount = mapping.ToCoinUnits(check.ActualAmount)
	verification.Fee = mapping.ToCoinUnits(check.Fee)
	verification.CheckedAt = time.Now()

	if check.ActualAmount.IsZero() {
		m.finish(result, StateNotFound, "payout transaction pays nothing to the hot wallet")
		return nil
	}

	// Exchanges commonly deduct the network fee from the payout; the
	// received amount may undershoot by up to the fee plus tolerance
	received := verification.OnChainAmount
	floor := result.Amount.Sub(verification.Fee).Sub(m.cfg.Tolerance)
	ceiling := result.Amount.Add(m.cfg.Tolerance)
	if received.GreaterThanOrEqual(floor) && received.LessThanOrEqual(ceiling) {
		m.finish(result, StateMatched, "")
		return nil
	}
	m.finish(result, StateAmountMismatch,
		fmt.Sprintf("expected %s less fees, hot wallet received %s", result.Amount, received))
	return nil
}

// awaitChain drives the shared confirmation poll while mirroring chain
// progress onto the result. Transient errors and absence are retried;
// a budget overrun sets TIMED_OUT, a transaction never observed at all
// sets NOT_FOUND.
func (m *Matcher) awaitChain(ctx context.Context, adapter chains.Adapter, result *SettlementResult, required int64, deadline time.Time) (*chains.TxStatus, error) {
	status, err := chains.WaitForStatus(ctx, adapter, result.TxRef, required, m.cfg.PollInterval, time.Until(deadline), func(st *chains.TxStatus) {
		result.State = StateConfirming
		if result.Verification != nil {
			result.Verification.Confirmations = st.Confirmations
			result.Verification.CheckedAt = time.Now()
		}
	})
	if err != nil {
		if errors.Is(err, chains.ErrConfirmationTimeout) {
			if result.State == StateSubmitted {
				m.finish(result, StateNotFound, "transaction never appeared on chain")
			} else {
				m.finish(result, StateTimedOut, "confirmation depth not reached within the verification budget")
			}
			return &chains.TxStatus{}, nil
		}
		return nil, err
	}
	return status, nil
}

// findDepositRecord scans recent exchange deposit history for the
// transaction reference of this transfer
func (m *Matcher) findDepositRecord(ctx context.Context, result *SettlementResult, asset string) (*exchange.DepositRecord, bool, error) {
	start := result.SubmittedAt.Add(-10 * time.Minute)
	records, err := m.exchange.GetDepositHistory(ctx, asset, start, time.Now())
	if err != nil {
		return nil, false, err
	}
	for i := range records {
		if records[i].TxID == result.TxRef {
			return &records[i], true, nil
		}
	}
	return nil, false, nil
}

func (m *Matcher) withinTolerance(expected, actual decimal.Decimal) bool {
	return expected.Sub(actual).Abs().LessThanOrEqual(m.cfg.Tolerance)
}

// finish stamps a terminal state onto the result
func (m *Matcher) finish(result *SettlementResult, state, detail string) {
	result.State = state
	if result.Verification != nil {
		result.Verification.State = state
		result.Verification.CheckedAt = time.Now()
		if detail != "" {
			result.Verification.Problems = append(result.Verification.Problems, detail)
		}
	}
	if state != StateMatched && detail != "" {
		result.Error = detail
	}
}

// sleepCtx waits for the poll interval or context cancellation
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
