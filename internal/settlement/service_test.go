package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hotwallet-settlement/config"
	"hotwallet-settlement/internal/assets"
	"hotwallet-settlement/internal/chains"
	"hotwallet-settlement/internal/circuit"
	"hotwallet-settlement/internal/events"
	"hotwallet-settlement/internal/exchange"
	"hotwallet-settlement/internal/notification"
	"hotwallet-settlement/internal/wallet"
)

// testHarness wires a full settlement stack against fakes
type testHarness struct {
	service  *Service
	exchange *exchange.MockClient
	store    *memoryStore
	bus      *events.EventBus
	breakers *circuit.Registry
	adapters map[string]*fakeAdapter
	signers  map[string]*fakeSigner
	alerts   *recordingNotifier
}

func newHarness(t *testing.T, adapters []*fakeAdapter) *testHarness {
	t.Helper()

	registry := chains.NewRegistry()
	signerReg := wallet.NewRegistry()
	byKey := make(map[string]*fakeAdapter)
	signers := make(map[string]*fakeSigner)
	var chainCfgs []config.ChainConfig
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			t.Fatalf("failed to register adapter: %v", err)
		}
		byKey[a.chainKey] = a
		signer := &fakeSigner{address: a.hotWallet}
		signers[a.chainKey] = signer
		signerReg.Register(a.chainKey, signer)
		chainCfgs = append(chainCfgs, config.ChainConfig{ChainKey: a.chainKey})
	}

	ex := exchange.NewMockClient()
	mapper := mapperFor(t, adapters)
	breakers := circuit.NewRegistry(&circuit.BreakerConfig{Enabled: true, FailureLimit: 100, Cooldown: time.Minute})
	bus := events.NewEventBus()
	notifier := notification.NewManager()
	alerts := &recordingNotifier{}
	notifier.AddNotifier(alerts)
	store := &memoryStore{}

	cfg := config.SettlementConfig{
		MinimumAmount:     dec("0.001"),
		PollInterval:      time.Millisecond,
		VerifyTimeout:     time.Second,
		MaxConcurrent:     2,
		BalanceQueryLimit: 2,
	}
	matcher := NewMatcher(ex, mapper, registry, MatcherConfig{
		PollInterval:  time.Millisecond,
		VerifyTimeout: time.Second,
		Confirmations: map[string]uint64{"BTC": 1, "ETH": 1, "SOL": 1},
		Tolerance:     decimal.Zero,
	})

	service := NewService(cfg, chainCfgs, ServiceDeps{
		Exchange:   ex,
		Mapper:     mapper,
		Registry:   registry,
		Calculator: NewCalculator(cfg.MinimumAmount),
		Executor:   NewExecutor(ex, mapper, registry, signerReg, breakers),
		Matcher:    matcher,
		Reporter:   NewReporter(bus, notifier),
		Store:      store,
		Bus:        bus,
		Notifier:   notifier,
	})

	return &testHarness{
		service:  service,
		exchange: ex,
		store:    store,
		bus:      bus,
		breakers: breakers,
		adapters: byKey,
		signers:  signers,
		alerts:   alerts,
	}
}

// mapperFor builds an asset mapper covering exactly the harness adapters,
// so unmapped chains do not surface as planning failures
func mapperFor(t *testing.T, adapters []*fakeAdapter) *assets.Mapper {
	t.Helper()
	decimals := map[string]int32{"BTC": 8, "ETH": 18, "SOL": 9}
	var cfgs []config.AssetConfig
	for _, a := range adapters {
		cfgs = append(cfgs, config.AssetConfig{
			ChainKey:        a.chainKey,
			TokenID:         a.chainKey,
			ExchangeAsset:   a.chainKey,
			ExchangeNetwork: a.chainKey,
			Decimals:        decimals[a.chainKey],
		})
	}
	mapper, err := assets.NewMapper(cfgs)
	if err != nil {
		t.Fatalf("failed to build mapper: %v", err)
	}
	return mapper
}

// confirmDepositsAsTheyAppear mirrors submitted transfers into the
// exchange's deposit history so the matcher can find them
func (h *testHarness) confirmDepositsAsTheyAppear(asset string, amount decimal.Decimal) {
	h.bus.Subscribe(events.EventTransferSubmitted, func(e events.Event) {
		result, ok := e.Data.(*SettlementResult)
		if !ok || result.Kind != KindDeposit || result.Asset != asset {
			return
		}
		h.exchange.AddDepositRecord(exchange.DepositRecord{
			Asset:      asset,
			TxID:       result.TxRef,
			Amount:     amount,
			Status:     exchange.DepositStatusSuccess,
			InsertTime: time.Now(),
		})
	})
}

func confirmedAdapter(chainKey, hotWallet string, base decimal.Decimal) *fakeAdapter {
	return &fakeAdapter{
		chainKey:  chainKey,
		hotWallet: hotWallet,
		balance:   base,
		statuses: []chains.TxStatus{
			{Found: true, Confirmed: true, Success: true, Confirmations: 10},
		},
	}
}

// TestRunCycleDepositEndToEnd walks one asset through plan, execute,
// confirm and reconcile
func TestRunCycleDepositEndToEnd(t *testing.T) {
	// Hot wallet 10 BTC in satoshis, exchange 4 BTC: deposit 3
	h := newHarness(t, []*fakeAdapter{
		confirmedAdapter("BTC", "bc1hot", dec("1000000000")),
	})
	h.exchange.SetBalance("BTC", dec("4"), decimal.Zero)
	h.exchange.SetDepositAddress("BTC", "BTC", "bc1deposit")
	h.confirmDepositsAsTheyAppear("BTC", dec("3"))

	report, err := h.service.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if report.Transfers != 1 || report.Matched != 1 {
		t.Fatalf("expected 1 matched transfer, got %d transfers, %d matched", report.Transfers, report.Matched)
	}
	if !report.TotalDeposited["BTC"].Equal(dec("3")) {
		t.Errorf("expected 3 BTC deposited, got %s", report.TotalDeposited["BTC"])
	}
	if !report.Clean() {
		t.Errorf("expected clean report, discrepancies: %+v", report.Discrepancies)
	}

	// The signer was asked to move exactly 3 BTC in base units
	calls := h.signers["BTC"].Calls
	if len(calls) != 1 {
		t.Fatalf("expected 1 signer call, got %d", len(calls))
	}
	if !calls[0].Value.Equal(dec("300000000")) {
		t.Errorf("expected 300000000 satoshis, got %s", calls[0].Value)
	}
	if calls[0].To != "bc1deposit" {
		t.Errorf("expected transfer to deposit address, got %s", calls[0].To)
	}
}

// TestRunCycleWithdrawalEndToEnd verifies the exchange-to-wallet path
func TestRunCycleWithdrawalEndToEnd(t *testing.T) {
	// Hot wallet 2 ETH in wei, exchange 8 ETH: withdraw 3
	h := newHarness(t, []*fakeAdapter{
		confirmedAdapter("ETH", "0xhot", dec("2000000000000000000")),
	})
	h.exchange.SetBalance("ETH", dec("8"), decimal.Zero)

	// Complete withdrawals as soon as they are requested
	h.bus.Subscribe(events.EventTransferSubmitted, func(e events.Event) {
		result, ok := e.Data.(*SettlementResult)
		if !ok || result.Kind != KindWithdrawal {
			return
		}
		h.exchange.SetWithdrawalStatus(result.WithdrawalID, exchange.WithdrawalStatusCompleted, "0xpayout")
	})

	report, err := h.service.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if report.Matched != 1 {
		t.Fatalf("expected 1 matched withdrawal, got %d (discrepancies: %+v)", report.Matched, report.Discrepancies)
	}
	if !report.TotalWithdrawn["ETH"].Equal(dec("3")) {
		t.Errorf("expected 3 ETH withdrawn, got %s", report.TotalWithdrawn["ETH"])
	}
	if len(h.exchange.WithdrawCalls) != 1 || h.exchange.WithdrawCalls[0].Address != "0xhot" {
		t.Errorf("expected withdrawal to hot wallet, got %+v", h.exchange.WithdrawCalls)
	}
}

// TestRunCyclePartialFailureIsolation verifies one broken chain leaves
// the other assets' transfers untouched
func TestRunCyclePartialFailureIsolation(t *testing.T) {
	btc := confirmedAdapter("BTC", "bc1hot", dec("1000000000")) // 10 BTC
	eth := confirmedAdapter("ETH", "0xhot", dec("10000000000000000000"))
	sol := confirmedAdapter("SOL", "solhot", dec("10000000000")) // 10 SOL
	eth.balanceErr = errors.New("rpc node down")

	h := newHarness(t, []*fakeAdapter{btc, eth, sol})
	h.exchange.SetBalance("BTC", dec("4"), decimal.Zero)
	h.exchange.SetBalance("ETH", dec("4"), decimal.Zero)
	h.exchange.SetBalance("SOL", dec("4"), decimal.Zero)
	h.exchange.SetDepositAddress("BTC", "BTC", "bc1deposit")
	h.exchange.SetDepositAddress("SOL", "SOL", "soldeposit")
	h.confirmDepositsAsTheyAppear("BTC", dec("3"))
	h.confirmDepositsAsTheyAppear("SOL", dec("3"))

	report, err := h.service.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	// ETH planning failed; BTC and SOL still settled
	if report.Matched != 2 {
		t.Errorf("expected 2 matched transfers despite ETH failure, got %d", report.Matched)
	}
	for _, result := range report.Results {
		if result.ChainKey == "ETH" && !result.Skipped {
			t.Errorf("no ETH transfer should have been attempted: %+v", result)
		}
	}
}

// TestRunCycleSkipsBelowFloor verifies a near-balanced asset produces a
// skip record and no transfer
func TestRunCycleSkipsBelowFloor(t *testing.T) {
	// 5.0001 BTC hot vs 5 BTC exchange: imbalance under the floor
	h := newHarness(t, []*fakeAdapter{
		confirmedAdapter("BTC", "bc1hot", dec("500010000")),
	})
	h.exchange.SetBalance("BTC", dec("5"), decimal.Zero)

	report, err := h.service.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if report.Transfers != 0 {
		t.Errorf("expected no transfers, got %d", report.Transfers)
	}
	if report.Skipped != 1 {
		t.Errorf("expected 1 skip record, got %d", report.Skipped)
	}
	if len(h.signers["BTC"].Calls) != 0 {
		t.Error("no funds should have moved")
	}
}

// TestRunCycleAbortsWhenAPIDisabled verifies nothing moves when the
// exchange account has lost API permissions
func TestRunCycleAbortsWhenAPIDisabled(t *testing.T) {
	h := newHarness(t, []*fakeAdapter{
		confirmedAdapter("BTC", "bc1hot", dec("1000000000")),
	})
	h.exchange.SetAPIEnabled(false)

	_, err := h.service.RunCycle(context.Background())
	if !errors.Is(err, ErrAPIDisabled) {
		t.Errorf("expected ErrAPIDisabled, got %v", err)
	}
	if len(h.signers["BTC"].Calls) != 0 {
		t.Error("no funds should have moved")
	}
}

// TestRunCycleRejectsConcurrentCycles verifies mutual exclusion between
// overlapping cycle requests
func TestRunCycleRejectsConcurrentCycles(t *testing.T) {
	h := newHarness(t, []*fakeAdapter{
		confirmedAdapter("BTC", "bc1hot", dec("1000000000")),
	})
	h.exchange.SetBalance("BTC", dec("4"), decimal.Zero)
	h.exchange.SetDepositAddress("BTC", "BTC", "bc1deposit")

	// First cycle blocks in verification because the deposit is never
	// credited quickly; start it and race a second one
	release := make(chan struct{})
	h.bus.Subscribe(events.EventTransferSubmitted, func(e events.Event) {
		result, ok := e.Data.(*SettlementResult)
		if !ok {
			return
		}
		go func() {
			<-release
			h.exchange.AddDepositRecord(exchange.DepositRecord{
				Asset: "BTC", TxID: result.TxRef, Amount: dec("3"),
				Status: exchange.DepositStatusSuccess, InsertTime: time.Now(),
			})
		}()
	})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = h.service.RunCycle(context.Background())
	}()

	// Wait for the first cycle to take the lock
	for i := 0; i < 100 && !h.service.IsRunning(); i++ {
		time.Sleep(time.Millisecond)
	}
	if !h.service.IsRunning() {
		t.Fatal("first cycle never started")
	}

	_, err := h.service.RunCycle(context.Background())
	if !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("expected ErrCycleInProgress, got %v", err)
	}

	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first cycle failed: %v", firstErr)
	}
}

// TestRunCycleRecordsMismatchDiscrepancy verifies an exchange credit
// that disagrees with the submitted amount surfaces in the report
func TestRunCycleRecordsMismatchDiscrepancy(t *testing.T) {
	h := newHarness(t, []*fakeAdapter{
		confirmedAdapter("BTC", "bc1hot", dec("1000000000")),
	})
	h.exchange.SetBalance("BTC", dec("4"), decimal.Zero)
	h.exchange.SetDepositAddress("BTC", "BTC", "bc1deposit")
	h.confirmDepositsAsTheyAppear("BTC", dec("2.5")) // Short credit

	report, err := h.service.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if report.Failed != 1 || len(report.Discrepancies) != 1 {
		t.Fatalf("expected 1 discrepancy, got failed=%d discrepancies=%d", report.Failed, len(report.Discrepancies))
	}
	d := report.Discrepancies[0]
	if d.State != StateAmountMismatch {
		t.Errorf("expected AMOUNT_MISMATCH discrepancy, got %s", d.State)
	}
	if !d.Expected.Equal(dec("3")) || !d.Observed.Equal(dec("2.5")) {
		t.Errorf("expected 3 vs 2.5, got %s vs %s", d.Expected, d.Observed)
	}
}

// TestRunCyclePersistsOutcomes verifies results and the report reach
// the store
func TestRunCyclePersistsOutcomes(t *testing.T) {
	h := newHarness(t, []*fakeAdapter{
		confirmedAdapter("BTC", "bc1hot", dec("1000000000")),
	})
	h.exchange.SetBalance("BTC", dec("4"), decimal.Zero)
	h.exchange.SetDepositAddress("BTC", "BTC", "bc1deposit")
	h.confirmDepositsAsTheyAppear("BTC", dec("3"))

	if _, err := h.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	history, _ := h.store.SettlementHistory(context.Background(), 10, 0)
	if len(history) != 1 {
		t.Fatalf("expected 1 persisted result, got %d", len(history))
	}
	if history[0].State != StateMatched {
		t.Errorf("persisted result should carry the terminal state, got %s", history[0].State)
	}
	reports, _ := h.store.RecentReports(context.Background(), 10)
	if len(reports) != 1 {
		t.Errorf("expected 1 persisted report, got %d", len(reports))
	}
}

// TestRunCycleOpenBreakerSkipsTransfer verifies an open exchange breaker
// turns the planned transfer into a recorded skip instead of a failure
func TestRunCycleOpenBreakerSkipsTransfer(t *testing.T) {
	h := newHarness(t, []*fakeAdapter{
		confirmedAdapter("ETH", "0xhot", dec("2000000000000000000")),
	})
	h.exchange.SetBalance("ETH", dec("8"), decimal.Zero)

	breaker := h.breakers.Get("exchange")
	for i := 0; i < 100; i++ {
		breaker.RecordFailure("exchange unreachable")
	}
	if breaker.State() != circuit.StateOpen {
		t.Fatalf("expected open breaker, got %s", breaker.State())
	}

	report, err := h.service.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if report.Transfers != 0 {
		t.Errorf("expected no executed transfers, got %d", report.Transfers)
	}
	if report.Skipped != 1 {
		t.Fatalf("expected 1 skipped transfer, got %d", report.Skipped)
	}
	if len(h.exchange.WithdrawCalls) != 0 {
		t.Errorf("expected no withdrawal submitted, got %d", len(h.exchange.WithdrawCalls))
	}

	history, _ := h.store.SettlementHistory(context.Background(), 10, 0)
	if len(history) != 1 || !history[0].Skipped {
		t.Fatalf("expected the skip persisted, got %+v", history)
	}
	if history[0].SkipReason == "" {
		t.Error("expected a recorded skip reason")
	}
}

// TestRunCycleMismatchRaisesTransferAlert verifies a transfer ending in
// a non-matched terminal state produces its own alert, not just the
// cycle summary
func TestRunCycleMismatchRaisesTransferAlert(t *testing.T) {
	h := newHarness(t, []*fakeAdapter{
		confirmedAdapter("BTC", "bc1hot", dec("1000000000")),
	})
	h.exchange.SetBalance("BTC", dec("4"), decimal.Zero)
	h.exchange.SetDepositAddress("BTC", "BTC", "bc1deposit")
	h.confirmDepositsAsTheyAppear("BTC", dec("2.5")) // Short credit

	if _, err := h.service.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	var transferAlerts []string
	for _, a := range h.alerts.bySeverity(notification.SeverityCritical) {
		if strings.Contains(a.Message, "Verification failed") {
			transferAlerts = append(transferAlerts, a.Message)
		}
	}
	if len(transferAlerts) != 1 {
		t.Fatalf("expected 1 per-transfer alert, got %d: %v", len(transferAlerts), transferAlerts)
	}
	if !strings.Contains(transferAlerts[0], StateAmountMismatch) {
		t.Errorf("alert should carry the terminal state, got %q", transferAlerts[0])
	}
}

// TestRunCyclePlanningFailureIsReported verifies an unreadable ledger
// surfaces as a failed result in the cycle report instead of only a
// log line
func TestRunCyclePlanningFailureIsReported(t *testing.T) {
	eth := confirmedAdapter("ETH", "0xhot", dec("10000000000000000000"))
	eth.balanceErr = errors.New("rpc node down")

	h := newHarness(t, []*fakeAdapter{eth})
	h.exchange.SetBalance("ETH", dec("4"), decimal.Zero)

	report, err := h.service.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if report.Failed != 1 || len(report.Discrepancies) != 1 {
		t.Fatalf("expected the planning failure reported, got failed=%d discrepancies=%d",
			report.Failed, len(report.Discrepancies))
	}
	if report.Discrepancies[0].Asset != "ETH" {
		t.Errorf("expected the discrepancy tagged with the asset, got %q", report.Discrepancies[0].Asset)
	}

	history, _ := h.store.SettlementHistory(context.Background(), 10, 0)
	if len(history) != 1 {
		t.Fatalf("expected the failure persisted, got %d results", len(history))
	}
	if !strings.Contains(history[0].Error, "rpc node down") {
		t.Errorf("expected the cause recorded, got %q", history[0].Error)
	}
}
