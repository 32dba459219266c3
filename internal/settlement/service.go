package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hotwallet-settlement/config"
	"hotwallet-settlement/internal/assets"
	"hotwallet-settlement/internal/chains"
	"hotwallet-settlement/internal/events"
	"hotwallet-settlement/internal/exchange"
	"hotwallet-settlement/internal/logging"
	"hotwallet-settlement/internal/notification"
)

// Service orchestrates one settlement cycle end to end: it reads both
// ledgers, plans the rebalance per asset, executes the transfers, and
// verifies every transfer to a terminal state.
type Service struct {
	cfg        config.SettlementConfig
	chainCfgs  map[string]config.ChainConfig
	exchange   exchange.Client
	mapper     *assets.Mapper
	registry   *chains.Registry
	calculator *Calculator
	executor   *Executor
	matcher    *Matcher
	reporter   *Reporter
	store      Store
	bus        *events.EventBus
	notifier   *notification.Manager
	log        *logging.Logger

	mu      sync.Mutex
	running bool
}

// ServiceDeps bundles the orchestrator's collaborators
type ServiceDeps struct {
	Exchange   exchange.Client
	Mapper     *assets.Mapper
	Registry   *chains.Registry
	Calculator *Calculator
	Executor   *Executor
	Matcher    *Matcher
	Reporter   *Reporter
	Store      Store
	Bus        *events.EventBus
	Notifier   *notification.Manager
}

// NewService creates the settlement orchestrator
func NewService(cfg config.SettlementConfig, chainCfgs []config.ChainConfig, deps ServiceDeps) *Service {
	byKey := make(map[string]config.ChainConfig, len(chainCfgs))
	for _, c := range chainCfgs {
		byKey[c.ChainKey] = c
	}
	return &Service{
		cfg:        cfg,
		chainCfgs:  byKey,
		exchange:   deps.Exchange,
		mapper:     deps.Mapper,
		registry:   deps.Registry,
		calculator: deps.Calculator,
		executor:   deps.Executor,
		matcher:    deps.Matcher,
		reporter:   deps.Reporter,
		store:      deps.Store,
		bus:        deps.Bus,
		notifier:   deps.Notifier,
		log:        logging.Default().WithComponent("settlement"),
	}
}

// IsRunning reports whether a cycle is currently executing
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunCycle executes one full settlement cycle. Only one cycle may run
// at a time; a second call while one is active fails fast.
func (s *Service) RunCycle(ctx context.Context) (*ReconciliationReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrCycleInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	cycleID := uuid.New().String()
	startedAt := time.Now()
	s.log.Info("Settlement cycle starting", "cycle", cycleID)
	s.bus.Publish(events.EventCycleStarted, map[string]any{"cycle_id": cycleID})

	// Step 1: confirm the exchange account is usable before touching funds
	enabled, err := s.exchange.IsAPIEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("error checking exchange API status: %w", err)
	}
	if !enabled {
		s.notifier.Emit(fmt.Sprintf("Settlement cycle %s aborted: exchange API disabled", cycleID), notification.SeverityCritical)
		return nil, ErrAPIDisabled
	}

	// Step 2: plan a rebalance for every configured exchange asset
	var (
		results []*SettlementResult
		pairs   int
	)
	plans := make([]*RebalancePlan, 0)
	for _, asset := range s.mapper.Assets() {
		plan, skipped, examined, err := s.planAsset(ctx, cycleID, asset)
		pairs += examined
		if err != nil {
			// One asset failing to plan must not sink the others, but
			// the failure still belongs in the cycle report
			s.log.Error("Planning failed", "cycle", cycleID, "asset", asset, "error", err)
			s.bus.Publish(events.EventError, map[string]any{"cycle_id": cycleID, "asset": asset, "error": err.Error()})
			results = append(results, s.planningFailedResult(cycleID, asset, err))
			continue
		}
		results = append(results, skipped...)
		if plan != nil {
			plans = append(plans, plan)
		}
	}

	// Step 3: execute and verify all allocations with bounded concurrency
	results = append(results, s.runTransfers(ctx, cycleID, plans)...)

	// Step 4: reconcile and persist the cycle report
	report := s.reporter.Build(cycleID, startedAt, pairs, results)
	if err := s.store.SaveReconciliationReport(ctx, report); err != nil {
		s.log.Error("Failed to persist reconciliation report", "cycle", cycleID, "error", err)
	}
	s.reporter.Publish(report)

	s.log.Info("Settlement cycle finished",
		"cycle", cycleID, "pairs", pairs, "transfers", report.Transfers,
		"matched", report.Matched, "skipped", report.Skipped, "failed", report.Failed,
		"duration", time.Since(startedAt))
	s.bus.Publish(events.EventCycleCompleted, report)
	return report, nil
}

// planAsset reads both ledgers for one exchange asset and produces a
// rebalance plan. Skipped plans come back as skipped results so the
// report accounts for them.
func (s *Service) planAsset(ctx context.Context, cycleID, asset string) (*RebalancePlan, []*SettlementResult, int, error) {
	mappings := s.mapper.MappingsForAsset(asset)
	if len(mappings) == 0 {
		return nil, nil, 0, fmt.Errorf("no chain mappings for asset %s", asset)
	}

	wallets, err := s.collectWalletBalances(ctx, mappings)
	if err != nil {
		return nil, nil, len(mappings), err
	}

	balance, err := s.exchange.GetAssetBalance(ctx, asset)
	if err != nil {
		return nil, nil, len(mappings), fmt.Errorf("error fetching exchange balance for %s: %w", asset, err)
	}
	exchangeBalance := decimal.Zero
	if balance != nil {
		exchangeBalance = balance.Free
	}

	now := time.Now()
	for _, w := range wallets {
		s.bus.Publish(events.EventBalancesObserved, BalanceObservation{
			CycleID:         cycleID,
			ChainKey:        w.ChainKey,
			Asset:           asset,
			WalletBalance:   w.Balance,
			ExchangeBalance: exchangeBalance,
			ObservedAt:      now,
		})
	}

	plan, err := s.calculator.Plan(PlanRequest{
		Asset:           asset,
		Decimals:        mappings[0].Decimals,
		Wallets:         wallets,
		ExchangeBalance: exchangeBalance,
	})
	if err != nil {
		return nil, nil, len(mappings), err
	}

	if plan.Skipped {
		s.log.Info("Rebalance skipped", "cycle", cycleID, "asset", asset, "reason", plan.SkipReason)
		s.bus.Publish(events.EventTransferSkipped, map[string]any{"cycle_id": cycleID, "asset": asset, "reason": plan.SkipReason})
		skipped := &SettlementResult{
			ID:          uuid.New().String(),
			CycleID:     cycleID,
			Asset:       asset,
			Kind:        plan.Kind,
			Amount:      plan.Amount,
			Skipped:     true,
			SkipReason:  plan.SkipReason,
			SubmittedAt: time.Now(),
			CompletedAt: time.Now(),
		}
		if err := s.store.SaveSettlementResult(ctx, skipped); err != nil {
			s.log.Error("Failed to persist skipped result", "cycle", cycleID, "asset", asset, "error", err)
		}
		return nil, []*SettlementResult{skipped}, len(mappings), nil
	}

	s.log.Info("Rebalance planned",
		"cycle", cycleID, "asset", asset, "kind", plan.Kind,
		"amount", plan.Amount, "allocations", len(plan.Allocations))
	return plan, nil, len(mappings), nil
}

// collectWalletBalances reads every mapped hot wallet with bounded
// concurrency, converting base units to coin units
func (s *Service) collectWalletBalances(ctx context.Context, mappings []assets.Mapping) ([]WalletBalance, error) {
	limit := s.cfg.BalanceQueryLimit
	if limit <= 0 {
		limit = 4
	}

	type indexed struct {
		idx    int
		wallet WalletBalance
		err    error
	}

	out := make(chan indexed, len(mappings))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, mapping := range mappings {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, mapping assets.Mapping) {
			defer wg.Done()
			defer func() { <-sem }()

			adapter, err := s.registry.Get(mapping.ChainKey)
			if err != nil {
				out <- indexed{idx: i, err: err}
				return
			}
			baseUnits, err := adapter.GetHotWalletBalance(ctx)
			if err != nil {
				out <- indexed{idx: i, err: fmt.Errorf("error reading hot wallet on %s: %w", mapping.ChainKey, err)}
				return
			}

			out <- indexed{idx: i, wallet: WalletBalance{
				ChainKey: mapping.ChainKey,
				TokenID:  mapping.TokenID,
				Address:  adapter.HotWalletAddress(),
				Balance:  mapping.ToCoinUnits(baseUnits),
				Reserve:  s.chainCfgs[mapping.ChainKey].Reserve,
			}}
		}(i, mapping)
	}
	wg.Wait()
	close(out)

	wallets := make([]WalletBalance, len(mappings))
	for res := range out {
		if res.err != nil {
			return nil, res.err
		}
		wallets[res.idx] = res.wallet
	}
	return wallets, nil
}

// runTransfers executes every allocation of every plan with a shared
// concurrency limit. A panic or failure in one transfer never disturbs
// the others.
func (s *Service) runTransfers(ctx context.Context, cycleID string, plans []*RebalancePlan) []*SettlementResult {
	type job struct {
		kind  string
		alloc Allocation
	}
	var jobs []job
	for _, plan := range plans {
		for _, alloc := range plan.Allocations {
			jobs = append(jobs, job{kind: plan.Kind, alloc: alloc})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	limit := s.cfg.MaxConcurrent
	if limit <= 0 {
		limit = 2
	}

	results := make([]*SettlementResult, len(jobs))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, j := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, j job) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("Panic recovered in transfer", "cycle", cycleID, "chain", j.alloc.ChainKey, "panic", fmt.Sprint(r))
					results[i] = s.failedResult(cycleID, j.kind, j.alloc, fmt.Errorf("panic: %v", r))
				}
			}()

			results[i] = s.runTransfer(ctx, cycleID, j.kind, j.alloc)
		}(i, j)
	}
	wg.Wait()
	return results
}

// runTransfer submits and verifies a single allocation
func (s *Service) runTransfer(ctx context.Context, cycleID, kind string, alloc Allocation) *SettlementResult {
	result, err := s.executor.Execute(ctx, cycleID, kind, alloc)
	if err != nil {
		if errors.Is(err, ErrBreakerOpen) {
			s.log.Warn("Transfer skipped, endpoint breaker open",
				"cycle", cycleID, "chain", alloc.ChainKey, "kind", kind)
			return s.skippedResult(cycleID, kind, alloc, err.Error())
		}
		s.log.Error("Transfer submission failed",
			"cycle", cycleID, "chain", alloc.ChainKey, "kind", kind, "error", err)
		s.bus.Publish(events.EventError, map[string]any{"cycle_id": cycleID, "chain": alloc.ChainKey, "error": err.Error()})
		s.notifier.Emit(
			fmt.Sprintf("Transfer submission failed: %s on %s: %v", kind, alloc.ChainKey, err),
			notification.SeverityCritical)
		return s.failedResult(cycleID, kind, alloc, err)
	}

	if err := s.store.SaveSettlementResult(ctx, result); err != nil {
		s.log.Error("Failed to persist submitted transfer", "cycle", cycleID, "id", result.ID, "error", err)
	}
	s.bus.Publish(events.EventTransferSubmitted, result)

	if err := s.matcher.Match(ctx, result); err != nil {
		// Verification itself erroring (not a terminal mismatch) leaves
		// the transfer in an unknown state; flag it loudly
		result.Error = err.Error()
		if !TerminalState(result.State) {
			result.State = StateTimedOut
		}
		result.CompletedAt = time.Now()
		s.bus.Publish(events.EventVerificationFailed, result)
		s.notifier.Emit(
			fmt.Sprintf("Verification error for %s %s on %s (tx %s): %v", kind, result.Asset, alloc.ChainKey, result.TxRef, err),
			notification.SeverityCritical)
	} else if result.State == StateMatched {
		s.bus.Publish(events.EventTransferVerified, result)
	} else {
		s.bus.Publish(events.EventVerificationFailed, result)
		s.notifier.Emit(
			fmt.Sprintf("Verification failed for %s %s on %s (tx %s): %s: %s",
				kind, result.Asset, alloc.ChainKey, result.TxRef, result.State, result.Error),
			notification.SeverityCritical)
	}

	if err := s.store.UpdateSettlementResult(ctx, result); err != nil {
		s.log.Error("Failed to persist transfer outcome", "cycle", cycleID, "id", result.ID, "error", err)
	}
	return result
}

// skippedResult records an allocation deliberately not executed
func (s *Service) skippedResult(cycleID, kind string, alloc Allocation, reason string) *SettlementResult {
	result := &SettlementResult{
		ID:          uuid.New().String(),
		CycleID:     cycleID,
		ChainKey:    alloc.ChainKey,
		TokenID:     alloc.TokenID,
		Kind:        kind,
		Amount:      alloc.Amount,
		Skipped:     true,
		SkipReason:  reason,
		SubmittedAt: time.Now(),
		CompletedAt: time.Now(),
	}
	if mapping, mErr := s.mapper.ToExchange(alloc.ChainKey, alloc.TokenID); mErr == nil {
		result.Asset = mapping.ExchangeAsset
	}
	s.bus.Publish(events.EventTransferSkipped, result)
	if sErr := s.store.SaveSettlementResult(context.Background(), result); sErr != nil {
		s.log.Error("Failed to persist skipped transfer", "cycle", cycleID, "id", result.ID, "error", sErr)
	}
	return result
}

// planningFailedResult records an asset whose ledgers could not be read
// or planned, so the failure surfaces in the cycle report
func (s *Service) planningFailedResult(cycleID, asset string, err error) *SettlementResult {
	result := &SettlementResult{
		ID:          uuid.New().String(),
		CycleID:     cycleID,
		Asset:       asset,
		State:       StateNotFound,
		Error:       err.Error(),
		SubmittedAt: time.Now(),
		CompletedAt: time.Now(),
	}
	if sErr := s.store.SaveSettlementResult(context.Background(), result); sErr != nil {
		s.log.Error("Failed to persist planning failure", "cycle", cycleID, "asset", asset, "error", sErr)
	}
	return result
}

// failedResult records an allocation that never made it onto either ledger
func (s *Service) failedResult(cycleID, kind string, alloc Allocation, err error) *SettlementResult {
	result := &SettlementResult{
		ID:          uuid.New().String(),
		CycleID:     cycleID,
		ChainKey:    alloc.ChainKey,
		TokenID:     alloc.TokenID,
		Kind:        kind,
		Amount:      alloc.Amount,
		State:       StateNotFound,
		Error:       err.Error(),
		SubmittedAt: time.Now(),
		CompletedAt: time.Now(),
	}
	if mapping, mErr := s.mapper.ToExchange(alloc.ChainKey, alloc.TokenID); mErr == nil {
		result.Asset = mapping.ExchangeAsset
	}
	if sErr := s.store.SaveSettlementResult(context.Background(), result); sErr != nil {
		s.log.Error("Failed to persist failed transfer", "cycle", cycleID, "id", result.ID, "error", sErr)
	}
	return result
}
