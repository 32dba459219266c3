package settlement

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hotwallet-settlement/internal/events"
	"hotwallet-settlement/internal/logging"
	"hotwallet-settlement/internal/notification"
)

// summaryEvery is the cycle count between periodic summary alerts
const summaryEvery = 10

// Reporter condenses a cycle's results into a reconciliation report
// and raises alerts for anything that needs an operator.
type Reporter struct {
	bus      *events.EventBus
	notifier *notification.Manager
	log      *logging.Logger

	mu             sync.Mutex
	cycles         int
	totalTransfers int
	totalMatched   int
}

// NewReporter creates a reconciliation reporter
func NewReporter(bus *events.EventBus, notifier *notification.Manager) *Reporter {
	return &Reporter{
		bus:      bus,
		notifier: notifier,
		log:      logging.Default().WithComponent("reporter"),
	}
}

// Build assembles the reconciliation report for one cycle
func (r *Reporter) Build(cycleID string, startedAt time.Time, pairs int, results []*SettlementResult) *ReconciliationReport {
	report := &ReconciliationReport{
		CycleID:        cycleID,
		StartedAt:      startedAt,
		CompletedAt:    time.Now(),
		PairsExamined:  pairs,
		TotalDeposited: make(map[string]decimal.Decimal),
		TotalWithdrawn: make(map[string]decimal.Decimal),
		Results:        results,
	}

	for _, result := range results {
		if result.Skipped {
			report.Skipped++
			continue
		}
		report.Transfers++

		switch result.State {
		case StateMatched:
			report.Matched++
			switch result.Kind {
			case KindDeposit:
				report.TotalDeposited[result.Asset] = report.TotalDeposited[result.Asset].Add(result.Amount)
			case KindWithdrawal:
				report.TotalWithdrawn[result.Asset] = report.TotalWithdrawn[result.Asset].Add(result.Amount)
			}
		default:
			report.Failed++
			report.Discrepancies = append(report.Discrepancies, r.discrepancy(result))
		}
	}
	return report
}

// discrepancy turns an unmatched result into a reconciliation finding
func (r *Reporter) discrepancy(result *SettlementResult) Discrepancy {
	d := Discrepancy{
		ChainKey: result.ChainKey,
		Asset:    result.Asset,
		Kind:     result.Kind,
		State:    result.State,
		Expected: result.Amount,
		TxRef:    result.TxRef,
	}
	if result.Verification != nil {
		if result.Kind == KindDeposit {
			d.Observed = result.Verification.ExchangeAmount
		} else {
			d.Observed = result.Verification.OnChainAmount
		}
	}

	switch result.State {
	case StateAmountMismatch:
		d.Description = fmt.Sprintf("%s of %s %s settled with %s observed", result.Kind, result.Amount, result.Asset, d.Observed)
	case StateNotFound:
		d.Description = fmt.Sprintf("%s of %s %s was never recorded: %s", result.Kind, result.Amount, result.Asset, result.Error)
	case StateTimedOut:
		d.Description = fmt.Sprintf("%s of %s %s unresolved after verification budget: %s", result.Kind, result.Amount, result.Asset, result.Error)
	default:
		d.Description = fmt.Sprintf("%s of %s %s failed: %s", result.Kind, result.Amount, result.Asset, result.Error)
	}
	return d
}

// Publish emits the report on the event bus and alerts on discrepancies.
// Every summaryEvery cycles it also emits a running match-rate summary.
func (r *Reporter) Publish(report *ReconciliationReport) {
	r.bus.Publish(events.EventReportGenerated, report)
	r.tally(report)

	if report.Clean() {
		r.log.Info("Reconciliation clean",
			"cycle", report.CycleID, "transfers", report.Transfers, "skipped", report.Skipped)
		return
	}

	for _, d := range report.Discrepancies {
		r.log.Warn("Reconciliation discrepancy",
			"cycle", report.CycleID, "chain", d.ChainKey, "asset", d.Asset,
			"state", d.State, "expected", d.Expected, "observed", d.Observed)
	}

	severity := notification.SeverityWarning
	for _, d := range report.Discrepancies {
		// Mismatched or vanished funds outrank a slow confirmation
		if d.State == StateAmountMismatch || d.State == StateNotFound {
			severity = notification.SeverityCritical
			break
		}
	}
	r.notifier.Emit(
		fmt.Sprintf("Settlement cycle %s finished with %d discrepancies (%d transfers, %d matched)",
			report.CycleID, len(report.Discrepancies), report.Transfers, report.Matched),
		severity)
	r.bus.Publish(events.EventAlertRaised, report.Discrepancies)
}

// tally folds a report into the running totals and emits the periodic
// summary when due
func (r *Reporter) tally(report *ReconciliationReport) {
	r.mu.Lock()
	r.cycles++
	r.totalTransfers += report.Transfers
	r.totalMatched += report.Matched
	cycles, transfers, matched := r.cycles, r.totalTransfers, r.totalMatched
	r.mu.Unlock()

	if cycles%summaryEvery != 0 {
		return
	}

	rate := 100.0
	if transfers > 0 {
		rate = float64(matched) / float64(transfers) * 100
	}
	message := fmt.Sprintf("Settlement summary after %d cycles: %d/%d transfers matched (%.1f%%)",
		cycles, matched, transfers, rate)
	r.log.Info(message)
	r.notifier.Emit(message, notification.SeverityInfo)
}
