package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"hotwallet-settlement/config"
	"hotwallet-settlement/internal/assets"
	"hotwallet-settlement/internal/chains"
	"hotwallet-settlement/internal/notification"
	"hotwallet-settlement/internal/wallet"
)

// fakeAdapter is a scriptable chain adapter for settlement tests
type fakeAdapter struct {
	mu        sync.Mutex
	chainKey  string
	hotWallet string
	balance   decimal.Decimal // base units

	statuses    []chains.TxStatus // returned in order, last repeats
	statusIdx   int
	statusErr   error
	verify      *chains.TransferCheck
	verifyErr   error // Permanent VerifyTransfer failure
	verifyFails int   // Transient VerifyTransfer failures before success
	balanceErr  error
}

func (f *fakeAdapter) ChainKey() string         { return f.chainKey }
func (f *fakeAdapter) HotWalletAddress() string { return f.hotWallet }

func (f *fakeAdapter) GetHotWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	if f.balanceErr != nil {
		return decimal.Zero, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeAdapter) GetAddressBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return f.balance, f.balanceErr
}

func (f *fakeAdapter) GetTransactionStatus(ctx context.Context, ref string) (*chains.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if len(f.statuses) == 0 {
		return &chains.TxStatus{}, nil
	}
	idx := f.statusIdx
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.statusIdx++
	st := f.statuses[idx]
	return &st, nil
}

func (f *fakeAdapter) GetTransactionDetails(ctx context.Context, ref string) (*chains.TxDetails, error) {
	return &chains.TxDetails{}, nil
}

func (f *fakeAdapter) VerifyTransfer(ctx context.Context, ref, from, to string, amount decimal.Decimal) (*chains.TransferCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyFails > 0 {
		f.verifyFails--
		return nil, fmt.Errorf("connection reset by peer")
	}
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	if f.verify != nil {
		return f.verify, nil
	}
	return &chains.TransferCheck{Verified: true, ActualAmount: amount}, nil
}

func (f *fakeAdapter) GetAddressBalanceChange(ctx context.Context, ref, address string) (*chains.BalanceChange, error) {
	return &chains.BalanceChange{}, nil
}

func (f *fakeAdapter) ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("empty address")
	}
	return nil
}

func (f *fakeAdapter) NormalizeAddress(address string) string { return address }

// fakeSigner records transfers and hands out sequential references
type fakeSigner struct {
	mu      sync.Mutex
	address string
	counter int
	err     error
	Calls   []wallet.TransferRequest
}

func (f *fakeSigner) Address() string { return f.address }

func (f *fakeSigner) Transfer(ctx context.Context, req wallet.TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.Calls = append(f.Calls, req)
	f.counter++
	return fmt.Sprintf("0xtx%d", f.counter), nil
}

// memoryStore keeps settlement outcomes in memory
type memoryStore struct {
	mu      sync.Mutex
	results []*SettlementResult
	reports []*ReconciliationReport
	saveErr error
}

func (m *memoryStore) SaveSettlementResult(ctx context.Context, result *SettlementResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.results = append(m.results, result)
	return nil
}

func (m *memoryStore) UpdateSettlementResult(ctx context.Context, result *SettlementResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.results {
		if r.ID == result.ID {
			m.results[i] = result
			return nil
		}
	}
	m.results = append(m.results, result)
	return nil
}

func (m *memoryStore) SettlementHistory(ctx context.Context, limit, offset int) ([]*SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*SettlementResult(nil), m.results...), nil
}

func (m *memoryStore) SaveReconciliationReport(ctx context.Context, report *ReconciliationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

func (m *memoryStore) RecentReports(ctx context.Context, limit int) ([]*ReconciliationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ReconciliationReport(nil), m.reports...), nil
}

// recordingNotifier captures delivered alerts for assertions
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (r *recordingNotifier) Send(alert *notification.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, *alert)
	return nil
}

func (r *recordingNotifier) Name() string    { return "recording" }
func (r *recordingNotifier) IsEnabled() bool { return true }

func (r *recordingNotifier) bySeverity(sev notification.Severity) []notification.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification.Alert
	for _, a := range r.alerts {
		if a.Severity == sev {
			out = append(out, a)
		}
	}
	return out
}

// testMapper builds an asset mapper with common test mappings
func testMapper() *assets.Mapper {
	mapper, err := assets.NewMapper([]config.AssetConfig{
		{ChainKey: "BTC", TokenID: "BTC", ExchangeAsset: "BTC", ExchangeNetwork: "BTC", Decimals: 8},
		{ChainKey: "ETH", TokenID: "ETH", ExchangeAsset: "ETH", ExchangeNetwork: "ETH", Decimals: 18},
		{ChainKey: "SOL", TokenID: "SOL", ExchangeAsset: "SOL", ExchangeNetwork: "SOL", Decimals: 9},
	})
	if err != nil {
		panic(err)
	}
	return mapper
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
