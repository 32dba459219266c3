package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MockClient provides a simulated exchange account for development and
// testing. All state is in-memory; deposit and withdrawal records are
// seeded by tests or appear instantly in mock mode.
type MockClient struct {
	mu sync.RWMutex

	apiEnabled  bool
	balances    map[string]AssetBalance
	addresses   map[string]DepositAddress // asset/network
	deposits    []DepositRecord
	withdrawals map[string]WithdrawalRecord
	nextID      int

	// Error injection hooks; when set the matching call fails
	BalanceErr        error
	DepositAddressErr error
	WithdrawErr       error
	HistoryErr        error

	// WithdrawCalls records every withdrawal request for assertions
	WithdrawCalls []WithdrawRequest
}

// NewMockClient creates a mock exchange with an empty account
func NewMockClient() *MockClient {
	return &MockClient{
		apiEnabled:  true,
		balances:    make(map[string]AssetBalance),
		addresses:   make(map[string]DepositAddress),
		withdrawals: make(map[string]WithdrawalRecord),
		nextID:      1,
	}
}

// SetAPIEnabled toggles the simulated API permission
func (m *MockClient) SetAPIEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiEnabled = enabled
}

// SetBalance seeds a balance row
func (m *MockClient) SetBalance(asset string, free, locked decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = AssetBalance{Asset: asset, Free: free, Locked: locked}
}

// SetDepositAddress seeds a deposit address for an asset/network pair
func (m *MockClient) SetDepositAddress(asset, network, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[asset+"/"+network] = DepositAddress{Asset: asset, Network: network, Address: address}
}

// AddDepositRecord appends a deposit history record
func (m *MockClient) AddDepositRecord(rec DepositRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deposits = append(m.deposits, rec)
}

// SetWithdrawalStatus overrides the status of an existing withdrawal
func (m *MockClient) SetWithdrawalStatus(id string, status int, txID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.withdrawals[id]; ok {
		rec.Status = status
		rec.TxID = txID
		m.withdrawals[id] = rec
	}
}

func (m *MockClient) IsAPIEnabled(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.apiEnabled, nil
}

func (m *MockClient) GetAssetBalance(ctx context.Context, asset string) (*AssetBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.BalanceErr != nil {
		return nil, m.BalanceErr
	}
	if b, ok := m.balances[asset]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *MockClient) GetDepositAddress(ctx context.Context, asset, network string) (*DepositAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.DepositAddressErr != nil {
		return nil, m.DepositAddressErr
	}
	if addr, ok := m.addresses[asset+"/"+network]; ok {
		return &addr, nil
	}
	return nil, fmt.Errorf("no deposit address configured for %s/%s", asset, network)
}

func (m *MockClient) Withdraw(ctx context.Context, req WithdrawRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WithdrawErr != nil {
		return "", m.WithdrawErr
	}

	m.WithdrawCalls = append(m.WithdrawCalls, req)

	id := strconv.Itoa(m.nextID)
	m.nextID++
	m.withdrawals[id] = WithdrawalRecord{
		ID:        id,
		Asset:     req.Asset,
		Network:   req.Network,
		Address:   req.Address,
		Amount:    req.Amount,
		Status:    WithdrawalStatusProcessing,
		ApplyTime: time.Now(),
	}

	return id, nil
}

func (m *MockClient) GetDepositHistory(ctx context.Context, asset string, start, end time.Time) ([]DepositRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}

	var out []DepositRecord
	for _, rec := range m.deposits {
		if rec.Asset != asset {
			continue
		}
		if !start.IsZero() && rec.InsertTime.Before(start) {
			continue
		}
		if !end.IsZero() && rec.InsertTime.After(end) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *MockClient) GetWithdrawalStatus(ctx context.Context, asset, id string) (*WithdrawalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	if rec, ok := m.withdrawals[id]; ok {
		return &rec, nil
	}
	return nil, fmt.Errorf("withdrawal %s not found in exchange history", id)
}
