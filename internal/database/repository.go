package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hotwallet-settlement/internal/settlement"
)

// Repository provides data access methods backed by PostgreSQL. It
// implements settlement.Store.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveSettlementResult inserts a new settlement result row
func (r *Repository) SaveSettlementResult(ctx context.Context, result *settlement.SettlementResult) error {
	verification, err := marshalVerification(result.Verification)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO settlement_results (
			id, cycle_id, chain_key, token_id, asset, kind, amount,
			from_address, to_address, tx_ref, withdrawal_id, state,
			skipped, skip_reason, error, verification, submitted_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err = r.db.Pool.Exec(ctx, query,
		result.ID, result.CycleID, result.ChainKey, result.TokenID, result.Asset,
		result.Kind, result.Amount.String(),
		result.FromAddress, result.ToAddress, result.TxRef, result.WithdrawalID,
		result.State, result.Skipped, result.SkipReason, result.Error,
		verification, result.SubmittedAt, nullableTime(result.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save settlement result: %w", err)
	}
	return nil
}

// UpdateSettlementResult updates the mutable fields of an existing result
func (r *Repository) UpdateSettlementResult(ctx context.Context, result *settlement.SettlementResult) error {
	verification, err := marshalVerification(result.Verification)
	if err != nil {
		return err
	}

	query := `
		UPDATE settlement_results
		SET tx_ref = $2, withdrawal_id = $3, state = $4, error = $5,
		    verification = $6, completed_at = $7
		WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query,
		result.ID, result.TxRef, result.WithdrawalID, result.State,
		result.Error, verification, nullableTime(result.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settlement result %s not found", result.ID)
	}
	return nil
}

// SettlementHistory returns settlement results ordered by submission time,
// newest first
func (r *Repository) SettlementHistory(ctx context.Context, limit, offset int) ([]*settlement.SettlementResult, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, cycle_id, chain_key, token_id, asset, kind, amount::text,
		       from_address, to_address, tx_ref, withdrawal_id, state,
		       skipped, skip_reason, error, verification, submitted_at, completed_at
		FROM settlement_results
		ORDER BY submitted_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement history: %w", err)
	}
	defer rows.Close()

	var results []*settlement.SettlementResult
	for rows.Next() {
		var (
			result       settlement.SettlementResult
			amount       string
			verification []byte
			completedAt  *time.Time
		)
		err := rows.Scan(
			&result.ID, &result.CycleID, &result.ChainKey, &result.TokenID,
			&result.Asset, &result.Kind, &amount,
			&result.FromAddress, &result.ToAddress, &result.TxRef,
			&result.WithdrawalID, &result.State,
			&result.Skipped, &result.SkipReason, &result.Error,
			&verification, &result.SubmittedAt, &completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement result: %w", err)
		}
		result.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
		}
		if len(verification) > 0 {
			var details settlement.VerificationDetails
			if err := json.Unmarshal(verification, &details); err != nil {
				return nil, fmt.Errorf("invalid stored verification: %w", err)
			}
			result.Verification = &details
		}
		if completedAt != nil {
			result.CompletedAt = *completedAt
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}

// SaveReconciliationReport inserts a reconciliation report. The summary
// columns are duplicated out of the JSONB body so reports can be filtered
// without unpacking it.
func (r *Repository) SaveReconciliationReport(ctx context.Context, report *settlement.ReconciliationReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal reconciliation report: %w", err)
	}

	query := `
		INSERT INTO reconciliation_reports (
			cycle_id, started_at, completed_at, pairs_examined,
			transfers, matched, skipped, failed, report
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (cycle_id) DO UPDATE SET
			completed_at = EXCLUDED.completed_at,
			pairs_examined = EXCLUDED.pairs_examined,
			transfers = EXCLUDED.transfers,
			matched = EXCLUDED.matched,
			skipped = EXCLUDED.skipped,
			failed = EXCLUDED.failed,
			report = EXCLUDED.report`

	_, err = r.db.Pool.Exec(ctx, query,
		report.CycleID, report.StartedAt, report.CompletedAt, report.PairsExamined,
		report.Transfers, report.Matched, report.Skipped, report.Failed, body,
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation report: %w", err)
	}
	return nil
}

// RecentReports returns the most recent reconciliation reports, newest first
func (r *Repository) RecentReports(ctx context.Context, limit int) ([]*settlement.ReconciliationReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT report
		FROM reconciliation_reports
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation reports: %w", err)
	}
	defer rows.Close()

	var reports []*settlement.ReconciliationReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation report: %w", err)
		}
		var report settlement.ReconciliationReport
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("invalid stored reconciliation report: %w", err)
		}
		reports = append(reports, &report)
	}
	return reports, rows.Err()
}

// SaveBalanceSnapshot records the hot-wallet and exchange balances observed
// for one (chain, asset) pair during a cycle
func (r *Repository) SaveBalanceSnapshot(ctx context.Context, cycleID, chainKey, asset string, walletBalance, exchangeBalance decimal.Decimal, takenAt time.Time) error {
	query := `
		INSERT INTO balance_snapshots (cycle_id, chain_key, asset, wallet_balance, exchange_balance, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Pool.Exec(ctx, query,
		cycleID, chainKey, asset, walletBalance.String(), exchangeBalance.String(), takenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save balance snapshot: %w", err)
	}
	return nil
}

// BalanceSnapshot is the last known balance reading for one chain
type BalanceSnapshot struct {
	ChainKey        string          `json:"chain_key"`
	Asset           string          `json:"asset"`
	WalletBalance   decimal.Decimal `json:"wallet_balance"`
	ExchangeBalance decimal.Decimal `json:"exchange_balance"`
	TakenAt         time.Time       `json:"taken_at"`
}

// HotWalletBalancesForAsset returns the most recent snapshot per chain for
// an asset. This is a last-known view for diagnostics;
// balances of record always come from a live chain query.
func (r *Repository) HotWalletBalancesForAsset(ctx context.Context, asset string) ([]BalanceSnapshot, error) {
	query := `
		SELECT DISTINCT ON (chain_key)
		       chain_key, asset, wallet_balance::text, exchange_balance::text, taken_at
		FROM balance_snapshots
		WHERE asset = $1
		ORDER BY chain_key, taken_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, asset)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []BalanceSnapshot
	for rows.Next() {
		var (
			snapshot         BalanceSnapshot
			wallet, exchange string
		)
		if err := rows.Scan(&snapshot.ChainKey, &snapshot.Asset, &wallet, &exchange, &snapshot.TakenAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance snapshot: %w", err)
		}
		if snapshot.WalletBalance, err = decimal.NewFromString(wallet); err != nil {
			return nil, fmt.Errorf("invalid stored wallet balance %q: %w", wallet, err)
		}
		if snapshot.ExchangeBalance, err = decimal.NewFromString(exchange); err != nil {
			return nil, fmt.Errorf("invalid stored exchange balance %q: %w", exchange, err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func marshalVerification(v *settlement.VerificationDetails) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verification details: %w", err)
	}
	return body, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
