package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"hotwallet-settlement/internal/auth"
)

// handleRunSettlement triggers a settlement cycle. The cycle runs in the
// background; progress is observable on the websocket stream and in the
// history endpoints.
func (s *Server) handleRunSettlement(c *gin.Context) {
	if s.deps.Service.IsRunning() {
		errorResponse(c, http.StatusConflict, "a settlement cycle is already running")
		return
	}

	operator := auth.Operator(c)
	s.log.Info("Settlement cycle triggered via API", "operator", operator)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		if _, err := s.deps.Service.RunCycle(ctx); err != nil {
			s.log.Error("API-triggered settlement cycle failed", "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "settlement cycle started",
	})
}

// handleSettlementStatus reports whether a cycle is running and what the
// scheduler will do next
func (s *Server) handleSettlementStatus(c *gin.Context) {
	status := gin.H{
		"running": s.deps.Service.IsRunning(),
		"chains":  s.deps.Registry.ChainKeys(),
		"assets":  s.deps.Mapper.Assets(),
	}

	if s.deps.Scheduler != nil {
		status["scheduler_running"] = s.deps.Scheduler.IsRunning()
		status["next_run"] = s.deps.Scheduler.NextRun()
	}

	successResponse(c, status)
}

// handleSettlementHistory returns past per-transfer settlement results
func (s *Server) handleSettlementHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	results, err := s.deps.Store.SettlementHistory(c.Request.Context(), limit, offset)
	if err != nil {
		s.log.Error("Failed to load settlement history", "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to load settlement history")
		return
	}

	successResponse(c, gin.H{
		"count":   len(results),
		"results": results,
	})
}

// handleRecentReports returns the latest reconciliation reports
func (s *Server) handleRecentReports(c *gin.Context) {
	limit := intQuery(c, "limit", 10)

	reports, err := s.deps.Store.RecentReports(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("Failed to load reconciliation reports", "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to load reconciliation reports")
		return
	}

	successResponse(c, gin.H{
		"count":   len(reports),
		"reports": reports,
	})
}

// assetBalances is the per-asset view of both ledgers
type assetBalances struct {
	Asset           string          `json:"asset"`
	ExchangeFree    decimal.Decimal `json:"exchange_free"`
	ExchangeLocked  decimal.Decimal `json:"exchange_locked"`
	WalletTotal     decimal.Decimal `json:"wallet_total"`
	Wallets         []walletBalance `json:"wallets"`
	PartialFailures []string        `json:"partial_failures,omitempty"`
}

type walletBalance struct {
	ChainKey string          `json:"chain_key"`
	Address  string          `json:"address"`
	Balance  decimal.Decimal `json:"balance"` // Coin units
}

// handleBalances reads live balances from every hot wallet and the
// exchange, grouped by asset. Chains that fail to answer are reported as
// partial failures rather than failing the whole response.
func (s *Server) handleBalances(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	var out []assetBalances
	for _, asset := range s.deps.Mapper.Assets() {
		entry := assetBalances{Asset: asset}

		balance, err := s.deps.Exchange.GetAssetBalance(ctx, asset)
		if err != nil {
			entry.PartialFailures = append(entry.PartialFailures, "exchange: "+err.Error())
		} else if balance != nil {
			entry.ExchangeFree = balance.Free
			entry.ExchangeLocked = balance.Locked
		}

		for _, mapping := range s.deps.Mapper.MappingsForAsset(asset) {
			adapter, err := s.deps.Registry.Get(mapping.ChainKey)
			if err != nil {
				entry.PartialFailures = append(entry.PartialFailures, mapping.ChainKey+": "+err.Error())
				continue
			}
			baseUnits, err := adapter.GetHotWalletBalance(ctx)
			if err != nil {
				entry.PartialFailures = append(entry.PartialFailures, mapping.ChainKey+": "+err.Error())
				continue
			}
			coins := mapping.ToCoinUnits(baseUnits)
			entry.Wallets = append(entry.Wallets, walletBalance{
				ChainKey: mapping.ChainKey,
				Address:  adapter.HotWalletAddress(),
				Balance:  coins,
			})
			entry.WalletTotal = entry.WalletTotal.Add(coins)
		}

		out = append(out, entry)
	}

	successResponse(c, out)
}

// handleBalanceSnapshots serves the last-known balance view persisted each
// cycle, without touching the chains
func (s *Server) handleBalanceSnapshots(c *gin.Context) {
	if s.deps.Snapshots == nil {
		errorResponse(c, http.StatusNotFound, "balance snapshots are not available")
		return
	}
	asset := c.Query("asset")
	if asset == "" {
		errorResponse(c, http.StatusBadRequest, "asset query parameter is required")
		return
	}

	snapshots, err := s.deps.Snapshots.HotWalletBalancesForAsset(c.Request.Context(), asset)
	if err != nil {
		s.log.Error("Failed to load balance snapshots", "asset", asset, "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to load balance snapshots")
		return
	}
	successResponse(c, snapshots)
}

// handleWallets lists the configured hot wallets without touching the chains
func (s *Server) handleWallets(c *gin.Context) {
	type walletInfo struct {
		ChainKey string `json:"chain_key"`
		Address  string `json:"address"`
	}

	var wallets []walletInfo
	for _, chainKey := range s.deps.Registry.ChainKeys() {
		adapter, err := s.deps.Registry.Get(chainKey)
		if err != nil {
			continue
		}
		wallets = append(wallets, walletInfo{
			ChainKey: chainKey,
			Address:  adapter.HotWalletAddress(),
		})
	}

	successResponse(c, wallets)
}

// handleBreakers reports circuit breaker states
func (s *Server) handleBreakers(c *gin.Context) {
	successResponse(c, s.deps.Breakers.States())
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
