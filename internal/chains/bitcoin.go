package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"

	"hotwallet-settlement/config"
	"hotwallet-settlement/internal/logging"
)

// BitcoinAdapter reads balances and transactions from an Esplora-style
// block explorer API (Blockstream, mempool.space). Amounts are satoshis.
type BitcoinAdapter struct {
	chainKey   string
	endpoint   string
	hotWallet  string
	netParams  *chaincfg.Params
	httpClient *http.Client
	log        *logging.Logger
}

// NewBitcoinAdapter creates an adapter for a UTXO chain config
func NewBitcoinAdapter(cfg config.ChainConfig) (*BitcoinAdapter, error) {
	var params *chaincfg.Params
	switch cfg.Network {
	case "", "mainnet":
		params = &chaincfg.MainNetParams
	case "testnet3", "testnet":
		params = &chaincfg.TestNet3Params
	case "regtest":
		params = &chaincfg.RegressionNetParams
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", cfg.Network)
	}

	a := &BitcoinAdapter{
		chainKey:   cfg.ChainKey,
		endpoint:   strings.TrimRight(cfg.RPCEndpoint, "/"),
		hotWallet:  cfg.HotWalletAddress,
		netParams:  params,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        logging.Default().WithComponent("bitcoin"),
	}

	if err := a.ValidateAddress(cfg.HotWalletAddress); err != nil {
		return nil, fmt.Errorf("invalid hot wallet address for %s: %w", cfg.ChainKey, err)
	}
	return a, nil
}

func (a *BitcoinAdapter) ChainKey() string         { return a.chainKey }
func (a *BitcoinAdapter) HotWalletAddress() string { return a.hotWallet }

// ValidateAddress checks the address against the configured network
// parameters. Base58 and bech32 forms are both accepted.
func (a *BitcoinAdapter) ValidateAddress(address string) error {
	if _, err := btcutil.DecodeAddress(address, a.netParams); err != nil {
		return fmt.Errorf("invalid bitcoin address %q: %w", address, err)
	}
	return nil
}

// NormalizeAddress returns the address unchanged. Base58 addresses are
// case sensitive; bech32 addresses are defined lowercase already.
func (a *BitcoinAdapter) NormalizeAddress(address string) string {
	return strings.TrimSpace(address)
}

type esploraAddressStats struct {
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
	} `json:"chain_stats"`
}

type esploraTx struct {
	TxID string `json:"txid"`
	Fee  int64  `json:"fee"`
	Vin  []struct {
		Prevout struct {
			ScriptPubkeyAddress string `json:"scriptpubkey_address"`
			Value               int64  `json:"value"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		ScriptPubkeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"`
	} `json:"vout"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
		BlockTime   int64 `json:"block_time"`
	} `json:"status"`
}

func (a *BitcoinAdapter) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling explorer API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading explorer response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrTxNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("explorer API returned status %d: %s", resp.StatusCode, string(body))
	}

	if s, ok := out.(*string); ok {
		*s = strings.TrimSpace(string(body))
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error parsing explorer response: %w", err)
	}
	return nil
}

// GetHotWalletBalance returns the confirmed hot wallet balance in satoshis
func (a *BitcoinAdapter) GetHotWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	return a.GetAddressBalance(ctx, a.hotWallet)
}

// GetAddressBalance returns the confirmed balance of an address in
// satoshis, computed as funded minus spent outputs
func (a *BitcoinAdapter) GetAddressBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var stats esploraAddressStats
	if err := a.get(ctx, "/address/"+address, &stats); err != nil {
		return decimal.Zero, fmt.Errorf("error fetching balance for %s: %w", address, err)
	}
	sats := stats.ChainStats.FundedTxoSum - stats.ChainStats.SpentTxoSum
	return decimal.NewFromInt(sats), nil
}

func (a *BitcoinAdapter) tipHeight(ctx context.Context) (int64, error) {
	var raw string
	if err := a.get(ctx, "/blocks/tip/height", &raw); err != nil {
		return 0, fmt.Errorf("error fetching tip height: %w", err)
	}
	height, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing tip height %q: %w", raw, err)
	}
	return height, nil
}

// GetTransactionStatus reports the confirmation depth of a transaction.
// A transaction mined in the tip block has one confirmation.
func (a *BitcoinAdapter) GetTransactionStatus(ctx context.Context, ref string) (*TxStatus, error) {
	var tx esploraTx
	if err := a.get(ctx, "/tx/"+ref, &tx); err != nil {
		if err == ErrTxNotFound {
			return &TxStatus{Found: false}, nil
		}
		return nil, err
	}

	status := &TxStatus{Found: true}
	if !tx.Status.Confirmed {
		return status, nil
	}

	tip, err := a.tipHeight(ctx)
	if err != nil {
		return nil, err
	}

	status.Confirmed = true
	// A mined bitcoin transaction cannot revert
	status.Success = true
	status.Confirmations = tip - tx.Status.BlockHeight + 1
	status.BlockTime = time.Unix(tx.Status.BlockTime, 0)
	return status, nil
}

// GetTransactionDetails decodes all inputs and outputs as transfer legs
func (a *BitcoinAdapter) GetTransactionDetails(ctx context.Context, ref string) (*TxDetails, error) {
	var tx esploraTx
	if err := a.get(ctx, "/tx/"+ref, &tx); err != nil {
		return nil, err
	}

	details := &TxDetails{
		Success: tx.Status.Confirmed,
		Fee:     decimal.NewFromInt(tx.Fee),
	}

	// UTXO transactions have no single sender; use the first input
	// address as nominal origin for each output leg
	var origin string
	if len(tx.Vin) > 0 {
		origin = tx.Vin[0].Prevout.ScriptPubkeyAddress
	}
	for _, out := range tx.Vout {
		if out.ScriptPubkeyAddress == "" {
			continue // OP_RETURN and other non-address outputs
		}
		details.Legs = append(details.Legs, TransferLeg{
			From:   origin,
			To:     out.ScriptPubkeyAddress,
			Amount: decimal.NewFromInt(out.Value),
		})
	}
	return details, nil
}

// VerifyTransfer checks that the transaction pays the expected amount to
// the expected address. Change outputs back to the sender are ignored.
func (a *BitcoinAdapter) VerifyTransfer(ctx context.Context, ref, from, to string, amount decimal.Decimal) (*TransferCheck, error) {
	var tx esploraTx
	if err := a.get(ctx, "/tx/"+ref, &tx); err != nil {
		return nil, err
	}

	check := &TransferCheck{}
	if !tx.Status.Confirmed {
		check.Problems = append(check.Problems, "transaction not yet confirmed")
		return check, nil
	}
	check.Fee = decimal.NewFromInt(tx.Fee)

	if from != "" {
		spent := false
		for _, in := range tx.Vin {
			if in.Prevout.ScriptPubkeyAddress == from {
				spent = true
				break
			}
		}
		if !spent {
			check.Problems = append(check.Problems, fmt.Sprintf("no input spent from %s", from))
		}
	}

	received := decimal.Zero
	for _, out := range tx.Vout {
		if out.ScriptPubkeyAddress == to {
			received = received.Add(decimal.NewFromInt(out.Value))
		}
	}
	check.ActualAmount = received

	if received.IsZero() {
		check.Problems = append(check.Problems, fmt.Sprintf("no output pays %s", to))
	} else if !amountsMatch(amount, received, decimal.Zero) {
		check.Problems = append(check.Problems, fmt.Sprintf("expected %s sat, received %s sat", amount, received))
	}

	check.Verified = len(check.Problems) == 0
	return check, nil
}

// GetAddressBalanceChange reports received outputs minus spent inputs
// for the address within one transaction
func (a *BitcoinAdapter) GetAddressBalanceChange(ctx context.Context, ref, address string) (*BalanceChange, error) {
	var tx esploraTx
	if err := a.get(ctx, "/tx/"+ref, &tx); err != nil {
		if err == ErrTxNotFound {
			return &BalanceChange{Found: false}, nil
		}
		return nil, err
	}

	change := decimal.Zero
	involved := false
	for _, out := range tx.Vout {
		if out.ScriptPubkeyAddress == address {
			change = change.Add(decimal.NewFromInt(out.Value))
			involved = true
		}
	}
	for _, in := range tx.Vin {
		if in.Prevout.ScriptPubkeyAddress == address {
			change = change.Sub(decimal.NewFromInt(in.Prevout.Value))
			involved = true
		}
	}
	if !involved {
		return &BalanceChange{Found: false}, nil
	}
	return &BalanceChange{Found: true, Change: change}, nil
}
