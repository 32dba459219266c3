package chains

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"hotwallet-settlement/config"
	"hotwallet-settlement/internal/logging"
)

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// EVMAdapter serves Ethereum and EVM-compatible networks over JSON-RPC.
// One implementation covers every EVM chain; the config supplies the
// chain ID used for sender recovery. Amounts are wei.
type EVMAdapter struct {
	chainKey  string
	hotWallet string
	chainID   *big.Int
	client    *ethclient.Client
	log       *logging.Logger
}

// NewEVMAdapter dials the configured JSON-RPC endpoint
func NewEVMAdapter(cfg config.ChainConfig) (*EVMAdapter, error) {
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain %s: missing chain_id", cfg.ChainKey)
	}
	if !evmAddressPattern.MatchString(cfg.HotWalletAddress) {
		return nil, fmt.Errorf("invalid hot wallet address for %s: %s", cfg.ChainKey, cfg.HotWalletAddress)
	}

	client, err := ethclient.Dial(cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("error dialing RPC endpoint for %s: %w", cfg.ChainKey, err)
	}

	return &EVMAdapter{
		chainKey:  cfg.ChainKey,
		hotWallet: cfg.HotWalletAddress,
		chainID:   big.NewInt(cfg.ChainID),
		client:    client,
		log:       logging.Default().WithComponent("evm"),
	}, nil
}

func (a *EVMAdapter) ChainKey() string         { return a.chainKey }
func (a *EVMAdapter) HotWalletAddress() string { return a.hotWallet }

func (a *EVMAdapter) ValidateAddress(address string) error {
	if !evmAddressPattern.MatchString(address) {
		return fmt.Errorf("invalid EVM address %q", address)
	}
	return nil
}

// NormalizeAddress lowercases hex addresses so checksummed and plain
// forms compare equal
func (a *EVMAdapter) NormalizeAddress(address string) string {
	return normalizeHex(address)
}

// GetHotWalletBalance returns the hot wallet's native balance in wei
func (a *EVMAdapter) GetHotWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	return a.GetAddressBalance(ctx, a.hotWallet)
}

// GetAddressBalance returns an address's native balance in wei at the
// latest block
func (a *EVMAdapter) GetAddressBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := a.ValidateAddress(address); err != nil {
		return decimal.Zero, err
	}
	balance, err := a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error fetching balance for %s: %w", address, err)
	}
	return decimal.NewFromBigInt(balance, 0), nil
}

// GetTransactionStatus reports mining progress and receipt status
func (a *EVMAdapter) GetTransactionStatus(ctx context.Context, ref string) (*TxStatus, error) {
	hash := common.HexToHash(ref)

	_, pending, err := a.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &TxStatus{Found: false}, nil
		}
		return nil, fmt.Errorf("error fetching transaction %s: %w", ref, err)
	}

	status := &TxStatus{Found: true}
	if pending {
		return status, nil
	}

	receipt, err := a.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return status, nil
		}
		return nil, fmt.Errorf("error fetching receipt for %s: %w", ref, err)
	}

	head, err := a.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("error fetching block number: %w", err)
	}

	status.Confirmed = true
	status.Success = receipt.Status == types.ReceiptStatusSuccessful
	status.Confirmations = int64(head) - receipt.BlockNumber.Int64() + 1

	if header, err := a.client.HeaderByNumber(ctx, receipt.BlockNumber); err == nil {
		status.BlockTime = time.Unix(int64(header.Time), 0)
	}
	return status, nil
}

// GetTransactionDetails decodes the native value transfer of a mined
// transaction. Contract-internal transfers are not visible here.
func (a *EVMAdapter) GetTransactionDetails(ctx context.Context, ref string) (*TxDetails, error) {
	hash := common.HexToHash(ref)

	tx, pending, err := a.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("error fetching transaction %s: %w", ref, err)
	}
	if pending {
		return nil, fmt.Errorf("transaction %s still pending", ref)
	}

	receipt, err := a.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("error fetching receipt for %s: %w", ref, err)
	}

	sender, err := types.Sender(types.LatestSignerForChainID(a.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("error recovering sender of %s: %w", ref, err)
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)

	details := &TxDetails{
		Success: receipt.Status == types.ReceiptStatusSuccessful,
		Fee:     decimal.NewFromBigInt(fee, 0),
	}
	if tx.To() != nil && tx.Value().Sign() > 0 {
		details.Legs = append(details.Legs, TransferLeg{
			From:   normalizeHex(sender.Hex()),
			To:     normalizeHex(tx.To().Hex()),
			Amount: decimal.NewFromBigInt(tx.Value(), 0),
		})
	}
	return details, nil
}

// VerifyTransfer checks sender, recipient, value and receipt status of
// a native transfer
func (a *EVMAdapter) VerifyTransfer(ctx context.Context, ref, from, to string, amount decimal.Decimal) (*TransferCheck, error) {
	details, err := a.GetTransactionDetails(ctx, ref)
	if err != nil {
		return nil, err
	}

	check := &TransferCheck{Fee: details.Fee}
	if !details.Success {
		check.Problems = append(check.Problems, "transaction reverted")
	}
	if len(details.Legs) == 0 {
		check.Problems = append(check.Problems, "transaction carries no native value")
		check.Verified = false
		return check, nil
	}

	leg := details.Legs[0]
	check.ActualAmount = leg.Amount

	if from != "" && leg.From != normalizeHex(from) {
		check.Problems = append(check.Problems, fmt.Sprintf("sender %s does not match expected %s", leg.From, normalizeHex(from)))
	}
	if leg.To != normalizeHex(to) {
		check.Problems = append(check.Problems, fmt.Sprintf("recipient %s does not match expected %s", leg.To, normalizeHex(to)))
	}
	if !amountsMatch(amount, leg.Amount, decimal.Zero) {
		check.Problems = append(check.Problems, fmt.Sprintf("expected %s wei, transferred %s wei", amount, leg.Amount))
	}

	check.Verified = len(check.Problems) == 0
	return check, nil
}

// GetAddressBalanceChange reports the net value the transaction moved
// at an address. The sender's change includes the gas fee; an address
// the transaction never touched reports not found.
func (a *EVMAdapter) GetAddressBalanceChange(ctx context.Context, ref, address string) (*BalanceChange, error) {
	details, err := a.GetTransactionDetails(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrTxNotFound) {
			return &BalanceChange{Found: false}, nil
		}
		return nil, err
	}
	return balanceChangeFromDetails(details, normalizeHex(address)), nil
}

// balanceChangeFromDetails folds the decoded legs into one signed delta
func balanceChangeFromDetails(details *TxDetails, target string) *BalanceChange {
	change := decimal.Zero
	involved := false
	for _, leg := range details.Legs {
		if leg.To == target {
			change = change.Add(leg.Amount)
			involved = true
		}
		if leg.From == target {
			change = change.Sub(leg.Amount).Sub(details.Fee)
			involved = true
		}
	}
	if !involved {
		return &BalanceChange{Found: false}
	}
	return &BalanceChange{Found: true, Change: change}
}
