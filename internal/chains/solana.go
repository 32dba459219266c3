package chains

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"hotwallet-settlement/config"
	"hotwallet-settlement/internal/logging"
)

// SolanaAdapter reads balances and transactions over Solana JSON-RPC.
// Amounts are lamports. Transaction references are base58 signatures.
type SolanaAdapter struct {
	chainKey  string
	hotWallet solana.PublicKey
	client    *rpc.Client
	log       *logging.Logger
}

// NewSolanaAdapter creates an adapter for a Solana chain config
func NewSolanaAdapter(cfg config.ChainConfig) (*SolanaAdapter, error) {
	wallet, err := solana.PublicKeyFromBase58(cfg.HotWalletAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid hot wallet address for %s: %w", cfg.ChainKey, err)
	}

	return &SolanaAdapter{
		chainKey:  cfg.ChainKey,
		hotWallet: wallet,
		client:    rpc.New(cfg.RPCEndpoint),
		log:       logging.Default().WithComponent("solana"),
	}, nil
}

func (a *SolanaAdapter) ChainKey() string         { return a.chainKey }
func (a *SolanaAdapter) HotWalletAddress() string { return a.hotWallet.String() }

func (a *SolanaAdapter) ValidateAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid solana address %q: %w", address, err)
	}
	return nil
}

// NormalizeAddress returns the address unchanged; base58 is case sensitive
func (a *SolanaAdapter) NormalizeAddress(address string) string {
	return address
}

// GetHotWalletBalance returns the hot wallet balance in lamports
func (a *SolanaAdapter) GetHotWalletBalance(ctx context.Context) (decimal.Decimal, error) {
	return a.balanceOf(ctx, a.hotWallet)
}

// GetAddressBalance returns an address balance in lamports at finalized
// commitment
func (a *SolanaAdapter) GetAddressBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid solana address %q: %w", address, err)
	}
	return a.balanceOf(ctx, key)
}

func (a *SolanaAdapter) balanceOf(ctx context.Context, key solana.PublicKey) (decimal.Decimal, error) {
	out, err := a.client.GetBalance(ctx, key, rpc.CommitmentFinalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error fetching balance for %s: %w", key, err)
	}
	return decimal.NewFromUint64(out.Value), nil
}

// GetTransactionStatus reports commitment progress for a signature.
// Finalized commitment is treated as confirmed with the configured
// depth satisfied, since finalization cannot roll back.
func (a *SolanaAdapter) GetTransactionStatus(ctx context.Context, ref string) (*TxStatus, error) {
	sig, err := solana.SignatureFromBase58(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", ref, err)
	}

	out, err := a.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("error fetching signature status for %s: %w", ref, err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return &TxStatus{Found: false}, nil
	}

	st := out.Value[0]
	status := &TxStatus{Found: true, Success: st.Err == nil}

	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		status.Confirmed = true
		// Finalized is Solana's terminal commitment; report a depth
		// that satisfies any configured requirement
		status.Confirmations = int64(^uint64(0) >> 1)
	case rpc.ConfirmationStatusConfirmed:
		status.Confirmed = true
		if st.Confirmations != nil {
			status.Confirmations = int64(*st.Confirmations)
		}
	}
	return status, nil
}

func (a *SolanaAdapter) fetchTransaction(ctx context.Context, ref string) (*rpc.GetTransactionResult, error) {
	sig, err := solana.SignatureFromBase58(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", ref, err)
	}

	maxVersion := uint64(0)
	out, err := a.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching transaction %s: %w", ref, err)
	}
	if out == nil {
		return nil, ErrTxNotFound
	}
	return out, nil
}

// GetTransactionDetails reconstructs transfer legs from the pre/post
// balance deltas recorded in the transaction meta
func (a *SolanaAdapter) GetTransactionDetails(ctx context.Context, ref string) (*TxDetails, error) {
	out, err := a.fetchTransaction(ctx, ref)
	if err != nil {
		return nil, err
	}
	if out.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no meta", ref)
	}

	decoded, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("error decoding transaction %s: %w", ref, err)
	}
	keys := decoded.Message.AccountKeys

	details := &TxDetails{
		Success: out.Meta.Err == nil,
		Fee:     decimal.NewFromUint64(out.Meta.Fee),
	}

	// Pair each debited account with each credited account. System
	// transfers have exactly one of each once the fee is accounted for.
	var from string
	for i := range keys {
		if i >= len(out.Meta.PreBalances) || i >= len(out.Meta.PostBalances) {
			break
		}
		pre := decimal.NewFromUint64(out.Meta.PreBalances[i])
		post := decimal.NewFromUint64(out.Meta.PostBalances[i])
		delta := post.Sub(pre)
		if i == 0 {
			// Fee payer; exclude the fee from its transfer delta
			delta = delta.Add(details.Fee)
			from = keys[i].String()
		}
		if delta.IsPositive() {
			details.Legs = append(details.Legs, TransferLeg{
				From:   from,
				To:     keys[i].String(),
				Amount: delta,
			})
		}
	}
	return details, nil
}

// VerifyTransfer checks the recipient's lamport delta against the
// expected amount
func (a *SolanaAdapter) VerifyTransfer(ctx context.Context, ref, from, to string, amount decimal.Decimal) (*TransferCheck, error) {
	out, err := a.fetchTransaction(ctx, ref)
	if err != nil {
		return nil, err
	}
	if out.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no meta", ref)
	}

	check := &TransferCheck{Fee: decimal.NewFromUint64(out.Meta.Fee)}
	if out.Meta.Err != nil {
		check.Problems = append(check.Problems, fmt.Sprintf("transaction failed on chain: %v", out.Meta.Err))
	}

	decoded, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("error decoding transaction %s: %w", ref, err)
	}
	keys := decoded.Message.AccountKeys

	received, found := a.deltaFor(keys, out.Meta, to)
	if !found {
		check.Problems = append(check.Problems, fmt.Sprintf("account %s not referenced by transaction", to))
	}
	check.ActualAmount = received

	if from != "" {
		if _, ok := a.deltaFor(keys, out.Meta, from); !ok {
			check.Problems = append(check.Problems, fmt.Sprintf("account %s not referenced by transaction", from))
		}
	}
	if found && !amountsMatch(amount, received, decimal.Zero) {
		check.Problems = append(check.Problems, fmt.Sprintf("expected %s lamports, received %s lamports", amount, received))
	}

	check.Verified = len(check.Problems) == 0
	return check, nil
}

// GetAddressBalanceChange reports the lamport delta an address saw in
// the transaction
func (a *SolanaAdapter) GetAddressBalanceChange(ctx context.Context, ref, address string) (*BalanceChange, error) {
	out, err := a.fetchTransaction(ctx, ref)
	if err != nil {
		if err == ErrTxNotFound {
			return &BalanceChange{Found: false}, nil
		}
		return nil, err
	}
	if out.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no meta", ref)
	}

	decoded, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("error decoding transaction %s: %w", ref, err)
	}

	change, found := a.deltaFor(decoded.Message.AccountKeys, out.Meta, address)
	return &BalanceChange{Found: found, Change: change}, nil
}

// deltaFor returns post minus pre balance for one account key
func (a *SolanaAdapter) deltaFor(keys []solana.PublicKey, meta *rpc.TransactionMeta, address string) (decimal.Decimal, bool) {
	for i, key := range keys {
		if key.String() != address {
			continue
		}
		if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			return decimal.Zero, false
		}
		pre := decimal.NewFromUint64(meta.PreBalances[i])
		post := decimal.NewFromUint64(meta.PostBalances[i])
		return post.Sub(pre), true
	}
	return decimal.Zero, false
}
