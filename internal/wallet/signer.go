// Package wallet declares the signing capability consumed by the settlement
// engine. Key derivation and transaction signing live in a separate
// subsystem; the engine only needs an address and a transfer primitive.
package wallet

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferRequest describes one outbound hot wallet transfer.
// Value is denominated in the chain's base units.
type TransferRequest struct {
	TokenID string
	From    string
	To      string
	Value   decimal.Decimal
}

// Signer exposes the hot wallet signing capability for one chain
type Signer interface {
	// Address returns the hot wallet address this signer controls
	Address() string

	// Transfer signs and broadcasts a transfer, returning the transaction hash
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

// Registry resolves the signer for a chain key
type Registry struct {
	signers map[string]Signer
}

// NewRegistry creates a signer registry
func NewRegistry() *Registry {
	return &Registry{signers: make(map[string]Signer)}
}

// Register installs a signer for a chain key, replacing any previous one
func (r *Registry) Register(chainKey string, signer Signer) {
	r.signers[chainKey] = signer
}

// Get returns the signer for a chain key
func (r *Registry) Get(chainKey string) (Signer, bool) {
	s, ok := r.signers[chainKey]
	return s, ok
}
