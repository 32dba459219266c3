package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSigner submits transfers to the signing sidecar over HTTP. The
// sidecar holds the keys, signs, broadcasts and returns the transaction
// hash.
type HTTPSigner struct {
	endpoint string
	chainKey string
	address  string
	client   *http.Client
}

// NewHTTPSigner creates a signer backed by the sidecar at endpoint
func NewHTTPSigner(endpoint, chainKey, address string) *HTTPSigner {
	return &HTTPSigner{
		endpoint: endpoint,
		chainKey: chainKey,
		address:  address,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Address returns the hot wallet address this signer controls
func (s *HTTPSigner) Address() string {
	return s.address
}

type signRequest struct {
	ChainKey string `json:"chain_key"`
	TokenID  string `json:"token_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"` // Base units
}

type signResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

// Transfer asks the sidecar to sign and broadcast a transfer
func (s *HTTPSigner) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	body, err := json.Marshal(signRequest{
		ChainKey: s.chainKey,
		TokenID:  req.TokenID,
		From:     req.From,
		To:       req.To,
		Value:    req.Value.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build sign request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("signer request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read signer response: %w", err)
	}

	var result signResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("invalid signer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if result.Error != "" {
			return "", fmt.Errorf("signer rejected transfer: %s", result.Error)
		}
		return "", fmt.Errorf("signer returned status %d", resp.StatusCode)
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("signer returned no transaction hash")
	}
	return result.TxHash, nil
}

var _ Signer = (*HTTPSigner)(nil)

// MockSigner pretends to broadcast transfers, for mock mode and tests
type MockSigner struct {
	address string
	next    int
}

// NewMockSigner creates a mock signer for the given hot wallet address
func NewMockSigner(address string) *MockSigner {
	return &MockSigner{address: address}
}

// Address returns the configured hot wallet address
func (s *MockSigner) Address() string {
	return s.address
}

// Transfer returns a synthetic transaction hash without touching a chain
func (s *MockSigner) Transfer(_ context.Context, req TransferRequest) (string, error) {
	s.next++
	return fmt.Sprintf("mock-tx-%s-%d", req.TokenID, s.next), nil
}

var _ Signer = (*MockSigner)(nil)
