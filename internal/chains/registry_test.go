package chains

import (
	"testing"

	"hotwallet-settlement/config"
)

// TestRegistryDuplicateRejected verifies a chain key can only be
// registered once
func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubAdapter{key: "BTC", wallet: "addr"}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := r.Register(&stubAdapter{key: "BTC", wallet: "addr"}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

// TestRegistryUnknownChain verifies lookups for unregistered chains fail
func TestRegistryUnknownChain(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("DOGE"); err == nil {
		t.Error("expected error for unregistered chain")
	}
}

// TestRegistryChainKeysSorted verifies deterministic key ordering
func TestRegistryChainKeysSorted(t *testing.T) {
	r := NewRegistry()
	for _, key := range []string{"SOL", "BTC", "ETH"} {
		if err := r.Register(&stubAdapter{key: key}); err != nil {
			t.Fatalf("registration failed: %v", err)
		}
	}

	keys := r.ChainKeys()
	expected := []string{"BTC", "ETH", "SOL"}
	for i, key := range expected {
		if keys[i] != key {
			t.Errorf("expected keys[%d] = %s, got %s", i, key, keys[i])
		}
	}
}

// TestBuildRegistryUnknownFamily verifies misconfigured families are
// rejected at startup
func TestBuildRegistryUnknownFamily(t *testing.T) {
	_, err := BuildRegistry([]config.ChainConfig{
		{ChainKey: "XRP", Family: "ripple", RPCEndpoint: "http://localhost", HotWalletAddress: "r123"},
	})
	if err == nil {
		t.Error("expected error for unknown chain family")
	}
}

// TestBitcoinAddressValidation exercises base58 and bech32 decoding
// against mainnet parameters
func TestBitcoinAddressValidation(t *testing.T) {
	adapter, err := NewBitcoinAdapter(config.ChainConfig{
		ChainKey:         "BTC",
		Family:           config.ChainFamilyUTXO,
		RPCEndpoint:      "https://blockstream.info/api",
		HotWalletAddress: "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq",
	})
	if err != nil {
		t.Fatalf("NewBitcoinAdapter failed: %v", err)
	}

	valid := []string{
		"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",          // P2PKH
		"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy",          // P2SH
		"bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq",  // bech32
	}
	for _, addr := range valid {
		if err := adapter.ValidateAddress(addr); err != nil {
			t.Errorf("expected %s to validate: %v", addr, err)
		}
	}

	if err := adapter.ValidateAddress("not-an-address"); err == nil {
		t.Error("expected garbage address to be rejected")
	}
	// Bech32 is lowercase only; a case-mangled form must not validate
	if err := adapter.ValidateAddress("BC1Qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"); err == nil {
		t.Error("expected mixed-case bech32 address to be rejected")
	}
}

// TestBitcoinAdapterRejectsBadHotWallet verifies construction fails fast
// on an invalid configured address
func TestBitcoinAdapterRejectsBadHotWallet(t *testing.T) {
	_, err := NewBitcoinAdapter(config.ChainConfig{
		ChainKey:         "BTC",
		Family:           config.ChainFamilyUTXO,
		RPCEndpoint:      "https://blockstream.info/api",
		HotWalletAddress: "invalid",
	})
	if err == nil {
		t.Error("expected invalid hot wallet address to be rejected")
	}
}

// TestEVMAddressValidation verifies the hex address pattern
func TestEVMAddressValidation(t *testing.T) {
	a := &EVMAdapter{chainKey: "ETH"}

	if err := a.ValidateAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"); err != nil {
		t.Errorf("expected checksummed address to validate: %v", err)
	}
	if err := a.ValidateAddress("0xab5801a7d398351b8be11c439e05c5b3259aec9b"); err != nil {
		t.Errorf("expected lowercase address to validate: %v", err)
	}
	for _, bad := range []string{"", "0x123", "ab5801a7d398351b8be11c439e05c5b3259aec9b", "0xZZ5801a7d398351b8be11c439e05c5b3259aec9b"} {
		if err := a.ValidateAddress(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

// TestSolanaAddressValidation verifies base58 public key decoding and
// that normalization preserves case
func TestSolanaAddressValidation(t *testing.T) {
	adapter, err := NewSolanaAdapter(config.ChainConfig{
		ChainKey:         "SOL",
		Family:           config.ChainFamilySolana,
		RPCEndpoint:      "https://api.mainnet-beta.solana.com",
		HotWalletAddress: "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
	})
	if err != nil {
		t.Fatalf("NewSolanaAdapter failed: %v", err)
	}

	if err := adapter.ValidateAddress("Vote111111111111111111111111111111111111111"); err != nil {
		t.Errorf("expected system address to validate: %v", err)
	}
	if err := adapter.ValidateAddress("0Ol1"); err == nil {
		t.Error("expected invalid base58 address to be rejected")
	}

	addr := "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	if adapter.NormalizeAddress(addr) != addr {
		t.Error("expected base58 address to pass through unchanged")
	}
}
