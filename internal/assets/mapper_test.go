package assets

import (
	"errors"
	"testing"

	"hotwallet-settlement/config"

	"github.com/shopspring/decimal"
)

func testMapper(t *testing.T) *Mapper {
	t.Helper()

	m, err := NewMapper([]config.AssetConfig{
		{ChainKey: "BTC", TokenID: "BTC", ExchangeAsset: "BTC", ExchangeNetwork: "BTC", Decimals: 8},
		{ChainKey: "ETH", TokenID: "ETH", ExchangeAsset: "ETH", ExchangeNetwork: "ETH", Decimals: 18},
		{ChainKey: "SOL", TokenID: "SOL", ExchangeAsset: "SOL", ExchangeNetwork: "SOL", Decimals: 9},
	})
	if err != nil {
		t.Fatalf("NewMapper failed: %v", err)
	}
	return m
}

// TestToExchange verifies token to exchange asset resolution
func TestToExchange(t *testing.T) {
	m := testMapper(t)

	mapping, err := m.ToExchange("ETH", "ETH")
	if err != nil {
		t.Fatalf("ToExchange failed: %v", err)
	}
	if mapping.ExchangeAsset != "ETH" || mapping.ExchangeNetwork != "ETH" {
		t.Errorf("Expected ETH/ETH, got %s/%s", mapping.ExchangeAsset, mapping.ExchangeNetwork)
	}
	if mapping.Decimals != 18 {
		t.Errorf("Expected 18 decimals, got %d", mapping.Decimals)
	}
}

// TestToExchangeUnmapped verifies unmapped tokens return a typed error
func TestToExchangeUnmapped(t *testing.T) {
	m := testMapper(t)

	_, err := m.ToExchange("DOGE", "DOGE")
	if err == nil {
		t.Fatal("Expected error for unmapped token")
	}

	var unmapped *ErrUnmappedAsset
	if !errors.As(err, &unmapped) {
		t.Fatalf("Expected ErrUnmappedAsset, got %T", err)
	}
	if unmapped.ChainKey != "DOGE" {
		t.Errorf("Expected chain key DOGE in error, got %s", unmapped.ChainKey)
	}
}

// TestFromExchange verifies exchange asset to chain resolution
func TestFromExchange(t *testing.T) {
	m := testMapper(t)

	mapping, err := m.FromExchange("BTC", "BTC")
	if err != nil {
		t.Fatalf("FromExchange failed: %v", err)
	}
	if mapping.ChainKey != "BTC" || mapping.TokenID != "BTC" {
		t.Errorf("Expected BTC/BTC, got %s/%s", mapping.ChainKey, mapping.TokenID)
	}
}

// TestDuplicateMappingRejected verifies duplicate table entries fail startup
func TestDuplicateMappingRejected(t *testing.T) {
	_, err := NewMapper([]config.AssetConfig{
		{ChainKey: "BTC", TokenID: "BTC", ExchangeAsset: "BTC", ExchangeNetwork: "BTC", Decimals: 8},
		{ChainKey: "BTC", TokenID: "BTC", ExchangeAsset: "BTC", ExchangeNetwork: "BTC", Decimals: 8},
	})
	if err == nil {
		t.Fatal("Expected duplicate mapping to be rejected")
	}
}

// TestUnitConversion verifies base-unit/coin-unit conversion both ways
func TestUnitConversion(t *testing.T) {
	m := testMapper(t)

	mapping, err := m.ToExchange("BTC", "BTC")
	if err != nil {
		t.Fatalf("ToExchange failed: %v", err)
	}

	sats := decimal.NewFromInt(150000000)
	coins := mapping.ToCoinUnits(sats)
	if !coins.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected 1.5 BTC, got %s", coins)
	}

	back := mapping.ToBaseUnits(coins)
	if !back.Equal(sats) {
		t.Errorf("Expected %s sats back, got %s", sats, back)
	}
}

// TestToBaseUnitsTruncates verifies sub-base-unit dust is truncated, not rounded
func TestToBaseUnitsTruncates(t *testing.T) {
	mapping := Mapping{Decimals: 8}

	base := mapping.ToBaseUnits(decimal.RequireFromString("0.000000019"))
	if !base.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected 1 base unit, got %s", base)
	}
}

// TestMappingsForAsset verifies multi-chain assets return every mapping
func TestMappingsForAsset(t *testing.T) {
	m, err := NewMapper([]config.AssetConfig{
		{ChainKey: "ETH", TokenID: "USDT", ExchangeAsset: "USDT", ExchangeNetwork: "ETH", Decimals: 6},
		{ChainKey: "SOL", TokenID: "USDT", ExchangeAsset: "USDT", ExchangeNetwork: "SOL", Decimals: 6},
		{ChainKey: "BTC", TokenID: "BTC", ExchangeAsset: "BTC", ExchangeNetwork: "BTC", Decimals: 8},
	})
	if err != nil {
		t.Fatalf("NewMapper failed: %v", err)
	}

	mappings := m.MappingsForAsset("USDT")
	if len(mappings) != 2 {
		t.Fatalf("Expected 2 mappings for USDT, got %d", len(mappings))
	}
}
