// Package assets translates on-chain token identifiers to exchange
// asset/network pairs and converts between chain base units and the
// coin units the exchange reports.
package assets

import (
	"fmt"

	"hotwallet-settlement/config"

	"github.com/shopspring/decimal"
)

// Mapping describes one on-chain token and its exchange counterpart
type Mapping struct {
	ChainKey        string
	TokenID         string
	ExchangeAsset   string
	ExchangeNetwork string
	Decimals        int32
}

// ErrUnmappedAsset is returned when no mapping exists for a lookup
type ErrUnmappedAsset struct {
	ChainKey string
	TokenID  string
	Asset    string
	Network  string
}

func (e *ErrUnmappedAsset) Error() string {
	if e.ChainKey != "" {
		return fmt.Sprintf("no exchange mapping for token %s on chain %s", e.TokenID, e.ChainKey)
	}
	return fmt.Sprintf("no chain mapping for exchange asset %s on network %s", e.Asset, e.Network)
}

// Mapper is an immutable lookup table built once at startup
type Mapper struct {
	byToken    map[string]Mapping // chainKey/tokenID
	byExchange map[string]Mapping // asset/network
}

// NewMapper builds a mapper from configuration
func NewMapper(configs []config.AssetConfig) (*Mapper, error) {
	m := &Mapper{
		byToken:    make(map[string]Mapping, len(configs)),
		byExchange: make(map[string]Mapping, len(configs)),
	}

	for _, c := range configs {
		mapping := Mapping{
			ChainKey:        c.ChainKey,
			TokenID:         c.TokenID,
			ExchangeAsset:   c.ExchangeAsset,
			ExchangeNetwork: c.ExchangeNetwork,
			Decimals:        c.Decimals,
		}

		tokenKey := tokenKey(c.ChainKey, c.TokenID)
		if _, dup := m.byToken[tokenKey]; dup {
			return nil, fmt.Errorf("duplicate asset mapping for %s", tokenKey)
		}
		m.byToken[tokenKey] = mapping

		exchKey := exchangeKey(c.ExchangeAsset, c.ExchangeNetwork)
		if _, dup := m.byExchange[exchKey]; dup {
			return nil, fmt.Errorf("duplicate exchange mapping for %s", exchKey)
		}
		m.byExchange[exchKey] = mapping
	}

	return m, nil
}

// ToExchange resolves the exchange asset/network for an on-chain token
func (m *Mapper) ToExchange(chainKey, tokenID string) (Mapping, error) {
	mapping, ok := m.byToken[tokenKey(chainKey, tokenID)]
	if !ok {
		return Mapping{}, &ErrUnmappedAsset{ChainKey: chainKey, TokenID: tokenID}
	}
	return mapping, nil
}

// FromExchange resolves the on-chain token for an exchange asset/network pair
func (m *Mapper) FromExchange(asset, network string) (Mapping, error) {
	mapping, ok := m.byExchange[exchangeKey(asset, network)]
	if !ok {
		return Mapping{}, &ErrUnmappedAsset{Asset: asset, Network: network}
	}
	return mapping, nil
}

// MappingsForAsset returns every chain mapping that settles into one
// exchange asset. Multiple chains can share an asset (the same token
// bridged to several networks).
func (m *Mapper) MappingsForAsset(asset string) []Mapping {
	var out []Mapping
	for _, mapping := range m.byToken {
		if mapping.ExchangeAsset == asset {
			out = append(out, mapping)
		}
	}
	return out
}

// Assets returns the distinct exchange assets covered by the table
func (m *Mapper) Assets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, mapping := range m.byToken {
		if !seen[mapping.ExchangeAsset] {
			seen[mapping.ExchangeAsset] = true
			out = append(out, mapping.ExchangeAsset)
		}
	}
	return out
}

// ToCoinUnits converts a base-unit amount to coin units (e.g. sats to BTC)
func (mapping Mapping) ToCoinUnits(baseUnits decimal.Decimal) decimal.Decimal {
	return baseUnits.Shift(-mapping.Decimals)
}

// ToBaseUnits converts a coin-unit amount to integral base units,
// truncating anything below the chain's minimal unit.
func (mapping Mapping) ToBaseUnits(coins decimal.Decimal) decimal.Decimal {
	return coins.Shift(mapping.Decimals).Truncate(0)
}

func tokenKey(chainKey, tokenID string) string {
	return chainKey + "/" + tokenID
}

func exchangeKey(asset, network string) string {
	return asset + "/" + network
}
