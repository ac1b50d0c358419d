package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CoinAsset describes a coin supported by the lending protocol.
// CanonicalType is the fully-qualified on-chain type used for all
// transaction construction. AliasTypes lists legacy/wrapped type strings
// for the same symbol; wallets may still hold those variants, so balance
// lookups must sum across canonical + aliases.
type CoinAsset struct {
	Symbol        string   `json:"symbol"`
	CanonicalType string   `json:"canonical_type"`
	AliasTypes    []string `json:"alias_types,omitempty"`
	Decimals      int32    `json:"decimals"`

	// MinBorrowFallback is the hardcoded per-coin minimum borrow amount in
	// base units, used when both on-chain config sources fail.
	MinBorrowFallback uint64 `json:"min_borrow_fallback"`
}

// Supported coin registry. Exactly one canonical type per symbol.
var coinRegistry = map[string]CoinAsset{
	"SUI": {
		Symbol:            "SUI",
		CanonicalType:     "0x0000000000000000000000000000000000000000000000000000000000000002::sui::SUI",
		AliasTypes:        []string{"0x2::sui::SUI"},
		Decimals:          9,
		MinBorrowFallback: 1_000_000_000, // 1 SUI
	},
	"USDC": {
		Symbol:        "USDC",
		CanonicalType: "0xdba34672e30cb065b1f93e3ab55318768fd6fef66c15942c9f7cb846e2f900e7::usdc::USDC",
		AliasTypes: []string{
			// Wormhole-wrapped USDC still held by older wallets.
			"0x5d4b302506645c37ff133b98c4b50a5ae14841659738d6d733d59d0d217a93bf::coin::COIN",
		},
		Decimals:          6,
		MinBorrowFallback: 1_060_000, // ~1.06 USDC, observed protocol floor
	},
	"USDT": {
		Symbol:            "USDT",
		CanonicalType:     "0xc060006111016b8a020ad5b33834984a437aaa7d3c74c18e09a95d48aceab08c::coin::COIN",
		Decimals:          6,
		MinBorrowFallback: 1_000_000, // 1 USDT
	},
	"CETUS": {
		Symbol:            "CETUS",
		CanonicalType:     "0x06864a6f921804860930db6ddbe2e16acdf8504495ea7481637a1c8b9a8fe54b::cetus::CETUS",
		Decimals:          9,
		MinBorrowFallback: 10_000_000_000, // 10 CETUS
	},
	"SCA": {
		Symbol:            "SCA",
		CanonicalType:     "0x7016aae72cfc67f2fadf55769c0a7dd54291a583b63051a5ed71081cce836ac6::sca::SCA",
		Decimals:          9,
		MinBorrowFallback: 2_000_000_000, // 2 SCA
	},
}

// DefaultMinBorrowFallback is used for symbols missing from the registry
// so that minimum-amount resolution stays total.
const DefaultMinBorrowFallback uint64 = 1_000_000

// LookupCoin returns the registry entry for a symbol (case-insensitive).
func LookupCoin(symbol string) (CoinAsset, error) {
	coin, ok := coinRegistry[strings.ToUpper(symbol)]
	if !ok {
		return CoinAsset{}, fmt.Errorf("unsupported coin symbol: %s", symbol)
	}
	return coin, nil
}

// SupportedCoins returns all registry entries.
func SupportedCoins() []CoinAsset {
	coins := make([]CoinAsset, 0, len(coinRegistry))
	for _, coin := range coinRegistry {
		coins = append(coins, coin)
	}
	return coins
}

// AllCoinTypes returns the canonical type followed by every alias type.
func (c CoinAsset) AllCoinTypes() []string {
	types := make([]string, 0, len(c.AliasTypes)+1)
	types = append(types, c.CanonicalType)
	types = append(types, c.AliasTypes...)
	return types
}

// MatchesType reports whether the given on-chain type string refers to
// this coin, canonical or alias.
func (c CoinAsset) MatchesType(coinType string) bool {
	normalized := NormalizeCoinType(coinType)
	if NormalizeCoinType(c.CanonicalType) == normalized {
		return true
	}
	for _, alias := range c.AliasTypes {
		if NormalizeCoinType(alias) == normalized {
			return true
		}
	}
	return false
}

// CoinByType resolves a registry entry from any known type string.
func CoinByType(coinType string) (CoinAsset, bool) {
	for _, coin := range coinRegistry {
		if coin.MatchesType(coinType) {
			return coin, true
		}
	}
	return CoinAsset{}, false
}

// NormalizeCoinType lowercases a type string and expands the short-form
// address (0x2::sui::SUI) to the zero-padded 64-hex form so that type
// comparisons are stable regardless of how the RPC rendered them.
func NormalizeCoinType(coinType string) string {
	coinType = strings.ToLower(strings.TrimSpace(coinType))
	parts := strings.SplitN(coinType, "::", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "0x") {
		return coinType
	}
	addr := strings.TrimPrefix(parts[0], "0x")
	if len(addr) < 64 {
		addr = strings.Repeat("0", 64-len(addr)) + addr
	}
	return "0x" + addr + "::" + parts[1]
}

// ToBaseUnits converts a human-readable amount to base units, flooring
// toward zero. Flooring never rounds up, so converting back always yields
// a value <= the input amount.
func ToBaseUnits(amount decimal.Decimal, decimals int32) uint64 {
	shifted := amount.Shift(decimals).Floor()
	if shifted.IsNegative() {
		return 0
	}
	return uint64(shifted.IntPart())
}

// FromBaseUnits converts base units back to a human-readable amount.
func FromBaseUnits(baseUnits uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(baseUnits).Shift(-decimals)
}
