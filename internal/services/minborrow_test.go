package services

import (
	"context"
	"errors"
	"testing"

	"sui-lending-api/internal/protocol"
	"sui-lending-api/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMinBorrowService(query *fakeQuery) *MinBorrowService {
	return NewMinBorrowService(query, testProtocolConfig(), metrics.NewMetricsCollector())
}

func TestMinBorrowService(t *testing.T) {
	ctx := context.Background()

	t.Run("ReserveConfigPrimary", func(t *testing.T) {
		query := newFakeQuery()
		query.reserves["SUI"] = protocol.MarketReserve{Symbol: "SUI", MinBorrowAmount: 1_000_000_000}
		svc := newMinBorrowService(query)
		defer svc.Stop()

		result := svc.GetMinimumBorrowAmount(ctx, "SUI")
		assert.Equal(t, SourceReserveConfig, result.Source)
		assert.True(t, result.BufferApplied)
		// 10% buffer over the raw minimum.
		assert.Equal(t, uint64(1_100_000_000), result.BaseUnits)
	})

	t.Run("BufferBounds", func(t *testing.T) {
		query := newFakeQuery()
		raw := uint64(2_000_000_000)
		query.reserves["SCA"] = protocol.MarketReserve{Symbol: "SCA", MinBorrowAmount: raw}
		svc := newMinBorrowService(query)
		defer svc.Stop()

		result := svc.GetMinimumBorrowAmount(ctx, "SCA")
		assert.GreaterOrEqual(t, result.BaseUnits, raw)
		assert.LessOrEqual(t, result.BaseUnits, uint64(float64(raw)*1.1))
	})

	t.Run("BufferExemptSymbol", func(t *testing.T) {
		query := newFakeQuery()
		query.reserves["USDC"] = protocol.MarketReserve{Symbol: "USDC", MinBorrowAmount: 1_060_000}
		svc := newMinBorrowService(query)
		defer svc.Stop()

		result := svc.GetMinimumBorrowAmount(ctx, "USDC")
		assert.False(t, result.BufferApplied)
		assert.Equal(t, uint64(1_060_000), result.BaseUnits)
	})

	t.Run("CollateralConfigSecondary", func(t *testing.T) {
		query := newFakeQuery()
		query.reservesErr = errors.New("reserve query unavailable")
		query.collaterals["SUI"] = protocol.CollateralConfig{
			Symbol: "SUI",
			Raw:    map[string]interface{}{"min_borrow_amount": "500000000"},
		}
		svc := newMinBorrowService(query)
		defer svc.Stop()

		result := svc.GetMinimumBorrowAmount(ctx, "SUI")
		assert.Equal(t, SourceCollateralConfig, result.Source)
		assert.Equal(t, uint64(550_000_000), result.BaseUnits)
	})

	t.Run("CollateralConfigAlternateKey", func(t *testing.T) {
		query := newFakeQuery()
		query.reservesErr = errors.New("reserve query unavailable")
		query.collaterals["CETUS"] = protocol.CollateralConfig{
			Symbol: "CETUS",
			Raw:    map[string]interface{}{"minBorrowAmount": float64(100)},
		}
		svc := newMinBorrowService(query)
		defer svc.Stop()

		result := svc.GetMinimumBorrowAmount(ctx, "CETUS")
		assert.Equal(t, SourceCollateralConfig, result.Source)
		assert.Equal(t, uint64(110), result.BaseUnits)
	})

	t.Run("FallbackTableTotality", func(t *testing.T) {
		query := newFakeQuery()
		query.reservesErr = errors.New("reserve query unavailable")
		query.collateralsErr = errors.New("collateral query unavailable")
		svc := newMinBorrowService(query)
		defer svc.Stop()

		// Every known coin resolves to a positive amount with no error path.
		for _, symbol := range []string{"SUI", "USDC", "USDT", "CETUS", "SCA"} {
			result := svc.GetMinimumBorrowAmount(ctx, symbol)
			assert.Equal(t, SourceFallbackTable, result.Source, symbol)
			assert.Positive(t, result.BaseUnits, symbol)
		}

		// Even unknown symbols resolve.
		result := svc.GetMinimumBorrowAmount(ctx, "UNKNOWNCOIN")
		assert.Equal(t, SourceFallbackTable, result.Source)
		assert.Positive(t, result.BaseUnits)
	})

	t.Run("HumanAmountMatchesBaseUnits", func(t *testing.T) {
		query := newFakeQuery()
		query.reserves["USDC"] = protocol.MarketReserve{Symbol: "USDC", MinBorrowAmount: 1_060_000}
		svc := newMinBorrowService(query)
		defer svc.Stop()

		result := svc.GetMinimumBorrowAmount(ctx, "USDC")
		require.True(t, result.HumanAmount.Equal(decimal.RequireFromString("1.06")),
			"got %s", result.HumanAmount)
	})

	t.Run("UnregisteredSymbolUsesDefaultDecimals", func(t *testing.T) {
		// A reserve the protocol lists but the registry does not know must
		// still render a human amount, not relay raw base units.
		query := newFakeQuery()
		query.reserves["DEEP"] = protocol.MarketReserve{Symbol: "DEEP", MinBorrowAmount: 1_000_000_000}
		svc := newMinBorrowService(query)
		defer svc.Stop()

		result := svc.GetMinimumBorrowAmount(ctx, "DEEP")
		assert.Equal(t, SourceReserveConfig, result.Source)
		assert.Equal(t, uint64(1_100_000_000), result.BaseUnits)
		require.True(t, result.HumanAmount.Equal(decimal.RequireFromString("1.1")),
			"got %s", result.HumanAmount)
	})

	t.Run("ResultIsCached", func(t *testing.T) {
		query := newFakeQuery()
		query.reserves["SUI"] = protocol.MarketReserve{Symbol: "SUI", MinBorrowAmount: 1_000_000_000}
		svc := newMinBorrowService(query)
		defer svc.Stop()

		first := svc.GetMinimumBorrowAmount(ctx, "SUI")

		// Mutate the backing data; the cached result must win within TTL.
		query.reserves["SUI"] = protocol.MarketReserve{Symbol: "SUI", MinBorrowAmount: 9_000_000_000}
		second := svc.GetMinimumBorrowAmount(ctx, "sui")

		assert.Equal(t, first.BaseUnits, second.BaseUnits)
	})
}
