package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"sui-lending-api/internal/config"
	"sui-lending-api/internal/models"
	"sui-lending-api/internal/protocol"
	"sui-lending-api/pkg/cache"
	"sui-lending-api/pkg/logger"
	"sui-lending-api/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MinBorrowSource identifies which strategy produced a minimum-borrow
// value, so callers and tests can assert the path taken without
// scraping logs.
type MinBorrowSource string

const (
	SourceReserveConfig    MinBorrowSource = "reserve-config"
	SourceCollateralConfig MinBorrowSource = "collateral-config"
	SourceFallbackTable    MinBorrowSource = "fallback-table"
)

// MinBorrowResult carries the resolved minimum plus its provenance.
type MinBorrowResult struct {
	Symbol        string          `json:"symbol"`
	BaseUnits     uint64          `json:"baseUnits"`
	HumanAmount   decimal.Decimal `json:"humanAmount"`
	Source        MinBorrowSource `json:"source"`
	BufferApplied bool            `json:"bufferApplied"`
	ResolvedAt    time.Time       `json:"resolvedAt"`
}

// Key names under which the collateral-config structure has been observed
// to carry the minimum-borrow field, across contract versions.
var collateralMinKeys = []string{
	"minBorrowAmount",
	"min_borrow_amount",
	"minimumBorrowAmount",
	"minBorrowPerTransaction",
}

// safetyBufferNumerator applies a 10% cushion over the raw on-chain
// minimum so boundary-amount borrows don't abort on rounding.
var safetyBuffer = decimal.NewFromFloat(1.1)

// MinBorrowService resolves the protocol-enforced minimum borrow amount
// via cascading fallbacks. Resolution is total: every path terminates in
// the hardcoded per-symbol table, never an error.
type MinBorrowService struct {
	query       protocol.LendingQuery
	config      *config.ProtocolConfig
	resultCache *cache.Cache[MinBorrowResult]
	metrics     *metrics.MetricsCollector
}

// NewMinBorrowService creates a new MinBorrowService instance
func NewMinBorrowService(query protocol.LendingQuery, cfg *config.ProtocolConfig, collector *metrics.MetricsCollector) *MinBorrowService {
	return &MinBorrowService{
		query:       query,
		config:      cfg,
		resultCache: cache.New[MinBorrowResult](cfg.MarketDataTTL),
		metrics:     collector,
	}
}

// GetMinimumBorrowAmount resolves the minimum borrow amount for a coin in
// base units. First success wins: on-chain reserve config, then the
// secondary collateral config, then the hardcoded table.
func (ms *MinBorrowService) GetMinimumBorrowAmount(ctx context.Context, symbol string) MinBorrowResult {
	symbol = strings.ToUpper(symbol)
	log := logger.GetLogger().WithComponent("min_borrow_service", logger.Coin(symbol))

	if cached, found := ms.resultCache.Get(symbol); found {
		log.Debug("Cache hit for minimum borrow amount")
		ms.metrics.RecordCacheHit()
		return cached
	}
	ms.metrics.RecordCacheMiss()

	// Symbols outside the registry still resolve; they render human
	// amounts with the chain-default 9 decimals.
	coin, coinErr := models.LookupCoin(symbol)
	decimals := int32(9)
	if coinErr == nil {
		decimals = coin.Decimals
	}

	// 1. Primary: market reserve configuration.
	if raw, err := ms.fromReserveConfig(ctx, symbol); err == nil {
		result := ms.finish(symbol, raw, SourceReserveConfig, decimals)
		log.Debug("Resolved minimum borrow from reserve config",
			zap.Uint64("base_units", result.BaseUnits),
			zap.Bool("buffer_applied", result.BufferApplied),
		)
		return result
	} else {
		log.Warn("Reserve config lookup failed, trying collateral config", zap.Error(err))
	}

	// 2. Secondary: collateral configuration, different schema.
	if raw, err := ms.fromCollateralConfig(ctx, symbol); err == nil {
		result := ms.finish(symbol, raw, SourceCollateralConfig, decimals)
		log.Debug("Resolved minimum borrow from collateral config",
			zap.Uint64("base_units", result.BaseUnits),
			zap.Bool("buffer_applied", result.BufferApplied),
		)
		return result
	} else {
		log.Warn("Collateral config lookup failed, using fallback table", zap.Error(err))
	}

	// 3. Hardcoded table. Never fails.
	fallback := models.DefaultMinBorrowFallback
	if coinErr == nil {
		fallback = coin.MinBorrowFallback
	}

	metrics.MinBorrowResolutions.WithLabelValues(string(SourceFallbackTable)).Inc()
	result := MinBorrowResult{
		Symbol:      symbol,
		BaseUnits:   fallback,
		HumanAmount: models.FromBaseUnits(fallback, decimals),
		Source:      SourceFallbackTable,
		ResolvedAt:  time.Now(),
	}
	ms.resultCache.Set(symbol, result)
	return result
}

// finish applies the buffer rule, caches, and records metrics.
func (ms *MinBorrowService) finish(symbol string, raw uint64, source MinBorrowSource, decimals int32) MinBorrowResult {
	buffered := raw
	bufferApplied := false

	// The buffer-exempt coin's on-chain minimum already accounts for
	// rounding; everything else gets the 10% cushion.
	if symbol != strings.ToUpper(ms.config.BufferExemptSymbol) {
		buffered = uint64(decimal.NewFromUint64(raw).Mul(safetyBuffer).Floor().IntPart())
		bufferApplied = true
	}

	metrics.MinBorrowResolutions.WithLabelValues(string(source)).Inc()
	result := MinBorrowResult{
		Symbol:        symbol,
		BaseUnits:     buffered,
		HumanAmount:   models.FromBaseUnits(buffered, decimals),
		Source:        source,
		BufferApplied: bufferApplied,
		ResolvedAt:    time.Now(),
	}
	ms.resultCache.Set(symbol, result)
	return result
}

// fromReserveConfig reads the minimum from the primary reserve config.
func (ms *MinBorrowService) fromReserveConfig(ctx context.Context, symbol string) (uint64, error) {
	reserves, err := ms.query.GetMarketReserves(ctx)
	if err != nil {
		return 0, err
	}

	reserve, ok := reserves[symbol]
	if !ok || reserve.MinBorrowAmount == 0 {
		return 0, errMinNotPresent
	}
	return reserve.MinBorrowAmount, nil
}

// fromCollateralConfig reads the semantic minimum-borrow field from the
// secondary config, probing the key names used across contract versions.
func (ms *MinBorrowService) fromCollateralConfig(ctx context.Context, symbol string) (uint64, error) {
	collaterals, err := ms.query.GetMarketCollaterals(ctx)
	if err != nil {
		return 0, err
	}

	cfg, ok := collaterals[symbol]
	if !ok {
		return 0, errMinNotPresent
	}

	for _, key := range collateralMinKeys {
		if value, present := cfg.Raw[key]; present {
			if parsed, ok := coerceUint64(value); ok && parsed > 0 {
				return parsed, nil
			}
		}
	}
	return 0, errMinNotPresent
}

// coerceUint64 handles the numeric shapes JSON decoding produces.
func coerceUint64(value interface{}) (uint64, bool) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case uint64:
		return v, true
	default:
		return 0, false
	}
}

// Stop releases the cache cleanup goroutine.
func (ms *MinBorrowService) Stop() {
	ms.resultCache.Stop()
}
