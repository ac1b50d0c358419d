package services

import (
	"context"
	"fmt"
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

// MarketService serves market-level reads: reserve data, wallet balance
// summed across coin type aliases, and the borrowable headroom estimate.
type MarketService struct {
	query       protocol.LendingQuery
	chain       protocol.ChainReader
	priceFeeds  protocol.PriceFeedSource
	config      *config.ProtocolConfig
	marketCache *cache.Cache[map[string]protocol.MarketReserve]
	metrics     *metrics.MetricsCollector
}

// NewMarketService creates a new MarketService instance
func NewMarketService(
	query protocol.LendingQuery,
	chain protocol.ChainReader,
	priceFeeds protocol.PriceFeedSource,
	cfg *config.ProtocolConfig,
	collector *metrics.MetricsCollector,
) *MarketService {
	return &MarketService{
		query:       query,
		chain:       chain,
		priceFeeds:  priceFeeds,
		config:      cfg,
		marketCache: cache.New[map[string]protocol.MarketReserve](cfg.MarketDataTTL),
		metrics:     collector,
	}
}

const marketCacheKey = "reserves"

// GetMarketData returns the reserve table per symbol, cached for the
// market-data TTL.
func (ms *MarketService) GetMarketData(ctx context.Context) (map[string]protocol.MarketReserve, error) {
	if cached, found := ms.marketCache.Get(marketCacheKey); found {
		ms.metrics.RecordCacheHit()
		return cached, nil
	}
	ms.metrics.RecordCacheMiss()

	start := time.Now()
	reserves, err := ms.query.GetMarketReserves(ctx)
	ms.metrics.RecordRPCCall(time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch market reserves: %w", err)
	}

	ms.marketCache.Set(marketCacheKey, reserves)
	return reserves, nil
}

// GetWalletBalance sums the wallet's holdings of a coin across its
// canonical type and every known alias type. Older wallets hold wrapped
// variants under legacy type strings.
func (ms *MarketService) GetWalletBalance(ctx context.Context, address, symbol string) (uint64, error) {
	coin, err := models.LookupCoin(symbol)
	if err != nil {
		return 0, err
	}

	log := logger.GetLogger().WithFields(map[string]interface{}{
		"wallet_address": address,
		"coin":           coin.Symbol,
		"component":      "market_service",
	})

	var total uint64
	for _, coinType := range coin.AllCoinTypes() {
		start := time.Now()
		balance, err := ms.chain.GetBalance(ctx, address, coinType)
		ms.metrics.RecordRPCCall(time.Since(start), err == nil)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch balance for %s: %w", coinType, err)
		}
		if balance.TotalBalance > 0 {
			log.Debug("Balance found for coin type",
				zap.String("coin_type", coinType),
				zap.Uint64("balance", balance.TotalBalance),
			)
		}
		total += balance.TotalBalance
	}
	return total, nil
}

// GetMaxBorrow estimates the largest borrow of a coin the obligation's
// collateral supports. The estimate is conservative: borrow headroom in
// USD divided by the coin price, floored to base units.
func (ms *MarketService) GetMaxBorrow(ctx context.Context, obligation *protocol.Obligation, symbol string) (*models.MaxBorrowView, error) {
	coin, err := models.LookupCoin(symbol)
	if err != nil {
		return nil, err
	}

	reserves, err := ms.GetMarketData(ctx)
	if err != nil {
		return nil, err
	}
	reserve, ok := reserves[coin.Symbol]
	if !ok || reserve.Price.IsZero() {
		return nil, fmt.Errorf("no price available for %s", coin.Symbol)
	}

	// Headroom before the obligation hits its risk ceiling. RiskLevel is
	// the borrow-to-limit ratio, so limit = borrowUSD / risk when debt
	// exists, else collateral value scaled by the observed ratio bound.
	headroomUSD := obligation.TotalCollateralUSD.Sub(obligation.TotalBorrowUSD)
	if !obligation.RiskLevel.IsZero() && obligation.TotalBorrowUSD.IsPositive() {
		limit := obligation.TotalBorrowUSD.Div(obligation.RiskLevel)
		headroomUSD = limit.Sub(obligation.TotalBorrowUSD)
	}
	if headroomUSD.IsNegative() {
		headroomUSD = decimal.Zero
	}

	maxHuman := headroomUSD.Div(reserve.Price)
	maxBase := models.ToBaseUnits(maxHuman, coin.Decimals)

	return &models.MaxBorrowView{
		Address:        obligation.Owner,
		Coin:           coin.Symbol,
		MaxBaseUnits:   maxBase,
		MaxHumanAmount: models.FromBaseUnits(maxBase, coin.Decimals),
		ObligationID:   obligation.ObligationID,
	}, nil
}

// GetPriceFeed fetches the current oracle update payload for a coin.
func (ms *MarketService) GetPriceFeed(ctx context.Context, symbol string) (*protocol.PriceFeedUpdate, error) {
	coin, err := models.LookupCoin(symbol)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	update, err := ms.priceFeeds.GetPriceUpdate(ctx, coin.Symbol)
	ms.metrics.RecordRPCCall(time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price feed for %s: %w", coin.Symbol, err)
	}
	return update, nil
}

// GetTransaction looks up a submitted transaction by digest.
func (ms *MarketService) GetTransaction(ctx context.Context, digest string) (*protocol.SubmitResult, error) {
	start := time.Now()
	result, err := ms.chain.GetTransactionBlock(ctx, digest)
	ms.metrics.RecordRPCCall(time.Since(start), err == nil)
	return result, err
}

// InvalidateCache drops cached market data.
func (ms *MarketService) InvalidateCache() {
	ms.marketCache.Delete(marketCacheKey)
}

// Stop releases the cache cleanup goroutine.
func (ms *MarketService) Stop() {
	ms.marketCache.Stop()
}
