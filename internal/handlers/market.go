package handlers

import (
	"encoding/base64"
	"net/http"
	"time"

	"sui-lending-api/internal/config"
	"sui-lending-api/internal/models"
	"sui-lending-api/internal/services"
	"sui-lending-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// MarketHandler handles market-data read endpoints
type MarketHandler struct {
	market      *services.MarketService
	minBorrow   *services.MinBorrowService
	obligations *services.ObligationService
	config      *config.ProtocolConfig
}

// NewMarketHandler creates a new market handler
func NewMarketHandler(
	market *services.MarketService,
	minBorrow *services.MinBorrowService,
	obligations *services.ObligationService,
	cfg *config.ProtocolConfig,
) *MarketHandler {
	return &MarketHandler{
		market:      market,
		minBorrow:   minBorrow,
		obligations: obligations,
		config:      cfg,
	}
}

// GetMarketData handles GET /api/market-data
func (h *MarketHandler) GetMarketData(c *gin.Context) {
	reserves, err := h.market.GetMarketData(c.Request.Context())
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to fetch market data", err), logger.GetLogger())
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    reserves,
	})
}

// GetMinBorrow handles GET /api/direct-min-borrow/:coin
func (h *MarketHandler) GetMinBorrow(c *gin.Context) {
	coin := c.Param("coin")
	if _, err := models.LookupCoin(coin); err != nil {
		models.HandleError(c, models.NewAppErrorWithDetails(
			models.ErrorCodeUnknownCoin, "Unsupported coin", coin), logger.GetLogger())
		return
	}

	result := h.minBorrow.GetMinimumBorrowAmount(c.Request.Context(), coin)
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data: models.MinBorrowView{
			Coin:            result.Symbol,
			MinBaseUnits:    result.BaseUnits,
			MinHumanAmount:  result.HumanAmount,
			Source:          string(result.Source),
			BufferApplied:   result.BufferApplied,
			ResolvedAt:      result.ResolvedAt,
			CacheableForSec: int(h.config.MarketDataTTL.Seconds()),
		},
	})
}

// GetMaxBorrow handles GET /api/max-borrow/:address/:coin
func (h *MarketHandler) GetMaxBorrow(c *gin.Context) {
	address := c.Param("address")
	coin := c.Param("coin")

	if !addressPattern.MatchString(address) {
		models.HandleError(c, models.NewAppErrorWithDetails(
			models.ErrorCodeInvalidAddress, "Invalid address", address), logger.GetLogger())
		return
	}

	resolution, err := h.obligations.ResolveObligation(c.Request.Context(), address, "")
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to resolve obligation", err), logger.GetLogger())
		return
	}

	obligation, err := h.obligations.GetObligation(c.Request.Context(), resolution.ObligationID)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to fetch obligation", err), logger.GetLogger())
		return
	}

	view, err := h.market.GetMaxBorrow(c.Request.Context(), obligation, coin)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to compute max borrow", err), logger.GetLogger())
		return
	}
	view.Address = address

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    view,
	})
}

// GetPriceFeed handles GET /api/price-feeds/:coin
func (h *MarketHandler) GetPriceFeed(c *gin.Context) {
	coin := c.Param("coin")

	update, err := h.market.GetPriceFeed(c.Request.Context(), coin)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to fetch price feed", err), logger.GetLogger())
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data: gin.H{
			"coin":            update.Symbol,
			"feedId":          update.FeedID,
			"accumulatorData": base64.StdEncoding.EncodeToString(update.AccumulatorData),
			"vaaData":         base64.StdEncoding.EncodeToString(update.VAAData),
			"publishedAt":     update.PublishedAt,
		},
	})
}

// GetTransaction handles GET /api/transaction/:digest
func (h *MarketHandler) GetTransaction(c *gin.Context) {
	digest := c.Param("digest")
	if digest == "" {
		models.HandleError(c, models.NewValidationError("digest is required", ""), logger.GetLogger())
		return
	}

	result, err := h.market.GetTransaction(c.Request.Context(), digest)
	if err != nil {
		models.HandleError(c, models.NewRPCError("Failed to fetch transaction", err), logger.GetLogger())
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    result,
		Details: gin.H{"fetchedAt": time.Now().UTC()},
	})
}

// GetBalance handles GET /api/balance/:address/:coin, summing the
// wallet's holdings across canonical and alias coin types.
func (h *MarketHandler) GetBalance(c *gin.Context) {
	address := c.Param("address")
	coin := c.Param("coin")

	if !addressPattern.MatchString(address) {
		models.HandleError(c, models.NewAppErrorWithDetails(
			models.ErrorCodeInvalidAddress, "Invalid address", address), logger.GetLogger())
		return
	}

	asset, err := models.LookupCoin(coin)
	if err != nil {
		models.HandleError(c, models.NewAppErrorWithDetails(
			models.ErrorCodeUnknownCoin, "Unsupported coin", coin), logger.GetLogger())
		return
	}

	total, err := h.market.GetWalletBalance(c.Request.Context(), address, asset.Symbol)
	if err != nil {
		models.HandleError(c, models.NewRPCError("Failed to fetch balance", err), logger.GetLogger())
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data: gin.H{
			"address":     address,
			"coin":        asset.Symbol,
			"baseUnits":   total,
			"humanAmount": models.FromBaseUnits(total, asset.Decimals),
		},
	})
}
