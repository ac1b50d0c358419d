package handlers

import (
	"net/http"
	"time"

	"sui-lending-api/internal/models"
	"sui-lending-api/internal/protocol"
	"sui-lending-api/internal/services"
	"sui-lending-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ObligationHandler handles obligation read and cache endpoints
type ObligationHandler struct {
	obligations *services.ObligationService
}

// NewObligationHandler creates a new obligation handler
func NewObligationHandler(obligations *services.ObligationService) *ObligationHandler {
	return &ObligationHandler{
		obligations: obligations,
	}
}

// GetObligation handles GET /api/obligation/:address
func (h *ObligationHandler) GetObligation(c *gin.Context) {
	address := c.Param("address")
	if !addressPattern.MatchString(address) {
		models.HandleError(c, models.NewAppErrorWithDetails(
			models.ErrorCodeInvalidAddress, "Invalid address", address), logger.GetLogger())
		return
	}

	obligations, err := h.obligations.GetPortfolio(c.Request.Context(), address)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to fetch portfolio", err), logger.GetLogger())
		return
	}
	if len(obligations) == 0 {
		models.HandleError(c, models.NewAppErrorWithDetails(
			models.ErrorCodeMissingObligation, "No obligation found for address", address), logger.GetLogger())
		return
	}

	views := make([]models.ObligationView, 0, len(obligations))
	for i := range obligations {
		views = append(views, toObligationView(&obligations[i]))
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    views,
	})
}

// UpdateObligation handles POST /api/update-obligation. It drops the
// cached obligation ID for the address and re-resolves from chain,
// optionally pinning a caller-supplied ID.
func (h *ObligationHandler) UpdateObligation(c *gin.Context) {
	var req models.UpdateObligationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		models.HandleError(c, models.NewValidationError("Invalid request body", err.Error()), logger.GetLogger())
		return
	}
	if !addressPattern.MatchString(req.Address) {
		models.HandleError(c, models.NewAppErrorWithDetails(
			models.ErrorCodeInvalidAddress, "Invalid address", req.Address), logger.GetLogger())
		return
	}

	h.obligations.InvalidateCache(req.Address)

	resolution, err := h.obligations.ResolveObligation(c.Request.Context(), req.Address, req.ObligationID)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to resolve obligation", err), logger.GetLogger())
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    resolution,
	})
}

// toObligationView projects an on-chain obligation into the API shape.
func toObligationView(o *protocol.Obligation) models.ObligationView {
	collaterals := make([]models.PositionView, 0, len(o.Collaterals))
	for _, p := range o.Collaterals {
		collaterals = append(collaterals, models.PositionView{
			Symbol:   p.Symbol,
			Amount:   p.Amount,
			USDValue: p.USDValue,
		})
	}
	borrows := make([]models.PositionView, 0, len(o.Borrows))
	for _, p := range o.Borrows {
		borrows = append(borrows, models.PositionView{
			Symbol:   p.Symbol,
			Amount:   p.Amount,
			USDValue: p.USDValue,
		})
	}

	return models.ObligationView{
		ObligationID:       o.ObligationID,
		Collaterals:        collaterals,
		Borrows:            borrows,
		IsLocked:           o.IsLocked(),
		LockType:           string(o.LockType),
		IsEmpty:            o.IsEmpty(),
		TotalCollateralUSD: o.TotalCollateralUSD,
		TotalBorrowUSD:     o.TotalBorrowUSD,
		RiskLevel:          o.RiskLevel,
		FetchedAt:          time.Now().UTC(),
	}
}
