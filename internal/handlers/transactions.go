package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"sui-lending-api/internal/models"
	"sui-lending-api/internal/protocol"
	"sui-lending-api/internal/services"
	"sui-lending-api/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Sui addresses are 0x-prefixed hex, up to 32 bytes.
var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)

// TransactionHandler handles transaction-building endpoints
type TransactionHandler struct {
	builder     *services.TxBuilderService
	locking     *services.LockingService
	obligations *services.ObligationService
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(
	builder *services.TxBuilderService,
	locking *services.LockingService,
	obligations *services.ObligationService,
) *TransactionHandler {
	return &TransactionHandler{
		builder:     builder,
		locking:     locking,
		obligations: obligations,
	}
}

// BuildBorrow handles POST /api/transactions/borrow. With twoStep set
// the response carries two plans: a price-update transaction and the
// borrow with price updates skipped, submitted in that order.
func (h *TransactionHandler) BuildBorrow(c *gin.Context) {
	req, ok := h.bindRequest(c, true)
	if !ok {
		return
	}

	if req.TwoStep {
		priceStep, borrowStep, err := h.builder.BuildTwoStepBorrow(c.Request.Context(), req)
		if err != nil {
			models.HandleError(c, models.NewProtocolError("Failed to build two-step borrow", err), logger.GetLogger())
			return
		}
		if !priceStep.Success {
			h.writeBuildResponse(c, priceStep)
			return
		}
		if !borrowStep.Success {
			h.writeBuildResponse(c, borrowStep)
			return
		}
		c.JSON(http.StatusOK, models.TwoStepBuildResponse{
			Success:    true,
			PriceStep:  priceStep,
			BorrowStep: borrowStep,
		})
		return
	}

	resp, err := h.builder.BuildBorrowTransaction(c.Request.Context(), req)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to build transaction", err), logger.GetLogger())
		return
	}
	h.writeBuildResponse(c, resp)
}

// BuildSupply handles POST /api/transactions/supply
func (h *TransactionHandler) BuildSupply(c *gin.Context) {
	h.buildSimple(c, h.builder.BuildSupplyTransaction)
}

// BuildWithdraw handles POST /api/transactions/withdraw
func (h *TransactionHandler) BuildWithdraw(c *gin.Context) {
	h.buildSimple(c, h.builder.BuildWithdrawTransaction)
}

// BuildAddCollateral handles POST /api/transactions/add-collateral
func (h *TransactionHandler) BuildAddCollateral(c *gin.Context) {
	h.buildSimple(c, h.builder.BuildAddCollateralTransaction)
}

// BuildWithdrawCollateral handles POST /api/transactions/withdraw-collateral.
// Like repay, a locked obligation triggers the unlock-then-mutate saga.
func (h *TransactionHandler) BuildWithdrawCollateral(c *gin.Context) {
	h.buildWithUnlock(c, h.builder.BuildWithdrawCollateralTransaction, "withdraw collateral")
}

// BuildUpdatePrices handles POST /api/transactions/update-prices. The
// body's coin field accepts a comma-separated symbol list.
func (h *TransactionHandler) BuildUpdatePrices(c *gin.Context) {
	req, ok := h.bindRequest(c, false)
	if !ok {
		return
	}

	symbols := strings.Split(req.Coin, ",")
	for i := range symbols {
		symbols[i] = strings.TrimSpace(symbols[i])
	}

	resp, err := h.builder.BuildPriceUpdateTransaction(c.Request.Context(), req.Sender, symbols)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to build price update transaction", err), logger.GetLogger())
		return
	}
	h.writeBuildResponse(c, resp)
}

// BuildRepay handles POST /api/transactions/repay. A locked obligation
// triggers the unlock-then-repay saga through the sidecar signer; an
// unlocked one returns the serialized plan for the caller's wallet.
func (h *TransactionHandler) BuildRepay(c *gin.Context) {
	h.buildWithUnlock(c, h.builder.BuildRepayTransaction, "repay")
}

// buildWithUnlock runs the bind/build flow for mutations that cannot
// land against a locked obligation. When the obligation is locked, or a
// previous saga left it unlocked-but-unmutated, the handler runs the
// two-transaction saga server-side and returns its digests instead of a
// serialized plan.
func (h *TransactionHandler) buildWithUnlock(c *gin.Context, build func(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error), verb string) {
	req, ok := h.bindRequest(c, true)
	if !ok {
		return
	}

	log := logger.GetLogger().WithComponent("transaction_handler", logger.Wallet(req.Sender), logger.Coin(req.Coin))

	resp, err := build(c.Request.Context(), req)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to build "+verb+" transaction", err), logger.GetLogger())
		return
	}
	if !resp.Success {
		h.writeBuildResponse(c, resp)
		return
	}

	details, _ := resp.Details.(*services.BuildDetails)
	if details == nil || details.ObligationID == "" {
		h.writeBuildResponse(c, resp)
		return
	}

	locked, lockKind, err := h.locking.IsLocked(c.Request.Context(), details.ObligationID)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to inspect obligation lock state", err), logger.GetLogger())
		return
	}
	if !locked && h.locking.SagaStateFor(details.ObligationID) != services.SagaUnlockedPending {
		h.writeBuildResponse(c, resp)
		return
	}

	log.Info("Obligation is locked, unlocking before "+verb,
		zap.String("obligation_id", details.ObligationID),
		zap.String("lock_kind", string(lockKind)),
	)

	plan, err := protocol.DeserializePlan(resp.SerializedTx)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to decode built plan", err), logger.GetLogger())
		return
	}

	saga, err := h.locking.UnlockThenSubmit(c.Request.Context(), details.ObligationID, plan)
	if err != nil {
		classification := services.ClassifyErr(err)
		c.JSON(http.StatusConflict, models.BuildResponse{
			Success:   false,
			Error:     classification.UserMessage,
			ErrorCode: classification.Kind,
			Details:   saga,
		})
		return
	}

	h.obligations.InvalidateCache(req.Sender)
	c.JSON(http.StatusOK, models.BuildResponse{
		Success: true,
		Details: saga,
	})
}

// AnalyzeStructure handles POST /api/analyze-transaction-structure
func (h *TransactionHandler) AnalyzeStructure(c *gin.Context) {
	var req models.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		models.HandleError(c, models.NewValidationError("Invalid request body", err.Error()), logger.GetLogger())
		return
	}
	if req.SerializedTx == "" {
		models.HandleError(c, models.NewValidationError("serializedTx is required", ""), logger.GetLogger())
		return
	}

	plan, err := protocol.DeserializePlan(req.SerializedTx)
	if err != nil {
		models.HandleError(c, models.NewValidationError("serializedTx is not a valid transaction plan", err.Error()), logger.GetLogger())
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    h.builder.AnalyzeTransactionPlan(plan),
	})
}

// buildSimple runs the shared bind/validate/build/respond flow.
func (h *TransactionHandler) buildSimple(c *gin.Context, build func(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error)) {
	req, ok := h.bindRequest(c, true)
	if !ok {
		return
	}

	resp, err := build(c.Request.Context(), req)
	if err != nil {
		models.HandleError(c, models.NewProtocolError("Failed to build transaction", err), logger.GetLogger())
		return
	}
	h.writeBuildResponse(c, resp)
}

// bindRequest binds and validates the shared transaction request body.
func (h *TransactionHandler) bindRequest(c *gin.Context, requireAmount bool) (*models.TransactionRequest, bool) {
	var req models.TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		models.HandleError(c, models.NewValidationError("Invalid request body", err.Error()), logger.GetLogger())
		return nil, false
	}

	if !addressPattern.MatchString(req.Sender) {
		models.HandleError(c, models.NewAppErrorWithDetails(
			models.ErrorCodeInvalidAddress, "Invalid sender address", req.Sender), logger.GetLogger())
		return nil, false
	}
	if req.Coin == "" {
		models.HandleError(c, models.NewAppError(models.ErrorCodeUnknownCoin, "coin is required"), logger.GetLogger())
		return nil, false
	}
	if requireAmount && !req.Amount.IsPositive() {
		models.HandleError(c, models.NewAppErrorWithDetails(
			models.ErrorCodeInvalidAmount, "amount must be positive", req.Amount.String()), logger.GetLogger())
		return nil, false
	}

	return &req, true
}

// writeBuildResponse maps build failures to HTTP statuses while keeping
// the {success, ...} envelope the front end checks.
func (h *TransactionHandler) writeBuildResponse(c *gin.Context, resp *models.BuildResponse) {
	status := http.StatusOK
	if !resp.Success {
		switch resp.ErrorCode {
		case models.ErrKindBelowMinimumBorrow:
			status = http.StatusUnprocessableEntity
		case models.ErrKindObligationLocked:
			status = http.StatusConflict
		default:
			status = http.StatusBadRequest
		}
	}
	c.JSON(status, resp)
}
