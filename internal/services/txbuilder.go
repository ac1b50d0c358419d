package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"sui-lending-api/internal/config"
	"sui-lending-api/internal/models"
	"sui-lending-api/internal/protocol"
	"sui-lending-api/pkg/logger"
	"sui-lending-api/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlanAnalysis is the post-hoc structural report for a built plan. It is
// diagnostic only and never blocks submission; callers use it for
// logging and the two-step fallback decision.
type PlanAnalysis struct {
	OperationCounts       map[protocol.OpKind]int `json:"operationCounts"`
	PriceUpdateCount      int                     `json:"priceUpdateCount"`
	RedundantPriceUpdates bool                    `json:"redundantPriceUpdates"`
	GasTier               protocol.GasTier        `json:"gasTier"`
	GasBudget             uint64                  `json:"gasBudget"`
	GasTierSufficient     bool                    `json:"gasTierSufficient"`
	RecommendTwoStep      bool                    `json:"recommendTwoStep"`
}

// BuildDetails carries construction metadata alongside a built plan.
type BuildDetails struct {
	ObligationID     string          `json:"obligationId"`
	ObligationIsNew  bool            `json:"obligationIsNew,omitempty"`
	Coin             string          `json:"coin"`
	BaseUnits        uint64          `json:"baseUnits"`
	MinBaseUnits     uint64          `json:"minBaseUnits,omitempty"`
	MinSource        MinBorrowSource `json:"minSource,omitempty"`
	ClampedToMinimum bool            `json:"clampedToMinimum,omitempty"`
	PriceFeedFresh   bool            `json:"priceFeedFresh,omitempty"`
}

// TxBuilderService assembles transaction plans for every protocol
// mutation. Plans are built fresh per request and never cached.
type TxBuilderService struct {
	obligations *ObligationService
	minBorrow   *MinBorrowService
	priceFeeds  protocol.PriceFeedSource
	config      *config.ProtocolConfig
	metrics     *metrics.MetricsCollector
}

// NewTxBuilderService creates a new TxBuilderService instance
func NewTxBuilderService(
	obligations *ObligationService,
	minBorrow *MinBorrowService,
	priceFeeds protocol.PriceFeedSource,
	cfg *config.ProtocolConfig,
	collector *metrics.MetricsCollector,
) *TxBuilderService {
	return &TxBuilderService{
		obligations: obligations,
		minBorrow:   minBorrow,
		priceFeeds:  priceFeeds,
		config:      cfg,
		metrics:     collector,
	}
}

// BuildBorrowTransaction assembles the borrow plan: minimum resolution,
// amount conversion, oracle price updates, the borrow itself, and the
// transfer of borrowed funds back to the sender.
func (ts *TxBuilderService) BuildBorrowTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error) {
	log := logger.GetLogger().WithComponent("tx_builder", logger.Wallet(req.Sender), logger.Coin(req.Coin))

	coin, err := models.LookupCoin(req.Coin)
	if err != nil {
		return failureResponse(models.ErrKindUnknown, err.Error(), nil), nil
	}
	decimals := coin.Decimals
	if req.Decimals > 0 {
		decimals = req.Decimals
	}

	minimum := ts.minBorrow.GetMinimumBorrowAmount(ctx, coin.Symbol)
	baseUnits := models.ToBaseUnits(req.Amount, decimals)

	details := &BuildDetails{
		Coin:         coin.Symbol,
		BaseUnits:    baseUnits,
		MinBaseUnits: minimum.BaseUnits,
		MinSource:    minimum.Source,
	}

	// Flooring an at-minimum request must not push it under the minimum.
	// For the buffer-exempt coin, a shortfall that exists only in base
	// units (the human amount meets the human minimum) is clamped up.
	if coin.Symbol == ts.config.BufferExemptSymbol &&
		baseUnits < minimum.BaseUnits &&
		req.Amount.GreaterThanOrEqual(minimum.HumanAmount) {
		log.Info("Clamping borrow amount up to protocol minimum",
			zap.Uint64("requested_base_units", baseUnits),
			zap.Uint64("minimum_base_units", minimum.BaseUnits),
		)
		baseUnits = minimum.BaseUnits
		details.BaseUnits = baseUnits
		details.ClampedToMinimum = true
	}

	if baseUnits < minimum.BaseUnits {
		metrics.TransactionFailures.WithLabelValues(string(protocol.OpBorrow), string(models.ErrKindBelowMinimumBorrow)).Inc()
		log.Warn("Borrow amount below protocol minimum",
			zap.Uint64("requested_base_units", baseUnits),
			zap.Uint64("minimum_base_units", minimum.BaseUnits),
			zap.String("min_source", string(minimum.Source)),
		)
		minHuman := minimum.HumanAmount
		return &models.BuildResponse{
			Success:       false,
			Error:         fmt.Sprintf("borrow amount %s %s is below the protocol minimum of %s %s", req.Amount, coin.Symbol, minHuman, coin.Symbol),
			ErrorCode:     models.ErrKindBelowMinimumBorrow,
			MinAmount:     &minHuman,
			SuggestedStep: fmt.Sprintf("increase the borrow amount to at least %s %s", minHuman, coin.Symbol),
			Details:       details,
		}, nil
	}

	resolution, err := ts.obligations.ResolveObligation(ctx, req.Sender, req.ObligationID)
	if err != nil {
		return nil, err
	}
	details.ObligationID = resolution.ObligationID
	details.ObligationIsNew = resolution.IsNew

	operations := make([]protocol.Operation, 0, 4)
	if !req.SkipPriceUpdate {
		priceOps, fresh := ts.priceUpdateOperations(ctx, coin.Symbol)
		operations = append(operations, priceOps...)
		details.PriceFeedFresh = fresh
	}

	operations = append(operations,
		protocol.Operation{
			Kind:   protocol.OpBorrow,
			Target: moveTarget("borrow", "borrow"),
			Args: map[string]interface{}{
				"obligationId": resolution.ObligationID,
				"coinType":     coin.CanonicalType,
				"amount":       baseUnits,
			},
		},
		protocol.Operation{
			Kind: protocol.OpTransferToSender,
			Args: map[string]interface{}{
				"recipient": req.Sender,
				"coinType":  coin.CanonicalType,
			},
		},
	)

	plan := ts.assemblePlan(req.Sender, operations)
	return ts.finishPlan(plan, protocol.OpBorrow, details)
}

// BuildSupplyTransaction assembles the supply (lend) plan. Supplying
// yields an interest-bearing market coin, transferred back to the sender.
func (ts *TxBuilderService) BuildSupplyTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error) {
	coin, baseUnits, resp := ts.convertAmount(req)
	if resp != nil {
		return resp, nil
	}

	operations := []protocol.Operation{
		{
			Kind:   protocol.OpSupply,
			Target: moveTarget("mint", "mint"),
			Args: map[string]interface{}{
				"coinType": coin.CanonicalType,
				"amount":   baseUnits,
			},
		},
		{
			Kind: protocol.OpTransferToSender,
			Args: map[string]interface{}{"recipient": req.Sender},
		},
	}

	plan := ts.assemblePlan(req.Sender, operations)
	return ts.finishPlan(plan, protocol.OpSupply, &BuildDetails{Coin: coin.Symbol, BaseUnits: baseUnits})
}

// BuildWithdrawTransaction assembles the plan redeeming supplied funds.
func (ts *TxBuilderService) BuildWithdrawTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error) {
	coin, baseUnits, resp := ts.convertAmount(req)
	if resp != nil {
		return resp, nil
	}

	operations := []protocol.Operation{
		{
			Kind:   protocol.OpWithdraw,
			Target: moveTarget("redeem", "redeem"),
			Args: map[string]interface{}{
				"coinType": coin.CanonicalType,
				"amount":   baseUnits,
			},
		},
		{
			Kind: protocol.OpTransferToSender,
			Args: map[string]interface{}{"recipient": req.Sender},
		},
	}

	plan := ts.assemblePlan(req.Sender, operations)
	return ts.finishPlan(plan, protocol.OpWithdraw, &BuildDetails{Coin: coin.Symbol, BaseUnits: baseUnits})
}

// BuildAddCollateralTransaction assembles the collateral deposit plan.
// It reuses an empty, unlocked obligation when one exists; otherwise the
// plan opens the obligation and deposits into it in the same
// transaction, so no zero-collateral obligation is ever observable.
func (ts *TxBuilderService) BuildAddCollateralTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error) {
	coin, baseUnits, resp := ts.convertAmount(req)
	if resp != nil {
		return resp, nil
	}

	resolution, err := ts.obligations.ResolveForDeposit(ctx, req.Sender, req.ObligationID)
	if err != nil {
		return nil, err
	}

	operations := make([]protocol.Operation, 0, 2)
	depositArgs := map[string]interface{}{
		"coinType": coin.CanonicalType,
		"amount":   baseUnits,
	}
	if resolution.ObligationID == "" {
		// The deposit consumes the obligation opened one step earlier in
		// the same transaction.
		operations = append(operations, protocol.Operation{
			Kind:   protocol.OpOpenObligation,
			Target: moveTarget("open_obligation", "open_obligation"),
		})
	} else {
		depositArgs["obligationId"] = resolution.ObligationID
	}
	operations = append(operations, protocol.Operation{
		Kind:   protocol.OpDepositCollateral,
		Target: moveTarget("deposit_collateral", "deposit_collateral"),
		Args:   depositArgs,
	})

	plan := ts.assemblePlan(req.Sender, operations)
	return ts.finishPlan(plan, protocol.OpDepositCollateral, &BuildDetails{
		ObligationID:    resolution.ObligationID,
		ObligationIsNew: resolution.IsNew,
		Coin:            coin.Symbol,
		BaseUnits:       baseUnits,
	})
}

// BuildWithdrawCollateralTransaction assembles the collateral withdrawal
// plan. Withdrawal re-checks obligation health on-chain, so fresh prices
// lead the plan.
func (ts *TxBuilderService) BuildWithdrawCollateralTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error) {
	coin, baseUnits, resp := ts.convertAmount(req)
	if resp != nil {
		return resp, nil
	}

	resolution, err := ts.obligations.ResolveObligation(ctx, req.Sender, req.ObligationID)
	if err != nil {
		return nil, err
	}

	operations := make([]protocol.Operation, 0, 3)
	var fresh bool
	if !req.SkipPriceUpdate {
		var priceOps []protocol.Operation
		priceOps, fresh = ts.priceUpdateOperations(ctx, coin.Symbol)
		operations = append(operations, priceOps...)
	}
	operations = append(operations,
		protocol.Operation{
			Kind:   protocol.OpWithdrawCollateral,
			Target: moveTarget("withdraw_collateral", "withdraw_collateral"),
			Args: map[string]interface{}{
				"obligationId": resolution.ObligationID,
				"coinType":     coin.CanonicalType,
				"amount":       baseUnits,
			},
		},
		protocol.Operation{
			Kind: protocol.OpTransferToSender,
			Args: map[string]interface{}{"recipient": req.Sender},
		},
	)

	plan := ts.assemblePlan(req.Sender, operations)
	return ts.finishPlan(plan, protocol.OpWithdrawCollateral, &BuildDetails{
		ObligationID:   resolution.ObligationID,
		Coin:           coin.Symbol,
		BaseUnits:      baseUnits,
		PriceFeedFresh: fresh,
	})
}

// BuildRepayTransaction assembles the debt repayment plan. Lock handling
// is the caller's concern; a locked obligation must be unstaked through
// the locking service before this plan is submitted.
func (ts *TxBuilderService) BuildRepayTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error) {
	coin, baseUnits, resp := ts.convertAmount(req)
	if resp != nil {
		return resp, nil
	}

	resolution, err := ts.obligations.ResolveObligation(ctx, req.Sender, req.ObligationID)
	if err != nil {
		return nil, err
	}

	operations := []protocol.Operation{
		{
			Kind:   protocol.OpRepay,
			Target: moveTarget("repay", "repay"),
			Args: map[string]interface{}{
				"obligationId": resolution.ObligationID,
				"coinType":     coin.CanonicalType,
				"amount":       baseUnits,
			},
		},
	}

	plan := ts.assemblePlan(req.Sender, operations)
	return ts.finishPlan(plan, protocol.OpRepay, &BuildDetails{
		ObligationID: resolution.ObligationID,
		Coin:         coin.Symbol,
		BaseUnits:    baseUnits,
	})
}

// BuildPriceUpdateTransaction assembles a plan carrying only oracle
// price updates for the given coins. Used standalone and as the first
// leg of the two-step fallback.
func (ts *TxBuilderService) BuildPriceUpdateTransaction(ctx context.Context, sender string, symbols []string) (*models.BuildResponse, error) {
	operations := make([]protocol.Operation, 0, len(symbols))
	allFresh := true
	for _, symbol := range symbols {
		coin, err := models.LookupCoin(symbol)
		if err != nil {
			return failureResponse(models.ErrKindUnknown, err.Error(), nil), nil
		}
		priceOps, fresh := ts.priceUpdateOperations(ctx, coin.Symbol)
		allFresh = allFresh && fresh
		operations = append(operations, priceOps...)
	}

	plan := ts.assemblePlan(sender, operations)
	return ts.finishPlan(plan, protocol.OpPriceUpdate, &BuildDetails{PriceFeedFresh: allFresh})
}

// BuildTwoStepBorrow produces the fallback pair for a borrow whose
// combined plan failed on oracle verification: a price-update-only plan
// followed by the borrow with price updates skipped. The gap between the
// two submissions risks the refreshed price going stale again, which the
// classifier reports distinctly.
func (ts *TxBuilderService) BuildTwoStepBorrow(ctx context.Context, req *models.TransactionRequest) (priceStep, borrowStep *models.BuildResponse, err error) {
	log := logger.GetLogger().WithComponent("tx_builder", logger.Wallet(req.Sender), logger.Coin(req.Coin))
	log.Info("Building two-step borrow fallback")

	ts.metrics.RecordTwoStepFallback()
	metrics.TwoStepFallbacksTotal.Inc()

	priceStep, err = ts.BuildPriceUpdateTransaction(ctx, req.Sender, []string{req.Coin})
	if err != nil {
		return nil, nil, err
	}

	borrowReq := *req
	borrowReq.SkipPriceUpdate = true
	borrowStep, err = ts.BuildBorrowTransaction(ctx, &borrowReq)
	if err != nil {
		return nil, nil, err
	}
	return priceStep, borrowStep, nil
}

// AnalyzeTransactionPlan runs the structural analysis pass over a plan.
func (ts *TxBuilderService) AnalyzeTransactionPlan(plan *protocol.TransactionPlan) *PlanAnalysis {
	analysis := &PlanAnalysis{
		OperationCounts: make(map[protocol.OpKind]int),
		GasTier:         plan.GasTier,
		GasBudget:       plan.GasBudget,
	}

	perCoinUpdates := make(map[string]int)
	for _, op := range plan.Operations {
		analysis.OperationCounts[op.Kind]++
		if op.Kind == protocol.OpPriceUpdate {
			analysis.PriceUpdateCount++
			if coinType, ok := op.Args["coinType"].(string); ok {
				perCoinUpdates[coinType]++
			}
		}
	}

	for _, count := range perCoinUpdates {
		if count > 1 {
			analysis.RedundantPriceUpdates = true
		}
	}

	// Oracle verification dominates gas; anything below the top tier is
	// flagged as underprovisioned when price updates are present.
	if analysis.PriceUpdateCount > 0 {
		analysis.GasTierSufficient = plan.GasTier == protocol.GasTierUltra
	} else {
		analysis.GasTierSufficient = plan.GasBudget >= uint64(len(plan.Operations))*10_000_000
	}
	analysis.RecommendTwoStep = analysis.PriceUpdateCount > 0 && !analysis.GasTierSufficient

	return analysis
}

// priceUpdateOperations fetches fresh oracle payloads for a coin,
// falling back to the generic quick-update helper when no fresh feed is
// available. The second return reports whether fresh bytes were used.
func (ts *TxBuilderService) priceUpdateOperations(ctx context.Context, symbol string) ([]protocol.Operation, bool) {
	log := logger.GetLogger().WithComponent("tx_builder", logger.Coin(symbol))

	coin, err := models.LookupCoin(symbol)
	if err != nil {
		return nil, false
	}

	update, err := ts.priceFeeds.GetPriceUpdate(ctx, symbol)
	if err != nil || update == nil || len(update.VAAData) == 0 {
		log.Warn("No fresh price feed available, using quick price update", zap.Error(err))
		return []protocol.Operation{
			{
				Kind:   protocol.OpPriceUpdate,
				Target: moveTarget("oracle", "quick_update_price"),
				Args: map[string]interface{}{
					"coinType": coin.CanonicalType,
					"mode":     "quick-update",
				},
			},
		}, false
	}

	return []protocol.Operation{
		{
			Kind:   protocol.OpPriceUpdate,
			Target: moveTarget("oracle", "update_price"),
			Args: map[string]interface{}{
				"coinType":        coin.CanonicalType,
				"feedId":          update.FeedID,
				"accumulatorData": base64.StdEncoding.EncodeToString(update.AccumulatorData),
				"vaaData":         base64.StdEncoding.EncodeToString(update.VAAData),
			},
		},
	}, true
}

// assemblePlan wraps operations in a plan with the tier rule applied:
// the top tier whenever oracle operations are present, the default
// otherwise.
func (ts *TxBuilderService) assemblePlan(sender string, operations []protocol.Operation) *protocol.TransactionPlan {
	plan := &protocol.TransactionPlan{
		Sender:     sender,
		Operations: operations,
		GasTier:    protocol.GasTierDefault,
		BuiltAt:    time.Now(),
	}
	if plan.HasPriceUpdate() {
		plan.GasTier = protocol.GasTierUltra
	}
	plan.GasBudget = plan.GasTier.Budget()
	return plan
}

// finishPlan serializes, analyzes, and wraps a plan into the build
// response, recording the build metric.
func (ts *TxBuilderService) finishPlan(plan *protocol.TransactionPlan, kind protocol.OpKind, details *BuildDetails) (*models.BuildResponse, error) {
	serialized, err := plan.Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction plan: %w", err)
	}

	metrics.TransactionsBuilt.WithLabelValues(string(kind)).Inc()

	return &models.BuildResponse{
		Success:      true,
		SerializedTx: serialized,
		Analysis:     ts.AnalyzeTransactionPlan(plan),
		Details:      details,
	}, nil
}

// convertAmount validates the coin and amount shared by the simple
// builders. A non-nil response is a terminal validation failure.
func (ts *TxBuilderService) convertAmount(req *models.TransactionRequest) (models.CoinAsset, uint64, *models.BuildResponse) {
	coin, err := models.LookupCoin(req.Coin)
	if err != nil {
		return models.CoinAsset{}, 0, failureResponse(models.ErrKindUnknown, err.Error(), nil)
	}

	decimals := coin.Decimals
	if req.Decimals > 0 {
		decimals = req.Decimals
	}

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return models.CoinAsset{}, 0, failureResponse(models.ErrKindUnknown,
			fmt.Sprintf("amount must be positive, got %s", req.Amount), nil)
	}

	return coin, models.ToBaseUnits(req.Amount, decimals), nil
}

// failureResponse builds a terminal build failure envelope.
func failureResponse(kind models.ErrorKind, message string, details interface{}) *models.BuildResponse {
	return &models.BuildResponse{
		Success:   false,
		Error:     message,
		ErrorCode: kind,
		Details:   details,
	}
}

// moveTarget renders a Move call target for the lending package. The
// concrete package address is bound by the SDK sidecar at execution
// time; plans carry the symbolic module::function form.
func moveTarget(module, function string) string {
	return fmt.Sprintf("lending::%s::%s", module, function)
}
