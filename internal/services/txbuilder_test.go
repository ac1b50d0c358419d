package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"sui-lending-api/internal/models"
	"sui-lending-api/internal/protocol"
	"sui-lending-api/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type builderFixture struct {
	query     *fakeQuery
	submitter *fakeSubmitter
	feeds     *fakePriceFeeds
	svc       *TxBuilderService
	cleanup   func()
}

func newBuilderFixture(t *testing.T) *builderFixture {
	t.Helper()

	query := newFakeQuery()
	query.reserves["SUI"] = protocol.MarketReserve{Symbol: "SUI", MinBorrowAmount: 1_000_000_000}
	query.reserves["USDC"] = protocol.MarketReserve{Symbol: "USDC", MinBorrowAmount: 1_060_000}
	query.portfolios["0xabc"] = []protocol.Obligation{{ObligationID: "0xob1", Owner: "0xabc"}}

	submitter := &fakeSubmitter{}
	feeds := &fakePriceFeeds{updates: map[string]*protocol.PriceFeedUpdate{
		"SUI":  freshFeed("SUI"),
		"USDC": freshFeed("USDC"),
	}}

	cfg := testProtocolConfig()
	collector := metrics.NewMetricsCollector()
	obligations := NewObligationService(query, submitter, nil, cfg, time.Minute, collector)
	minBorrow := NewMinBorrowService(query, cfg, collector)
	svc := NewTxBuilderService(obligations, minBorrow, feeds, cfg, collector)

	return &builderFixture{
		query:     query,
		submitter: submitter,
		feeds:     feeds,
		svc:       svc,
		cleanup: func() {
			obligations.Stop()
			minBorrow.Stop()
		},
	}
}

func borrowRequest(coin, amount string) *models.TransactionRequest {
	return &models.TransactionRequest{
		Sender: "0xabc",
		Coin:   coin,
		Amount: decimal.RequireFromString(amount),
	}
}

func TestBuildBorrowTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("BelowMinimumRejected", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()

		resp, err := fx.svc.BuildBorrowTransaction(ctx, borrowRequest("USDC", "0.0005"))
		require.NoError(t, err)

		assert.False(t, resp.Success)
		assert.Equal(t, models.ErrKindBelowMinimumBorrow, resp.ErrorCode)
		require.NotNil(t, resp.MinAmount)
		assert.True(t, resp.MinAmount.Equal(decimal.RequireFromString("1.06")),
			"minAmount = %s", resp.MinAmount)
		assert.NotEmpty(t, resp.SuggestedStep)
		assert.Empty(t, resp.SerializedTx)
	})

	t.Run("OperationOrdering", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()

		resp, err := fx.svc.BuildBorrowTransaction(ctx, borrowRequest("SUI", "5"))
		require.NoError(t, err)
		require.True(t, resp.Success, "error: %s", resp.Error)

		plan, err := protocol.DeserializePlan(resp.SerializedTx)
		require.NoError(t, err)

		require.Len(t, plan.Operations, 3)
		assert.Equal(t, protocol.OpPriceUpdate, plan.Operations[0].Kind)
		assert.Equal(t, protocol.OpBorrow, plan.Operations[1].Kind)
		assert.Equal(t, protocol.OpTransferToSender, plan.Operations[2].Kind)

		// Oracle verification forces the top gas tier.
		assert.Equal(t, protocol.GasTierUltra, plan.GasTier)
		assert.Equal(t, uint64(500_000_000), plan.GasBudget)

		// 5 SUI in base units. JSON round-tripping renders numbers as
		// float64, so compare by value.
		assert.EqualValues(t, 5_000_000_000, plan.Operations[1].Args["amount"])
		assert.Equal(t, "0xob1", plan.Operations[1].Args["obligationId"])
	})

	t.Run("SkipPriceUpdate", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()

		req := borrowRequest("SUI", "5")
		req.SkipPriceUpdate = true

		resp, err := fx.svc.BuildBorrowTransaction(ctx, req)
		require.NoError(t, err)
		require.True(t, resp.Success)

		plan, err := protocol.DeserializePlan(resp.SerializedTx)
		require.NoError(t, err)

		assert.False(t, plan.HasPriceUpdate())
		assert.Equal(t, protocol.GasTierDefault, plan.GasTier)
		assert.Equal(t, uint64(50_000_000), plan.GasBudget)
	})

	t.Run("QuickUpdateFallback", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()
		fx.feeds.err = errors.New("oracle service unavailable")

		resp, err := fx.svc.BuildBorrowTransaction(ctx, borrowRequest("SUI", "5"))
		require.NoError(t, err)
		require.True(t, resp.Success)

		plan, err := protocol.DeserializePlan(resp.SerializedTx)
		require.NoError(t, err)

		require.Equal(t, protocol.OpPriceUpdate, plan.Operations[0].Kind)
		assert.Equal(t, "quick-update", plan.Operations[0].Args["mode"])

		details := resp.Details.(*BuildDetails)
		assert.False(t, details.PriceFeedFresh)
	})

	t.Run("ExemptCoinClampsRoundingShortfall", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()

		// A caller-supplied decimal override that floors the at-minimum
		// amount under the base-unit minimum gets clamped up, not rejected.
		req := borrowRequest("USDC", "1.06")
		req.Decimals = 5

		resp, err := fx.svc.BuildBorrowTransaction(ctx, req)
		require.NoError(t, err)
		require.True(t, resp.Success, "error: %s", resp.Error)

		details := resp.Details.(*BuildDetails)
		assert.True(t, details.ClampedToMinimum)
		assert.Equal(t, uint64(1_060_000), details.BaseUnits)
	})

	t.Run("UnknownCoin", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()

		resp, err := fx.svc.BuildBorrowTransaction(ctx, borrowRequest("DOGE", "5"))
		require.NoError(t, err)
		assert.False(t, resp.Success)
	})
}

func TestBuildOtherTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("Supply", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()

		resp, err := fx.svc.BuildSupplyTransaction(ctx, borrowRequest("USDC", "100"))
		require.NoError(t, err)
		require.True(t, resp.Success)

		plan, err := protocol.DeserializePlan(resp.SerializedTx)
		require.NoError(t, err)
		assert.Equal(t, protocol.OpSupply, plan.Operations[0].Kind)
		assert.Equal(t, protocol.OpTransferToSender, plan.Operations[1].Kind)
		assert.EqualValues(t, 100_000_000, plan.Operations[0].Args["amount"])
	})

	t.Run("AddCollateralResolvesObligation", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()

		resp, err := fx.svc.BuildAddCollateralTransaction(ctx, borrowRequest("SUI", "10"))
		require.NoError(t, err)
		require.True(t, resp.Success)

		plan, err := protocol.DeserializePlan(resp.SerializedTx)
		require.NoError(t, err)
		require.Len(t, plan.Operations, 1)
		assert.Equal(t, protocol.OpDepositCollateral, plan.Operations[0].Kind)
		assert.Equal(t, "0xob1", plan.Operations[0].Args["obligationId"])
	})

	t.Run("AddCollateralOpensAtomically", func(t *testing.T) {
		// No obligation to reuse: the plan opens one and deposits into it
		// in the same transaction, with no standalone open submission.
		fx := newBuilderFixture(t)
		defer fx.cleanup()
		delete(fx.query.portfolios, "0xabc")

		resp, err := fx.svc.BuildAddCollateralTransaction(ctx, borrowRequest("SUI", "10"))
		require.NoError(t, err)
		require.True(t, resp.Success)

		plan, err := protocol.DeserializePlan(resp.SerializedTx)
		require.NoError(t, err)
		require.Len(t, plan.Operations, 2)
		assert.Equal(t, protocol.OpOpenObligation, plan.Operations[0].Kind)
		assert.Equal(t, protocol.OpDepositCollateral, plan.Operations[1].Kind)
		assert.NotContains(t, plan.Operations[1].Args, "obligationId")
		assert.Empty(t, fx.submitter.submitted)

		details := resp.Details.(*BuildDetails)
		assert.True(t, details.ObligationIsNew)
	})

	t.Run("AddCollateralReusesEmptyObligation", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()
		fx.query.portfolios["0xabc"] = []protocol.Obligation{
			{ObligationID: "0xbusy", Borrows: []protocol.Position{{Symbol: "USDC"}}},
			{ObligationID: "0xdormant"},
		}

		resp, err := fx.svc.BuildAddCollateralTransaction(ctx, borrowRequest("SUI", "10"))
		require.NoError(t, err)
		require.True(t, resp.Success)

		plan, err := protocol.DeserializePlan(resp.SerializedTx)
		require.NoError(t, err)
		require.Len(t, plan.Operations, 1)
		assert.Equal(t, "0xdormant", plan.Operations[0].Args["obligationId"])
	})

	t.Run("RepayHasNoPriceUpdate", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()

		resp, err := fx.svc.BuildRepayTransaction(ctx, borrowRequest("USDC", "50"))
		require.NoError(t, err)
		require.True(t, resp.Success)

		plan, err := protocol.DeserializePlan(resp.SerializedTx)
		require.NoError(t, err)
		assert.False(t, plan.HasPriceUpdate())
		assert.Equal(t, protocol.OpRepay, plan.Operations[0].Kind)
	})

	t.Run("NonPositiveAmountRejected", func(t *testing.T) {
		fx := newBuilderFixture(t)
		defer fx.cleanup()

		resp, err := fx.svc.BuildSupplyTransaction(ctx, borrowRequest("SUI", "0"))
		require.NoError(t, err)
		assert.False(t, resp.Success)
	})
}

func TestBuildTwoStepBorrow(t *testing.T) {
	ctx := context.Background()

	fx := newBuilderFixture(t)
	defer fx.cleanup()

	priceStep, borrowStep, err := fx.svc.BuildTwoStepBorrow(ctx, borrowRequest("SUI", "5"))
	require.NoError(t, err)
	require.True(t, priceStep.Success)
	require.True(t, borrowStep.Success)

	pricePlan, err := protocol.DeserializePlan(priceStep.SerializedTx)
	require.NoError(t, err)
	borrowPlan, err := protocol.DeserializePlan(borrowStep.SerializedTx)
	require.NoError(t, err)

	// First leg carries only oracle operations; second leg none.
	for _, op := range pricePlan.Operations {
		assert.Equal(t, protocol.OpPriceUpdate, op.Kind)
	}
	assert.False(t, borrowPlan.HasPriceUpdate())
	assert.Equal(t, protocol.OpBorrow, borrowPlan.Operations[0].Kind)

	// Both legs share the same sender.
	assert.Equal(t, pricePlan.Sender, borrowPlan.Sender)
}

func TestAnalyzeTransactionPlan(t *testing.T) {
	fx := newBuilderFixture(t)
	defer fx.cleanup()

	t.Run("Counts", func(t *testing.T) {
		plan := &protocol.TransactionPlan{
			Operations: []protocol.Operation{
				{Kind: protocol.OpPriceUpdate, Args: map[string]interface{}{"coinType": "0x2::sui::SUI"}},
				{Kind: protocol.OpBorrow},
				{Kind: protocol.OpTransferToSender},
			},
			GasTier:   protocol.GasTierUltra,
			GasBudget: protocol.GasTierUltra.Budget(),
		}

		analysis := fx.svc.AnalyzeTransactionPlan(plan)
		assert.Equal(t, 1, analysis.PriceUpdateCount)
		assert.Equal(t, 1, analysis.OperationCounts[protocol.OpBorrow])
		assert.False(t, analysis.RedundantPriceUpdates)
		assert.True(t, analysis.GasTierSufficient)
		assert.False(t, analysis.RecommendTwoStep)
	})

	t.Run("RedundantOracleCalls", func(t *testing.T) {
		plan := &protocol.TransactionPlan{
			Operations: []protocol.Operation{
				{Kind: protocol.OpPriceUpdate, Args: map[string]interface{}{"coinType": "0x2::sui::SUI"}},
				{Kind: protocol.OpPriceUpdate, Args: map[string]interface{}{"coinType": "0x2::sui::SUI"}},
				{Kind: protocol.OpBorrow},
			},
			GasTier:   protocol.GasTierUltra,
			GasBudget: protocol.GasTierUltra.Budget(),
		}

		analysis := fx.svc.AnalyzeTransactionPlan(plan)
		assert.True(t, analysis.RedundantPriceUpdates)
	})

	t.Run("UnderprovisionedTier", func(t *testing.T) {
		plan := &protocol.TransactionPlan{
			Operations: []protocol.Operation{
				{Kind: protocol.OpPriceUpdate, Args: map[string]interface{}{"coinType": "0x2::sui::SUI"}},
				{Kind: protocol.OpBorrow},
			},
			GasTier:   protocol.GasTierDefault,
			GasBudget: protocol.GasTierDefault.Budget(),
		}

		analysis := fx.svc.AnalyzeTransactionPlan(plan)
		assert.False(t, analysis.GasTierSufficient)
		assert.True(t, analysis.RecommendTwoStep)
	})
}
