package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sui-lending-api/internal/config"
	"sui-lending-api/internal/models"
	"sui-lending-api/internal/protocol"
	"sui-lending-api/internal/services"
	"sui-lending-api/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x9f4b1c2e8d7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b7c6d5e4f3a2b1c"

type stubQuery struct {
	portfolios  map[string][]protocol.Obligation
	obligations map[string]protocol.Obligation
	reserves    map[string]protocol.MarketReserve
}

func (s *stubQuery) GetUserPortfolio(ctx context.Context, address string) ([]protocol.Obligation, error) {
	return s.portfolios[address], nil
}

func (s *stubQuery) GetObligation(ctx context.Context, obligationID string) (*protocol.Obligation, error) {
	if o, ok := s.obligations[obligationID]; ok {
		return &o, nil
	}
	return nil, errors.New("obligation not found")
}

func (s *stubQuery) GetMarketReserves(ctx context.Context) (map[string]protocol.MarketReserve, error) {
	return s.reserves, nil
}

func (s *stubQuery) GetMarketCollaterals(ctx context.Context) (map[string]protocol.CollateralConfig, error) {
	return map[string]protocol.CollateralConfig{}, nil
}

type stubSubmitter struct {
	submitted []*protocol.TransactionPlan
}

func (s *stubSubmitter) SignAndExecute(ctx context.Context, plan *protocol.TransactionPlan) (*protocol.SubmitResult, error) {
	s.submitted = append(s.submitted, plan)
	return &protocol.SubmitResult{Digest: "digest-test", Success: true}, nil
}

type stubFeeds struct{}

func (s *stubFeeds) GetPriceUpdate(ctx context.Context, symbol string) (*protocol.PriceFeedUpdate, error) {
	return &protocol.PriceFeedUpdate{
		Symbol:          symbol,
		FeedID:          "feed-" + symbol,
		AccumulatorData: []byte{0x01},
		VAAData:         []byte{0x02},
		PublishedAt:     time.Now(),
	}, nil
}

func newTestEngine(t *testing.T, query *stubQuery, submitter *stubSubmitter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.ProtocolConfig{
		ObligationCacheTTL: 300 * time.Second,
		MarketDataTTL:      60 * time.Second,
		BufferExemptSymbol: "USDC",
	}
	collector := metrics.NewMetricsCollector()

	obligations := services.NewObligationService(query, submitter, nil, cfg, time.Minute, collector)
	minBorrow := services.NewMinBorrowService(query, cfg, collector)
	locking := services.NewLockingService(query, submitter, collector)
	builder := services.NewTxBuilderService(obligations, minBorrow, &stubFeeds{}, cfg, collector)

	t.Cleanup(func() {
		obligations.Stop()
		minBorrow.Stop()
	})

	txHandler := NewTransactionHandler(builder, locking, obligations)
	obHandler := NewObligationHandler(obligations)

	engine := gin.New()
	api := engine.Group("/api")
	{
		api.POST("/transactions/borrow", txHandler.BuildBorrow)
		api.POST("/transactions/repay", txHandler.BuildRepay)
		api.POST("/analyze-transaction-structure", txHandler.AnalyzeStructure)
		api.GET("/obligation/:address", obHandler.GetObligation)
		api.POST("/update-obligation", obHandler.UpdateObligation)
	}
	return engine
}

func defaultStubQuery() *stubQuery {
	return &stubQuery{
		portfolios: map[string][]protocol.Obligation{
			testAddress: {{ObligationID: "0xob1", Owner: testAddress}},
		},
		obligations: map[string]protocol.Obligation{
			"0xob1": {ObligationID: "0xob1", Owner: testAddress},
		},
		reserves: map[string]protocol.MarketReserve{
			"SUI":  {Symbol: "SUI", MinBorrowAmount: 1_000_000_000},
			"USDC": {Symbol: "USDC", MinBorrowAmount: 1_060_000},
		},
	}
}

func postJSON(t *testing.T, engine *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	return recorder
}

func TestBorrowEndpoint(t *testing.T) {
	t.Run("BelowMinimum", func(t *testing.T) {
		engine := newTestEngine(t, defaultStubQuery(), &stubSubmitter{})

		recorder := postJSON(t, engine, "/api/transactions/borrow", gin.H{
			"sender": testAddress,
			"coin":   "USDC",
			"amount": "0.0005",
		})

		assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)

		var resp models.BuildResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, models.ErrKindBelowMinimumBorrow, resp.ErrorCode)
		require.NotNil(t, resp.MinAmount)
		assert.Equal(t, "1.06", resp.MinAmount.String())
	})

	t.Run("Success", func(t *testing.T) {
		engine := newTestEngine(t, defaultStubQuery(), &stubSubmitter{})

		recorder := postJSON(t, engine, "/api/transactions/borrow", gin.H{
			"sender": testAddress,
			"coin":   "SUI",
			"amount": "5",
		})

		assert.Equal(t, http.StatusOK, recorder.Code)

		var resp models.BuildResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.SerializedTx)

		plan, err := protocol.DeserializePlan(resp.SerializedTx)
		require.NoError(t, err)
		assert.Equal(t, protocol.OpPriceUpdate, plan.Operations[0].Kind)
		assert.Equal(t, protocol.OpBorrow, plan.Operations[1].Kind)
		assert.Equal(t, protocol.OpTransferToSender, plan.Operations[2].Kind)
	})

	t.Run("TwoStepReturnsBothLegs", func(t *testing.T) {
		engine := newTestEngine(t, defaultStubQuery(), &stubSubmitter{})

		recorder := postJSON(t, engine, "/api/transactions/borrow", gin.H{
			"sender":  testAddress,
			"coin":    "SUI",
			"amount":  "5",
			"twoStep": true,
		})

		assert.Equal(t, http.StatusOK, recorder.Code)

		var resp models.TwoStepBuildResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		require.NotNil(t, resp.PriceStep)
		require.NotNil(t, resp.BorrowStep)

		pricePlan, err := protocol.DeserializePlan(resp.PriceStep.SerializedTx)
		require.NoError(t, err)
		borrowPlan, err := protocol.DeserializePlan(resp.BorrowStep.SerializedTx)
		require.NoError(t, err)

		// The first leg carries only oracle operations; the second leg
		// borrows without touching the oracle.
		require.NotEmpty(t, pricePlan.Operations)
		for _, op := range pricePlan.Operations {
			assert.Equal(t, protocol.OpPriceUpdate, op.Kind)
		}
		assert.False(t, borrowPlan.HasPriceUpdate())
		assert.Equal(t, protocol.OpBorrow, borrowPlan.Operations[0].Kind)
	})

	t.Run("InvalidAddress", func(t *testing.T) {
		engine := newTestEngine(t, defaultStubQuery(), &stubSubmitter{})

		recorder := postJSON(t, engine, "/api/transactions/borrow", gin.H{
			"sender": "not-an-address",
			"coin":   "SUI",
			"amount": "5",
		})

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestRepayEndpoint(t *testing.T) {
	t.Run("LockedObligationRunsSaga", func(t *testing.T) {
		query := defaultStubQuery()
		query.portfolios[testAddress] = []protocol.Obligation{
			{ObligationID: "0xlocked", Owner: testAddress, LockType: protocol.LockBoost},
		}
		query.obligations["0xlocked"] = protocol.Obligation{
			ObligationID: "0xlocked", Owner: testAddress, LockType: protocol.LockBoost,
		}
		submitter := &stubSubmitter{}
		engine := newTestEngine(t, query, submitter)

		recorder := postJSON(t, engine, "/api/transactions/repay", gin.H{
			"sender": testAddress,
			"coin":   "USDC",
			"amount": "10",
		})

		assert.Equal(t, http.StatusOK, recorder.Code)

		// Exactly two submissions: unlock, then repay.
		require.Len(t, submitter.submitted, 2)
		assert.Equal(t, protocol.OpUnstakeObligation, submitter.submitted[0].Operations[0].Kind)
		assert.Equal(t, protocol.OpRepay, submitter.submitted[1].Operations[0].Kind)
	})

	t.Run("UnlockedObligationReturnsPlan", func(t *testing.T) {
		submitter := &stubSubmitter{}
		engine := newTestEngine(t, defaultStubQuery(), submitter)

		recorder := postJSON(t, engine, "/api/transactions/repay", gin.H{
			"sender": testAddress,
			"coin":   "USDC",
			"amount": "10",
		})

		assert.Equal(t, http.StatusOK, recorder.Code)

		var resp models.BuildResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.SerializedTx)

		// Nothing was submitted server-side.
		assert.Empty(t, submitter.submitted)
	})
}

func TestObligationEndpoints(t *testing.T) {
	t.Run("GetObligation", func(t *testing.T) {
		engine := newTestEngine(t, defaultStubQuery(), &stubSubmitter{})

		req := httptest.NewRequest(http.MethodGet, "/api/obligation/"+testAddress, nil)
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusOK, recorder.Code)

		var resp models.APIResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
	})

	t.Run("NotFound", func(t *testing.T) {
		query := defaultStubQuery()
		query.portfolios = map[string][]protocol.Obligation{}
		engine := newTestEngine(t, query, &stubSubmitter{})

		req := httptest.NewRequest(http.MethodGet, "/api/obligation/"+testAddress, nil)
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})
}

func TestAnalyzeEndpoint(t *testing.T) {
	engine := newTestEngine(t, defaultStubQuery(), &stubSubmitter{})

	plan := &protocol.TransactionPlan{
		Sender: testAddress,
		Operations: []protocol.Operation{
			{Kind: protocol.OpPriceUpdate, Args: map[string]interface{}{"coinType": "0x2::sui::SUI"}},
			{Kind: protocol.OpBorrow},
		},
		GasTier:   protocol.GasTierUltra,
		GasBudget: protocol.GasTierUltra.Budget(),
	}
	serialized, err := plan.Serialize()
	require.NoError(t, err)

	recorder := postJSON(t, engine, "/api/analyze-transaction-structure", gin.H{
		"serializedTx": serialized,
	})

	assert.Equal(t, http.StatusOK, recorder.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			PriceUpdateCount  int  `json:"priceUpdateCount"`
			GasTierSufficient bool `json:"gasTierSufficient"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data.PriceUpdateCount)
	assert.True(t, resp.Data.GasTierSufficient)
}
