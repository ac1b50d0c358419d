package ratelimiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	t.Run("BudgetSpendsDown", func(t *testing.T) {
		rl := New(10, time.Minute)

		assert.True(t, rl.Allow("10.0.0.1", 4))
		assert.True(t, rl.Allow("10.0.0.1", 4))

		remaining, _ := rl.Remaining("10.0.0.1")
		assert.Equal(t, 2, remaining)

		// The next expensive request does not fit; a cheap one still does.
		assert.False(t, rl.Allow("10.0.0.1", 4))
		assert.True(t, rl.Allow("10.0.0.1", 1))
	})

	t.Run("RejectionSpendsNothing", func(t *testing.T) {
		rl := New(5, time.Minute)
		assert.True(t, rl.Allow("10.0.0.1", 3))
		assert.False(t, rl.Allow("10.0.0.1", 3))

		remaining, _ := rl.Remaining("10.0.0.1")
		assert.Equal(t, 2, remaining)
	})

	t.Run("ClientsAreIndependent", func(t *testing.T) {
		rl := New(2, time.Minute)
		assert.True(t, rl.Allow("10.0.0.1", 2))
		assert.True(t, rl.Allow("10.0.0.2", 2))
		assert.False(t, rl.Allow("10.0.0.1", 1))
	})

	t.Run("WindowResets", func(t *testing.T) {
		rl := New(2, 10*time.Millisecond)
		assert.True(t, rl.Allow("10.0.0.1", 2))
		assert.False(t, rl.Allow("10.0.0.1", 1))

		time.Sleep(15 * time.Millisecond)
		assert.True(t, rl.Allow("10.0.0.1", 2))
	})

	t.Run("CleanupDropsExpiredWindows", func(t *testing.T) {
		rl := New(2, 10*time.Millisecond)
		rl.Allow("10.0.0.1", 1)
		time.Sleep(15 * time.Millisecond)

		rl.Cleanup()

		rl.mutex.RLock()
		defer rl.mutex.RUnlock()
		assert.Empty(t, rl.windows)
	})
}

func TestWeightedCost(t *testing.T) {
	cost := WeightedCost(5)

	buildReq := httptest.NewRequest(http.MethodPost, "/api/transactions/borrow", nil)
	readReq := httptest.NewRequest(http.MethodGet, "/api/market-data", nil)

	buildCtx := &gin.Context{Request: buildReq}
	readCtx := &gin.Context{Request: readReq}

	assert.Equal(t, 5, cost(buildCtx))
	assert.Equal(t, 1, cost(readCtx))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newEngine := func(rl *RateLimiter) *gin.Engine {
		engine := gin.New()
		engine.Use(rl.Middleware(WeightedCost(5)))
		engine.GET("/api/market-data", func(c *gin.Context) { c.Status(http.StatusOK) })
		engine.POST("/api/transactions/borrow", func(c *gin.Context) { c.Status(http.StatusOK) })
		return engine
	}

	t.Run("BuildsDrainBudgetFaster", func(t *testing.T) {
		engine := newEngine(New(10, time.Minute))

		for i := 0; i < 2; i++ {
			recorder := httptest.NewRecorder()
			engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/transactions/borrow", nil))
			assert.Equal(t, http.StatusOK, recorder.Code)
		}

		// Two builds spent the whole budget; a third is refused while a
		// cheap read would still have fit under a fresh window.
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/transactions/borrow", nil))
		assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "RATE_LIMIT_EXCEEDED")
		assert.NotEmpty(t, recorder.Header().Get("Retry-After"))
	})

	t.Run("HeadersReportRemainingBudget", func(t *testing.T) {
		engine := newEngine(New(10, time.Minute))

		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/market-data", nil))

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, "10", recorder.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", recorder.Header().Get("X-RateLimit-Remaining"))
	})
}
