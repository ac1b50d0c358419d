package ratelimiter

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"sui-lending-api/internal/models"
	"sui-lending-api/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CostFunc assigns a budget cost to a request.
type CostFunc func(c *gin.Context) int

// WeightedCost charges buildCost for transaction-building POSTs and a
// single unit for everything else. Builds fan out to the SDK sidecar
// and the price oracle; reads are served from cache.
func WeightedCost(buildCost int) CostFunc {
	return func(c *gin.Context) int {
		if c.Request.Method == http.MethodPost &&
			strings.HasPrefix(c.Request.URL.Path, "/api/transactions/") {
			return buildCost
		}
		return 1
	}
}

// Middleware creates a Gin middleware enforcing the budget per client
// IP with the given cost function.
func (rl *RateLimiter) Middleware(cost CostFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		requestCost := cost(c)

		if !rl.Allow(clientIP, requestCost) {
			remaining, resetTime := rl.Remaining(clientIP)

			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.budget))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
			c.Header("Retry-After", strconv.Itoa(int(time.Until(resetTime).Seconds())))

			logger.GetLogger().Warn("Rate limit exceeded",
				zap.String("client_ip", clientIP),
				zap.String("path", c.Request.URL.Path),
				zap.Int("request_cost", requestCost),
				zap.Int("remaining_budget", remaining),
			)

			models.HandleError(c, models.NewRateLimitError(), logger.GetLogger())
			c.Abort()
			return
		}

		remaining, resetTime := rl.Remaining(clientIP)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.budget))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		c.Next()
	}
}
