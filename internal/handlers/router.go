package handlers

import (
	"github.com/gin-gonic/gin"
)

// Router handles HTTP routing setup
type Router struct {
	transactionHandler *TransactionHandler
	marketHandler      *MarketHandler
	obligationHandler  *ObligationHandler
	healthHandler      *HealthHandler
}

// NewRouter creates a new Router instance with all handlers
func NewRouter(
	transactionHandler *TransactionHandler,
	marketHandler *MarketHandler,
	obligationHandler *ObligationHandler,
	healthHandler *HealthHandler,
) *Router {
	return &Router{
		transactionHandler: transactionHandler,
		marketHandler:      marketHandler,
		obligationHandler:  obligationHandler,
		healthHandler:      healthHandler,
	}
}

// SetupRoutes configures all API routes. Supplied middleware (e.g.
// authentication) applies to the /api group only.
func (r *Router) SetupRoutes(engine *gin.Engine, apiMiddleware ...gin.HandlerFunc) {
	api := engine.Group("/api")
	api.Use(apiMiddleware...)
	{
		// Transaction building endpoints
		tx := api.Group("/transactions")
		{
			tx.POST("/borrow", r.transactionHandler.BuildBorrow)
			tx.POST("/supply", r.transactionHandler.BuildSupply)
			tx.POST("/withdraw", r.transactionHandler.BuildWithdraw)
			tx.POST("/repay", r.transactionHandler.BuildRepay)
			tx.POST("/add-collateral", r.transactionHandler.BuildAddCollateral)
			tx.POST("/withdraw-collateral", r.transactionHandler.BuildWithdrawCollateral)
			tx.POST("/update-prices", r.transactionHandler.BuildUpdatePrices)
		}

		// Market and chain reads
		api.GET("/market-data", r.marketHandler.GetMarketData)
		api.GET("/direct-min-borrow/:coin", r.marketHandler.GetMinBorrow)
		api.GET("/max-borrow/:address/:coin", r.marketHandler.GetMaxBorrow)
		api.GET("/price-feeds/:coin", r.marketHandler.GetPriceFeed)
		api.GET("/transaction/:digest", r.marketHandler.GetTransaction)
		api.GET("/balance/:address/:coin", r.marketHandler.GetBalance)

		// Obligation endpoints
		api.GET("/obligation/:address", r.obligationHandler.GetObligation)
		api.POST("/update-obligation", r.obligationHandler.UpdateObligation)

		// Diagnostics
		api.POST("/analyze-transaction-structure", r.transactionHandler.AnalyzeStructure)
	}
}

// SetupHealthRoutes configures health check routes
func (r *Router) SetupHealthRoutes(engine *gin.Engine) {
	health := engine.Group("/health")
	{
		health.GET("", r.healthHandler.GetHealth)            // Overall health
		health.GET("/live", r.healthHandler.GetLiveness)     // Liveness probe
		health.GET("/ready", r.healthHandler.GetReadiness)   // Readiness probe
		health.GET("/db", r.healthHandler.GetDatabaseHealth) // Database health
		health.GET("/chain", r.healthHandler.GetChainHealth) // Sui RPC health
	}
}
