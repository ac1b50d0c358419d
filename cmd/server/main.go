package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sui-lending-api/internal/config"
	"sui-lending-api/internal/handlers"
	"sui-lending-api/internal/middleware"
	"sui-lending-api/internal/protocol"
	"sui-lending-api/internal/services"
	"sui-lending-api/pkg/logger"
	"sui-lending-api/pkg/metrics"
	"sui-lending-api/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server represents the main application server
type Server struct {
	httpServer  *http.Server
	config      *config.Config
	authService *services.AuthService
	suiClient   *protocol.SuiClient
	sdkClient   *protocol.SDKClient
	obligations *services.ObligationService
	minBorrow   *services.MinBorrowService
	locking     *services.LockingService
	txBuilder   *services.TxBuilderService
	market      *services.MarketService
	collector   *metrics.MetricsCollector
	rateLimiter *ratelimiter.RateLimiter
	router      *handlers.Router
}

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logging
	loggerConfig := &logger.Config{
		Level:       cfg.Logging.Level,
		Environment: cfg.Logging.Environment,
		OutputPaths: cfg.Logging.OutputPaths,
	}

	if err := logger.Initialize(loggerConfig); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.GetLogger()

	log.Info("Starting Sui Lending API server",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("mongodb_uri", cfg.MongoDB.URI),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("sdk_endpoint", cfg.Protocol.SDKEndpoint),
		zap.Duration("obligation_cache_ttl", cfg.Protocol.ObligationCacheTTL),
		zap.Int("rate_limit_rpm", cfg.RateLimit.RequestsPerMinute),
		zap.String("log_level", cfg.Logging.Level),
		zap.String("environment", cfg.Logging.Environment),
	)

	// Initialize and start server
	server, err := NewServer(cfg)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	// Start server with graceful shutdown
	if err := server.Start(); err != nil {
		log.Fatal("Server failed to start", zap.Error(err))
	}
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	log := logger.GetLogger()

	log.Info("Initializing server components")

	// Initialize authentication service
	log.Debug("Initializing authentication service")
	authService, err := services.NewAuthService(&cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	// Initialize Sui RPC client
	log.Debug("Initializing Sui RPC client")
	suiClient := protocol.NewSuiClient(&cfg.RPC)

	// Test RPC connection
	log.Debug("Testing RPC connection health")
	healthCtx, healthCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := suiClient.IsHealthy(healthCtx); err != nil {
		log.Warn("Sui RPC health check failed", zap.Error(err))
	} else {
		log.Info("Sui RPC connection healthy")
	}
	healthCancel()

	// Initialize lending SDK client
	log.Debug("Initializing lending SDK client")
	sdkClient := protocol.NewSDKClient(&cfg.Protocol)

	// Server-side saga submissions sign with the sidecar's wallet.
	walletCtx, walletCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if signer, err := sdkClient.GetAddress(walletCtx); err != nil {
		log.Warn("Sidecar wallet address unavailable", zap.Error(err))
	} else {
		log.Info("Sidecar signing wallet connected", zap.String("address", signer))
	}
	walletCancel()

	// Shared metrics collector
	collector := metrics.NewMetricsCollector()

	// Initialize domain services
	log.Debug("Initializing obligation service")
	obligations := services.NewObligationService(sdkClient, sdkClient, suiClient, &cfg.Protocol, cfg.Cache.CleanupInterval, collector)

	log.Debug("Initializing minimum-borrow service")
	minBorrow := services.NewMinBorrowService(sdkClient, &cfg.Protocol, collector)

	log.Debug("Initializing locking service")
	locking := services.NewLockingService(sdkClient, sdkClient, collector)

	log.Debug("Initializing transaction builder")
	txBuilder := services.NewTxBuilderService(obligations, minBorrow, sdkClient, &cfg.Protocol, collector)

	log.Debug("Initializing market service")
	market := services.NewMarketService(sdkClient, suiClient, sdkClient, &cfg.Protocol, collector)

	// Initialize rate limiter
	log.Debug("Initializing rate limiter")
	rateLimiter := ratelimiter.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowSize)

	// Initialize database health checker
	log.Debug("Initializing database health checker")
	dbHealthChecker, err := services.NewDatabaseHealthChecker(&cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database health checker: %w", err)
	}

	// Initialize handlers and router
	log.Debug("Initializing handlers")
	healthHandler := handlers.NewHealthHandler(dbHealthChecker, services.NewSDKHealthChecker(sdkClient), suiClient)
	transactionHandler := handlers.NewTransactionHandler(txBuilder, locking, obligations)
	marketHandler := handlers.NewMarketHandler(market, minBorrow, obligations, &cfg.Protocol)
	obligationHandler := handlers.NewObligationHandler(obligations)

	router := handlers.NewRouter(transactionHandler, marketHandler, obligationHandler, healthHandler)

	log.Info("Server components initialized successfully")

	return &Server{
		config:      cfg,
		authService: authService,
		suiClient:   suiClient,
		sdkClient:   sdkClient,
		obligations: obligations,
		minBorrow:   minBorrow,
		locking:     locking,
		txBuilder:   txBuilder,
		market:      market,
		collector:   collector,
		rateLimiter: rateLimiter,
		router:      router,
	}, nil
}

// Start starts the HTTP server with graceful shutdown handling
func (s *Server) Start() error {
	log := logger.GetLogger()

	// Set Gin mode based on environment
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Debug("Creating Gin engine")

	// Create Gin engine
	engine := gin.New()

	// Setup middleware stack
	s.setupMiddleware(engine)

	// Setup routes
	s.setupRoutes(engine)

	// Create HTTP server with optimized timeout configurations
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      engine,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
		// Additional performance optimizations
		ReadHeaderTimeout: 5 * time.Second, // Prevent slow header attacks
		MaxHeaderBytes:    1 << 20,         // 1MB max header size
		// Enable HTTP/2 for better performance
		TLSNextProto: make(map[string]func(*http.Server, *tls.Conn, http.Handler)),
	}

	log.Info("HTTP server configured",
		zap.String("address", s.httpServer.Addr),
		zap.Duration("read_timeout", s.config.Server.ReadTimeout),
		zap.Duration("write_timeout", s.config.Server.WriteTimeout),
		zap.Duration("idle_timeout", s.config.Server.IdleTimeout),
	)

	// Start cleanup routines
	s.startCleanupRoutines()

	// Start server in a goroutine
	go func() {
		log.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	return s.waitForShutdown()
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware(engine *gin.Engine) {
	log := logger.GetLogger()

	log.Debug("Setting up middleware stack")

	// Recovery middleware with structured logging (should be first)
	engine.Use(logger.RecoveryMiddleware())

	// Structured logging middleware with correlation IDs
	engine.Use(logger.LoggingMiddleware())

	// Performance monitoring middleware stack
	engine.Use(middleware.PerformanceMiddleware(s.collector))
	engine.Use(middleware.RequestSizeMiddleware())
	engine.Use(middleware.ConcurrencyMiddleware(s.collector))

	// Metrics middleware to track performance
	engine.Use(middleware.MetricsMiddleware(s.collector))

	// CORS middleware (if needed)
	engine.Use(s.corsMiddleware())

	// Rate limiting middleware (before auth to prevent auth bypass attempts)
	engine.Use(s.rateLimiter.Middleware(ratelimiter.WeightedCost(s.config.RateLimit.BuildCost)))

	log.Debug("Middleware stack configured")
}

// setupRoutes configures all application routes
func (s *Server) setupRoutes(engine *gin.Engine) {
	// Health check routes (no authentication required)
	s.router.SetupHealthRoutes(engine)

	// API routes with authentication
	s.router.SetupRoutes(engine, middleware.AuthMiddleware(s.authService))

	// Additional monitoring endpoints
	engine.GET("/metrics", s.metricsHandler)
	engine.GET("/metrics/prometheus", gin.WrapH(metrics.PrometheusHandler()))
	engine.GET("/status", s.statusHandler)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// metricsHandler provides comprehensive metrics endpoint
func (s *Server) metricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":          "sui-lending-api",
		"version":          "1.0.0",
		"metrics":          s.collector.GetMetrics(),
		"cache_hit_ratio":  s.collector.GetCacheHitRatio(),
		"success_rate":     s.collector.GetSuccessRate(),
		"obligation_cache": s.obligations.CacheStats(),
	})
}

// statusHandler provides detailed status information
func (s *Server) statusHandler(c *gin.Context) {
	// Check RPC health
	rpcHealthy := true
	if err := s.suiClient.IsHealthy(c.Request.Context()); err != nil {
		rpcHealthy = false
	}

	c.JSON(http.StatusOK, gin.H{
		"service":     "sui-lending-api",
		"status":      "running",
		"rpc_healthy": rpcHealthy,
		"uptime":      time.Since(startTime).String(),
		"version":     "1.0.0",
	})
}

// startCleanupRoutines starts background cleanup tasks
func (s *Server) startCleanupRoutines() {
	log := logger.GetLogger()

	// Rate limiter cleanup
	go func() {
		ticker := time.NewTicker(s.config.RateLimit.CleanupInterval)
		defer ticker.Stop()

		log.Debug("Starting rate limiter cleanup routine",
			zap.Duration("interval", s.config.RateLimit.CleanupInterval),
		)

		for range ticker.C {
			s.rateLimiter.Cleanup()
		}
	}()

	log.Info("Background cleanup routines started")
}

// waitForShutdown waits for interrupt signal and performs graceful shutdown
func (s *Server) waitForShutdown() error {
	log := logger.GetLogger()

	// Create channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Block until signal received
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Info("Shutting down HTTP server", zap.Duration("timeout", 30*time.Second))

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	// Cleanup services
	s.cleanup()

	log.Info("Server gracefully stopped")
	return nil
}

// cleanup performs cleanup of all services
func (s *Server) cleanup() {
	log := logger.GetLogger()

	log.Info("Cleaning up services...")

	// Stop caching services
	if s.obligations != nil {
		log.Debug("Stopping obligation service")
		s.obligations.Stop()
	}
	if s.minBorrow != nil {
		log.Debug("Stopping minimum-borrow service")
		s.minBorrow.Stop()
	}
	if s.market != nil {
		log.Debug("Stopping market service")
		s.market.Stop()
	}

	// Close auth service (MongoDB connection)
	if s.authService != nil {
		log.Debug("Closing auth service")
		if err := s.authService.Close(); err != nil {
			log.Error("Error closing auth service", zap.Error(err))
		}
	}

	// Sync logger before exit
	if err := logger.GetLogger().Sync(); err != nil {
		// Don't log this error as logger might be closed
		fmt.Printf("Error syncing logger: %v\n", err)
	}

	log.Info("Cleanup completed")
}

// Global variable to track server start time for uptime calculation
var startTime = time.Now()
