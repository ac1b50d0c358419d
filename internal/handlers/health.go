package handlers

import (
	"net/http"
	"time"

	"sui-lending-api/internal/protocol"
	"sui-lending-api/internal/services"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	dbHealthChecker  *services.DatabaseHealthChecker
	sdkHealthChecker *services.SDKHealthChecker
	chain            protocol.ChainReader
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(dbHealthChecker *services.DatabaseHealthChecker, sdkHealthChecker *services.SDKHealthChecker, chain protocol.ChainReader) *HealthHandler {
	return &HealthHandler{
		dbHealthChecker:  dbHealthChecker,
		sdkHealthChecker: sdkHealthChecker,
		chain:            chain,
	}
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    services.HealthStatus            `json:"status"`
	Timestamp time.Time                        `json:"timestamp"`
	Services  map[string]*services.HealthCheck `json:"services"`
	Version   string                           `json:"version,omitempty"`
}

// GetHealth returns the overall health status
func (h *HealthHandler) GetHealth(c *gin.Context) {
	// Get detailed health information
	serviceChecks := h.dbHealthChecker.GetDetailedHealth()
	serviceChecks["sui_rpc"] = h.checkChain(c)
	serviceChecks["lending_sdk"] = h.sdkHealthChecker.CheckHealth(c.Request.Context())

	// Determine overall status
	overallStatus := services.HealthStatusHealthy
	for _, check := range serviceChecks {
		if check.Status == services.HealthStatusUnhealthy {
			overallStatus = services.HealthStatusUnhealthy
			break
		} else if check.Status == services.HealthStatusDegraded && overallStatus == services.HealthStatusHealthy {
			overallStatus = services.HealthStatusDegraded
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  serviceChecks,
		Version:   "1.0.0", // This could be injected from build info
	}

	// Set appropriate HTTP status code
	statusCode := http.StatusOK
	if overallStatus == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	} else if overallStatus == services.HealthStatusDegraded {
		statusCode = http.StatusOK // Still return 200 for degraded
	}

	c.JSON(statusCode, response)
}

// GetLiveness returns a simple liveness check
func (h *HealthHandler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// GetReadiness returns readiness status (checks if all dependencies are available)
func (h *HealthHandler) GetReadiness(c *gin.Context) {
	// Check database connectivity
	dbHealth := h.dbHealthChecker.CheckHealth()

	if dbHealth.Status == services.HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"message":   "database not available",
			"timestamp": time.Now(),
		})
		return
	}

	// A dead RPC endpoint means no request can succeed.
	if chainHealth := h.checkChain(c); chainHealth.Status == services.HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"message":   "sui rpc not available",
			"timestamp": time.Now(),
		})
		return
	}

	// Same for the SDK sidecar: it backs every query and submission.
	if sdkHealth := h.sdkHealthChecker.CheckHealth(c.Request.Context()); sdkHealth.Status == services.HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"message":   "lending sdk sidecar not available",
			"timestamp": time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// GetChainHealth returns the Sui RPC health check
func (h *HealthHandler) GetChainHealth(c *gin.Context) {
	check := h.checkChain(c)

	statusCode := http.StatusOK
	if check.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, check)
}

// checkChain probes the Sui RPC endpoint.
func (h *HealthHandler) checkChain(c *gin.Context) *services.HealthCheck {
	start := time.Now()
	check := &services.HealthCheck{
		Service:   "sui_rpc",
		Timestamp: start,
	}

	if err := h.chain.IsHealthy(c.Request.Context()); err != nil {
		check.Status = services.HealthStatusUnhealthy
		check.Message = err.Error()
	} else {
		check.Status = services.HealthStatusHealthy
		check.Message = "rpc responsive"
	}
	check.ResponseTime = time.Since(start)
	return check
}

// GetDatabaseHealth returns detailed database health information
func (h *HealthHandler) GetDatabaseHealth(c *gin.Context) {
	healthCheck := h.dbHealthChecker.CheckHealth()

	statusCode := http.StatusOK
	if healthCheck.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, healthCheck)
}
