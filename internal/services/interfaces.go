package services

import (
	"context"

	"sui-lending-api/internal/models"
	"sui-lending-api/internal/protocol"
)

// AuthServiceInterface defines the interface for authentication services
type AuthServiceInterface interface {
	ValidateAPIKey(key string) (*models.APIKey, error)
}

// ObligationResolver defines the interface for obligation resolution
type ObligationResolver interface {
	ResolveObligation(ctx context.Context, address, explicitID string) (*Resolution, error)
	ResolveForDeposit(ctx context.Context, address, explicitID string) (*Resolution, error)
	GetObligation(ctx context.Context, obligationID string) (*protocol.Obligation, error)
	GetPortfolio(ctx context.Context, address string) ([]protocol.Obligation, error)
	InvalidateCache(address string)
}

// MinBorrowResolver defines the interface for minimum-borrow resolution
type MinBorrowResolver interface {
	GetMinimumBorrowAmount(ctx context.Context, symbol string) MinBorrowResult
}

// LockCoordinator defines the interface for the unlock-then-mutate saga
type LockCoordinator interface {
	IsLocked(ctx context.Context, obligationID string) (bool, protocol.LockKind, error)
	UnlockThenSubmit(ctx context.Context, obligationID string, mutation *protocol.TransactionPlan) (*SagaResult, error)
	SagaStateFor(obligationID string) SagaState
}

// TransactionBuilder defines the interface for plan construction
type TransactionBuilder interface {
	BuildBorrowTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error)
	BuildSupplyTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error)
	BuildWithdrawTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error)
	BuildAddCollateralTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error)
	BuildWithdrawCollateralTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error)
	BuildRepayTransaction(ctx context.Context, req *models.TransactionRequest) (*models.BuildResponse, error)
	AnalyzeTransactionPlan(plan *protocol.TransactionPlan) *PlanAnalysis
}
