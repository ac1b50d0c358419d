package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRequest is the JSON body accepted by every
// /api/transactions/* endpoint.
type TransactionRequest struct {
	Sender       string          `json:"sender"`
	Coin         string          `json:"coin"`
	Amount       decimal.Decimal `json:"amount"`
	Decimals     int32           `json:"decimals,omitempty"`
	ObligationID string          `json:"obligationId,omitempty"`

	// SkipPriceUpdate omits the leading oracle price-update operations.
	// Used by the second leg of the two-step fallback.
	SkipPriceUpdate bool `json:"skipPriceUpdate,omitempty"`

	// TwoStep splits a borrow into a price-update transaction plus a
	// borrow with price updates skipped. Set after a combined plan
	// failed on oracle verification.
	TwoStep bool `json:"twoStep,omitempty"`
}

// APIResponse is the generic {success, data|error} envelope. Callers
// must check Success rather than relying on HTTP status alone.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// BuildResponse is returned by transaction-building endpoints.
type BuildResponse struct {
	Success      bool        `json:"success"`
	SerializedTx string      `json:"serializedTx,omitempty"`
	Analysis     interface{} `json:"analysis,omitempty"`
	Details      interface{} `json:"details,omitempty"`
	Error        string      `json:"error,omitempty"`
	ErrorCode    ErrorKind   `json:"errorCode,omitempty"`

	// Remediation data for recoverable failures such as a below-minimum
	// borrow: the resolved minimum in human units plus a suggested action.
	MinAmount     *decimal.Decimal `json:"minAmount,omitempty"`
	SuggestedStep string           `json:"suggestedStep,omitempty"`
}

// TwoStepBuildResponse carries both legs of a split borrow. The caller
// submits the price step first and the borrow step only after it lands.
type TwoStepBuildResponse struct {
	Success    bool           `json:"success"`
	PriceStep  *BuildResponse `json:"priceStep"`
	BorrowStep *BuildResponse `json:"borrowStep"`
}

// ObligationView is the API projection of an on-chain obligation.
type ObligationView struct {
	ObligationID       string          `json:"obligationId"`
	Collaterals        []PositionView  `json:"collaterals"`
	Borrows            []PositionView  `json:"borrows"`
	IsLocked           bool            `json:"isLocked"`
	LockType           string          `json:"lockType,omitempty"`
	IsEmpty            bool            `json:"isEmpty"`
	TotalCollateralUSD decimal.Decimal `json:"totalCollateralUsd"`
	TotalBorrowUSD     decimal.Decimal `json:"totalBorrowUsd"`
	RiskLevel          decimal.Decimal `json:"riskLevel"`
	FetchedAt          time.Time       `json:"fetchedAt"`
}

// PositionView is one collateral or borrow line within an obligation.
type PositionView struct {
	Symbol   string          `json:"symbol"`
	Amount   decimal.Decimal `json:"amount"`
	USDValue decimal.Decimal `json:"usdValue"`
}

// MinBorrowView is returned by /api/direct-min-borrow/:coin.
type MinBorrowView struct {
	Coin            string          `json:"coin"`
	MinBaseUnits    uint64          `json:"minBaseUnits"`
	MinHumanAmount  decimal.Decimal `json:"minHumanAmount"`
	Source          string          `json:"source"`
	BufferApplied   bool            `json:"bufferApplied"`
	ResolvedAt      time.Time       `json:"resolvedAt"`
	CacheableForSec int             `json:"cacheableForSec"`
}

// MaxBorrowView is returned by /api/max-borrow/:address/:coin.
type MaxBorrowView struct {
	Address        string          `json:"address"`
	Coin           string          `json:"coin"`
	MaxBaseUnits   uint64          `json:"maxBaseUnits"`
	MaxHumanAmount decimal.Decimal `json:"maxHumanAmount"`
	ObligationID   string          `json:"obligationId,omitempty"`
}

// UpdateObligationRequest is the body for POST /api/update-obligation.
type UpdateObligationRequest struct {
	Address      string `json:"address"`
	ObligationID string `json:"obligationId,omitempty"`
}

// AnalyzeRequest is the body for POST /api/analyze-transaction-structure.
type AnalyzeRequest struct {
	SerializedTx string `json:"serializedTx"`
}
