package protocol

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OpKind identifies a protocol operation within a transaction plan.
type OpKind string

const (
	OpPriceUpdate        OpKind = "price-update"
	OpOpenObligation     OpKind = "open-obligation"
	OpDepositCollateral  OpKind = "deposit-collateral"
	OpWithdrawCollateral OpKind = "withdraw-collateral"
	OpBorrow             OpKind = "borrow"
	OpRepay              OpKind = "repay"
	OpSupply             OpKind = "supply"
	OpWithdraw           OpKind = "withdraw"
	OpUnstakeObligation  OpKind = "unstake-obligation"
	OpTransferToSender   OpKind = "transfer-to-sender"
)

// Operation is one step in a transaction plan. Target is the Move call
// target the step resolves to (package::module::function); Args carry
// the operation-specific payload.
type Operation struct {
	Kind   OpKind                 `json:"kind"`
	Target string                 `json:"target,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

// GasTier is a fixed upper bound on transaction execution cost.
type GasTier string

const (
	GasTierDefault GasTier = "DEFAULT"
	GasTierHigh    GasTier = "HIGH"
	GasTierExtreme GasTier = "EXTREME"
	GasTierUltra   GasTier = "ULTRA"
)

// Gas budgets per tier, in MIST. Oracle verification dominates gas cost,
// so plans carrying price-update operations always take the top tier.
var gasBudgets = map[GasTier]uint64{
	GasTierDefault: 50_000_000,
	GasTierHigh:    150_000_000,
	GasTierExtreme: 300_000_000,
	GasTierUltra:   500_000_000,
}

// Budget returns the gas budget for the tier in MIST.
func (t GasTier) Budget() uint64 {
	if b, ok := gasBudgets[t]; ok {
		return b
	}
	return gasBudgets[GasTierDefault]
}

// TransactionPlan is an ordered list of protocol operations plus a gas
// budget tier. Built fresh per user action, submitted once, discarded.
type TransactionPlan struct {
	Sender     string      `json:"sender"`
	Operations []Operation `json:"operations"`
	GasTier    GasTier     `json:"gasTier"`
	GasBudget  uint64      `json:"gasBudget"`
	BuiltAt    time.Time   `json:"builtAt"`
}

// Serialize renders the plan as the JSON payload handed to the wallet.
func (p *TransactionPlan) Serialize() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DeserializePlan parses a serialized transaction plan.
func DeserializePlan(serialized string) (*TransactionPlan, error) {
	var plan TransactionPlan
	if err := json.Unmarshal([]byte(serialized), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// HasPriceUpdate reports whether the plan carries any oracle operations.
func (p *TransactionPlan) HasPriceUpdate() bool {
	for _, op := range p.Operations {
		if op.Kind == OpPriceUpdate {
			return true
		}
	}
	return false
}

// LockKind describes why an obligation is locked.
type LockKind string

const (
	LockNone            LockKind = ""
	LockBoost           LockKind = "boost"
	LockBorrowIncentive LockKind = "borrow-incentive"
)

// Position is one collateral or borrow entry inside an obligation.
type Position struct {
	Symbol   string          `json:"symbol"`
	CoinType string          `json:"coinType"`
	Amount   decimal.Decimal `json:"amount"`
	USDValue decimal.Decimal `json:"usdValue"`
}

// Obligation is the on-chain account object tracking one user's
// collateral and debt positions. Never deleted on-chain, only emptied.
type Obligation struct {
	ObligationID       string          `json:"obligationId"`
	Owner              string          `json:"owner"`
	Collaterals        []Position      `json:"collaterals"`
	Borrows            []Position      `json:"borrows"`
	LockType           LockKind        `json:"lockType"`
	TotalCollateralUSD decimal.Decimal `json:"totalCollateralUsd"`
	TotalBorrowUSD     decimal.Decimal `json:"totalBorrowUsd"`
	RiskLevel          decimal.Decimal `json:"riskLevel"`
}

// IsLocked reports whether the obligation has an active boost or
// borrow-incentive stake.
func (o *Obligation) IsLocked() bool {
	return o.LockType != LockNone
}

// IsEmpty reports whether the obligation has neither collateral nor debt.
func (o *Obligation) IsEmpty() bool {
	return len(o.Collaterals) == 0 && len(o.Borrows) == 0
}

// MarketReserve is the primary on-chain reserve configuration for a coin.
type MarketReserve struct {
	Symbol          string          `json:"symbol"`
	CoinType        string          `json:"coinType"`
	MinBorrowAmount uint64          `json:"minBorrowAmount"`
	BorrowRate      decimal.Decimal `json:"borrowRate"`
	SupplyRate      decimal.Decimal `json:"supplyRate"`
	TotalSupply     decimal.Decimal `json:"totalSupply"`
	TotalBorrow     decimal.Decimal `json:"totalBorrow"`
	Price           decimal.Decimal `json:"price"`
}

// CollateralConfig is the secondary on-chain collateral configuration.
// The semantic minimum-borrow field appears under one of several key
// names depending on contract version, so it is exposed as a raw map.
type CollateralConfig struct {
	Symbol   string                 `json:"symbol"`
	CoinType string                 `json:"coinType"`
	Raw      map[string]interface{} `json:"raw"`
}

// PriceFeedUpdate carries the oracle byte payloads for one coin: the
// accumulator message plus the VAA proof the on-chain verifier consumes.
type PriceFeedUpdate struct {
	Symbol          string    `json:"symbol"`
	FeedID          string    `json:"feedId"`
	AccumulatorData []byte    `json:"accumulatorData"`
	VAAData         []byte    `json:"vaaData"`
	PublishedAt     time.Time `json:"publishedAt"`
}

// SubmitResult is the outcome of a signed transaction submission.
type SubmitResult struct {
	Digest  string   `json:"digest"`
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Events  []Event  `json:"events,omitempty"`
	Created []string `json:"created,omitempty"` // object IDs created by effects
}

// Event is a chain event emitted by a transaction.
type Event struct {
	Type   string                 `json:"type"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// CoinBalance is a chain balance for one concrete coin type.
type CoinBalance struct {
	CoinType     string `json:"coinType"`
	TotalBalance uint64 `json:"totalBalance"`
	ObjectCount  int    `json:"objectCount"`
}
