package protocol

import "context"

// LendingQuery exposes the read side of the lending-protocol SDK.
type LendingQuery interface {
	// GetUserPortfolio returns every obligation owned by the address.
	GetUserPortfolio(ctx context.Context, address string) ([]Obligation, error)

	// GetObligation returns a single obligation by object ID.
	GetObligation(ctx context.Context, obligationID string) (*Obligation, error)

	// GetMarketReserves returns the reserve configuration per symbol.
	GetMarketReserves(ctx context.Context) (map[string]MarketReserve, error)

	// GetMarketCollaterals returns the secondary collateral configuration
	// per symbol.
	GetMarketCollaterals(ctx context.Context) (map[string]CollateralConfig, error)
}

// TransactionSubmitter executes a signed transaction plan through the
// connected wallet and reports the chain outcome.
type TransactionSubmitter interface {
	SignAndExecute(ctx context.Context, plan *TransactionPlan) (*SubmitResult, error)
}

// PriceFeedSource supplies fresh oracle price-feed update payloads.
type PriceFeedSource interface {
	GetPriceUpdate(ctx context.Context, symbol string) (*PriceFeedUpdate, error)
}

// ChainReader provides generic chain read access.
type ChainReader interface {
	// GetBalance returns the balance for one concrete coin type.
	GetBalance(ctx context.Context, address, coinType string) (CoinBalance, error)

	// GetTransactionBlock looks up a transaction by digest.
	GetTransactionBlock(ctx context.Context, digest string) (*SubmitResult, error)

	// GetOwnedObjects lists object IDs of the given struct type owned by
	// the address.
	GetOwnedObjects(ctx context.Context, address, structType string) ([]string, error)

	// IsHealthy checks that the RPC endpoint is responsive.
	IsHealthy(ctx context.Context) error
}

// WalletAdapter yields the connected wallet's address. Each concrete
// wallet library translates its own shape behind this single method
// instead of scattering fallback checks through business logic.
type WalletAdapter interface {
	GetAddress(ctx context.Context) (string, error)
}
