package services

import (
	"context"
	"errors"
	"time"

	"sui-lending-api/internal/config"
	"sui-lending-api/internal/protocol"
)

// fakeQuery is an in-memory LendingQuery for tests.
type fakeQuery struct {
	portfolios     map[string][]protocol.Obligation
	obligations    map[string]protocol.Obligation
	reserves       map[string]protocol.MarketReserve
	collaterals    map[string]protocol.CollateralConfig
	portfolioErr   error
	reservesErr    error
	collateralsErr error
	portfolioCalls int
}

func newFakeQuery() *fakeQuery {
	return &fakeQuery{
		portfolios:  make(map[string][]protocol.Obligation),
		obligations: make(map[string]protocol.Obligation),
		reserves:    make(map[string]protocol.MarketReserve),
		collaterals: make(map[string]protocol.CollateralConfig),
	}
}

func (f *fakeQuery) GetUserPortfolio(ctx context.Context, address string) ([]protocol.Obligation, error) {
	f.portfolioCalls++
	if f.portfolioErr != nil {
		return nil, f.portfolioErr
	}
	return f.portfolios[address], nil
}

func (f *fakeQuery) GetObligation(ctx context.Context, obligationID string) (*protocol.Obligation, error) {
	if o, ok := f.obligations[obligationID]; ok {
		return &o, nil
	}
	return nil, errors.New("obligation not found")
}

func (f *fakeQuery) GetMarketReserves(ctx context.Context) (map[string]protocol.MarketReserve, error) {
	if f.reservesErr != nil {
		return nil, f.reservesErr
	}
	return f.reserves, nil
}

func (f *fakeQuery) GetMarketCollaterals(ctx context.Context) (map[string]protocol.CollateralConfig, error) {
	if f.collateralsErr != nil {
		return nil, f.collateralsErr
	}
	return f.collaterals, nil
}

// fakeSubmitter records every submitted plan and replays scripted
// results in order.
type fakeSubmitter struct {
	submitted []*protocol.TransactionPlan
	results   []*protocol.SubmitResult
	errs      []error
}

func (f *fakeSubmitter) SignAndExecute(ctx context.Context, plan *protocol.TransactionPlan) (*protocol.SubmitResult, error) {
	idx := len(f.submitted)
	f.submitted = append(f.submitted, plan)

	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	if err != nil {
		return nil, err
	}
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return &protocol.SubmitResult{Digest: "digest-default", Success: true}, nil
}

// fakeChain is an in-memory ChainReader serving owned-object scans.
type fakeChain struct {
	owned map[string][]string
	err   error
}

func (f *fakeChain) GetBalance(ctx context.Context, address, coinType string) (protocol.CoinBalance, error) {
	return protocol.CoinBalance{}, errors.New("not implemented")
}

func (f *fakeChain) GetTransactionBlock(ctx context.Context, digest string) (*protocol.SubmitResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) GetOwnedObjects(ctx context.Context, address, structType string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.owned[address], nil
}

func (f *fakeChain) IsHealthy(ctx context.Context) error {
	return nil
}

// fakePriceFeeds serves one canned update per symbol.
type fakePriceFeeds struct {
	updates map[string]*protocol.PriceFeedUpdate
	err     error
}

func (f *fakePriceFeeds) GetPriceUpdate(ctx context.Context, symbol string) (*protocol.PriceFeedUpdate, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.updates[symbol]; ok {
		return u, nil
	}
	return nil, errors.New("no feed for symbol")
}

func testProtocolConfig() *config.ProtocolConfig {
	return &config.ProtocolConfig{
		SDKEndpoint:        "http://localhost:3001",
		SDKTimeout:         5 * time.Second,
		ObligationKeyType:  "0xefe8::obligation::ObligationKey",
		ObligationCacheTTL: 300 * time.Second,
		MarketDataTTL:      60 * time.Second,
		BufferExemptSymbol: "USDC",
	}
}

func freshFeed(symbol string) *protocol.PriceFeedUpdate {
	return &protocol.PriceFeedUpdate{
		Symbol:          symbol,
		FeedID:          "feed-" + symbol,
		AccumulatorData: []byte{0x01, 0x02},
		VAAData:         []byte{0x03, 0x04},
		PublishedAt:     time.Now(),
	}
}
