package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sui-lending-api/internal/config"
	"sui-lending-api/internal/protocol"
	"sui-lending-api/pkg/cache"
	"sui-lending-api/pkg/logger"
	"sui-lending-api/pkg/metrics"
	"sui-lending-api/pkg/mutex"

	"go.uber.org/zap"
)

// Resolution is the outcome of resolving which obligation to operate on.
type Resolution struct {
	ObligationID string `json:"obligationId"`
	IsNew        bool   `json:"isNew"`
	FromCache    bool   `json:"fromCache"`
}

// ObligationService resolves, caches, creates, and reuses the on-chain
// obligation for a wallet address. Every mutating operation must resolve
// to exactly one target obligation before a transaction is constructed.
type ObligationService struct {
	query        protocol.LendingQuery
	submitter    protocol.TransactionSubmitter
	chain        protocol.ChainReader
	config       *config.ProtocolConfig
	idCache      *cache.Cache[string]
	requestMutex *mutex.RequestMutex
	metrics      *metrics.MetricsCollector
}

// NewObligationService creates a new ObligationService instance. The
// chain reader backs the owned-object fallback when the SDK portfolio
// query is down; nil disables the fallback.
func NewObligationService(
	query protocol.LendingQuery,
	submitter protocol.TransactionSubmitter,
	chain protocol.ChainReader,
	cfg *config.ProtocolConfig,
	cacheCleanup time.Duration,
	collector *metrics.MetricsCollector,
) *ObligationService {
	return &ObligationService{
		query:        query,
		submitter:    submitter,
		chain:        chain,
		config:       cfg,
		idCache:      cache.New[string](cfg.ObligationCacheTTL),
		requestMutex: mutex.New(cacheCleanup),
		metrics:      collector,
	}
}

// ResolveObligation resolves the obligation to operate on for an address.
// Resolution order: explicit ID (trusted), cache within TTL, on-chain
// portfolio query, and finally an open-obligation transaction.
func (s *ObligationService) ResolveObligation(ctx context.Context, address, explicitID string) (*Resolution, error) {
	log := logger.GetLogger().WithComponent("obligation_service", logger.Wallet(address))

	// 1. Caller-supplied ID wins.
	if explicitID != "" {
		log.Debug("Using explicit obligation ID", zap.String("obligation_id", explicitID))
		s.idCache.Set(address, explicitID)
		return &Resolution{ObligationID: explicitID}, nil
	}

	// 2. Cache within TTL.
	if cachedID, found := s.idCache.Get(address); found {
		log.Debug("Cache hit for obligation ID", zap.String("obligation_id", cachedID))
		s.metrics.RecordCacheHit()
		return &Resolution{ObligationID: cachedID, FromCache: true}, nil
	}
	s.metrics.RecordCacheMiss()

	// Serialize concurrent resolutions for the same address so two rapid
	// actions cannot race to create duplicate obligations.
	mutexStart := time.Now()
	addressMutex := s.requestMutex.GetMutex(mutex.KeyFor(address, "resolve-obligation"))
	addressMutex.Lock()
	defer addressMutex.Unlock()

	if time.Since(mutexStart) > time.Millisecond {
		s.metrics.RecordMutexWait()
	}

	// Double-check cache after acquiring mutex (another request might have
	// resolved it).
	if cachedID, found := s.idCache.Get(address); found {
		log.Debug("Cache hit after mutex acquisition (populated by concurrent request)")
		s.metrics.RecordCacheHit()
		return &Resolution{ObligationID: cachedID, FromCache: true}, nil
	}

	// 3. On-chain portfolio query.
	obligations, err := s.query.GetUserPortfolio(ctx, address)
	if err != nil {
		// Direct owned-object scan before giving up: key objects owned by
		// the address identify obligations without the SDK sidecar.
		if chainID, ok := s.resolveFromChain(ctx, address); ok {
			log.Warn("Portfolio query failed; resolved obligation from owned objects",
				zap.Error(err),
				zap.String("obligation_id", chainID),
			)
			s.idCache.Set(address, chainID)
			return &Resolution{ObligationID: chainID}, nil
		}

		if !s.config.AllowCreateOnQueryFailure {
			log.Error("Portfolio query failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrPortfolioQueryFailed, err)
		}

		// Legacy availability-favoring path: treat the failure as "no
		// obligation" and fall through to creation. Risks a duplicate if
		// the query failure was transient.
		log.Warn("Portfolio query failed; falling through to creation per config",
			zap.Error(err),
		)
		s.metrics.RecordDuplicateObligationWarning()
		metrics.DuplicateObligationWarns.Inc()
		obligations = nil
	}

	if len(obligations) > 0 {
		selected := obligations[0].ObligationID
		log.Debug("Selected existing obligation",
			zap.String("obligation_id", selected),
			zap.Int("obligation_count", len(obligations)),
		)
		s.idCache.Set(address, selected)
		return &Resolution{ObligationID: selected}, nil
	}

	// 4. Nothing exists: open a new obligation on-chain.
	createdID, err := s.openObligation(ctx, address)
	if err != nil {
		return nil, err
	}

	log.Info("Created new obligation",
		zap.String("obligation_id", createdID),
	)
	s.idCache.Set(address, createdID)
	return &Resolution{ObligationID: createdID, IsNew: true}, nil
}

// ResolveForDeposit resolves the obligation for a collateral deposit.
// It differs from ResolveObligation in two ways: an empty, unlocked
// obligation is preferred for reuse over the first listed one, and when
// nothing exists no standalone open transaction is submitted. Instead
// the returned resolution carries IsNew with an empty ID, and the
// caller opens the obligation in the same transaction as the deposit so
// no zero-collateral obligation window exists.
func (s *ObligationService) ResolveForDeposit(ctx context.Context, address, explicitID string) (*Resolution, error) {
	log := logger.GetLogger().WithComponent("obligation_service", logger.Wallet(address))

	if explicitID != "" {
		s.idCache.Set(address, explicitID)
		return &Resolution{ObligationID: explicitID}, nil
	}

	if cachedID, found := s.idCache.Get(address); found {
		s.metrics.RecordCacheHit()
		return &Resolution{ObligationID: cachedID, FromCache: true}, nil
	}
	s.metrics.RecordCacheMiss()

	addressMutex := s.requestMutex.GetMutex(mutex.KeyFor(address, "resolve-obligation"))
	addressMutex.Lock()
	defer addressMutex.Unlock()

	if cachedID, found := s.idCache.Get(address); found {
		s.metrics.RecordCacheHit()
		return &Resolution{ObligationID: cachedID, FromCache: true}, nil
	}

	obligations, err := s.query.GetUserPortfolio(ctx, address)
	if err != nil {
		if chainID, ok := s.resolveFromChain(ctx, address); ok {
			log.Warn("Portfolio query failed; resolved obligation from owned objects",
				zap.Error(err),
				zap.String("obligation_id", chainID),
			)
			s.idCache.Set(address, chainID)
			return &Resolution{ObligationID: chainID}, nil
		}

		if !s.config.AllowCreateOnQueryFailure {
			log.Error("Portfolio query failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrPortfolioQueryFailed, err)
		}
		log.Warn("Portfolio query failed; falling through to creation per config",
			zap.Error(err),
		)
		s.metrics.RecordDuplicateObligationWarning()
		metrics.DuplicateObligationWarns.Inc()
		obligations = nil
	}

	// Prefer an empty, unlocked obligation so deposits reuse dormant
	// accounts instead of opening new ones.
	for i := range obligations {
		if obligations[i].IsEmpty() && !obligations[i].IsLocked() {
			selected := obligations[i].ObligationID
			log.Debug("Reusing empty obligation for deposit",
				zap.String("obligation_id", selected),
			)
			s.idCache.Set(address, selected)
			return &Resolution{ObligationID: selected}, nil
		}
	}
	if len(obligations) > 0 {
		selected := obligations[0].ObligationID
		s.idCache.Set(address, selected)
		return &Resolution{ObligationID: selected}, nil
	}

	// Nothing to reuse. The open happens inside the deposit transaction,
	// so there is no ID to cache yet; the post-submit cache invalidation
	// plus the next portfolio query pick it up.
	log.Info("No obligation to reuse; deposit will open one atomically")
	return &Resolution{IsNew: true}, nil
}

// resolveFromChain scans the address's owned obligation key objects via
// the raw RPC endpoint. The second return reports whether a usable ID
// was found; lookup failures report false so the caller's normal error
// handling applies.
func (s *ObligationService) resolveFromChain(ctx context.Context, address string) (string, bool) {
	if s.chain == nil || s.config.ObligationKeyType == "" {
		return "", false
	}

	ids, err := s.chain.GetOwnedObjects(ctx, address, s.config.ObligationKeyType)
	if err != nil || len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// GetObligation fetches a single obligation by ID.
func (s *ObligationService) GetObligation(ctx context.Context, obligationID string) (*protocol.Obligation, error) {
	return s.query.GetObligation(ctx, obligationID)
}

// GetPortfolio fetches every obligation owned by the address.
func (s *ObligationService) GetPortfolio(ctx context.Context, address string) ([]protocol.Obligation, error) {
	return s.query.GetUserPortfolio(ctx, address)
}

// InvalidateCache drops the cached obligation ID for an address. Called
// after every mutating transaction: the authoritative state is on-chain.
func (s *ObligationService) InvalidateCache(address string) {
	s.idCache.Delete(address)
}

// openObligation submits the open-obligation transaction and extracts
// the created object ID from emitted events/effects.
func (s *ObligationService) openObligation(ctx context.Context, address string) (string, error) {
	log := logger.GetLogger().WithComponent("obligation_service", logger.Wallet(address))

	plan := &protocol.TransactionPlan{
		Sender: address,
		Operations: []protocol.Operation{
			{Kind: protocol.OpOpenObligation},
		},
		GasTier:   protocol.GasTierDefault,
		GasBudget: protocol.GasTierDefault.Budget(),
		BuiltAt:   time.Now(),
	}

	result, err := s.submitter.SignAndExecute(ctx, plan)
	if err != nil {
		return "", fmt.Errorf("open obligation transaction failed: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("open obligation transaction aborted: %s", result.Error)
	}

	s.metrics.RecordObligationCreated()
	metrics.ObligationsOpened.Inc()

	createdID := extractObligationID(result)
	if createdID == "" {
		return "", fmt.Errorf("open obligation succeeded (digest %s) but no obligation ID in effects", result.Digest)
	}

	// Post-create duplicate check: if the portfolio now shows more than
	// one obligation, two resolutions raced (possibly across processes).
	if obligations, qerr := s.query.GetUserPortfolio(ctx, address); qerr == nil && len(obligations) > 1 {
		log.Warn("Duplicate obligations detected after creation",
			zap.Int("obligation_count", len(obligations)),
		)
		s.metrics.RecordDuplicateObligationWarning()
		metrics.DuplicateObligationWarns.Inc()
	}

	return createdID, nil
}

// extractObligationID pulls the created obligation's object ID from a
// submission result, preferring the typed creation event and falling
// back to created object effects.
func extractObligationID(result *protocol.SubmitResult) string {
	for _, ev := range result.Events {
		if !strings.Contains(ev.Type, "ObligationCreated") {
			continue
		}
		for _, key := range []string{"obligation", "obligation_id", "obligationId"} {
			if value, ok := ev.Fields[key].(string); ok && value != "" {
				return value
			}
		}
	}

	if len(result.Created) > 0 {
		return result.Created[0]
	}
	return ""
}

// CacheStats returns cache statistics for monitoring.
func (s *ObligationService) CacheStats() map[string]interface{} {
	return map[string]interface{}{
		"obligation_cache_size": s.idCache.Size(),
		"mutex_count":           s.requestMutex.Size(),
		"cache_ttl_ms":          s.config.ObligationCacheTTL.Milliseconds(),
	}
}

// Stop gracefully shuts down the service.
func (s *ObligationService) Stop() {
	s.idCache.Stop()
	s.requestMutex.Stop()
}
