package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sui-lending-api/internal/protocol"
	"sui-lending-api/pkg/logger"
	"sui-lending-api/pkg/metrics"

	"go.uber.org/zap"
)

// SagaState tracks progress of an unlock-then-mutate sequence. The two
// legs are separate transactions: the unlock changes on-chain object
// ownership that the second transaction's references depend on, so they
// cannot be combined.
type SagaState string

const (
	SagaIdle            SagaState = "idle"
	SagaUnlockedPending SagaState = "unlocked-pending-mutation"
	SagaCompleted       SagaState = "completed"
)

// SagaResult reports both legs of an unlock-then-mutate sequence.
type SagaResult struct {
	UnlockDigest   string    `json:"unlockDigest,omitempty"`
	MutationDigest string    `json:"mutationDigest,omitempty"`
	State          SagaState `json:"state"`
	Submissions    int       `json:"submissions"`
}

// LockingService detects locked obligations and coordinates the
// unlock-before-mutate protocol for repay and collateral withdrawal.
type LockingService struct {
	query     protocol.LendingQuery
	submitter protocol.TransactionSubmitter
	metrics   *metrics.MetricsCollector

	// In-memory saga markers keyed by obligation ID. A process restart
	// loses them; callers then re-detect lock state from chain.
	markers   map[string]SagaState
	markersMu sync.Mutex
}

// NewLockingService creates a new LockingService instance
func NewLockingService(query protocol.LendingQuery, submitter protocol.TransactionSubmitter, collector *metrics.MetricsCollector) *LockingService {
	return &LockingService{
		query:     query,
		submitter: submitter,
		metrics:   collector,
		markers:   make(map[string]SagaState),
	}
}

// IsLocked reports whether the obligation has an active boost or
// borrow-incentive stake, and which kind.
func (ls *LockingService) IsLocked(ctx context.Context, obligationID string) (bool, protocol.LockKind, error) {
	obligation, err := ls.query.GetObligation(ctx, obligationID)
	if err != nil {
		return false, protocol.LockNone, fmt.Errorf("failed to inspect obligation %s: %w", obligationID, err)
	}
	return obligation.IsLocked(), obligation.LockType, nil
}

// SagaStateFor reports the in-memory saga marker for an obligation, so a
// caller can detect "unlocked but not yet repaid" and resume without
// re-attempting an unlock that would now no-op or error.
func (ls *LockingService) SagaStateFor(obligationID string) SagaState {
	ls.markersMu.Lock()
	defer ls.markersMu.Unlock()

	if state, ok := ls.markers[obligationID]; ok {
		return state
	}
	return SagaIdle
}

// UnlockThenSubmit runs the two-step saga: submit the unstake
// transaction, and only on its success submit the dependent mutation
// plan. If the unlock fails, the mutation is never attempted and the
// unlock failure is surfaced verbatim.
func (ls *LockingService) UnlockThenSubmit(ctx context.Context, obligationID string, mutation *protocol.TransactionPlan) (*SagaResult, error) {
	log := logger.GetLogger().WithComponent("locking_service", logger.Obligation(obligationID))

	result := &SagaResult{State: SagaIdle}

	// Resume path: a previous saga unlocked but never mutated.
	if ls.SagaStateFor(obligationID) == SagaUnlockedPending {
		log.Info("Resuming saga: obligation already unlocked, skipping unstake")
		return ls.submitMutation(ctx, obligationID, mutation, result)
	}

	// An obligation that is not actually locked must not be unstaked: the
	// unstake call would abort on chain and burn the gas. Lookup failures
	// fall through; the chain is the authority either way.
	if obligation, lookupErr := ls.query.GetObligation(ctx, obligationID); lookupErr == nil && !obligation.IsLocked() {
		metrics.UnlockSagas.WithLabelValues("not-locked").Inc()
		return result, fmt.Errorf("%w: %s", ErrObligationNotLocked, obligationID)
	}

	unlockPlan := &protocol.TransactionPlan{
		Sender: mutation.Sender,
		Operations: []protocol.Operation{
			{
				Kind: protocol.OpUnstakeObligation,
				Args: map[string]interface{}{"obligationId": obligationID},
			},
		},
		GasTier:   protocol.GasTierHigh,
		GasBudget: protocol.GasTierHigh.Budget(),
		BuiltAt:   time.Now(),
	}

	log.Info("Submitting unlock transaction before mutation")
	start := time.Now()
	unlockResult, err := ls.submitter.SignAndExecute(ctx, unlockPlan)
	ls.metrics.RecordRPCCall(time.Since(start), err == nil && unlockResult != nil && unlockResult.Success)
	result.Submissions++

	if err != nil {
		metrics.UnlockSagas.WithLabelValues("unlock-error").Inc()
		return result, fmt.Errorf("%w: %v", ErrUnlockFailed, err)
	}
	if !unlockResult.Success {
		metrics.UnlockSagas.WithLabelValues("unlock-aborted").Inc()
		log.Warn("Unlock transaction aborted; mutation will not be attempted",
			zap.String("digest", unlockResult.Digest),
			zap.String("chain_error", unlockResult.Error),
		)
		return result, fmt.Errorf("%w: %s", ErrUnlockFailed, unlockResult.Error)
	}

	result.UnlockDigest = unlockResult.Digest
	ls.setMarker(obligationID, SagaUnlockedPending)
	log.Info("Unlock transaction succeeded",
		zap.String("digest", unlockResult.Digest),
	)

	return ls.submitMutation(ctx, obligationID, mutation, result)
}

// submitMutation runs the second saga leg and clears the marker.
func (ls *LockingService) submitMutation(ctx context.Context, obligationID string, mutation *protocol.TransactionPlan, result *SagaResult) (*SagaResult, error) {
	result.State = SagaUnlockedPending

	start := time.Now()
	mutationResult, err := ls.submitter.SignAndExecute(ctx, mutation)
	ls.metrics.RecordRPCCall(time.Since(start), err == nil && mutationResult != nil && mutationResult.Success)
	result.Submissions++

	if err != nil {
		// Marker stays: the obligation is unlocked but the mutation never
		// landed, and a retry should skip the unlock.
		metrics.UnlockSagas.WithLabelValues("mutation-error").Inc()
		return result, fmt.Errorf("mutation after unlock failed: %w", err)
	}
	if !mutationResult.Success {
		metrics.UnlockSagas.WithLabelValues("mutation-aborted").Inc()
		return result, fmt.Errorf("mutation after unlock aborted: %s", mutationResult.Error)
	}

	result.MutationDigest = mutationResult.Digest
	result.State = SagaCompleted
	ls.clearMarker(obligationID)
	metrics.UnlockSagas.WithLabelValues("completed").Inc()

	return result, nil
}

func (ls *LockingService) setMarker(obligationID string, state SagaState) {
	ls.markersMu.Lock()
	defer ls.markersMu.Unlock()
	ls.markers[obligationID] = state
}

func (ls *LockingService) clearMarker(obligationID string) {
	ls.markersMu.Lock()
	defer ls.markersMu.Unlock()
	delete(ls.markers, obligationID)
}
