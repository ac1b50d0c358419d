package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"sui-lending-api/internal/protocol"
	"sui-lending-api/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repayPlan(sender string) *protocol.TransactionPlan {
	return &protocol.TransactionPlan{
		Sender: sender,
		Operations: []protocol.Operation{
			{Kind: protocol.OpRepay, Args: map[string]interface{}{"obligationId": "0xob1"}},
		},
		GasTier:   protocol.GasTierDefault,
		GasBudget: protocol.GasTierDefault.Budget(),
		BuiltAt:   time.Now(),
	}
}

func TestLockingService(t *testing.T) {
	ctx := context.Background()

	t.Run("IsLocked", func(t *testing.T) {
		query := newFakeQuery()
		query.obligations["0xboost"] = protocol.Obligation{ObligationID: "0xboost", LockType: protocol.LockBoost}
		query.obligations["0xfree"] = protocol.Obligation{ObligationID: "0xfree"}
		svc := NewLockingService(query, &fakeSubmitter{}, metrics.NewMetricsCollector())

		locked, kind, err := svc.IsLocked(ctx, "0xboost")
		require.NoError(t, err)
		assert.True(t, locked)
		assert.Equal(t, protocol.LockBoost, kind)

		locked, kind, err = svc.IsLocked(ctx, "0xfree")
		require.NoError(t, err)
		assert.False(t, locked)
		assert.Equal(t, protocol.LockNone, kind)
	})

	t.Run("UnlockThenSubmitHappyPath", func(t *testing.T) {
		submitter := &fakeSubmitter{
			results: []*protocol.SubmitResult{
				{Digest: "digest-unlock", Success: true},
				{Digest: "digest-repay", Success: true},
			},
		}
		svc := NewLockingService(newFakeQuery(), submitter, metrics.NewMetricsCollector())

		result, err := svc.UnlockThenSubmit(ctx, "0xob1", repayPlan("0xabc"))
		require.NoError(t, err)

		// Exactly two submissions: unlock first, mutation second.
		require.Len(t, submitter.submitted, 2)
		assert.Equal(t, protocol.OpUnstakeObligation, submitter.submitted[0].Operations[0].Kind)
		assert.Equal(t, protocol.OpRepay, submitter.submitted[1].Operations[0].Kind)

		assert.Equal(t, "digest-unlock", result.UnlockDigest)
		assert.Equal(t, "digest-repay", result.MutationDigest)
		assert.Equal(t, SagaCompleted, result.State)
		assert.Equal(t, 2, result.Submissions)
		assert.Equal(t, SagaIdle, svc.SagaStateFor("0xob1"))
	})

	t.Run("UnlockedObligationIsRefused", func(t *testing.T) {
		// The obligation carries no stake, so an unstake would abort on
		// chain. The saga refuses up front and submits nothing.
		query := newFakeQuery()
		query.obligations["0xob1"] = protocol.Obligation{ObligationID: "0xob1", LockType: protocol.LockNone}
		submitter := &fakeSubmitter{}
		svc := NewLockingService(query, submitter, metrics.NewMetricsCollector())

		result, err := svc.UnlockThenSubmit(ctx, "0xob1", repayPlan("0xabc"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrObligationNotLocked)
		assert.Empty(t, submitter.submitted)
		assert.Equal(t, 0, result.Submissions)
	})

	t.Run("FailedUnlockNeverMutates", func(t *testing.T) {
		submitter := &fakeSubmitter{
			results: []*protocol.SubmitResult{
				{Digest: "digest-unlock", Success: false, Error: "MoveAbort(MoveLocation { .. }, 1793) in command 0"},
			},
		}
		svc := NewLockingService(newFakeQuery(), submitter, metrics.NewMetricsCollector())

		result, err := svc.UnlockThenSubmit(ctx, "0xob1", repayPlan("0xabc"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnlockFailed)
		// The unlock chain error is relayed verbatim.
		assert.Contains(t, err.Error(), "1793")

		// Only the unlock was ever submitted.
		require.Len(t, submitter.submitted, 1)
		assert.Equal(t, protocol.OpUnstakeObligation, submitter.submitted[0].Operations[0].Kind)
		assert.Equal(t, 1, result.Submissions)
		assert.Empty(t, result.MutationDigest)
	})

	t.Run("UnlockTransportErrorNeverMutates", func(t *testing.T) {
		submitter := &fakeSubmitter{
			errs: []error{errors.New("connection refused")},
		}
		svc := NewLockingService(newFakeQuery(), submitter, metrics.NewMetricsCollector())

		_, err := svc.UnlockThenSubmit(ctx, "0xob1", repayPlan("0xabc"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnlockFailed)
		assert.Len(t, submitter.submitted, 1)
	})

	t.Run("FailedMutationKeepsMarker", func(t *testing.T) {
		submitter := &fakeSubmitter{
			results: []*protocol.SubmitResult{
				{Digest: "digest-unlock", Success: true},
				{Digest: "digest-repay", Success: false, Error: "insufficient gas"},
			},
		}
		svc := NewLockingService(newFakeQuery(), submitter, metrics.NewMetricsCollector())

		result, err := svc.UnlockThenSubmit(ctx, "0xob1", repayPlan("0xabc"))
		require.Error(t, err)
		assert.Equal(t, SagaUnlockedPending, result.State)
		// The saga marker survives so a retry skips the unlock leg.
		assert.Equal(t, SagaUnlockedPending, svc.SagaStateFor("0xob1"))
	})

	t.Run("ResumeSkipsUnlock", func(t *testing.T) {
		submitter := &fakeSubmitter{
			results: []*protocol.SubmitResult{
				{Digest: "digest-unlock", Success: true},
				{Digest: "digest-repay-1", Success: false, Error: "insufficient gas"},
				{Digest: "digest-repay-2", Success: true},
			},
		}
		svc := NewLockingService(newFakeQuery(), submitter, metrics.NewMetricsCollector())

		_, err := svc.UnlockThenSubmit(ctx, "0xob1", repayPlan("0xabc"))
		require.Error(t, err)

		// Retry: the obligation is already unlocked, so only the mutation
		// is submitted.
		result, err := svc.UnlockThenSubmit(ctx, "0xob1", repayPlan("0xabc"))
		require.NoError(t, err)
		assert.Equal(t, SagaCompleted, result.State)
		assert.Equal(t, 1, result.Submissions)

		require.Len(t, submitter.submitted, 3)
		assert.Equal(t, protocol.OpRepay, submitter.submitted[2].Operations[0].Kind)
	})
}
