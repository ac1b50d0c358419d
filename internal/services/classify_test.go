package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"sui-lending-api/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Run("MoveAbortCodes", func(t *testing.T) {
		cases := []struct {
			raw  string
			kind models.ErrorKind
			code int
		}{
			{
				raw:  "MoveAbort(MoveLocation { module: ModuleId { address: 0xabc, name: Identifier(\"borrow\") }, function: 12, instruction: 7 }, 1025) in command 2",
				kind: models.ErrKindBelowMinimumBorrow,
				code: 1025,
			},
			{
				raw:  "MoveAbort(MoveLocation { module: ModuleId { address: 0xabc, name: Identifier(\"obligation\") }, function: 3, instruction: 1 }, 1793) in command 1",
				kind: models.ErrKindObligationLocked,
				code: 1793,
			},
			{
				raw:  "MoveAbort(MoveLocation { .. }, 1281) in command 2",
				kind: models.ErrKindInsufficientCollateral,
				code: 1281,
			},
			{
				raw:  "MoveAbort(MoveLocation { .. }, 2049) in command 0",
				kind: models.ErrKindStalePriceOracle,
				code: 2049,
			},
		}

		for _, tc := range cases {
			result := Classify(tc.raw)
			assert.Equal(t, tc.kind, result.Kind, tc.raw)
			assert.Equal(t, tc.code, result.AbortCode)
			assert.NotEmpty(t, result.UserMessage)
			assert.Equal(t, tc.raw, result.RawMessage)
		}
	})

	t.Run("UnknownAbortCode", func(t *testing.T) {
		result := Classify("MoveAbort(MoveLocation { .. }, 9999) in command 0")
		assert.Equal(t, models.ErrKindUnknown, result.Kind)
		assert.Equal(t, 9999, result.AbortCode)
	})

	t.Run("WalletRejection", func(t *testing.T) {
		result := Classify("Transaction rejected from user in wallet popup")
		assert.Equal(t, models.ErrKindWalletRejected, result.Kind)
	})

	t.Run("InsufficientGas", func(t *testing.T) {
		result := Classify("InsufficientGas: gas budget too low for oracle verification")
		assert.Equal(t, models.ErrKindInsufficientGas, result.Kind)
	})

	t.Run("NetworkError", func(t *testing.T) {
		result := Classify("dial tcp 10.0.0.1:443: connection refused")
		assert.Equal(t, models.ErrKindNetworkError, result.Kind)

		result = Classify("fetch failed: no route to host")
		assert.Equal(t, models.ErrKindNetworkError, result.Kind)
	})

	t.Run("RPCTimeout", func(t *testing.T) {
		// Timeouts are reported distinctly from generic network failures.
		result := Classify("request timeout after 30s")
		assert.Equal(t, models.ErrKindRPCTimeout, result.Kind)

		result = Classify("Post \"http://localhost:3001/tx/execute\": context deadline exceeded")
		assert.Equal(t, models.ErrKindRPCTimeout, result.Kind)

		result = ClassifyErr(fmt.Errorf("portfolio query failed: %w", context.DeadlineExceeded))
		assert.Equal(t, models.ErrKindRPCTimeout, result.Kind)
		assert.NotEmpty(t, result.UserMessage)
	})

	t.Run("AbortCodeBeatsSubstring", func(t *testing.T) {
		// A message carrying both a known abort code and a network-ish
		// substring resolves via the structured code.
		result := Classify("network call returned MoveAbort(MoveLocation { .. }, 1025) in command 2")
		assert.Equal(t, models.ErrKindBelowMinimumBorrow, result.Kind)
	})

	t.Run("UnmatchedRelaysRawMessage", func(t *testing.T) {
		raw := "something completely unexpected happened"
		result := Classify(raw)
		assert.Equal(t, models.ErrKindUnknown, result.Kind)
		assert.Equal(t, raw, result.UserMessage)
	})

	t.Run("ClassifyErr", func(t *testing.T) {
		result := ClassifyErr(errors.New("user rejected the request"))
		assert.Equal(t, models.ErrKindWalletRejected, result.Kind)

		result = ClassifyErr(nil)
		assert.Equal(t, models.ErrKindUnknown, result.Kind)
	})
}
