package services

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"sui-lending-api/internal/models"
)

// Classification is the result of mapping a raw chain/SDK/wallet failure
// into the fixed user-facing taxonomy.
type Classification struct {
	Kind        models.ErrorKind `json:"kind"`
	UserMessage string           `json:"userMessage"`
	AbortCode   int              `json:"abortCode,omitempty"`
	RawMessage  string           `json:"rawMessage"`
}

// Protocol abort codes published by the lending contracts. Structured
// lookup is preferred over substring matching wherever a code is present.
const (
	abortBorrowTooSmall         = 1025
	abortObligationLocked       = 1793
	abortInsufficientCollateral = 1281
	abortStalePrice             = 2049
)

var abortCodeKinds = map[int]models.ErrorKind{
	abortBorrowTooSmall:         models.ErrKindBelowMinimumBorrow,
	abortObligationLocked:       models.ErrKindObligationLocked,
	abortInsufficientCollateral: models.ErrKindInsufficientCollateral,
	abortStalePrice:             models.ErrKindStalePriceOracle,
}

var userMessages = map[models.ErrorKind]string{
	models.ErrKindBelowMinimumBorrow:     "Borrow amount is below the protocol minimum",
	models.ErrKindObligationLocked:       "Obligation is staked for rewards and must be unstaked first",
	models.ErrKindInsufficientCollateral: "Not enough collateral to support this borrow",
	models.ErrKindStalePriceOracle:       "Price oracle data is stale; retry to refresh prices",
	models.ErrKindInsufficientGas:        "Transaction ran out of gas; retry with a higher gas budget",
	models.ErrKindWalletRejected:         "Transaction was rejected in the wallet",
	models.ErrKindNetworkError:           "Network error while talking to the chain; please retry",
	models.ErrKindRPCTimeout:             "The RPC endpoint did not answer in time; please retry",
}

// MoveAbort failures render as e.g.
// "MoveAbort(MoveLocation { ... }, 1025) in command 2".
var moveAbortPattern = regexp.MustCompile(`MoveAbort\(.*?,\s*(\d+)\)`)

// Substring fallbacks for wallet/network errors that carry no structured
// code. Checked in order; matching is inherently brittle and kept only
// for sources without abort codes.
var substringKinds = []struct {
	needle string
	kind   models.ErrorKind
}{
	{"rejected from user", models.ErrKindWalletRejected},
	{"user rejected", models.ErrKindWalletRejected},
	{"rejection", models.ErrKindWalletRejected},
	{"insufficientgas", models.ErrKindInsufficientGas},
	{"insufficient gas", models.ErrKindInsufficientGas},
	{"gasbalancetoolow", models.ErrKindInsufficientGas},
	{"gas budget", models.ErrKindInsufficientGas},
	{"stale", models.ErrKindStalePriceOracle},
	{"price confidence", models.ErrKindStalePriceOracle},
	{"deadline exceeded", models.ErrKindRPCTimeout},
	{"timeout", models.ErrKindRPCTimeout},
	{"timed out", models.ErrKindRPCTimeout},
	{"connection refused", models.ErrKindNetworkError},
	{"network", models.ErrKindNetworkError},
	{"fetch failed", models.ErrKindNetworkError},
}

// Classify maps a raw failure string to an error kind and user message.
// Unmatched input relays the raw message under the unknown kind.
func Classify(raw string) Classification {
	result := Classification{
		Kind:       models.ErrKindUnknown,
		RawMessage: raw,
	}

	if code, ok := extractAbortCode(raw); ok {
		result.AbortCode = code
		if kind, known := abortCodeKinds[code]; known {
			result.Kind = kind
			result.UserMessage = userMessages[kind]
			return result
		}
	}

	lower := strings.ToLower(raw)
	for _, entry := range substringKinds {
		if strings.Contains(lower, entry.needle) {
			result.Kind = entry.kind
			result.UserMessage = userMessages[entry.kind]
			return result
		}
	}

	// No pattern matched: relay the raw message.
	result.UserMessage = raw
	return result
}

// ClassifyErr is a convenience wrapper for error values. A wrapped
// context deadline classifies as a timeout without substring matching.
func ClassifyErr(err error) Classification {
	if err == nil {
		return Classification{Kind: models.ErrKindUnknown}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{
			Kind:        models.ErrKindRPCTimeout,
			UserMessage: userMessages[models.ErrKindRPCTimeout],
			RawMessage:  err.Error(),
		}
	}
	return Classify(err.Error())
}

// extractAbortCode pulls the Move abort code out of a failure string.
func extractAbortCode(raw string) (int, bool) {
	match := moveAbortPattern.FindStringSubmatch(raw)
	if len(match) != 2 {
		return 0, false
	}
	code, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return code, true
}
