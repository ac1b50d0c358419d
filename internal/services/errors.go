package services

import "errors"

var (
	// ErrPortfolioQueryFailed indicates the portfolio query failed and
	// create-on-query-failure is disabled.
	ErrPortfolioQueryFailed = errors.New("portfolio query failed")

	// ErrUnlockFailed indicates the unstake transaction did not succeed;
	// the dependent mutation was not attempted.
	ErrUnlockFailed = errors.New("obligation unlock failed")

	// ErrObligationNotLocked indicates an unlock was requested for an
	// obligation without an active stake.
	ErrObligationNotLocked = errors.New("obligation is not locked")

	// errMinNotPresent indicates a config source answered but carried no
	// usable minimum-borrow field.
	errMinNotPresent = errors.New("minimum borrow amount not present in config")
)
