package markets

import (
	"errors"

	"github.com/stormcast/stormcast-backend/internal/amount"
)

var (
	// ErrInvalidAmount is returned for non-positive or unparseable amounts.
	ErrInvalidAmount = amount.ErrInvalidAmount
	// ErrMissingSelection is returned when a bet names no side.
	ErrMissingSelection = errors.New("missing selection: choose yes or no")
	// ErrServiceUnreachable covers failed or timed out probes, queries and mutations.
	ErrServiceUnreachable = errors.New("ledger service unreachable")
	// ErrMarketNotFound is returned when no source holds the requested id.
	ErrMarketNotFound = errors.New("market not found")

	ErrEmptyQuestion      = errors.New("question is required")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrInvalidDuration    = errors.New("duration must be positive")
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrMarketClosed       = errors.New("market is not accepting bets")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrReadOnlyMarket     = errors.New("seed markets cannot be modified")
)
