package api

import (
	"errors"
	"net/http"

	"github.com/stormcast/stormcast-backend/internal/linera"
	"github.com/stormcast/stormcast-backend/internal/markets"
)

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{markets.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{markets.ErrMissingSelection, http.StatusBadRequest, "MISSING_SELECTION"},
	{markets.ErrEmptyQuestion, http.StatusBadRequest, "EMPTY_QUESTION"},
	{markets.ErrInvalidCategory, http.StatusBadRequest, "INVALID_CATEGORY"},
	{markets.ErrInvalidDuration, http.StatusBadRequest, "INVALID_DURATION"},
	{markets.ErrMarketNotFound, http.StatusNotFound, "MARKET_NOT_FOUND"},
	{markets.ErrReadOnlyMarket, http.StatusForbidden, "READ_ONLY_MARKET"},
	{markets.ErrSubmissionInFlight, http.StatusConflict, "SUBMISSION_IN_FLIGHT"},
	{markets.ErrMarketClosed, http.StatusConflict, "MARKET_CLOSED"},
	{markets.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{markets.ErrServiceUnreachable, http.StatusServiceUnavailable, "SERVICE_UNREACHABLE"},
}

// errorStatus maps an error to its HTTP status and error code. Ledger
// rejections keep their own message and map to 502.
func errorStatus(err error) (int, string) {
	if linera.IsRemote(err) {
		return http.StatusBadGateway, "LEDGER_ERROR"
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
