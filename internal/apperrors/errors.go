// Package apperrors holds the error taxonomy shared by the ledger, the price
// cache, the stores and the HTTP layer. Callers classify with errors.Is.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Entity errors: the referenced row does not exist.
var (
	// ErrUserNotFound indicates no balance row exists for the user.
	// Accounts must be opened before trading.
	ErrUserNotFound = errors.New("user not found")

	// ErrStockNotFound indicates an unknown stock id or symbol.
	ErrStockNotFound = errors.New("stock not found")

	// ErrNoHoldings indicates the user holds no position in the stock.
	ErrNoHoldings = errors.New("no shares to sell")

	// ErrNotWatching indicates the stock is not on the user's watchlist.
	ErrNotWatching = errors.New("stock not on watchlist")

	// ErrLessonNotFound indicates an unknown lesson id.
	ErrLessonNotFound = errors.New("lesson not found")
)

// Business rule violations. No state changes when these are returned.
var (
	ErrPriceUnavailable     = errors.New("stock price not available")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientShares   = errors.New("insufficient shares")
	ErrInvalidShares        = errors.New("shares must be positive with at most 4 decimal places")
	ErrInvalidPeriod        = errors.New("invalid period")
	ErrInvalidTradeType     = errors.New("transaction_type must be buy or sell")
	ErrAccountExists        = errors.New("account already exists")
	ErrAlreadyWatching      = errors.New("stock already on watchlist")
	ErrMissingRequiredField = errors.New("missing required field")
)

// Infrastructure errors.
var (
	// ErrSourceUnavailable indicates the external price feed failed.
	// It never crosses the price cache boundary into trade logic.
	ErrSourceUnavailable = errors.New("price source unavailable")

	// ErrConflict indicates a concurrent writer changed a row between read
	// and write. The ledger retries on it.
	ErrConflict = errors.New("concurrent modification")
)

// InsufficientSharesError reports how many shares the user actually holds.
type InsufficientSharesError struct {
	Held      decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares: you have %s, requested %s", e.Held, e.Requested)
}

func (e *InsufficientSharesError) Unwrap() error {
	return ErrInsufficientShares
}

// Code returns a stable machine-readable identifier for err, or "internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrStockNotFound):
		return "stock_not_found"
	case errors.Is(err, ErrNoHoldings):
		return "no_holdings"
	case errors.Is(err, ErrNotWatching):
		return "not_watching"
	case errors.Is(err, ErrLessonNotFound):
		return "lesson_not_found"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrInvalidShares):
		return "invalid_shares"
	case errors.Is(err, ErrInvalidPeriod):
		return "invalid_period"
	case errors.Is(err, ErrInvalidTradeType):
		return "invalid_transaction_type"
	case errors.Is(err, ErrAccountExists):
		return "account_exists"
	case errors.Is(err, ErrAlreadyWatching):
		return "already_watching"
	case errors.Is(err, ErrMissingRequiredField):
		return "missing_field"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
