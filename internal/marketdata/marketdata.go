// Package marketdata defines the external price source and its Yahoo Finance
// chart API implementation.
package marketdata

import (
	"context"

	"github.com/ankgale/TFG/internal/model"
)

// Source is the external price feed. Implementations must be safe for
// concurrent use.
type Source interface {
	// Quote returns the latest quote for symbol. Fields the source does not
	// provide are zero.
	Quote(ctx context.Context, symbol string) (model.Quote, error)

	// History returns OHLCV bars for symbol over period, oldest first.
	History(ctx context.Context, symbol, period string) ([]model.PriceHistoryPoint, error)
}

// Periods lists the supported history ranges.
var Periods = []string{"1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "max"}

// DefaultPeriod is used when a caller does not name one.
const DefaultPeriod = "1mo"

var validPeriods = func() map[string]bool {
	m := make(map[string]bool, len(Periods))
	for _, p := range Periods {
		m[p] = true
	}
	return m
}()

// ValidPeriod reports whether p is one of Periods.
func ValidPeriod(p string) bool {
	return validPeriods[p]
}

// intervalFor picks the bar size for a history range.
func intervalFor(period string) string {
	switch period {
	case "1d":
		return "5m"
	case "5d":
		return "30m"
	case "5y", "max":
		return "1wk"
	default:
		return "1d"
	}
}
