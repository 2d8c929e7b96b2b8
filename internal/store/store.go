// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL and SQLite (sources of truth), Redis
// (read-through cache) and in-memory (for testing and development).
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ankgale/TFG/internal/model"
)

// Store is the persistence interface. Position, Transaction and Balance rows
// are only written through Atomic.
type Store interface {
	// --- Stocks ---

	// UpsertListing inserts a stock or updates its name and sector.
	// Quote fields of an existing row are left untouched.
	UpsertListing(ctx context.Context, l model.Listing) (*model.Stock, error)

	// UpdateQuote overwrites the quote fields and last_updated of a stock.
	UpdateQuote(ctx context.Context, symbol string, q model.Quote, at time.Time) error

	// GetStock retrieves a stock by its ID.
	GetStock(ctx context.Context, id string) (*model.Stock, error)

	// GetStockBySymbol retrieves a stock by its ticker symbol.
	GetStockBySymbol(ctx context.Context, symbol string) (*model.Stock, error)

	// ListStocks returns all stocks ordered by symbol.
	ListStocks(ctx context.Context) ([]model.Stock, error)

	// --- Price history (append-only) ---

	// InsertPriceHistory appends points, skipping (symbol, timestamp) pairs
	// that already exist. Returns the number of new points.
	InsertPriceHistory(ctx context.Context, points []model.PriceHistoryPoint) (int, error)

	// ListPriceHistory returns points for symbol at or after since, oldest first.
	ListPriceHistory(ctx context.Context, symbol string, since time.Time) ([]model.PriceHistoryPoint, error)

	// --- Accounts ---

	// CreateBalance provisions a user's cash balance.
	CreateBalance(ctx context.Context, b *model.Balance) error

	// GetBalance returns the user's balance or ErrUserNotFound.
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)

	// --- Ledger reads ---

	// ListPositions returns all positions of a user.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// ListTransactions returns a user's transactions newest first.
	// limit <= 0 means no limit.
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// --- Watchlist ---

	AddWatch(ctx context.Context, e *model.WatchlistEntry) error
	RemoveWatch(ctx context.Context, userID, stockID string) error
	ListWatchlist(ctx context.Context, userID string) ([]model.WatchlistEntry, error)

	// --- Unit of work ---

	// Atomic runs fn as one all-or-nothing unit. If fn returns an error no
	// write made through tx is visible. A concurrent modification detected at
	// commit is reported as ErrConflict.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of a ledger operation.
type Tx interface {
	// Balance returns the user's cash as seen by this unit of work.
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)

	// AdjustBalance adds delta (negative to debit) and returns the new
	// amount, which is the amount the unit of work commits: a balance changed
	// by someone else before commit makes Atomic fail with ErrConflict. It fails with ErrInsufficientBalance if the result would be
	// negative and ErrUserNotFound if the user has no balance row.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)

	// Position returns the user's position in a stock or ErrNoHoldings.
	Position(ctx context.Context, userID, stockID string) (*model.Position, error)

	// PutPosition writes p. prev is the row read through Position, or nil
	// when inserting; the write fails with ErrConflict if the stored row no
	// longer matches prev.
	PutPosition(ctx context.Context, p, prev *model.Position) error

	// DeletePosition removes prev, failing with ErrConflict if it changed.
	DeletePosition(ctx context.Context, prev *model.Position) error

	// InsertTransaction appends an immutable transaction record.
	InsertTransaction(ctx context.Context, t *model.Transaction) error
}

func newID() string {
	return uuid.New().String()
}
