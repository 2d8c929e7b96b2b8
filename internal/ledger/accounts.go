package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/model"
)

// OpenAccount provisions the user's balance with the starting amount.
// Trading requires an open account.
func (l *Ledger) OpenAccount(ctx context.Context, userID string) (*model.Balance, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id", apperrors.ErrMissingRequiredField)
	}
	now := l.now()
	b := &model.Balance{
		UserID:    userID,
		Amount:    l.startingBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateBalance(ctx, b); err != nil {
		return nil, err
	}
	slog.Info("account opened", "user", userID, "balance", b.Amount.String())
	return b, nil
}

// Balance returns the user's cash.
func (l *Ledger) Balance(ctx context.Context, userID string) (*model.Balance, error) {
	return l.store.GetBalance(ctx, userID)
}

// Positions values every holding of the user at the cached price.
func (l *Ledger) Positions(ctx context.Context, userID string) ([]model.Holding, error) {
	positions, err := l.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	holdings := make([]model.Holding, 0, len(positions))
	for _, p := range positions {
		stock, err := l.quotes.GetQuoteByID(p.StockID)
		if err != nil {
			// Stocks are never removed, but a cache seeded from a different
			// tracked set may not hold this one.
			s, serr := l.store.GetStock(ctx, p.StockID)
			if serr != nil {
				return nil, serr
			}
			stock = *s
		}
		holdings = append(holdings, model.NewHolding(p, stock))
	}
	return holdings, nil
}

// Summary totals the user's holdings alongside their cash.
func (l *Ledger) Summary(ctx context.Context, userID string) (model.PortfolioSummary, error) {
	b, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return model.PortfolioSummary{}, err
	}
	holdings, err := l.Positions(ctx, userID)
	if err != nil {
		return model.PortfolioSummary{}, err
	}
	return model.Summarize(userID, holdings, b.Amount), nil
}

// Transactions lists the user's trades newest first. limit <= 0 returns all.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	txns, err := l.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	return txns, nil
}

// Watch adds a stock to the user's watchlist.
func (l *Ledger) Watch(ctx context.Context, userID, stockID string) (*model.WatchlistEntry, error) {
	if _, err := l.quotes.GetQuoteByID(stockID); err != nil {
		return nil, err
	}
	if _, err := l.store.GetBalance(ctx, userID); err != nil {
		return nil, err
	}
	e := &model.WatchlistEntry{UserID: userID, StockID: stockID, AddedAt: l.now()}
	if err := l.store.AddWatch(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Unwatch removes a stock from the user's watchlist.
func (l *Ledger) Unwatch(ctx context.Context, userID, stockID string) error {
	return l.store.RemoveWatch(ctx, userID, stockID)
}

// Watchlist returns the watched stocks with their cached quotes, in the
// order they were added.
func (l *Ledger) Watchlist(ctx context.Context, userID string) ([]model.Stock, error) {
	entries, err := l.store.ListWatchlist(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}

	stocks := make([]model.Stock, 0, len(entries))
	for _, e := range entries {
		st, err := l.quotes.GetQuoteByID(e.StockID)
		if err != nil {
			continue
		}
		stocks = append(stocks, st)
	}
	return stocks, nil
}
