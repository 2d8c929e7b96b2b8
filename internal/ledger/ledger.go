// Package ledger executes paper trades.
//
// The Ledger owns Position and Transaction records and is the only caller
// of the balance operations. Every Buy and Sell reads one price snapshot,
// validates against the user's cash and position, and writes Position,
// Balance and Transaction as a single store unit of work.
//
// Trades on the same (user, stock) pair are serialized by a keyed mutex;
// trades on different pairs run in parallel. The store's compare-and-swap
// checks cover what the in-process lock cannot see (other instances, and
// concurrent trades of one user on different stocks sharing a balance),
// and a conflict is retried with a fresh snapshot.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/metrics"
	"github.com/ankgale/TFG/internal/model"
	"github.com/ankgale/TFG/internal/store"
)

// Quotes is the read side of the price cache the ledger needs.
type Quotes interface {
	GetQuoteByID(id string) (model.Stock, error)
}

// TradeResult is returned by a successful Buy or Sell. Position is nil when
// a sell liquidated the holding.
type TradeResult struct {
	Message     string            `json:"message"`
	Transaction model.Transaction `json:"transaction"`
	Position    *model.Holding    `json:"position"`
	Balance     decimal.Decimal   `json:"balance"`
}

// Ledger executes trades and owns user-scoped trading records.
type Ledger struct {
	store           store.Store
	quotes          Quotes
	startingBalance decimal.Decimal

	locks    *keyedMutex
	balances balances
	backoff  func() retry.Backoff
	now      func() time.Time
}

// New creates a Ledger. startingBalance funds accounts opened with
// OpenAccount.
func New(st store.Store, quotes Quotes, startingBalance decimal.Decimal) *Ledger {
	return &Ledger{
		store:           st,
		quotes:          quotes,
		startingBalance: startingBalance.Round(model.MoneyScale),
		locks:           newKeyedMutex(),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(5, retry.NewExponential(5*time.Millisecond))
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// validateShares enforces shares > 0 with at most ShareScale decimals.
func validateShares(shares decimal.Decimal) error {
	if !shares.IsPositive() || !shares.Equal(shares.Round(model.ShareScale)) {
		return fmt.Errorf("%w: got %s", apperrors.ErrInvalidShares, shares)
	}
	return nil
}

// Trade dispatches to Buy or Sell.
func (l *Ledger) Trade(ctx context.Context, userID, stockID string, typ model.TransactionType, shares decimal.Decimal) (*TradeResult, error) {
	switch typ {
	case model.Buy:
		return l.Buy(ctx, userID, stockID, shares)
	case model.Sell:
		return l.Sell(ctx, userID, stockID, shares)
	default:
		return nil, apperrors.ErrInvalidTradeType
	}
}

// Buy purchases shares at the current cached price, debiting the user's
// balance and folding the purchase into the weighted average cost.
func (l *Ledger) Buy(ctx context.Context, userID, stockID string, shares decimal.Decimal) (*TradeResult, error) {
	return l.execute(ctx, model.Buy, userID, stockID, shares, func(ctx context.Context, tx store.Tx, stock model.Stock, total decimal.Decimal) (*TradeResult, error) {
		prev, err := tx.Position(ctx, userID, stockID)
		if err != nil && !errors.Is(err, apperrors.ErrNoHoldings) {
			return nil, err
		}

		cash, err := l.balances.debit(ctx, tx, userID, total)
		if err != nil {
			return nil, err
		}

		now := l.now()
		var next model.Position
		if prev == nil {
			next = model.Position{
				ID:              uuid.New().String(),
				UserID:          userID,
				StockID:         stockID,
				Shares:          shares,
				AverageBuyPrice: stock.CurrentPrice,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
		} else {
			next = *prev
			newShares := prev.Shares.Add(shares)
			cost := prev.Shares.Mul(prev.AverageBuyPrice).Add(total)
			next.AverageBuyPrice = cost.DivRound(newShares, model.MoneyScale)
			next.Shares = newShares
			next.UpdatedAt = now
		}
		if err := tx.PutPosition(ctx, &next, prev); err != nil {
			return nil, err
		}

		txn, err := l.record(ctx, tx, model.Buy, userID, stock, shares, total, now)
		if err != nil {
			return nil, err
		}

		h := model.NewHolding(next, stock)
		return &TradeResult{
			Message:     fmt.Sprintf("Successfully bought %s shares of %s", shares, stock.Symbol),
			Transaction: txn,
			Position:    &h,
			Balance:     cash,
		}, nil
	})
}

// Sell disposes of shares at the current cached price. The average buy
// price of the remaining shares is unchanged; a position reaching zero is
// deleted.
func (l *Ledger) Sell(ctx context.Context, userID, stockID string, shares decimal.Decimal) (*TradeResult, error) {
	return l.execute(ctx, model.Sell, userID, stockID, shares, func(ctx context.Context, tx store.Tx, stock model.Stock, total decimal.Decimal) (*TradeResult, error) {
		prev, err := tx.Position(ctx, userID, stockID)
		if errors.Is(err, apperrors.ErrNoHoldings) {
			// A user without an account has no holdings either; report the
			// missing account.
			if _, berr := tx.Balance(ctx, userID); berr != nil {
				return nil, berr
			}
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		if prev.Shares.LessThan(shares) {
			return nil, &apperrors.InsufficientSharesError{Held: prev.Shares, Requested: shares}
		}

		now := l.now()
		remaining := prev.Shares.Sub(shares)
		var holding *model.Holding
		if remaining.IsZero() {
			if err := tx.DeletePosition(ctx, prev); err != nil {
				return nil, err
			}
		} else {
			next := *prev
			next.Shares = remaining
			next.UpdatedAt = now
			if err := tx.PutPosition(ctx, &next, prev); err != nil {
				return nil, err
			}
			h := model.NewHolding(next, stock)
			holding = &h
		}

		cash, err := l.balances.credit(ctx, tx, userID, total)
		if err != nil {
			return nil, err
		}

		txn, err := l.record(ctx, tx, model.Sell, userID, stock, shares, total, now)
		if err != nil {
			return nil, err
		}

		return &TradeResult{
			Message:     fmt.Sprintf("Successfully sold %s shares of %s", shares, stock.Symbol),
			Transaction: txn,
			Position:    holding,
			Balance:     cash,
		}, nil
	})
}

type tradeFunc func(ctx context.Context, tx store.Tx, stock model.Stock, total decimal.Decimal) (*TradeResult, error)

// execute runs the shared part of a trade: validation, the pair lock, the
// price snapshot and the retried unit of work.
func (l *Ledger) execute(ctx context.Context, typ model.TransactionType, userID, stockID string, shares decimal.Decimal, fn tradeFunc) (*TradeResult, error) {
	start := time.Now()
	result, err := l.executeLocked(ctx, userID, stockID, shares, fn)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(apperrors.Code(err)).Inc()
		slog.Info("trade rejected",
			"user", userID,
			"stock", stockID,
			"type", typ,
			"shares", shares.String(),
			"reason", err.Error(),
		)
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(typ)).Inc()
	metrics.TradeLatency.WithLabelValues(string(typ)).Observe(time.Since(start).Seconds())
	slog.Info("trade executed",
		"transaction_id", result.Transaction.ID,
		"user", userID,
		"symbol", result.Transaction.Symbol,
		"type", typ,
		"shares", shares.String(),
		"price", result.Transaction.PricePerShare.String(),
		"total", result.Transaction.TotalAmount.String(),
		"balance", result.Balance.String(),
	)
	return result, nil
}

func (l *Ledger) executeLocked(ctx context.Context, userID, stockID string, shares decimal.Decimal, fn tradeFunc) (*TradeResult, error) {
	if userID == "" || stockID == "" {
		return nil, fmt.Errorf("%w: user_id and stock_id", apperrors.ErrMissingRequiredField)
	}
	if err := validateShares(shares); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(pairKey(userID, stockID))
	defer unlock()

	var result *TradeResult
	err := retry.Do(ctx, l.backoff(), func(ctx context.Context) error {
		// One snapshot per attempt; every derived value below uses it.
		stock, err := l.quotes.GetQuoteByID(stockID)
		if err != nil {
			return err
		}
		if !stock.CurrentPrice.IsPositive() {
			return apperrors.ErrPriceUnavailable
		}
		total := shares.Mul(stock.CurrentPrice).Round(model.MoneyScale)

		err = l.store.Atomic(ctx, func(tx store.Tx) error {
			r, err := fn(ctx, tx, stock, total)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if errors.Is(err, apperrors.ErrConflict) {
			metrics.TradeConflicts.Inc()
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *Ledger) record(ctx context.Context, tx store.Tx, typ model.TransactionType, userID string, stock model.Stock, shares, total decimal.Decimal, at time.Time) (model.Transaction, error) {
	txn := model.Transaction{
		ID:            uuid.New().String(),
		UserID:        userID,
		StockID:       stock.ID,
		Symbol:        stock.Symbol,
		Type:          typ,
		Shares:        shares,
		PricePerShare: stock.CurrentPrice,
		TotalAmount:   total,
		ExecutedAt:    at,
	}
	if err := tx.InsertTransaction(ctx, &txn); err != nil {
		return model.Transaction{}, err
	}
	return txn, nil
}
