package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ankgale/TFG/internal/store"
)

// balances is the only code path that mutates cash. It works on a unit of
// work handed out by a ledger operation and is never exposed outside it.
type balances struct{}

// debit withdraws amount, failing with ErrInsufficientBalance or
// ErrUserNotFound. Returns the remaining cash.
func (balances) debit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return tx.AdjustBalance(ctx, userID, amount.Neg())
}

// credit deposits amount and returns the new cash.
func (balances) credit(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return tx.AdjustBalance(ctx, userID, amount)
}
