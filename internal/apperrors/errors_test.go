package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestInsufficientSharesError(t *testing.T) {
	err := fmt.Errorf("sell AAPL: %w", &InsufficientSharesError{
		Held:      decimal.RequireFromString("5"),
		Requested: decimal.RequireFromString("10"),
	})

	if !errors.Is(err, ErrInsufficientShares) {
		t.Error("expected wrapped error to match ErrInsufficientShares")
	}
	if !strings.Contains(err.Error(), "you have 5") {
		t.Errorf("message should report held shares, got %q", err.Error())
	}

	var typed *InsufficientSharesError
	if !errors.As(err, &typed) || !typed.Held.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected typed error with Held=5, got %v", typed)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", ErrUserNotFound), "user_not_found"},
		{ErrStockNotFound, "stock_not_found"},
		{&InsufficientSharesError{}, "insufficient_shares"},
		{ErrInsufficientBalance, "insufficient_balance"},
		{ErrInvalidPeriod, "invalid_period"},
		{ErrSourceUnavailable, "source_unavailable"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
