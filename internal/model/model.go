// Package model defines the core domain types shared across the trading engine.
// All monetary values and share counts use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// ShareScale is the number of decimal places kept for share quantities.
	ShareScale int32 = 4

	// MoneyScale is the number of decimal places kept for prices and cash.
	MoneyScale int32 = 2
)

var hundred = decimal.NewFromInt(100)

// TransactionType is the side of a trade.
type TransactionType string

const (
	Buy  TransactionType = "buy"
	Sell TransactionType = "sell"
)

// Valid reports whether t is buy or sell.
func (t TransactionType) Valid() bool {
	return t == Buy || t == Sell
}

// Listing is the static description of a tracked symbol.
type Listing struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
}

// Quote is a price snapshot as delivered by the external price source.
// Missing fields are zero.
type Quote struct {
	CurrentPrice  decimal.Decimal `json:"current_price"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
	Volume        int64           `json:"volume"`
	MarketCap     int64           `json:"market_cap"`
}

// Stock is a tracked symbol together with its latest known quote.
type Stock struct {
	ID            string          `json:"id" db:"id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Name          string          `json:"name" db:"name"`
	Sector        string          `json:"sector" db:"sector"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	PreviousClose decimal.Decimal `json:"previous_close" db:"previous_close"`
	DayHigh       decimal.Decimal `json:"day_high" db:"day_high"`
	DayLow        decimal.Decimal `json:"day_low" db:"day_low"`
	Volume        int64           `json:"volume" db:"volume"`
	MarketCap     int64           `json:"market_cap" db:"market_cap"`
	LastUpdated   time.Time       `json:"last_updated" db:"last_updated"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// ApplyQuote overwrites the quote fields, rounding prices to MoneyScale.
func (s *Stock) ApplyQuote(q Quote, at time.Time) {
	s.CurrentPrice = q.CurrentPrice.Round(MoneyScale)
	s.PreviousClose = q.PreviousClose.Round(MoneyScale)
	s.DayHigh = q.DayHigh.Round(MoneyScale)
	s.DayLow = q.DayLow.Round(MoneyScale)
	s.Volume = q.Volume
	s.MarketCap = q.MarketCap
	s.LastUpdated = at
}

// PriceChange is current price minus previous close, or zero when there is
// no previous close.
func (s Stock) PriceChange() decimal.Decimal {
	if s.PreviousClose.IsZero() {
		return decimal.Zero
	}
	return s.CurrentPrice.Sub(s.PreviousClose)
}

// PriceChangePercent is PriceChange relative to the previous close, in percent.
func (s Stock) PriceChangePercent() decimal.Decimal {
	if s.PreviousClose.IsZero() {
		return decimal.Zero
	}
	return s.PriceChange().Div(s.PreviousClose).Mul(hundred).Round(MoneyScale)
}

// MarshalJSON adds the derived price change fields.
func (s Stock) MarshalJSON() ([]byte, error) {
	type plain Stock
	return json.Marshal(struct {
		plain
		PriceChange        decimal.Decimal `json:"price_change"`
		PriceChangePercent decimal.Decimal `json:"price_change_percent"`
	}{
		plain:              plain(s),
		PriceChange:        s.PriceChange(),
		PriceChangePercent: s.PriceChangePercent(),
	})
}

// PriceHistoryPoint is one OHLCV bar. Points are append-only.
type PriceHistoryPoint struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Open      decimal.Decimal `json:"open" db:"open"`
	High      decimal.Decimal `json:"high" db:"high"`
	Low       decimal.Decimal `json:"low" db:"low"`
	Close     decimal.Decimal `json:"close" db:"close"`
	Volume    int64           `json:"volume" db:"volume"`
}

// Position is a user's current holding of one stock.
// Positions with zero shares are deleted, never stored.
type Position struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	StockID         string          `json:"stock_id" db:"stock_id"`
	Shares          decimal.Decimal `json:"shares" db:"shares"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price" db:"average_buy_price"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// TotalCost is shares × average buy price.
func (p Position) TotalCost() decimal.Decimal {
	return p.Shares.Mul(p.AverageBuyPrice).Round(MoneyScale)
}

// CurrentValue is shares × the given market price.
func (p Position) CurrentValue(price decimal.Decimal) decimal.Decimal {
	return p.Shares.Mul(price).Round(MoneyScale)
}

// ProfitLoss is the current value minus total cost.
func (p Position) ProfitLoss(price decimal.Decimal) decimal.Decimal {
	return p.CurrentValue(price).Sub(p.TotalCost())
}

// Holding is a Position valued against a stock's latest quote.
type Holding struct {
	Position
	Symbol            string          `json:"symbol"`
	Name              string          `json:"name"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
}

// NewHolding values p with stock's current price.
func NewHolding(p Position, stock Stock) Holding {
	h := Holding{
		Position:     p,
		Symbol:       stock.Symbol,
		Name:         stock.Name,
		CurrentPrice: stock.CurrentPrice,
		CurrentValue: p.CurrentValue(stock.CurrentPrice),
		TotalCost:    p.TotalCost(),
	}
	h.ProfitLoss = h.CurrentValue.Sub(h.TotalCost)
	h.ProfitLossPercent = percentOf(h.ProfitLoss, h.TotalCost)
	return h
}

// Transaction is an immutable record of an executed trade.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	StockID       string          `json:"stock_id" db:"stock_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Type          TransactionType `json:"transaction_type" db:"transaction_type"`
	Shares        decimal.Decimal `json:"shares" db:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	ExecutedAt    time.Time       `json:"executed_at" db:"executed_at"`
}

// Balance is a user's virtual cash.
type Balance struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// WatchlistEntry marks a stock a user follows without holding it.
type WatchlistEntry struct {
	UserID  string    `json:"user_id" db:"user_id"`
	StockID string    `json:"stock_id" db:"stock_id"`
	AddedAt time.Time `json:"added_at" db:"added_at"`
}

// PortfolioSummary aggregates all holdings of a user.
type PortfolioSummary struct {
	UserID            string          `json:"user_id"`
	TotalValue        decimal.Decimal `json:"total_value"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	TotalProfitLoss   decimal.Decimal `json:"total_profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
	HoldingsCount     int             `json:"holdings_count"`
	CashBalance       decimal.Decimal `json:"cash_balance"`
}

// Summarize totals holdings into a PortfolioSummary.
func Summarize(userID string, holdings []Holding, cash decimal.Decimal) PortfolioSummary {
	s := PortfolioSummary{
		UserID:        userID,
		HoldingsCount: len(holdings),
		CashBalance:   cash,
	}
	for _, h := range holdings {
		s.TotalValue = s.TotalValue.Add(h.CurrentValue)
		s.TotalCost = s.TotalCost.Add(h.TotalCost)
	}
	s.TotalProfitLoss = s.TotalValue.Sub(s.TotalCost)
	s.ProfitLossPercent = percentOf(s.TotalProfitLoss, s.TotalCost)
	return s
}

func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(MoneyScale)
}
