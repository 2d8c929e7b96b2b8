package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPriceChange_ZeroPreviousClose(t *testing.T) {
	s := Stock{CurrentPrice: d("150.00")}

	if !s.PriceChange().IsZero() {
		t.Errorf("expected zero price change, got %s", s.PriceChange())
	}
	if !s.PriceChangePercent().IsZero() {
		t.Errorf("expected zero percent, got %s", s.PriceChangePercent())
	}
}

func TestPriceChangePercent(t *testing.T) {
	s := Stock{CurrentPrice: d("110.00"), PreviousClose: d("100.00")}

	if !s.PriceChange().Equal(d("10")) {
		t.Errorf("expected change 10, got %s", s.PriceChange())
	}
	if !s.PriceChangePercent().Equal(d("10")) {
		t.Errorf("expected 10%%, got %s", s.PriceChangePercent())
	}

	s = Stock{CurrentPrice: d("99.00"), PreviousClose: d("100.00")}
	if !s.PriceChangePercent().Equal(d("-1")) {
		t.Errorf("expected -1%%, got %s", s.PriceChangePercent())
	}
}

func TestApplyQuote_RoundsPrices(t *testing.T) {
	var s Stock
	at := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	s.ApplyQuote(Quote{
		CurrentPrice:  d("187.456"),
		PreviousClose: d("185.1"),
		Volume:        1200,
	}, at)

	if !s.CurrentPrice.Equal(d("187.46")) {
		t.Errorf("expected 187.46, got %s", s.CurrentPrice)
	}
	if !s.DayHigh.IsZero() || s.MarketCap != 0 {
		t.Error("missing quote fields should stay zero")
	}
	if !s.LastUpdated.Equal(at) {
		t.Errorf("expected last_updated %v, got %v", at, s.LastUpdated)
	}
}

func TestStockJSON_IncludesDerivedFields(t *testing.T) {
	s := Stock{Symbol: "AAPL", CurrentPrice: d("105"), PreviousClose: d("100")}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["symbol"] != "AAPL" {
		t.Errorf("expected symbol AAPL, got %v", out["symbol"])
	}
	if out["price_change"] != "5" {
		t.Errorf("expected price_change 5, got %v", out["price_change"])
	}
	if out["price_change_percent"] != "5" {
		t.Errorf("expected price_change_percent 5, got %v", out["price_change_percent"])
	}

	var back Stock
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal into Stock: %v", err)
	}
	if !back.CurrentPrice.Equal(s.CurrentPrice) {
		t.Errorf("round trip lost current price: %s", back.CurrentPrice)
	}
}

func TestNewHolding(t *testing.T) {
	p := Position{Shares: d("20"), AverageBuyPrice: d("150.00")}
	h := NewHolding(p, Stock{Symbol: "MSFT", CurrentPrice: d("180.00")})

	if !h.TotalCost.Equal(d("3000")) {
		t.Errorf("expected total cost 3000, got %s", h.TotalCost)
	}
	if !h.CurrentValue.Equal(d("3600")) {
		t.Errorf("expected current value 3600, got %s", h.CurrentValue)
	}
	if !h.ProfitLoss.Equal(d("600")) {
		t.Errorf("expected profit 600, got %s", h.ProfitLoss)
	}
	if !h.ProfitLossPercent.Equal(d("20")) {
		t.Errorf("expected 20%%, got %s", h.ProfitLossPercent)
	}
}

func TestSummarize(t *testing.T) {
	holdings := []Holding{
		NewHolding(Position{Shares: d("10"), AverageBuyPrice: d("100")}, Stock{CurrentPrice: d("110")}),
		NewHolding(Position{Shares: d("5"), AverageBuyPrice: d("200")}, Stock{CurrentPrice: d("180")}),
	}

	s := Summarize("u1", holdings, d("5000"))

	if s.HoldingsCount != 2 {
		t.Errorf("expected 2 holdings, got %d", s.HoldingsCount)
	}
	if !s.TotalValue.Equal(d("2000")) {
		t.Errorf("expected total value 2000, got %s", s.TotalValue)
	}
	if !s.TotalCost.Equal(d("2000")) {
		t.Errorf("expected total cost 2000, got %s", s.TotalCost)
	}
	if !s.TotalProfitLoss.IsZero() {
		t.Errorf("expected zero P&L, got %s", s.TotalProfitLoss)
	}
	if !s.CashBalance.Equal(d("5000")) {
		t.Errorf("expected cash 5000, got %s", s.CashBalance)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize("u1", nil, d("100000"))
	if s.HoldingsCount != 0 || !s.ProfitLossPercent.IsZero() {
		t.Errorf("unexpected empty summary: %+v", s)
	}
}
