// Package pricecache holds the latest quote of every tracked stock.
//
// Reads are served from an in-memory snapshot and never touch the network.
// Refreshes pull from a marketdata.Source, write through to the store and
// swap the snapshot entry under a short lock, so a refresh never blocks a
// trade and a trade always sees one whole quote.
package pricecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/marketdata"
	"github.com/ankgale/TFG/internal/metrics"
	"github.com/ankgale/TFG/internal/model"
	"github.com/ankgale/TFG/internal/store"
)

// refreshConcurrency bounds parallel source calls in RefreshAll.
const refreshConcurrency = 4

// Cache is the PriceCache. Safe for concurrent use.
type Cache struct {
	store    store.Store
	source   marketdata.Source
	listings []model.Listing

	mu       sync.RWMutex
	bySymbol map[string]model.Stock
	idToSym  map[string]string

	now func() time.Time
}

// New creates a cache for the given tracked listings. Call Seed before use.
func New(st store.Store, src marketdata.Source, listings []model.Listing) *Cache {
	return &Cache{
		store:    st,
		source:   src,
		listings: listings,
		bySymbol: make(map[string]model.Stock),
		idToSym:  make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Seed upserts every tracked listing and loads all stored stocks into the
// snapshot. Existing rows keep their quote fields; nothing is removed.
func (c *Cache) Seed(ctx context.Context) error {
	for _, l := range c.listings {
		if _, err := c.store.UpsertListing(ctx, l); err != nil {
			return fmt.Errorf("seed %s: %w", l.Symbol, err)
		}
	}

	stocks, err := c.store.ListStocks(ctx)
	if err != nil {
		return fmt.Errorf("load stocks: %w", err)
	}

	c.mu.Lock()
	for _, st := range stocks {
		c.bySymbol[st.Symbol] = st
		c.idToSym[st.ID] = st.Symbol
	}
	n := len(c.bySymbol)
	c.mu.Unlock()

	metrics.TrackedStocks.Set(float64(n))
	slog.Info("price cache seeded", "tracked", len(c.listings), "stocks", n)
	return nil
}

// GetQuote returns a copy of the latest snapshot for symbol.
func (c *Cache) GetQuote(symbol string) (model.Stock, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.bySymbol[symbol]
	if !ok {
		return model.Stock{}, fmt.Errorf("stock %s: %w", symbol, apperrors.ErrStockNotFound)
	}
	return st, nil
}

// GetQuoteByID is GetQuote keyed by stock id.
func (c *Cache) GetQuoteByID(id string) (model.Stock, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sym, ok := c.idToSym[id]
	if !ok {
		return model.Stock{}, fmt.Errorf("stock %s: %w", id, apperrors.ErrStockNotFound)
	}
	return c.bySymbol[sym], nil
}

// List returns every cached stock ordered by symbol.
func (c *Cache) List() []model.Stock {
	c.mu.RLock()
	stocks := make([]model.Stock, 0, len(c.bySymbol))
	for _, st := range c.bySymbol {
		stocks = append(stocks, st)
	}
	c.mu.RUnlock()

	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Symbol < stocks[j].Symbol })
	return stocks
}

// RefreshAll fetches a fresh quote for every tracked symbol and returns how
// many were updated. A failing symbol is logged and skipped.
func (c *Cache) RefreshAll(ctx context.Context) int {
	start := time.Now()
	var updated atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, l := range c.listings {
		symbol := l.Symbol
		g.Go(func() error {
			if err := c.refreshOne(gctx, symbol); err != nil {
				metrics.PriceRefreshes.WithLabelValues("failed").Inc()
				slog.Warn("price refresh failed", "symbol", symbol, "err", err)
				return nil
			}
			metrics.PriceRefreshes.WithLabelValues("ok").Inc()
			updated.Add(1)
			return nil
		})
	}
	g.Wait()

	metrics.PriceRefreshDuration.Observe(time.Since(start).Seconds())
	n := int(updated.Load())
	slog.Info("prices refreshed", "updated", n, "tracked", len(c.listings), "duration", time.Since(start))
	return n
}

// Refresh fetches one symbol's quote now and returns the updated snapshot.
// Unlike RefreshAll it reports a source failure to the caller.
func (c *Cache) Refresh(ctx context.Context, symbol string) (model.Stock, error) {
	if _, err := c.GetQuote(symbol); err != nil {
		return model.Stock{}, err
	}
	if err := c.refreshOne(ctx, symbol); err != nil {
		metrics.PriceRefreshes.WithLabelValues("failed").Inc()
		return model.Stock{}, err
	}
	metrics.PriceRefreshes.WithLabelValues("ok").Inc()
	return c.GetQuote(symbol)
}

func (c *Cache) refreshOne(ctx context.Context, symbol string) error {
	q, err := c.source.Quote(ctx, symbol)
	if err != nil {
		return err
	}

	at := c.now()
	if err := c.store.UpdateQuote(ctx, symbol, q, at); err != nil {
		return err
	}

	c.mu.Lock()
	st, ok := c.bySymbol[symbol]
	if ok {
		st.ApplyQuote(q, at)
		c.bySymbol[symbol] = st
	}
	c.mu.Unlock()
	if ok {
		return nil
	}

	// Not seeded yet: take the stored row as the snapshot.
	fresh, err := c.store.GetStockBySymbol(ctx, symbol)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.bySymbol[symbol] = *fresh
	c.idToSym[fresh.ID] = symbol
	c.mu.Unlock()
	return nil
}

// RefreshHistory fetches OHLCV bars for symbol and appends them to the
// stored history. A source failure yields an empty slice and no error;
// callers treat empty as unavailable.
func (c *Cache) RefreshHistory(ctx context.Context, symbol, period string) ([]model.PriceHistoryPoint, error) {
	if !marketdata.ValidPeriod(period) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidPeriod, period)
	}
	if _, err := c.GetQuote(symbol); err != nil {
		return nil, err
	}

	points, err := c.source.History(ctx, symbol, period)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidPeriod) {
			return nil, err
		}
		slog.Warn("history fetch failed", "symbol", symbol, "period", period, "err", err)
		return []model.PriceHistoryPoint{}, nil
	}

	if n, err := c.store.InsertPriceHistory(ctx, points); err != nil {
		slog.Error("failed to persist history", "symbol", symbol, "err", err)
	} else if n > 0 {
		slog.Debug("history persisted", "symbol", symbol, "new_points", n)
	}
	if points == nil {
		points = []model.PriceHistoryPoint{}
	}
	return points, nil
}

// History returns stored points for symbol at or after since.
func (c *Cache) History(ctx context.Context, symbol string, since time.Time) ([]model.PriceHistoryPoint, error) {
	if _, err := c.GetQuote(symbol); err != nil {
		return nil, err
	}
	return c.store.ListPriceHistory(ctx, symbol, since)
}
