package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ankgale/TFG/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh or invalidate cache) ---

func (s *CachedStore) UpsertListing(ctx context.Context, l model.Listing) (*model.Stock, error) {
	st, err := s.primary.UpsertListing(ctx, l)
	if err != nil {
		return nil, err
	}
	s.cacheStock(ctx, st)
	return st, nil
}

func (s *CachedStore) UpdateQuote(ctx context.Context, symbol string, q model.Quote, at time.Time) error {
	if err := s.primary.UpdateQuote(ctx, symbol, q, at); err != nil {
		return err
	}
	// Invalidate via the symbol mapping; next read will re-populate.
	if id, err := s.rdb.Get(ctx, symbolKey(symbol)).Result(); err == nil {
		s.rdb.Del(ctx, stockKey(id))
	}
	return nil
}

func (s *CachedStore) CreateBalance(ctx context.Context, b *model.Balance) error {
	if err := s.primary.CreateBalance(ctx, b); err != nil {
		return err
	}
	s.rdb.Del(ctx, balanceKey(b.UserID))
	return nil
}

// Atomic delegates to the primary and, once committed, invalidates the
// cached balance and positions of every user the unit of work touched.
func (s *CachedStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	touched := make(map[string]struct{})
	err := s.primary.Atomic(ctx, func(tx Tx) error {
		return fn(&recordingTx{Tx: tx, touched: touched})
	})
	if err != nil {
		return err
	}
	for userID := range touched {
		s.rdb.Del(ctx, balanceKey(userID), positionsKey(userID))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetStock(ctx context.Context, id string) (*model.Stock, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, stockKey(id)).Bytes()
	if err == nil {
		var st model.Stock
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	// Cache miss: read from primary.
	st, err := s.primary.GetStock(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheStock(ctx, st)
	return st, nil
}

func (s *CachedStore) GetStockBySymbol(ctx context.Context, symbol string) (*model.Stock, error) {
	// Try cache via symbol→stockID mapping.
	id, err := s.rdb.Get(ctx, symbolKey(symbol)).Result()
	if err == nil {
		return s.GetStock(ctx, id)
	}

	st, err := s.primary.GetStockBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.cacheStock(ctx, st)
	return st, nil
}

func (s *CachedStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	data, err := s.rdb.Get(ctx, balanceKey(userID)).Bytes()
	if err == nil {
		var b model.Balance
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	b, err := s.primary.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(b); err == nil {
		s.rdb.Set(ctx, balanceKey(userID), data, s.ttl)
	}
	return b, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	return s.primary.ListStocks(ctx)
}

func (s *CachedStore) InsertPriceHistory(ctx context.Context, points []model.PriceHistoryPoint) (int, error) {
	return s.primary.InsertPriceHistory(ctx, points)
}

func (s *CachedStore) ListPriceHistory(ctx context.Context, symbol string, since time.Time) ([]model.PriceHistoryPoint, error) {
	return s.primary.ListPriceHistory(ctx, symbol, since)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID, limit)
}

func (s *CachedStore) AddWatch(ctx context.Context, e *model.WatchlistEntry) error {
	return s.primary.AddWatch(ctx, e)
}

func (s *CachedStore) RemoveWatch(ctx context.Context, userID, stockID string) error {
	return s.primary.RemoveWatch(ctx, userID, stockID)
}

func (s *CachedStore) ListWatchlist(ctx context.Context, userID string) ([]model.WatchlistEntry, error) {
	return s.primary.ListWatchlist(ctx, userID)
}

// recordingTx notes which users a unit of work wrote to.
type recordingTx struct {
	Tx
	touched map[string]struct{}
}

func (t *recordingTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	t.touched[userID] = struct{}{}
	return t.Tx.AdjustBalance(ctx, userID, delta)
}

func (t *recordingTx) PutPosition(ctx context.Context, p, prev *model.Position) error {
	t.touched[p.UserID] = struct{}{}
	return t.Tx.PutPosition(ctx, p, prev)
}

func (t *recordingTx) DeletePosition(ctx context.Context, prev *model.Position) error {
	t.touched[prev.UserID] = struct{}{}
	return t.Tx.DeletePosition(ctx, prev)
}

// --- Cache helpers ---

func (s *CachedStore) cacheStock(ctx context.Context, st *model.Stock) {
	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, stockKey(st.ID), data, s.ttl)
		s.rdb.Set(ctx, symbolKey(st.Symbol), st.ID, s.ttl)
	}
}

func stockKey(id string) string      { return fmt.Sprintf("stock:%s", id) }
func symbolKey(sym string) string    { return fmt.Sprintf("symbol:%s", sym) }
func balanceKey(uid string) string   { return fmt.Sprintf("balance:%s", uid) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
