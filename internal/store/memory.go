package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/model"
)

type pairKey struct {
	userID  string
	stockID string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// The mutex only guards the maps; it is never held while a ledger
// operation runs. Units of work stage their writes and validate them at
// commit.
type MemoryStore struct {
	mu        sync.RWMutex
	stocks    map[string]*model.Stock
	symbols   map[string]string
	history   map[string]map[int64]model.PriceHistoryPoint
	balances  map[string]*model.Balance
	positions map[pairKey]*model.Position
	ledger    []model.Transaction
	watch     map[pairKey]model.WatchlistEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks:    make(map[string]*model.Stock),
		symbols:   make(map[string]string),
		history:   make(map[string]map[int64]model.PriceHistoryPoint),
		balances:  make(map[string]*model.Balance),
		positions: make(map[pairKey]*model.Position),
		watch:     make(map[pairKey]model.WatchlistEntry),
	}
}

func (s *MemoryStore) UpsertListing(_ context.Context, l model.Listing) (*model.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.symbols[l.Symbol]; ok {
		st := s.stocks[id]
		st.Name = l.Name
		st.Sector = l.Sector
		out := *st
		return &out, nil
	}

	st := &model.Stock{
		ID:        newID(),
		Symbol:    l.Symbol,
		Name:      l.Name,
		Sector:    l.Sector,
		CreatedAt: time.Now().UTC(),
	}
	s.stocks[st.ID] = st
	s.symbols[st.Symbol] = st.ID
	out := *st
	return &out, nil
}

func (s *MemoryStore) UpdateQuote(_ context.Context, symbol string, q model.Quote, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.symbols[symbol]
	if !ok {
		return fmt.Errorf("stock %s: %w", symbol, apperrors.ErrStockNotFound)
	}
	s.stocks[id].ApplyQuote(q, at)
	return nil
}

func (s *MemoryStore) GetStock(_ context.Context, id string) (*model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[id]
	if !ok {
		return nil, fmt.Errorf("stock %s: %w", id, apperrors.ErrStockNotFound)
	}
	out := *st
	return &out, nil
}

func (s *MemoryStore) GetStockBySymbol(_ context.Context, symbol string) (*model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("stock %s: %w", symbol, apperrors.ErrStockNotFound)
	}
	out := *s.stocks[id]
	return &out, nil
}

func (s *MemoryStore) ListStocks(_ context.Context) ([]model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stocks := make([]model.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		stocks = append(stocks, *st)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Symbol < stocks[j].Symbol })
	return stocks, nil
}

func (s *MemoryStore) InsertPriceHistory(_ context.Context, points []model.PriceHistoryPoint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, p := range points {
		bySymbol, ok := s.history[p.Symbol]
		if !ok {
			bySymbol = make(map[int64]model.PriceHistoryPoint)
			s.history[p.Symbol] = bySymbol
		}
		key := p.Timestamp.UnixNano()
		if _, exists := bySymbol[key]; exists {
			continue
		}
		bySymbol[key] = p
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) ListPriceHistory(_ context.Context, symbol string, since time.Time) ([]model.PriceHistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var points []model.PriceHistoryPoint
	for _, p := range s.history[symbol] {
		if !p.Timestamp.Before(since) {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

func (s *MemoryStore) CreateBalance(_ context.Context, b *model.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[b.UserID]; ok {
		return fmt.Errorf("user %s: %w", b.UserID, apperrors.ErrAccountExists)
	}
	out := *b
	s.balances[b.UserID] = &out
	return nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (*model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.ErrUserNotFound)
	}
	out := *b
	return &out, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for k, p := range s.positions {
		if k.userID == userID {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].CreatedAt.Before(positions[j].CreatedAt) })
	return positions, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	// Newest first: walk the append-only log backwards.
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserID != userID {
			continue
		}
		result = append(result, s.ledger[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) AddWatch(_ context.Context, e *model.WatchlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey{e.UserID, e.StockID}
	if _, ok := s.watch[k]; ok {
		return apperrors.ErrAlreadyWatching
	}
	s.watch[k] = *e
	return nil
}

func (s *MemoryStore) RemoveWatch(_ context.Context, userID, stockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey{userID, stockID}
	if _, ok := s.watch[k]; !ok {
		return apperrors.ErrNotWatching
	}
	delete(s.watch, k)
	return nil
}

func (s *MemoryStore) ListWatchlist(_ context.Context, userID string) ([]model.WatchlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.WatchlistEntry
	for k, e := range s.watch {
		if k.userID == userID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AddedAt.Before(entries[j].AddedAt) })
	return entries, nil
}

// Atomic stages every write made through the Tx and applies them in one
// critical section once fn succeeds.
func (s *MemoryStore) Atomic(_ context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		s:        s,
		deltas:   make(map[string]decimal.Decimal),
		seen:     make(map[string]decimal.Decimal),
		observed: make(map[pairKey]observation),
		writes:   make(map[pairKey]*model.Position),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// observation is the position row as a unit of work first saw it.
type observation struct {
	exists bool
	id     string
	shares decimal.Decimal
}

func observe(p *model.Position) observation {
	if p == nil {
		return observation{}
	}
	return observation{exists: true, id: p.ID, shares: p.Shares}
}

type memTx struct {
	s        *MemoryStore
	deltas   map[string]decimal.Decimal
	seen     map[string]decimal.Decimal // first balance read per user
	observed map[pairKey]observation
	writes   map[pairKey]*model.Position // nil value = delete
	txns     []model.Transaction
}

func (tx *memTx) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	tx.s.mu.RLock()
	b, ok := tx.s.balances[userID]
	var amount decimal.Decimal
	if ok {
		amount = b.Amount
	}
	tx.s.mu.RUnlock()

	if !ok {
		return decimal.Zero, fmt.Errorf("user %s: %w", userID, apperrors.ErrUserNotFound)
	}
	if first, ok := tx.seen[userID]; ok {
		amount = first
	} else {
		tx.seen[userID] = amount
	}
	return amount.Add(tx.deltas[userID]), nil
}

func (tx *memTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	current, err := tx.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	next := current.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, apperrors.ErrInsufficientBalance
	}
	tx.deltas[userID] = tx.deltas[userID].Add(delta)
	return next, nil
}

func (tx *memTx) Position(_ context.Context, userID, stockID string) (*model.Position, error) {
	k := pairKey{userID, stockID}
	if staged, ok := tx.writes[k]; ok {
		if staged == nil {
			return nil, apperrors.ErrNoHoldings
		}
		out := *staged
		return &out, nil
	}

	tx.s.mu.RLock()
	p, ok := tx.s.positions[k]
	var out model.Position
	if ok {
		out = *p
	}
	tx.s.mu.RUnlock()

	if !ok {
		tx.remember(k, nil)
		return nil, apperrors.ErrNoHoldings
	}
	tx.remember(k, &out)
	return &out, nil
}

func (tx *memTx) PutPosition(_ context.Context, p, prev *model.Position) error {
	k := pairKey{p.UserID, p.StockID}
	tx.remember(k, prev)
	out := *p
	tx.writes[k] = &out
	return nil
}

func (tx *memTx) DeletePosition(_ context.Context, prev *model.Position) error {
	k := pairKey{prev.UserID, prev.StockID}
	tx.remember(k, prev)
	tx.writes[k] = nil
	return nil
}

func (tx *memTx) InsertTransaction(_ context.Context, t *model.Transaction) error {
	tx.txns = append(tx.txns, *t)
	return nil
}

// remember records the first observation of a row only.
func (tx *memTx) remember(k pairKey, p *model.Position) {
	if _, seen := tx.observed[k]; !seen {
		tx.observed[k] = observe(p)
	}
}

func (tx *memTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before applying anything.
	for k, obs := range tx.observed {
		if !sameObservation(observe(s.positions[k]), obs) {
			return fmt.Errorf("position %s/%s: %w", k.userID, k.stockID, apperrors.ErrConflict)
		}
	}
	// A balance that moved since it was read would make the amount
	// AdjustBalance returned differ from the one committed.
	for userID := range tx.deltas {
		b, ok := s.balances[userID]
		if !ok {
			return fmt.Errorf("user %s: %w", userID, apperrors.ErrUserNotFound)
		}
		if !b.Amount.Equal(tx.seen[userID]) {
			return fmt.Errorf("balance %s: %w", userID, apperrors.ErrConflict)
		}
	}

	now := time.Now().UTC()
	for userID, delta := range tx.deltas {
		b := s.balances[userID]
		b.Amount = b.Amount.Add(delta)
		b.UpdatedAt = now
	}
	for k, p := range tx.writes {
		if p == nil {
			delete(s.positions, k)
			continue
		}
		s.positions[k] = p
	}
	s.ledger = append(s.ledger, tx.txns...)
	return nil
}

func sameObservation(a, b observation) bool {
	if a.exists != b.exists {
		return false
	}
	if !a.exists {
		return true
	}
	return a.id == b.id && a.shares.Equal(b.shares)
}
