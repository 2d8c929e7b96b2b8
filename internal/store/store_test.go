package store_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/model"
	"github.com/ankgale/TFG/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.Migrate(context.Background(), db, goose.DialectSQLite3); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewSQLiteStore(db)
}

// newPostgresStore connects to TEST_DATABASE_URL, migrates and empties
// every table. The test is skipped when the variable is unset.
func newPostgresStore(t *testing.T) store.Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := store.Migrate(ctx, stdlib.OpenDBFromPool(pool), goose.DialectPostgres); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx,
		`TRUNCATE watchlists, transactions, positions, balances, stock_price_history, stocks`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return store.NewPostgresStore(pool)
}

// newCachedStore wraps a memory store with the Redis cache at
// TEST_REDIS_URL, flushing that database first. Skipped when unset.
func newCachedStore(t *testing.T) store.Store {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })
	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)
}

// backends runs fn against every Store implementation. PostgreSQL and the
// Redis cache only run when their TEST_* URLs are set.
func backends(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, store.NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, newPostgresStore(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newCachedStore(t)) })
}

func seedAccount(t *testing.T, st store.Store, userID, amount string) {
	t.Helper()
	now := time.Now().UTC()
	err := st.CreateBalance(context.Background(), &model.Balance{
		UserID: userID, Amount: d(amount), CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func seedStock(t *testing.T, st store.Store, symbol string) *model.Stock {
	t.Helper()
	s, err := st.UpsertListing(context.Background(), model.Listing{Symbol: symbol, Name: symbol + " Inc.", Sector: "Technology"})
	if err != nil {
		t.Fatalf("failed to seed stock: %v", err)
	}
	return s
}

func TestUpsertListing_KeepsQuote(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		first := seedStock(t, st, "AAPL")

		at := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
		if err := st.UpdateQuote(ctx, "AAPL", model.Quote{CurrentPrice: d("187.456"), PreviousClose: d("185")}, at); err != nil {
			t.Fatalf("update quote: %v", err)
		}

		again, err := st.UpsertListing(ctx, model.Listing{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Tech"})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if again.ID != first.ID {
			t.Errorf("upsert should keep id %s, got %s", first.ID, again.ID)
		}

		got, err := st.GetStockBySymbol(ctx, "AAPL")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Name != "Apple Inc." {
			t.Errorf("expected name to be updated, got %q", got.Name)
		}
		if !got.CurrentPrice.Equal(d("187.46")) {
			t.Errorf("expected rounded price 187.46, got %s", got.CurrentPrice)
		}
		if !got.LastUpdated.Equal(at) {
			t.Errorf("expected last_updated %s, got %s", at, got.LastUpdated)
		}
	})
}

func TestUpdateQuote_UnknownSymbol(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		err := st.UpdateQuote(context.Background(), "NOPE", model.Quote{}, time.Now())
		if !errors.Is(err, apperrors.ErrStockNotFound) {
			t.Errorf("expected ErrStockNotFound, got %v", err)
		}
	})
}

func TestListStocks_OrderedBySymbol(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seedStock(t, st, "MSFT")
		seedStock(t, st, "AAPL")
		seedStock(t, st, "GOOGL")

		stocks, err := st.ListStocks(context.Background())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(stocks) != 3 || stocks[0].Symbol != "AAPL" || stocks[2].Symbol != "MSFT" {
			t.Errorf("unexpected order: %+v", stocks)
		}
	})
}

func TestPriceHistory_AppendOnly(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		points := []model.PriceHistoryPoint{
			{Symbol: "AAPL", Timestamp: t0, Open: d("1"), High: d("2"), Low: d("0.5"), Close: d("1.5"), Volume: 10},
			{Symbol: "AAPL", Timestamp: t0.Add(24 * time.Hour), Open: d("1.5"), High: d("2"), Low: d("1"), Close: d("1.75"), Volume: 20},
		}

		n, err := st.InsertPriceHistory(ctx, points)
		if err != nil || n != 2 {
			t.Fatalf("expected 2 inserted, got %d (%v)", n, err)
		}
		n, err = st.InsertPriceHistory(ctx, points)
		if err != nil || n != 0 {
			t.Fatalf("expected duplicates to be skipped, got %d (%v)", n, err)
		}

		got, err := st.ListPriceHistory(ctx, "AAPL", t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 1 || !got[0].Close.Equal(d("1.75")) {
			t.Errorf("expected only the second point, got %+v", got)
		}
	})
}

func TestCreateBalance_Duplicate(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		seedAccount(t, st, "user1", "100.00")
		err := st.CreateBalance(context.Background(), &model.Balance{UserID: "user1", Amount: d("5")})
		if !errors.Is(err, apperrors.ErrAccountExists) {
			t.Errorf("expected ErrAccountExists, got %v", err)
		}

		_, err = st.GetBalance(context.Background(), "ghost")
		if !errors.Is(err, apperrors.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})
}

func TestAtomic_CommitsAllWrites(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		seedAccount(t, st, "user1", "1000.00")
		stock := seedStock(t, st, "AAPL")
		now := time.Now().UTC()

		err := st.Atomic(ctx, func(tx store.Tx) error {
			if _, err := tx.AdjustBalance(ctx, "user1", d("-150.00")); err != nil {
				return err
			}
			p := &model.Position{ID: "p1", UserID: "user1", StockID: stock.ID,
				Shares: d("1.5"), AverageBuyPrice: d("100.00"), CreatedAt: now, UpdatedAt: now}
			if err := tx.PutPosition(ctx, p, nil); err != nil {
				return err
			}
			return tx.InsertTransaction(ctx, &model.Transaction{ID: "t1", UserID: "user1", StockID: stock.ID,
				Symbol: "AAPL", Type: model.Buy, Shares: d("1.5"), PricePerShare: d("100.00"),
				TotalAmount: d("150.00"), ExecutedAt: now})
		})
		if err != nil {
			t.Fatalf("atomic: %v", err)
		}

		b, _ := st.GetBalance(ctx, "user1")
		if !b.Amount.Equal(d("850")) {
			t.Errorf("expected balance 850, got %s", b.Amount)
		}
		positions, _ := st.ListPositions(ctx, "user1")
		if len(positions) != 1 || !positions[0].Shares.Equal(d("1.5")) {
			t.Errorf("unexpected positions: %+v", positions)
		}
		txns, _ := st.ListTransactions(ctx, "user1", 0)
		if len(txns) != 1 || txns[0].Type != model.Buy {
			t.Errorf("unexpected transactions: %+v", txns)
		}
	})
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		seedAccount(t, st, "user1", "1000.00")
		boom := errors.New("boom")

		err := st.Atomic(ctx, func(tx store.Tx) error {
			if _, err := tx.AdjustBalance(ctx, "user1", d("-500")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		b, _ := st.GetBalance(ctx, "user1")
		if !b.Amount.Equal(d("1000")) {
			t.Errorf("balance should be untouched, got %s", b.Amount)
		}
	})
}

func TestAdjustBalance_Guards(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		seedAccount(t, st, "user1", "100.00")

		err := st.Atomic(ctx, func(tx store.Tx) error {
			_, err := tx.AdjustBalance(ctx, "user1", d("-100.01"))
			return err
		})
		if !errors.Is(err, apperrors.ErrInsufficientBalance) {
			t.Errorf("expected ErrInsufficientBalance, got %v", err)
		}

		err = st.Atomic(ctx, func(tx store.Tx) error {
			_, err := tx.AdjustBalance(ctx, "ghost", d("1"))
			return err
		})
		if !errors.Is(err, apperrors.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}

		var left decimal.Decimal
		err = st.Atomic(ctx, func(tx store.Tx) error {
			var err error
			left, err = tx.AdjustBalance(ctx, "user1", d("-100.00"))
			return err
		})
		if err != nil || !left.IsZero() {
			t.Errorf("spending the exact balance should leave 0, got %s (%v)", left, err)
		}
	})
}

func TestAtomic_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		seedAccount(t, st, "user1", "100.00")

		var wg sync.WaitGroup
		var filled, rejected atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					err := st.Atomic(ctx, func(tx store.Tx) error {
						_, err := tx.AdjustBalance(ctx, "user1", d("-20.00"))
						return err
					})
					switch {
					case errors.Is(err, apperrors.ErrConflict):
						continue
					case err == nil:
						filled.Add(1)
					case errors.Is(err, apperrors.ErrInsufficientBalance):
						rejected.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
					return
				}
			}()
		}
		wg.Wait()

		if filled.Load() != 5 || rejected.Load() != 5 {
			t.Errorf("expected 5 debits and 5 rejections, got %d / %d", filled.Load(), rejected.Load())
		}
		b, _ := st.GetBalance(ctx, "user1")
		if !b.Amount.IsZero() {
			t.Errorf("expected balance 0, got %s", b.Amount)
		}
	})
}

func TestMemoryAtomic_BalanceMovedBeforeCommit(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedAccount(t, st, "user1", "1000.00")

	err := st.Atomic(ctx, func(tx store.Tx) error {
		left, err := tx.AdjustBalance(ctx, "user1", d("-100"))
		if err != nil || !left.Equal(d("900")) {
			t.Fatalf("expected 900 staged, got %s (%v)", left, err)
		}
		// Another unit of work commits in between.
		return st.Atomic(ctx, func(other store.Tx) error {
			_, err := other.AdjustBalance(ctx, "user1", d("-100"))
			return err
		})
	})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	b, _ := st.GetBalance(ctx, "user1")
	if !b.Amount.Equal(d("900")) {
		t.Errorf("only the inner debit should be applied, got %s", b.Amount)
	}
}

func TestPutPosition_ConflictOnStalePrev(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		seedAccount(t, st, "user1", "1000.00")
		stock := seedStock(t, st, "AAPL")
		now := time.Now().UTC()
		p := &model.Position{ID: "p1", UserID: "user1", StockID: stock.ID,
			Shares: d("10"), AverageBuyPrice: d("100"), CreatedAt: now, UpdatedAt: now}

		if err := st.Atomic(ctx, func(tx store.Tx) error { return tx.PutPosition(ctx, p, nil) }); err != nil {
			t.Fatalf("insert: %v", err)
		}

		// A second insert for the same pair must not create a duplicate.
		dup := *p
		dup.ID = "p2"
		err := st.Atomic(ctx, func(tx store.Tx) error { return tx.PutPosition(ctx, &dup, nil) })
		if !errors.Is(err, apperrors.ErrConflict) {
			t.Errorf("expected ErrConflict on duplicate insert, got %v", err)
		}

		stale := *p
		stale.Shares = d("7")
		next := *p
		next.Shares = d("3")
		err = st.Atomic(ctx, func(tx store.Tx) error { return tx.PutPosition(ctx, &next, &stale) })
		if !errors.Is(err, apperrors.ErrConflict) {
			t.Errorf("expected ErrConflict on stale update, got %v", err)
		}
		err = st.Atomic(ctx, func(tx store.Tx) error { return tx.DeletePosition(ctx, &stale) })
		if !errors.Is(err, apperrors.ErrConflict) {
			t.Errorf("expected ErrConflict on stale delete, got %v", err)
		}

		err = st.Atomic(ctx, func(tx store.Tx) error {
			cur, err := tx.Position(ctx, "user1", stock.ID)
			if err != nil {
				return err
			}
			return tx.DeletePosition(ctx, cur)
		})
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		err = st.Atomic(ctx, func(tx store.Tx) error {
			_, err := tx.Position(ctx, "user1", stock.ID)
			return err
		})
		if !errors.Is(err, apperrors.ErrNoHoldings) {
			t.Errorf("expected ErrNoHoldings after delete, got %v", err)
		}
	})
}

func TestListTransactions_NewestFirstWithLimit(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		seedAccount(t, st, "user1", "1000.00")
		stock := seedStock(t, st, "AAPL")
		base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

		for i, id := range []string{"t1", "t2", "t3"} {
			txn := &model.Transaction{ID: id, UserID: "user1", StockID: stock.ID, Symbol: "AAPL",
				Type: model.Buy, Shares: d("1"), PricePerShare: d("10"), TotalAmount: d("10"),
				ExecutedAt: base.Add(time.Duration(i) * time.Minute)}
			if err := st.Atomic(ctx, func(tx store.Tx) error { return tx.InsertTransaction(ctx, txn) }); err != nil {
				t.Fatalf("insert %s: %v", id, err)
			}
		}

		txns, err := st.ListTransactions(ctx, "user1", 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(txns) != 2 || txns[0].ID != "t3" || txns[1].ID != "t2" {
			t.Errorf("expected [t3 t2], got %+v", txns)
		}
	})
}

func TestWatchlist(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		seedAccount(t, st, "user1", "10")
		stock := seedStock(t, st, "AAPL")
		e := &model.WatchlistEntry{UserID: "user1", StockID: stock.ID, AddedAt: time.Now().UTC()}

		if err := st.AddWatch(ctx, e); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := st.AddWatch(ctx, e); !errors.Is(err, apperrors.ErrAlreadyWatching) {
			t.Errorf("expected ErrAlreadyWatching, got %v", err)
		}
		entries, _ := st.ListWatchlist(ctx, "user1")
		if len(entries) != 1 {
			t.Errorf("expected 1 entry, got %d", len(entries))
		}
		if err := st.RemoveWatch(ctx, "user1", stock.ID); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if err := st.RemoveWatch(ctx, "user1", stock.ID); !errors.Is(err, apperrors.ErrNotWatching) {
			t.Errorf("expected ErrNotWatching, got %v", err)
		}
	})
}
