package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/model"
)

// sqliteTime is fixed width so TEXT columns sort chronologically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// OpenSQLite opens the database at path (":memory:" for an ephemeral one).
// Transactions begin IMMEDIATE so a unit of work holds the write lock from
// its first read.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer and :memory: databases are
	// per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// SQLiteStore implements Store on an embedded SQLite database. Decimals are
// stored as canonical fixed-point TEXT.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(sqliteTime, s)
	return t
}

func fixedMoney(d decimal.Decimal) string  { return d.StringFixed(model.MoneyScale) }
func fixedShares(d decimal.Decimal) string { return d.StringFixed(model.ShareScale) }

const sqliteStockColumns = `id, symbol, name, sector, current_price, previous_close, day_high, day_low,
	volume, market_cap, last_updated, created_at`

func scanSQLiteStock(row rowScanner) (*model.Stock, error) {
	var st model.Stock
	var price, prev, high, low, updated, created string
	if err := row.Scan(&st.ID, &st.Symbol, &st.Name, &st.Sector,
		&price, &prev, &high, &low,
		&st.Volume, &st.MarketCap, &updated, &created); err != nil {
		return nil, err
	}
	st.CurrentPrice, _ = decimal.NewFromString(price)
	st.PreviousClose, _ = decimal.NewFromString(prev)
	st.DayHigh, _ = decimal.NewFromString(high)
	st.DayLow, _ = decimal.NewFromString(low)
	st.LastUpdated = parseTime(updated)
	st.CreatedAt = parseTime(created)
	return &st, nil
}

func (s *SQLiteStore) UpsertListing(ctx context.Context, l model.Listing) (*model.Stock, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO stocks (id, symbol, name, sector, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (symbol) DO UPDATE SET name = excluded.name, sector = excluded.sector
		 RETURNING `+sqliteStockColumns,
		newID(), l.Symbol, l.Name, l.Sector, fmtTime(time.Now()))
	st, err := scanSQLiteStock(row)
	if err != nil {
		return nil, fmt.Errorf("upsert stock %s: %w", l.Symbol, err)
	}
	return st, nil
}

func (s *SQLiteStore) UpdateQuote(ctx context.Context, symbol string, q model.Quote, at time.Time) error {
	var st model.Stock
	st.ApplyQuote(q, at)
	res, err := s.db.ExecContext(ctx,
		`UPDATE stocks
		 SET current_price = ?, previous_close = ?, day_high = ?, day_low = ?,
		     volume = ?, market_cap = ?, last_updated = ?
		 WHERE symbol = ?`,
		fixedMoney(st.CurrentPrice), fixedMoney(st.PreviousClose), fixedMoney(st.DayHigh), fixedMoney(st.DayLow),
		st.Volume, st.MarketCap, fmtTime(at), symbol)
	if err != nil {
		return fmt.Errorf("update quote %s: %w", symbol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stock %s: %w", symbol, apperrors.ErrStockNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetStock(ctx context.Context, id string) (*model.Stock, error) {
	st, err := scanSQLiteStock(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteStockColumns+` FROM stocks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stock %s: %w", id, apperrors.ErrStockNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", id, err)
	}
	return st, nil
}

func (s *SQLiteStore) GetStockBySymbol(ctx context.Context, symbol string) (*model.Stock, error) {
	st, err := scanSQLiteStock(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteStockColumns+` FROM stocks WHERE symbol = ?`, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stock %s: %w", symbol, apperrors.ErrStockNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stock by symbol %s: %w", symbol, err)
	}
	return st, nil
}

func (s *SQLiteStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteStockColumns+` FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stocks []model.Stock
	for rows.Next() {
		st, err := scanSQLiteStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, *st)
	}
	return stocks, rows.Err()
}

func (s *SQLiteStore) InsertPriceHistory(ctx context.Context, points []model.PriceHistoryPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stock_price_history (symbol, timestamp, open, high, low, close, volume)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (symbol, timestamp) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range points {
		res, err := stmt.ExecContext(ctx, p.Symbol, fmtTime(p.Timestamp),
			fixedMoney(p.Open), fixedMoney(p.High), fixedMoney(p.Low), fixedMoney(p.Close), p.Volume)
		if err != nil {
			return 0, fmt.Errorf("insert price history: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *SQLiteStore) ListPriceHistory(ctx context.Context, symbol string, since time.Time) ([]model.PriceHistoryPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, timestamp, open, high, low, close, volume
		 FROM stock_price_history
		 WHERE symbol = ? AND timestamp >= ?
		 ORDER BY timestamp`, symbol, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PriceHistoryPoint
	for rows.Next() {
		var p model.PriceHistoryPoint
		var ts, open, high, low, closeS string
		if err := rows.Scan(&p.Symbol, &ts, &open, &high, &low, &closeS, &p.Volume); err != nil {
			return nil, err
		}
		p.Timestamp = parseTime(ts)
		p.Open, _ = decimal.NewFromString(open)
		p.High, _ = decimal.NewFromString(high)
		p.Low, _ = decimal.NewFromString(low)
		p.Close, _ = decimal.NewFromString(closeS)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *SQLiteStore) CreateBalance(ctx context.Context, b *model.Balance) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO balances (user_id, amount, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		b.UserID, fixedMoney(b.Amount), fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create balance %s: %w", b.UserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", b.UserID, apperrors.ErrAccountExists)
	}
	return nil
}

func (s *SQLiteStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	var b model.Balance
	var amount, created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, amount, created_at, updated_at FROM balances WHERE user_id = ?`, userID).
		Scan(&b.UserID, &amount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", userID, err)
	}
	b.Amount, _ = decimal.NewFromString(amount)
	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	return &b, nil
}

const sqlitePositionColumns = `id, user_id, stock_id, shares, average_buy_price, created_at, updated_at`

func scanSQLitePosition(row rowScanner) (*model.Position, error) {
	var p model.Position
	var sh, avg, created, updated string
	if err := row.Scan(&p.ID, &p.UserID, &p.StockID, &sh, &avg, &created, &updated); err != nil {
		return nil, err
	}
	p.Shares, _ = decimal.NewFromString(sh)
	p.AverageBuyPrice, _ = decimal.NewFromString(avg)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func (s *SQLiteStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanSQLitePosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	query := `SELECT id, user_id, stock_id, symbol, transaction_type,
	                 shares, price_per_share, total_amount, executed_at
	          FROM transactions WHERE user_id = ?
	          ORDER BY executed_at DESC, seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var sh, price, total, executed string
		if err := rows.Scan(&t.ID, &t.UserID, &t.StockID, &t.Symbol, &t.Type,
			&sh, &price, &total, &executed); err != nil {
			return nil, err
		}
		t.Shares, _ = decimal.NewFromString(sh)
		t.PricePerShare, _ = decimal.NewFromString(price)
		t.TotalAmount, _ = decimal.NewFromString(total)
		t.ExecutedAt = parseTime(executed)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *SQLiteStore) AddWatch(ctx context.Context, e *model.WatchlistEntry) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlists (user_id, stock_id, added_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, stock_id) DO NOTHING`,
		e.UserID, e.StockID, fmtTime(e.AddedAt))
	if err != nil {
		return fmt.Errorf("add watch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrAlreadyWatching
	}
	return nil
}

func (s *SQLiteStore) RemoveWatch(ctx context.Context, userID, stockID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlists WHERE user_id = ? AND stock_id = ?`, userID, stockID)
	if err != nil {
		return fmt.Errorf("remove watch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrNotWatching
	}
	return nil
}

func (s *SQLiteStore) ListWatchlist(ctx context.Context, userID string) ([]model.WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, stock_id, added_at FROM watchlists WHERE user_id = ? ORDER BY added_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.WatchlistEntry
	for rows.Next() {
		var e model.WatchlistEntry
		var added string
		if err := rows.Scan(&e.UserID, &e.StockID, &added); err != nil {
			return nil, err
		}
		e.AddedAt = parseTime(added)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Atomic runs fn in an IMMEDIATE transaction. fn must only use tx: the
// pool holds a single connection.
func (s *SQLiteStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var amount string
	err := t.tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE user_id = ?`, userID).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("user %s: %w", userID, apperrors.ErrUserNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(amount)
}

func (t *sqliteTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	current, err := t.Balance(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	next := current.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, apperrors.ErrInsufficientBalance
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE balances SET amount = ?, updated_at = ? WHERE user_id = ?`,
		fixedMoney(next), fmtTime(time.Now()), userID); err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance %s: %w", userID, err)
	}
	return next, nil
}

func (t *sqliteTx) Position(ctx context.Context, userID, stockID string) (*model.Position, error) {
	p, err := scanSQLitePosition(t.tx.QueryRowContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions WHERE user_id = ? AND stock_id = ?`,
		userID, stockID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNoHoldings
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

func (t *sqliteTx) PutPosition(ctx context.Context, p, prev *model.Position) error {
	var res sql.Result
	var err error
	if prev == nil {
		res, err = t.tx.ExecContext(ctx,
			`INSERT INTO positions (id, user_id, stock_id, shares, average_buy_price, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, stock_id) DO NOTHING`,
			p.ID, p.UserID, p.StockID, fixedShares(p.Shares), fixedMoney(p.AverageBuyPrice),
			fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	} else {
		res, err = t.tx.ExecContext(ctx,
			`UPDATE positions SET shares = ?, average_buy_price = ?, updated_at = ?
			 WHERE id = ? AND shares = ?`,
			fixedShares(p.Shares), fixedMoney(p.AverageBuyPrice), fmtTime(p.UpdatedAt),
			p.ID, fixedShares(prev.Shares))
	}
	if err != nil {
		return fmt.Errorf("put position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

func (t *sqliteTx) DeletePosition(ctx context.Context, prev *model.Position) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM positions WHERE id = ? AND shares = ?`, prev.ID, fixedShares(prev.Shares))
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

func (t *sqliteTx) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, stock_id, symbol, transaction_type,
		                           shares, price_per_share, total_amount, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.UserID, txn.StockID, txn.Symbol, string(txn.Type),
		fixedShares(txn.Shares), fixedMoney(txn.PricePerShare), fixedMoney(txn.TotalAmount),
		fmtTime(txn.ExecutedAt))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
