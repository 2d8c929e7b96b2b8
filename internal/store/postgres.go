package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// read back through ::TEXT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const pgStockColumns = `id, symbol, name, sector,
	current_price::TEXT, previous_close::TEXT, day_high::TEXT, day_low::TEXT,
	volume, market_cap, last_updated, created_at`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPgStock(row rowScanner) (*model.Stock, error) {
	var st model.Stock
	var price, prev, high, low string
	var updated *time.Time
	if err := row.Scan(&st.ID, &st.Symbol, &st.Name, &st.Sector,
		&price, &prev, &high, &low,
		&st.Volume, &st.MarketCap, &updated, &st.CreatedAt); err != nil {
		return nil, err
	}
	st.CurrentPrice, _ = decimal.NewFromString(price)
	st.PreviousClose, _ = decimal.NewFromString(prev)
	st.DayHigh, _ = decimal.NewFromString(high)
	st.DayLow, _ = decimal.NewFromString(low)
	if updated != nil {
		st.LastUpdated = *updated
	}
	return &st, nil
}

func (s *PostgresStore) UpsertListing(ctx context.Context, l model.Listing) (*model.Stock, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO stocks (id, symbol, name, sector, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (symbol) DO UPDATE SET name = EXCLUDED.name, sector = EXCLUDED.sector
		 RETURNING `+pgStockColumns,
		newID(), l.Symbol, l.Name, l.Sector, time.Now().UTC(),
	)
	st, err := scanPgStock(row)
	if err != nil {
		return nil, fmt.Errorf("upsert stock %s: %w", l.Symbol, err)
	}
	return st, nil
}

func (s *PostgresStore) UpdateQuote(ctx context.Context, symbol string, q model.Quote, at time.Time) error {
	var st model.Stock
	st.ApplyQuote(q, at)
	tag, err := s.pool.Exec(ctx,
		`UPDATE stocks
		 SET current_price = $2::NUMERIC, previous_close = $3::NUMERIC,
		     day_high = $4::NUMERIC, day_low = $5::NUMERIC,
		     volume = $6, market_cap = $7, last_updated = $8
		 WHERE symbol = $1`,
		symbol, st.CurrentPrice.String(), st.PreviousClose.String(),
		st.DayHigh.String(), st.DayLow.String(),
		st.Volume, st.MarketCap, st.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("update quote %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock %s: %w", symbol, apperrors.ErrStockNotFound)
	}
	return nil
}

func (s *PostgresStore) GetStock(ctx context.Context, id string) (*model.Stock, error) {
	st, err := scanPgStock(s.pool.QueryRow(ctx,
		`SELECT `+pgStockColumns+` FROM stocks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("stock %s: %w", id, apperrors.ErrStockNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", id, err)
	}
	return st, nil
}

func (s *PostgresStore) GetStockBySymbol(ctx context.Context, symbol string) (*model.Stock, error) {
	st, err := scanPgStock(s.pool.QueryRow(ctx,
		`SELECT `+pgStockColumns+` FROM stocks WHERE symbol = $1`, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("stock %s: %w", symbol, apperrors.ErrStockNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stock by symbol %s: %w", symbol, err)
	}
	return st, nil
}

func (s *PostgresStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgStockColumns+` FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stocks []model.Stock
	for rows.Next() {
		st, err := scanPgStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, *st)
	}
	return stocks, rows.Err()
}

func (s *PostgresStore) InsertPriceHistory(ctx context.Context, points []model.PriceHistoryPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(
			`INSERT INTO stock_price_history (symbol, timestamp, open, high, low, close, volume)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)
			 ON CONFLICT (symbol, timestamp) DO NOTHING`,
			p.Symbol, p.Timestamp, p.Open.String(), p.High.String(),
			p.Low.String(), p.Close.String(), p.Volume,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range points {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert price history: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PostgresStore) ListPriceHistory(ctx context.Context, symbol string, since time.Time) ([]model.PriceHistoryPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, timestamp, open::TEXT, high::TEXT, low::TEXT, close::TEXT, volume
		 FROM stock_price_history
		 WHERE symbol = $1 AND timestamp >= $2
		 ORDER BY timestamp`, symbol, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PriceHistoryPoint
	for rows.Next() {
		var p model.PriceHistoryPoint
		var open, high, low, closeS string
		if err := rows.Scan(&p.Symbol, &p.Timestamp, &open, &high, &low, &closeS, &p.Volume); err != nil {
			return nil, err
		}
		p.Open, _ = decimal.NewFromString(open)
		p.High, _ = decimal.NewFromString(high)
		p.Low, _ = decimal.NewFromString(low)
		p.Close, _ = decimal.NewFromString(closeS)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *PostgresStore) CreateBalance(ctx context.Context, b *model.Balance) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO balances (user_id, amount, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $4)
		 ON CONFLICT (user_id) DO NOTHING`,
		b.UserID, b.Amount.String(), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create balance %s: %w", b.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", b.UserID, apperrors.ErrAccountExists)
	}
	return nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	var b model.Balance
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, amount::TEXT, created_at, updated_at FROM balances WHERE user_id = $1`, userID).
		Scan(&b.UserID, &amount, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", userID, err)
	}
	b.Amount, _ = decimal.NewFromString(amount)
	return &b, nil
}

const pgPositionColumns = `id, user_id, stock_id, shares::TEXT, average_buy_price::TEXT, created_at, updated_at`

func scanPgPosition(row rowScanner) (*model.Position, error) {
	var p model.Position
	var shares, avg string
	if err := row.Scan(&p.ID, &p.UserID, &p.StockID, &shares, &avg, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Shares, _ = decimal.NewFromString(shares)
	p.AverageBuyPrice, _ = decimal.NewFromString(avg)
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPositionColumns+` FROM positions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPgPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	query := `SELECT id, user_id, stock_id, symbol, transaction_type,
	                 shares::TEXT, price_per_share::TEXT, total_amount::TEXT, executed_at
	          FROM transactions WHERE user_id = $1
	          ORDER BY executed_at DESC, seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var shares, price, total string
		if err := rows.Scan(&t.ID, &t.UserID, &t.StockID, &t.Symbol, &t.Type,
			&shares, &price, &total, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.PricePerShare, _ = decimal.NewFromString(price)
		t.TotalAmount, _ = decimal.NewFromString(total)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) AddWatch(ctx context.Context, e *model.WatchlistEntry) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO watchlists (user_id, stock_id, added_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, stock_id) DO NOTHING`,
		e.UserID, e.StockID, e.AddedAt)
	if err != nil {
		return fmt.Errorf("add watch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrAlreadyWatching
	}
	return nil
}

func (s *PostgresStore) RemoveWatch(ctx context.Context, userID, stockID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watchlists WHERE user_id = $1 AND stock_id = $2`, userID, stockID)
	if err != nil {
		return fmt.Errorf("remove watch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotWatching
	}
	return nil
}

func (s *PostgresStore) ListWatchlist(ctx context.Context, userID string) ([]model.WatchlistEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, stock_id, added_at FROM watchlists WHERE user_id = $1 ORDER BY added_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.WatchlistEntry
	for rows.Next() {
		var e model.WatchlistEntry
		if err := rows.Scan(&e.UserID, &e.StockID, &e.AddedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Atomic runs fn inside a database transaction. Position rows are locked
// with SELECT ... FOR UPDATE; balance updates are conditional so the amount
// can never go negative even across concurrent units of work.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var amount string
	err := t.tx.QueryRow(ctx, `SELECT amount::TEXT FROM balances WHERE user_id = $1`, userID).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("user %s: %w", userID, apperrors.ErrUserNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(amount)
}

func (t *pgTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var amount string
	err := t.tx.QueryRow(ctx,
		`UPDATE balances SET amount = amount + $2::NUMERIC, updated_at = $3
		 WHERE user_id = $1 AND amount + $2::NUMERIC >= 0
		 RETURNING amount::TEXT`,
		userID, delta.String(), time.Now().UTC()).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is missing or the guard rejected the update.
		if _, berr := t.Balance(ctx, userID); berr != nil {
			return decimal.Zero, berr
		}
		return decimal.Zero, apperrors.ErrInsufficientBalance
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance %s: %w", userID, err)
	}
	return decimal.NewFromString(amount)
}

func (t *pgTx) Position(ctx context.Context, userID, stockID string) (*model.Position, error) {
	p, err := scanPgPosition(t.tx.QueryRow(ctx,
		`SELECT `+pgPositionColumns+` FROM positions
		 WHERE user_id = $1 AND stock_id = $2 FOR UPDATE`, userID, stockID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNoHoldings
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

func (t *pgTx) PutPosition(ctx context.Context, p, prev *model.Position) error {
	if prev == nil {
		tag, err := t.tx.Exec(ctx,
			`INSERT INTO positions (id, user_id, stock_id, shares, average_buy_price, created_at, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)
			 ON CONFLICT (user_id, stock_id) DO NOTHING`,
			p.ID, p.UserID, p.StockID, p.Shares.String(), p.AverageBuyPrice.String(),
			p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.ErrConflict
		}
		return nil
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE positions SET shares = $2::NUMERIC, average_buy_price = $3::NUMERIC, updated_at = $4
		 WHERE id = $1 AND shares = $5::NUMERIC`,
		p.ID, p.Shares.String(), p.AverageBuyPrice.String(), p.UpdatedAt, prev.Shares.String())
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

func (t *pgTx) DeletePosition(ctx context.Context, prev *model.Position) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM positions WHERE id = $1 AND shares = $2::NUMERIC`, prev.ID, prev.Shares.String())
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, stock_id, symbol, transaction_type,
		                           shares, price_per_share, total_amount, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		txn.ID, txn.UserID, txn.StockID, txn.Symbol, string(txn.Type),
		txn.Shares.String(), txn.PricePerShare.String(), txn.TotalAmount.String(),
		txn.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
