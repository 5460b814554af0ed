package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cryptobars/internal/domain"
	"cryptobars/internal/util"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store using PostgreSQL via pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection, and applies the
// schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts, err := schemaStatements("postgres.sql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// ReplaceActiveSet clears all active flags and upserts syms as active.
func (s *PostgresStore) ReplaceActiveSet(ctx context.Context, syms []domain.Symbol) ([]domain.Symbol, error) {
	if len(syms) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE symbols SET is_active = FALSE WHERE is_active`); err != nil {
		return nil, fmt.Errorf("clearing active flags: %w", err)
	}

	query := `
		INSERT INTO symbols (ticker, base_asset, quote_asset, liquidity, is_active, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, now())
		ON CONFLICT (ticker) DO UPDATE SET
			base_asset  = EXCLUDED.base_asset,
			quote_asset = EXCLUDED.quote_asset,
			liquidity   = EXCLUDED.liquidity,
			is_active   = TRUE,
			updated_at  = now()
		RETURNING id`

	out := make([]domain.Symbol, len(syms))
	for i, sym := range syms {
		if sym.Ticker == "" {
			return nil, fmt.Errorf("%w: symbol %d has no ticker", ErrInvalidInput, i)
		}
		if err := tx.QueryRow(ctx, query, sym.Ticker, sym.BaseAsset, sym.QuoteAsset, sym.Liquidity).Scan(&sym.ID); err != nil {
			return nil, fmt.Errorf("upserting %s: %w", sym.Ticker, err)
		}
		sym.Active = true
		out[i] = sym
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// ActiveSymbols returns the active set ordered by liquidity descending.
func (s *PostgresStore) ActiveSymbols(ctx context.Context) ([]domain.Symbol, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticker, base_asset, quote_asset, liquidity, is_active
		FROM symbols
		WHERE is_active
		ORDER BY liquidity DESC, ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("query active symbols: %w", err)
	}
	defer rows.Close()

	var out []domain.Symbol
	for rows.Next() {
		var sym domain.Symbol
		if err := rows.Scan(&sym.ID, &sym.Ticker, &sym.BaseAsset, &sym.QuoteAsset, &sym.Liquidity, &sym.Active); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// GetSymbol retrieves a symbol by ticker.
func (s *PostgresStore) GetSymbol(ctx context.Context, ticker string) (*domain.Symbol, error) {
	var sym domain.Symbol
	err := s.pool.QueryRow(ctx, `
		SELECT id, ticker, base_asset, quote_asset, liquidity, is_active
		FROM symbols
		WHERE ticker = $1`, ticker).
		Scan(&sym.ID, &sym.Ticker, &sym.BaseAsset, &sym.QuoteAsset, &sym.Liquidity, &sym.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get symbol: %w", err)
	}
	return &sym, nil
}

// LastBarDate returns the maximum stored date for symbolID.
func (s *PostgresStore) LastBarDate(ctx context.Context, symbolID int64) (time.Time, bool, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(b.date)
		FROM symbols s
		LEFT JOIN daily_bars b ON b.symbol_id = s.id
		WHERE s.id = $1
		GROUP BY s.id`, symbolID).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, fmt.Errorf("symbol %d: %w", symbolID, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last date: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return util.Day(*last), true, nil
}

// UpsertBars writes bars in one transaction using a pipelined batch.
func (s *PostgresStore) UpsertBars(ctx context.Context, bars []domain.DailyBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	if err := validateBars(bars); err != nil {
		return 0, err
	}

	query := `
		INSERT INTO daily_bars
			(symbol_id, date, open, high, low, close, volume,
			 last_price_24h, volume_24h, high_24h, low_24h, liquidity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (symbol_id, date) DO UPDATE SET
			open           = EXCLUDED.open,
			high           = EXCLUDED.high,
			low            = EXCLUDED.low,
			close          = EXCLUDED.close,
			volume         = EXCLUDED.volume,
			last_price_24h = EXCLUDED.last_price_24h,
			volume_24h     = EXCLUDED.volume_24h,
			high_24h       = EXCLUDED.high_24h,
			low_24h        = EXCLUDED.low_24h,
			liquidity      = EXCLUDED.liquidity`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(query,
			b.SymbolID, util.Day(b.Date),
			b.Open, b.High, b.Low, b.Close, b.Volume,
			b.LastPrice24h, b.Volume24h, b.High24h, b.Low24h, b.Liquidity,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range bars {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("upserting bar %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(bars), nil
}

// ReadBars returns bars for symbolID within [start, end], ordered by date.
func (s *PostgresStore) ReadBars(ctx context.Context, symbolID int64, start, end time.Time) ([]domain.DailyBar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol_id, date, open, high, low, close, volume,
		       last_price_24h, volume_24h, high_24h, low_24h, liquidity
		FROM daily_bars
		WHERE symbol_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC`,
		symbolID, util.Day(start), util.Day(end))
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.DailyBar
	for rows.Next() {
		var b domain.DailyBar
		if err := rows.Scan(&b.SymbolID, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
			&b.LastPrice24h, &b.Volume24h, &b.High24h, &b.Low24h, &b.Liquidity); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Date = util.Day(b.Date)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// CountBars returns the number of stored bars for symbolID.
func (s *PostgresStore) CountBars(ctx context.Context, symbolID int64) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM daily_bars WHERE symbol_id = $1`, symbolID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bars: %w", err)
	}
	return n, nil
}
