package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptobars/internal/domain"
	"cryptobars/internal/util"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; concurrent fill workers queue on it
	// instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts, err := schemaStatements("sqlite.sql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// SymbolStore implementation
// ---------------------------------------------------------------------------

// ReplaceActiveSet clears all active flags and upserts syms as active.
func (s *SQLiteStore) ReplaceActiveSet(ctx context.Context, syms []domain.Symbol) ([]domain.Symbol, error) {
	if len(syms) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE symbols SET is_active = 0 WHERE is_active <> 0`); err != nil {
		return nil, fmt.Errorf("clearing active flags: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols (ticker, base_asset, quote_asset, liquidity, is_active, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			base_asset  = excluded.base_asset,
			quote_asset = excluded.quote_asset,
			liquidity   = excluded.liquidity,
			is_active   = 1,
			updated_at  = excluded.updated_at
		RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	out := make([]domain.Symbol, len(syms))
	for i, sym := range syms {
		if sym.Ticker == "" {
			return nil, fmt.Errorf("%w: symbol %d has no ticker", ErrInvalidInput, i)
		}
		var id int64
		if err := stmt.QueryRowContext(ctx, sym.Ticker, sym.BaseAsset, sym.QuoteAsset, sym.Liquidity, now).Scan(&id); err != nil {
			return nil, fmt.Errorf("upserting %s: %w", sym.Ticker, err)
		}
		sym.ID = id
		sym.Active = true
		out[i] = sym
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// ActiveSymbols returns the active set ordered by liquidity descending.
func (s *SQLiteStore) ActiveSymbols(ctx context.Context) ([]domain.Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, base_asset, quote_asset, liquidity, is_active
		FROM symbols
		WHERE is_active = 1
		ORDER BY liquidity DESC, ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("query active symbols: %w", err)
	}
	defer rows.Close()

	var out []domain.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sym)
	}
	return out, rows.Err()
}

// GetSymbol retrieves a symbol by ticker.
func (s *SQLiteStore) GetSymbol(ctx context.Context, ticker string) (*domain.Symbol, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ticker, base_asset, quote_asset, liquidity, is_active
		FROM symbols
		WHERE ticker = ?`, ticker)
	sym, err := scanSymbol(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sym, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSymbol(r rowScanner) (*domain.Symbol, error) {
	var (
		sym    domain.Symbol
		active int
	)
	if err := r.Scan(&sym.ID, &sym.Ticker, &sym.BaseAsset, &sym.QuoteAsset, &sym.Liquidity, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan symbol: %w", err)
	}
	sym.Active = active != 0
	return &sym, nil
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// LastBarDate returns the maximum stored date for symbolID.
func (s *SQLiteStore) LastBarDate(ctx context.Context, symbolID int64) (time.Time, bool, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(b.date)
		FROM symbols s
		LEFT JOIN daily_bars b ON b.symbol_id = s.id
		WHERE s.id = ?
		GROUP BY s.id`, symbolID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, fmt.Errorf("symbol %d: %w", symbolID, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last date: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}

	d, err := util.ParseDay(last.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing stored date %q: %w", last.String, err)
	}
	return d, true, nil
}

// UpsertBars writes bars in one transaction.
func (s *SQLiteStore) UpsertBars(ctx context.Context, bars []domain.DailyBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	if err := validateBars(bars); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_bars
			(symbol_id, date, open, high, low, close, volume,
			 last_price_24h, volume_24h, high_24h, low_24h, liquidity)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(symbol_id, date) DO UPDATE SET
			open           = excluded.open,
			high           = excluded.high,
			low            = excluded.low,
			close          = excluded.close,
			volume         = excluded.volume,
			last_price_24h = excluded.last_price_24h,
			volume_24h     = excluded.volume_24h,
			high_24h       = excluded.high_24h,
			low_24h        = excluded.low_24h,
			liquidity      = excluded.liquidity`)
	if err != nil {
		return 0, fmt.Errorf("preparing bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx,
			b.SymbolID, util.FormatDay(b.Date),
			b.Open, b.High, b.Low, b.Close, b.Volume,
			b.LastPrice24h, b.Volume24h, b.High24h, b.Low24h, b.Liquidity,
		); err != nil {
			return 0, fmt.Errorf("upserting bar %d/%s: %w", b.SymbolID, util.FormatDay(b.Date), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(bars), nil
}

// ReadBars returns bars for symbolID within [start, end], ordered by date.
func (s *SQLiteStore) ReadBars(ctx context.Context, symbolID int64, start, end time.Time) ([]domain.DailyBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol_id, date, open, high, low, close, volume,
		       last_price_24h, volume_24h, high_24h, low_24h, liquidity
		FROM daily_bars
		WHERE symbol_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		symbolID, util.FormatDay(start), util.FormatDay(end))
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.DailyBar
	for rows.Next() {
		var (
			b    domain.DailyBar
			date string
		)
		if err := rows.Scan(&b.SymbolID, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
			&b.LastPrice24h, &b.Volume24h, &b.High24h, &b.Low24h, &b.Liquidity); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		if b.Date, err = util.ParseDay(date); err != nil {
			return nil, fmt.Errorf("parsing stored date %q: %w", date, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// CountBars returns the number of stored bars for symbolID.
func (s *SQLiteStore) CountBars(ctx context.Context, symbolID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_bars WHERE symbol_id = ?`, symbolID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bars: %w", err)
	}
	return n, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
