// Package store defines storage interfaces for the symbol registry and the
// daily bar time series, with SQLite, PostgreSQL, and Parquet backends.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"cryptobars/internal/domain"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

//go:embed schema/*.sql
var schemaFS embed.FS

// SymbolStore persists the symbol registry and its active set.
type SymbolStore interface {
	// ReplaceActiveSet clears every active flag and upserts syms as active,
	// in one transaction. It returns syms with storage identities filled in.
	// An empty slice leaves storage untouched.
	ReplaceActiveSet(ctx context.Context, syms []domain.Symbol) ([]domain.Symbol, error)

	// ActiveSymbols returns the active set ordered by liquidity descending.
	ActiveSymbols(ctx context.Context) ([]domain.Symbol, error)

	// GetSymbol retrieves a symbol by ticker. Returns ErrNotFound if absent.
	GetSymbol(ctx context.Context, ticker string) (*domain.Symbol, error)
}

// BarStore persists and retrieves daily bars.
type BarStore interface {
	// LastBarDate returns the latest stored date for symbolID. ok is false
	// when the symbol has no bars. Returns ErrNotFound if the symbol itself
	// does not exist.
	LastBarDate(ctx context.Context, symbolID int64) (last time.Time, ok bool, err error)

	// UpsertBars writes bars in one transaction keyed by (symbol, date),
	// overwriting value columns on conflict. Returns the rows written.
	UpsertBars(ctx context.Context, bars []domain.DailyBar) (int, error)

	// ReadBars returns bars for symbolID within [start, end], ordered by date.
	ReadBars(ctx context.Context, symbolID int64, start, end time.Time) ([]domain.DailyBar, error)

	// CountBars returns the number of stored bars for symbolID.
	CountBars(ctx context.Context, symbolID int64) (int, error)
}

// Store is a complete persistence backend.
type Store interface {
	SymbolStore
	BarStore
	Close() error
}

// validateBars rejects bars without a storage identity or date.
func validateBars(bars []domain.DailyBar) error {
	for i, b := range bars {
		if b.SymbolID <= 0 {
			return fmt.Errorf("%w: bar %d has no symbol id", ErrInvalidInput, i)
		}
		if b.Date.IsZero() {
			return fmt.Errorf("%w: bar %d has no date", ErrInvalidInput, i)
		}
	}
	return nil
}

// schemaStatements splits an embedded schema file into single statements.
func schemaStatements(name string) ([]string, error) {
	data, err := fs.ReadFile(schemaFS, "schema/"+name)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", name, err)
	}
	var stmts []string
	for _, s := range strings.Split(string(data), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts, nil
}
