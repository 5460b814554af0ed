package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cryptobars/internal/domain"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openTestSQLite(t)

	// Verify the store is usable by pinging the database.
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}

	// Migrations are idempotent.
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate() returned error: %v", err)
	}
}

func TestSQLiteReplaceActiveSet(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	first, err := s.ReplaceActiveSet(ctx, []domain.Symbol{
		{Ticker: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Liquidity: 100},
		{Ticker: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", Liquidity: 50},
	})
	if err != nil {
		t.Fatalf("ReplaceActiveSet: %v", err)
	}
	for _, sym := range first {
		if !sym.HasID() || !sym.Active {
			t.Errorf("%s: id=%d active=%v, want identity and active", sym.Ticker, sym.ID, sym.Active)
		}
	}
	btcID := first[0].ID

	// Second run: BTC stays, ETH drops out, SOL enters.
	second, err := s.ReplaceActiveSet(ctx, []domain.Symbol{
		{Ticker: "SOLUSDT", BaseAsset: "SOL", QuoteAsset: "USDT", Liquidity: 80},
		{Ticker: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Liquidity: 90},
	})
	if err != nil {
		t.Fatalf("ReplaceActiveSet (second): %v", err)
	}
	if second[1].ID != btcID {
		t.Errorf("BTCUSDT id changed from %d to %d", btcID, second[1].ID)
	}

	active, err := s.ActiveSymbols(ctx)
	if err != nil {
		t.Fatalf("ActiveSymbols: %v", err)
	}
	if len(active) != 2 || active[0].Ticker != "BTCUSDT" || active[1].Ticker != "SOLUSDT" {
		t.Fatalf("ActiveSymbols = %+v, want [BTCUSDT SOLUSDT]", active)
	}
	if active[0].Liquidity != 90 {
		t.Errorf("BTCUSDT liquidity = %v, want 90 (replaced, not accumulated)", active[0].Liquidity)
	}

	eth, err := s.GetSymbol(ctx, "ETHUSDT")
	if err != nil {
		t.Fatalf("GetSymbol(ETHUSDT): %v", err)
	}
	if eth.Active {
		t.Error("ETHUSDT should be inactive after replacement")
	}

	if _, err := s.GetSymbol(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSymbol(NOPE) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteReplaceActiveSetEmptyIsNoop(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	if _, err := s.ReplaceActiveSet(ctx, []domain.Symbol{{Ticker: "BTCUSDT", Liquidity: 1}}); err != nil {
		t.Fatalf("ReplaceActiveSet: %v", err)
	}
	if _, err := s.ReplaceActiveSet(ctx, nil); err != nil {
		t.Fatalf("ReplaceActiveSet(nil): %v", err)
	}

	active, err := s.ActiveSymbols(ctx)
	if err != nil {
		t.Fatalf("ActiveSymbols: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active set size = %d, want 1 (empty replacement is a no-op)", len(active))
	}
}

func TestSQLiteReplaceActiveSetRollsBack(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	if _, err := s.ReplaceActiveSet(ctx, []domain.Symbol{{Ticker: "BTCUSDT", Liquidity: 1}}); err != nil {
		t.Fatalf("ReplaceActiveSet: %v", err)
	}

	// The second symbol is invalid, so the whole replacement must roll back.
	_, err := s.ReplaceActiveSet(ctx, []domain.Symbol{{Ticker: "ETHUSDT", Liquidity: 2}, {Ticker: ""}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ReplaceActiveSet error = %v, want ErrInvalidInput", err)
	}

	active, err := s.ActiveSymbols(ctx)
	if err != nil {
		t.Fatalf("ActiveSymbols: %v", err)
	}
	if len(active) != 1 || active[0].Ticker != "BTCUSDT" {
		t.Errorf("ActiveSymbols = %+v, want unchanged [BTCUSDT]", active)
	}
	if _, err := s.GetSymbol(ctx, "ETHUSDT"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ETHUSDT should not exist after rollback, err = %v", err)
	}
}

func TestSQLiteBars(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	syms, err := s.ReplaceActiveSet(ctx, []domain.Symbol{{Ticker: "BTCUSDT", Liquidity: 1}})
	if err != nil {
		t.Fatalf("ReplaceActiveSet: %v", err)
	}
	id := syms[0].ID

	if _, ok, err := s.LastBarDate(ctx, id); err != nil || ok {
		t.Fatalf("LastBarDate on empty symbol = ok %v, err %v; want false, nil", ok, err)
	}
	if _, _, err := s.LastBarDate(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("LastBarDate(unknown) error = %v, want ErrNotFound", err)
	}

	bars := []domain.DailyBar{
		{SymbolID: id, Date: day(2024, 1, 9), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{SymbolID: id, Date: day(2024, 1, 10), Open: 1.5, High: 1.5, Low: 1.5, Close: 1.5},
	}
	n, err := s.UpsertBars(ctx, bars)
	if err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}
	if n != 2 {
		t.Errorf("UpsertBars wrote %d, want 2", n)
	}

	last, ok, err := s.LastBarDate(ctx, id)
	if err != nil || !ok {
		t.Fatalf("LastBarDate = ok %v, err %v", ok, err)
	}
	if !last.Equal(day(2024, 1, 10)) {
		t.Errorf("LastBarDate = %v, want 2024-01-10", last)
	}

	// Overwrite the placeholder with real data; the row count must not grow.
	if _, err := s.UpsertBars(ctx, []domain.DailyBar{
		{SymbolID: id, Date: day(2024, 1, 10), Open: 1.5, High: 3, Low: 1, Close: 2.5, Volume: 7},
	}); err != nil {
		t.Fatalf("UpsertBars (overwrite): %v", err)
	}
	count, err := s.CountBars(ctx, id)
	if err != nil {
		t.Fatalf("CountBars: %v", err)
	}
	if count != 2 {
		t.Errorf("CountBars = %d, want 2", count)
	}

	got, err := s.ReadBars(ctx, id, day(2024, 1, 1), day(2024, 1, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if !got[0].Date.Before(got[1].Date) {
		t.Error("ReadBars not ordered by date")
	}
	if got[1].Close != 2.5 || got[1].Volume != 7 {
		t.Errorf("overwritten bar = %+v, want close 2.5 volume 7", got[1])
	}
}

func TestSQLiteUpsertBarsRejectsMissingIdentity(t *testing.T) {
	s := openTestSQLite(t)

	_, err := s.UpsertBars(context.Background(), []domain.DailyBar{{Date: day(2024, 1, 1)}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("UpsertBars error = %v, want ErrInvalidInput", err)
	}
}
