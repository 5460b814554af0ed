package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"cryptobars/internal/domain"
)

// setupPostgres starts a PostgreSQL container and returns a migrated store.
// The test is skipped when no container provider is available.
func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("cryptobars"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err, "failed to open store")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStore_ReplaceActiveSet(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	first, err := s.ReplaceActiveSet(ctx, []domain.Symbol{
		{Ticker: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Liquidity: 100},
		{Ticker: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT", Liquidity: 50},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.True(t, first[0].HasID())

	_, err = s.ReplaceActiveSet(ctx, []domain.Symbol{
		{Ticker: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", Liquidity: 70},
	})
	require.NoError(t, err)

	active, err := s.ActiveSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "BTCUSDT", active[0].Ticker)
	assert.Equal(t, first[0].ID, active[0].ID)
	assert.InDelta(t, 70, active[0].Liquidity, 1e-9)

	eth, err := s.GetSymbol(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, eth.Active)

	_, err = s.GetSymbol(ctx, "XRPUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Bars(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	syms, err := s.ReplaceActiveSet(ctx, []domain.Symbol{{Ticker: "BTCUSDT", Liquidity: 1}})
	require.NoError(t, err)
	id := syms[0].ID

	_, ok, err := s.LastBarDate(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.LastBarDate(ctx, id+1000)
	assert.ErrorIs(t, err, ErrNotFound)

	bars := []domain.DailyBar{
		{SymbolID: id, Date: day(2024, 2, 28), Open: 1, High: 2, Low: 1, Close: 2, Volume: 3},
		{SymbolID: id, Date: day(2024, 2, 29), Open: 2, High: 2, Low: 2, Close: 2},
		{SymbolID: id, Date: day(2024, 3, 1), Open: 2, High: 4, Low: 2, Close: 3, Volume: 5},
	}
	n, err := s.UpsertBars(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Upserting again must not duplicate rows.
	_, err = s.UpsertBars(ctx, bars)
	require.NoError(t, err)
	count, err := s.CountBars(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	last, ok, err := s.LastBarDate(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(day(2024, 3, 1)), "last = %v", last)

	got, err := s.ReadBars(ctx, id, day(2024, 2, 29), day(2024, 3, 1))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Synthetic())
	assert.InDelta(t, 3, got[1].Close, 1e-9)
}
