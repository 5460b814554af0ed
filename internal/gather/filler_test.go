package gather

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptobars/internal/domain"
	"cryptobars/internal/marketdata"
	"cryptobars/internal/store"
)

// echoSource returns the same single candle on every call.
type echoSource struct {
	fakeSource
	c marketdata.Candle
}

func (e *echoSource) DailyCandles(context.Context, string, time.Time, time.Time, int) ([]marketdata.Candle, error) {
	if e.calls.Add(1) > 100 {
		return nil, errors.New("pagination did not terminate")
	}
	return []marketdata.Candle{e.c}, nil
}

func TestFetchAllPaginates(t *testing.T) {
	src := &fakeSource{candles: map[string][]marketdata.Candle{
		"BTCUSDT": {
			candle(day(2024, 1, 1), 1, 1, 1, 1, 1),
			candle(day(2024, 1, 2), 2, 2, 2, 2, 1),
			candle(day(2024, 1, 3), 3, 3, 3, 3, 1),
			candle(day(2024, 1, 4), 4, 4, 4, 4, 1),
			candle(day(2024, 1, 5), 5, 5, 5, 5, 1),
		},
	}}

	got, err := FetchAll(context.Background(), src, "BTCUSDT", day(2024, 1, 1), day(2024, 1, 5), 2)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("FetchAll returned %d candles, want 5", len(got))
	}
	if calls := src.calls.Load(); calls != 3 {
		t.Errorf("FetchAll made %d calls, want 3", calls)
	}
}

func TestFetchAllStopsOnEmptyPage(t *testing.T) {
	src := &fakeSource{candles: map[string][]marketdata.Candle{
		"BTCUSDT": {candle(day(2024, 1, 1), 1, 1, 1, 1, 1)},
	}}

	got, err := FetchAll(context.Background(), src, "BTCUSDT", day(2024, 1, 1), day(2024, 1, 31), 10)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 1 || src.calls.Load() != 2 {
		t.Errorf("got %d candles in %d calls, want 1 in 2", len(got), src.calls.Load())
	}
}

func TestFetchAllDetectsStall(t *testing.T) {
	src := &echoSource{c: candle(day(2024, 1, 1), 1, 1, 1, 1, 1)}

	_, err := FetchAll(context.Background(), src, "BTCUSDT", day(2024, 1, 1), day(2024, 1, 31), 1000)
	if !errors.Is(err, ErrPaginationStall) {
		t.Fatalf("FetchAll error = %v, want ErrPaginationStall", err)
	}
	if calls := src.calls.Load(); calls != 2 {
		t.Errorf("FetchAll made %d calls before stopping, want 2", calls)
	}
}

func TestNormalizeCandles(t *testing.T) {
	bars := NormalizeCandles(7, []marketdata.Candle{
		candle(day(2024, 1, 1).Add(5*time.Hour), 1, 3, 0.5, 2, 10),
	})
	b, ok := bars[day(2024, 1, 1)]
	if !ok {
		t.Fatal("candle not keyed by its UTC calendar date")
	}
	want := domain.DailyBar{
		SymbolID: 7, Date: day(2024, 1, 1),
		Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 10,
		LastPrice24h: 2, Volume24h: 10, High24h: 3, Low24h: 0.5, Liquidity: 10,
	}
	if b != want {
		t.Errorf("normalized bar = %+v, want %+v", b, want)
	}
}

func TestFillGapsSynthesizesFlatBars(t *testing.T) {
	byDate := NormalizeCandles(1, []marketdata.Candle{
		candle(day(2024, 1, 1), 10, 12, 9, 11, 5),
		candle(day(2024, 1, 3), 11, 13, 10, 12, 6),
	})

	bars := FillGaps(1, day(2024, 1, 1), day(2024, 1, 3), byDate)
	if len(bars) != 3 {
		t.Fatalf("FillGaps returned %d bars, want 3", len(bars))
	}
	gap := bars[1]
	if !gap.Date.Equal(day(2024, 1, 2)) {
		t.Fatalf("bars[1].Date = %v, want 2024-01-02", gap.Date)
	}
	if gap.Volume != 0 || gap.Open != 11 || gap.High != 11 || gap.Low != 11 || gap.Close != 11 {
		t.Errorf("synthetic bar = %+v, want flat at 11 with zero volume", gap)
	}
	if !gap.Synthetic() || gap.SymbolID != 1 {
		t.Errorf("synthetic bar = %+v", gap)
	}
}

func TestFillGapsSkipsLeadingGap(t *testing.T) {
	byDate := NormalizeCandles(1, []marketdata.Candle{
		candle(day(2024, 1, 2), 5, 6, 4, 5.5, 1),
	})

	bars := FillGaps(1, day(2024, 1, 1), day(2024, 1, 3), byDate)
	if len(bars) != 2 {
		t.Fatalf("FillGaps returned %d bars, want 2", len(bars))
	}
	if !bars[0].Date.Equal(day(2024, 1, 2)) {
		t.Errorf("first bar date = %v, want 2024-01-02", bars[0].Date)
	}
	if bars[1].Close != 5.5 || bars[1].Volume != 0 {
		t.Errorf("trailing bar = %+v, want synthetic at 5.5", bars[1])
	}
}

func newFillFixture(t *testing.T, src marketdata.Source) (*Filler, *store.SQLiteStore, domain.FetchTask) {
	t.Helper()
	st := openStore(t)
	syms, err := st.ReplaceActiveSet(context.Background(), []domain.Symbol{{Ticker: "BTCUSDT", Liquidity: 1}})
	if err != nil {
		t.Fatalf("ReplaceActiveSet: %v", err)
	}
	task := domain.FetchTask{SymbolID: syms[0].ID, Ticker: "BTCUSDT", Start: day(2024, 1, 1), End: day(2024, 1, 10)}
	return NewFiller(src, st, 3, 2), st, task
}

func TestFillCoversRangeAndIsIdempotent(t *testing.T) {
	src := &fakeSource{candles: map[string][]marketdata.Candle{
		"BTCUSDT": {
			candle(day(2024, 1, 1), 1, 2, 1, 2, 3),
			candle(day(2024, 1, 4), 2, 3, 2, 3, 3),
			candle(day(2024, 1, 9), 3, 4, 3, 4, 3),
		},
	}}
	f, st, task := newFillFixture(t, src)
	archive := store.NewParquetArchive(t.TempDir())
	f.WithArchive(archive)
	ctx := context.Background()

	n, err := f.Fill(ctx, task)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if n != 10 {
		t.Errorf("Fill wrote %d rows, want 10", n)
	}

	if _, err := f.Fill(ctx, task); err != nil {
		t.Fatalf("second Fill: %v", err)
	}
	count, err := st.CountBars(ctx, task.SymbolID)
	if err != nil {
		t.Fatalf("CountBars: %v", err)
	}
	if count != 10 {
		t.Errorf("stored %d bars after two fills, want 10", count)
	}

	bars, err := st.ReadBars(ctx, task.SymbolID, task.Start, task.End)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	for i, b := range bars {
		if want := day(2024, 1, 1+i); !b.Date.Equal(want) {
			t.Errorf("bars[%d].Date = %v, want %v", i, b.Date, want)
		}
	}

	archived, err := archive.ReadBars("BTCUSDT", task.Start, task.End)
	if err != nil {
		t.Fatalf("archive.ReadBars: %v", err)
	}
	if len(archived) != 10 {
		t.Errorf("archive holds %d bars, want 10", len(archived))
	}
}

func TestFillFailureLeavesStorageUntouched(t *testing.T) {
	src := &fakeSource{
		candles: map[string][]marketdata.Candle{
			"BTCUSDT": {
				candle(day(2024, 1, 1), 1, 1, 1, 1, 1),
				candle(day(2024, 1, 2), 1, 1, 1, 1, 1),
				candle(day(2024, 1, 3), 1, 1, 1, 1, 1),
				candle(day(2024, 1, 4), 1, 1, 1, 1, 1),
			},
		},
		candleErr: &marketdata.NetworkError{Op: "klines", StatusCode: 500},
		failAfter: 1,
	}
	f, st, task := newFillFixture(t, src)

	if _, err := f.Fill(context.Background(), task); err == nil {
		t.Fatal("Fill succeeded, want error from second page")
	}
	count, err := st.CountBars(context.Background(), task.SymbolID)
	if err != nil {
		t.Fatalf("CountBars: %v", err)
	}
	if count != 0 {
		t.Errorf("stored %d bars after failed fill, want 0", count)
	}
}

func TestFillRejectsMissingIdentity(t *testing.T) {
	f, _, task := newFillFixture(t, &fakeSource{})
	task.SymbolID = 0

	if _, err := f.Fill(context.Background(), task); !errors.Is(err, ErrDataIntegrity) {
		t.Errorf("Fill error = %v, want ErrDataIntegrity", err)
	}
}

func TestFillerRunCountsFailures(t *testing.T) {
	src := &fakeSource{candles: map[string][]marketdata.Candle{
		"BTCUSDT": {candle(day(2024, 1, 1), 1, 1, 1, 1, 1)},
	}}
	f, _, task := newFillFixture(t, src)

	tasks := make(chan domain.FetchTask, 2)
	tasks <- task
	tasks <- domain.FetchTask{Ticker: "NOID", Start: task.Start, End: task.End}
	close(tasks)

	res, err := f.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tasks != 2 || res.Failed != 1 || res.Rows != 10 {
		t.Errorf("Run result = %+v, want 2 tasks, 1 failed, 10 rows", res)
	}
}
