package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"cryptobars/internal/domain"
)

// ParquetArchive mirrors stored daily bars into Parquet files for offline
// analytics consumers.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates a ParquetArchive rooted at the given directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Ticker       string  `parquet:"ticker"`
	Date         int64   `parquet:"date,timestamp(millisecond)"` // UTC midnight, Unix ms
	Open         float64 `parquet:"open"`
	High         float64 `parquet:"high"`
	Low          float64 `parquet:"low"`
	Close        float64 `parquet:"close"`
	Volume       float64 `parquet:"volume"`
	LastPrice24h float64 `parquet:"last_price_24h"`
	Volume24h    float64 `parquet:"volume_24h"`
	High24h      float64 `parquet:"high_24h"`
	Low24h       float64 `parquet:"low_24h"`
	Liquidity    float64 `parquet:"liquidity"`
}

// WriteBars writes bars for ticker to Parquet files organized by year,
// merging with any bars already archived. Each year produces one file at:
//
//	<DataDir>/daily/<TICKER>/<YYYY>.parquet
func (a *ParquetArchive) WriteBars(ticker string, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		year := b.Date.UTC().Year()
		groups[year] = append(groups[year], BarRecord{
			Ticker:       ticker,
			Date:         b.Date.UnixMilli(),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			LastPrice24h: b.LastPrice24h,
			Volume24h:    b.Volume24h,
			High24h:      b.High24h,
			Low24h:       b.Low24h,
			Liquidity:    b.Liquidity,
		})
	}

	for year, records := range groups {
		path := a.barPath(ticker, year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", ticker, year, err)
		}
	}
	return nil
}

// ReadBars reads archived bars for ticker within [start, end]. SymbolID is
// not archived and is left zero.
func (a *ParquetArchive) ReadBars(ticker string, start, end time.Time) ([]domain.DailyBar, error) {
	var bars []domain.DailyBar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[BarRecord](a.barPath(ticker, year))
		if err != nil {
			// No file for this year.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Date).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.DailyBar{
				Date:         ts,
				Open:         r.Open,
				High:         r.High,
				Low:          r.Low,
				Close:        r.Close,
				Volume:       r.Volume,
				LastPrice24h: r.LastPrice24h,
				Volume24h:    r.Volume24h,
				High24h:      r.High24h,
				Low24h:       r.Low24h,
				Liquidity:    r.Liquidity,
			})
		}
	}
	return bars, nil
}

// ListTickers lists every ticker directory in the archive.
func (a *ParquetArchive) ListTickers() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.DataDir, "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tickers []string
	for _, e := range entries {
		if e.IsDir() {
			tickers = append(tickers, e.Name())
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// barPath returns the filesystem path for a bar Parquet file. Pair
// separators ("BTC/USD") are flattened so each ticker is one directory.
func (a *ParquetArchive) barPath(ticker string, year int) string {
	dir := strings.ToUpper(strings.ReplaceAll(ticker, "/", "-"))
	return filepath.Join(a.DataDir, "daily", dir, fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by date, preferring incoming
// records over existing ones. Results are sorted by date.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Date] = r
	}
	for _, r := range incoming {
		seen[r.Date] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
