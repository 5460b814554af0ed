// Package domain defines the core records shared by the ingestion pipeline,
// the market-data sources, and the storage layer.
package domain

import "time"

// Symbol is a tradable spot instrument tracked by the pipeline.
type Symbol struct {
	ID         int64 // storage identity; zero until persisted
	Ticker     string
	BaseAsset  string
	QuoteAsset string
	Liquidity  float64 // trailing 24h quote volume, recomputed every run
	Active     bool
}

// HasID reports whether the storage layer has assigned an identity.
func (s Symbol) HasID() bool { return s.ID > 0 }

// DailyBar is one UTC calendar day of OHLCV for a symbol plus the fields
// derived from the trailing 24h window.
type DailyBar struct {
	SymbolID int64
	Date     time.Time // UTC midnight
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64

	LastPrice24h float64
	Volume24h    float64
	High24h      float64
	Low24h       float64
	Liquidity    float64
}

// Synthetic reports whether the bar is a carried-forward placeholder.
func (b DailyBar) Synthetic() bool {
	return b.Volume == 0 && b.Open == b.Close && b.High == b.Close && b.Low == b.Close
}

// FetchTask describes the inclusive date range still missing for a symbol.
type FetchTask struct {
	SymbolID int64
	Ticker   string
	Start    time.Time
	End      time.Time
}

// Days returns the number of calendar days covered by the task.
func (t FetchTask) Days() int {
	if t.End.Before(t.Start) {
		return 0
	}
	return int(t.End.Sub(t.Start).Hours()/24) + 1
}
