// Package gather implements the ingestion pipeline: symbol selection, gap
// detection, and history filling, connected by bounded channels.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for a complete data gathering process.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one full gathering pass and reports what it did.
	Run(ctx context.Context) (Report, error)
}

// Report summarizes one pipeline run.
type Report struct {
	Symbols int           // symbols emitted by the selector
	Tasks   int           // fetch tasks produced by the detector
	Rows    int           // daily bars upserted
	Failed  int           // symbols or tasks that failed and were skipped
	Elapsed time.Duration // wall-clock duration of the run
}
