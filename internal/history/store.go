// Package history persists one ordered daily OHLCV series per symbol.
//
// Every write leaves a series sorted ascending by date with no duplicate dates.
package history

import (
	"context"
	"errors"
	"fmt"

	"CryptoHarvest/internal/model"
)

// ErrCorrupt reports a persisted series that cannot be interpreted.
var ErrCorrupt = errors.New("corrupt series")

// Store is the per-symbol time-series contract used by the update pipeline.
type Store interface {
	// LastKnownDate returns the latest persisted date, or the zero Date when the
	// series is missing, empty or has no parseable date. Missing is not an error.
	LastKnownDate(ctx context.Context, symbol string) (model.Date, error)
	// WriteFull replaces any existing series with rows.
	WriteFull(ctx context.Context, symbol string, rows []model.OHLCVRow) error
	// AppendAndDedup merges rows into the series; on a repeated date the new row wins.
	// Appending nothing is a no-op.
	AppendAndDedup(ctx context.Context, symbol string, rows []model.OHLCVRow) error
	// Read returns the series ascending by date, or nil when there is none.
	Read(ctx context.Context, symbol string) ([]model.OHLCVRow, error)
	// Symbols lists every symbol with a persisted series.
	Symbols(ctx context.Context) ([]string, error)
	Close() error
}

// MergeRows combines an existing series with new rows: one row per date, the new
// row winning on a duplicate, ascending by date.
func MergeRows(existing, incoming []model.OHLCVRow) []model.OHLCVRow {
	all := make([]model.OHLCVRow, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	return model.Normalize(all)
}

// Open returns the store for the configured backend ("csv" or "sqlite").
func Open(backend, root, sqlitePath string) (Store, error) {
	switch backend {
	case "", "csv":
		return NewCSVStore(root)
	case "sqlite":
		return NewSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
