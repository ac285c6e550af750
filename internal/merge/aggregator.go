// Package merge joins every stored series with on-chain metrics and daily news
// sentiment into one dataset keyed by (symbol, date).
package merge

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/history"
	"CryptoHarvest/internal/model"
)

// SentimentColumn is the merged column holding the daily mean sentiment.
const SentimentColumn = "sentiment_score"

// Aggregator builds the merged dataset from a history store.
type Aggregator struct {
	store     history.Store
	coinIDs   map[string]string
	onChain   *OnChain
	sentiment Sentiment
}

// NewAggregator creates an aggregator. universe supplies coin ids; on-chain data and
// sentiment are optional and left-joined when set.
func NewAggregator(store history.Store, universe []model.UniverseEntry, onChain *OnChain, sentiment Sentiment) *Aggregator {
	ids := make(map[string]string, len(universe))
	for _, e := range universe {
		ids[strings.ToUpper(e.Symbol)] = e.CoinID
	}
	return &Aggregator{store: store, coinIDs: ids, onChain: onChain, sentiment: sentiment}
}

// Build reads every stored series and returns the joined rows sorted by symbol
// then date. A series that cannot be read is skipped with a warning.
func (a *Aggregator) Build(ctx context.Context) ([]model.MergedRow, error) {
	start := time.Now()
	symbols, err := a.store.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	sort.Strings(symbols)

	var out []model.MergedRow
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := a.store.Read(ctx, sym)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("skipping unreadable series")
			continue
		}
		coinID := a.coinIDs[sym]
		if coinID == "" {
			coinID = strings.ToLower(sym)
		}
		for _, r := range rows {
			out = append(out, model.MergedRow{
				Symbol:    sym,
				CoinID:    coinID,
				OHLCVRow:  r,
				OnChain:   a.onChain.Lookup(sym, r.Date),
				Sentiment: a.sentiment.Lookup(sym, r.Date),
			})
		}
	}
	log.Info().
		Int("symbols", len(symbols)).
		Int("rows", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("merged dataset built")
	return out, nil
}

// Columns returns the CSV header for merged output.
func (a *Aggregator) Columns() []string {
	cols := []string{"symbol", "coin_id", "date", "open", "high", "low", "close", "volume", "degraded_ohlc"}
	cols = append(cols, a.onChain.Metrics()...)
	return append(cols, SentimentColumn)
}

// WriteCSV writes rows to path atomically. Missing joined values are empty cells.
func (a *Aggregator) WriteCSV(path string, rows []model.MergedRow) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".merge-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	cols := a.Columns()
	if err := w.Write(cols); err != nil {
		tmp.Close()
		return err
	}
	metrics := a.onChain.Metrics()
	rec := make([]string, len(cols))
	for _, r := range rows {
		rec = rec[:0]
		rec = append(rec,
			r.Symbol, r.CoinID, r.Date.String(),
			r.Open.String(), r.High.String(), r.Low.String(), r.Close.String(), r.Volume.String(),
			strconv.FormatBool(r.DegradedOHLC),
		)
		for _, m := range metrics {
			v, ok := r.OnChain[m]
			rec = append(rec, formatOptional(v, ok))
		}
		if r.Sentiment != nil {
			rec = append(rec, formatOptional(*r.Sentiment, true))
		} else {
			rec = append(rec, "")
		}
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func formatOptional(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
