package merge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/history"
	"CryptoHarvest/internal/model"
	"CryptoHarvest/internal/source"
	"CryptoHarvest/internal/universe"
)

// Options selects the optional inputs and outputs of a merge run.
type Options struct {
	Output     string
	OnChainDir string
	// OnChainURL, when set, fills OnChainDir with missing per-symbol files first.
	OnChainURL    string
	HTTP          source.HTTPConfig
	SentimentPath string
	SinkDriver    string
	SinkDSN       string
	SinkTable     string
}

// Run builds the merged dataset and writes it to the CSV output and, when a DSN
// is set, to the SQL sink. It returns the number of merged rows.
func Run(ctx context.Context, store history.Store, entries []model.UniverseEntry, opts Options) (int, error) {
	var onChain *OnChain
	if opts.OnChainDir != "" && opts.OnChainURL != "" {
		symbols, err := onChainSymbols(ctx, store, entries)
		if err != nil {
			return 0, err
		}
		if _, err := NewOnChainFetcher(opts.OnChainURL, opts.HTTP).Download(ctx, opts.OnChainDir, symbols); err != nil {
			return 0, fmt.Errorf("download on-chain metrics: %w", err)
		}
	}
	if opts.OnChainDir != "" {
		oc, err := LoadOnChain(opts.OnChainDir, nil)
		if err != nil {
			return 0, fmt.Errorf("load on-chain metrics: %w", err)
		}
		onChain = oc
	}
	var sentiment Sentiment
	if opts.SentimentPath != "" {
		s, err := LoadSentiment(opts.SentimentPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Warn().Str("path", opts.SentimentPath).Msg("sentiment file not found, merging without sentiment")
		case err != nil:
			return 0, err
		default:
			sentiment = s
		}
	}

	agg := NewAggregator(store, entries, onChain, sentiment)
	rows, err := agg.Build(ctx)
	if err != nil {
		return 0, err
	}
	if opts.Output != "" {
		if err := agg.WriteCSV(opts.Output, rows); err != nil {
			return 0, fmt.Errorf("write merged csv: %w", err)
		}
		log.Info().Str("path", opts.Output).Int("rows", len(rows)).Msg("merged csv written")
	}
	if opts.SinkDSN != "" {
		sink, err := OpenSink(ctx, opts.SinkDriver, opts.SinkDSN, opts.SinkTable)
		if err != nil {
			return 0, err
		}
		defer sink.Close()
		if err := sink.Write(ctx, rows); err != nil {
			return 0, fmt.Errorf("write merged table: %w", err)
		}
		log.Info().Str("driver", opts.SinkDriver).Str("table", opts.SinkTable).Int("rows", len(rows)).Msg("merged table written")
	}
	return len(rows), nil
}

// onChainSymbols prefers the universe and falls back to the stored series.
func onChainSymbols(ctx context.Context, store history.Store, entries []model.UniverseEntry) ([]model.Symbol, error) {
	if len(entries) > 0 {
		return universe.Symbols(entries), nil
	}
	names, err := store.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	symbols := make([]model.Symbol, len(names))
	for i, n := range names {
		symbols[i] = model.Symbol{Ticker: n}
	}
	return symbols, nil
}
