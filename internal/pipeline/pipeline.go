// Package pipeline runs the per-symbol incremental update over a universe.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"CryptoHarvest/internal/history"
	"CryptoHarvest/internal/model"
	"CryptoHarvest/internal/runlock"
	"CryptoHarvest/internal/source"
)

// Resolver finds rows for a symbol across providers.
type Resolver interface {
	Resolve(ctx context.Context, sym model.Symbol, w source.Window) (source.Resolution, error)
}

// Pipeline updates every symbol's history from the configured providers.
type Pipeline struct {
	resolver Resolver
	store    history.Store
	locker   runlock.Locker
	workers  int
	pause    time.Duration
	now      func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets how many symbols are processed at once. 1 is a sequential loop.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithPause sets the delay a worker waits before starting its next symbol.
func WithPause(d time.Duration) Option {
	return func(p *Pipeline) { p.pause = d }
}

// WithLocker guards runs with l.
func WithLocker(l runlock.Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

func New(resolver Resolver, store history.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		store:    store,
		locker:   runlock.Noop{},
		workers:  1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle tracks a run started in the background.
type Handle struct {
	RunID string
	done  chan *Report
}

// Wait blocks until the run finishes and returns its report.
func (h *Handle) Wait() *Report {
	r := <-h.done
	h.done <- r
	return r
}

// Run processes every entry once and waits for the report. Per-symbol failures
// are recorded in the report, never returned. An error means the run did not
// start: the lock is held elsewhere or ctx was already done.
func (p *Pipeline) Run(ctx context.Context, entries []model.UniverseEntry) (*Report, error) {
	h, err := p.Start(ctx, entries)
	if err != nil {
		return nil, err
	}
	return h.Wait(), nil
}

// Start acquires the run lock and processes entries in the background. Symbols
// not started before ctx is cancelled end up Skipped.
func (p *Pipeline) Start(ctx context.Context, entries []model.UniverseEntry) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	release, err := p.locker.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	h := &Handle{RunID: uuid.NewString(), done: make(chan *Report, 1)}
	go func() {
		report := p.run(ctx, h.RunID, entries)
		release()
		h.done <- report
	}()
	return h, nil
}

func (p *Pipeline) run(ctx context.Context, runID string, entries []model.UniverseEntry) *Report {
	report := &Report{RunID: runID, StartedAt: p.now().UTC()}
	logger := log.With().Str("run_id", report.RunID).Logger()

	symbols := dedupe(entries)
	report.Results = make([]SymbolResult, len(symbols))
	logger.Info().Int("symbols", len(symbols)).Int("workers", p.workers).Msg("pipeline run started")

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for i, sym := range symbols {
		i, sym := i, sym
		if ctx.Err() != nil {
			report.Results[i] = SymbolResult{Symbol: sym.Ticker, CoinID: sym.CoinID, State: StateSkipped}
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				report.Results[i] = SymbolResult{Symbol: sym.Ticker, CoinID: sym.CoinID, State: StateSkipped}
				return nil
			}
			res := p.updateSymbol(ctx, sym)
			report.Results[i] = res

			ev := logger.Info()
			if res.State.Failed() {
				ev = logger.Warn().Str("err", res.Error)
			}
			ev.Str("symbol", res.Symbol).
				Str("state", string(res.State)).
				Str("provider", res.Provider).
				Int("rows", res.Rows).
				Dur("elapsed", res.Elapsed).
				Msg("symbol done")

			if p.pause > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(p.pause):
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Elapsed = p.now().Sub(report.StartedAt)
	report.tally()
	logger.Info().Dur("elapsed", report.Elapsed).Msg(report.Summary())
	return report
}

// updateSymbol drives one symbol through lookup, fetch and store.
func (p *Pipeline) updateSymbol(ctx context.Context, sym model.Symbol) SymbolResult {
	start := time.Now()
	res := SymbolResult{Symbol: sym.Ticker, CoinID: sym.CoinID}

	last, err := p.store.LastKnownDate(ctx, sym.Ticker)
	if err != nil {
		res.State, res.Error = StateFailedStore, err.Error()
		return finish(res, start)
	}

	window := source.FullHistory()
	res.Mode = "full"
	if !last.IsZero() {
		window = source.SinceDate(last.AddDays(1))
		res.Mode = "incremental"
		res.LastDate = last
	}

	found, err := p.resolver.Resolve(ctx, sym, window)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			res.State = StateSkipped
		case window.IsFull():
			res.State, res.Error = StateFailedNoData, err.Error()
		default:
			res.State = StateUpToDate
		}
		return finish(res, start)
	}

	// a provider can ignore the window; never rewrite days already stored
	rows := model.FilterSince(found.Rows, window.Since)
	res.Provider = found.Provider
	if len(rows) == 0 {
		res.State = StateUpToDate
		return finish(res, start)
	}

	if window.IsFull() {
		err = p.store.WriteFull(ctx, sym.Ticker, rows)
	} else {
		err = p.store.AppendAndDedup(ctx, sym.Ticker, rows)
	}
	if err != nil {
		res.State, res.Error = StateFailedStore, err.Error()
		return finish(res, start)
	}
	res.State = StateWritten
	res.Rows = len(rows)
	res.LastDate = model.LastDate(rows)
	return finish(res, start)
}

func finish(res SymbolResult, start time.Time) SymbolResult {
	res.Elapsed = time.Since(start)
	return res
}

// dedupe keeps the first entry per ticker, preserving input order.
func dedupe(entries []model.UniverseEntry) []model.Symbol {
	seen := make(map[string]bool, len(entries))
	out := make([]model.Symbol, 0, len(entries))
	for _, e := range entries {
		key := strings.ToUpper(strings.TrimSpace(e.Symbol))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, model.Symbol{Ticker: key, CoinID: e.CoinID})
	}
	return out
}

// IsLocked reports whether err means another run holds the lock.
func IsLocked(err error) bool {
	return errors.Is(err, runlock.ErrLocked)
}
