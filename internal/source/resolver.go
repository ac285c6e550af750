package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/model"
)

// Resolution is the first usable provider answer for a symbol.
type Resolution struct {
	Provider string
	Rows     []model.OHLCVRow
}

// Resolver tries clients in a fixed order and returns the first non-empty result.
type Resolver struct {
	clients []Client
	logger  zerolog.Logger
}

// NewResolver creates a resolver over clients in priority order.
func NewResolver(clients ...Client) *Resolver {
	return &Resolver{clients: clients, logger: log.Logger}
}

// WithLogger returns a copy of the resolver logging to l.
func (r *Resolver) WithLogger(l zerolog.Logger) *Resolver {
	cp := *r
	cp.logger = l
	return &cp
}

// Providers returns the provider names in the order they are tried.
func (r *Resolver) Providers() []string {
	names := make([]string, len(r.clients))
	for i, c := range r.clients {
		names[i] = c.Name()
	}
	return names
}

// Resolve asks each client in turn. An error result or an empty result moves on to
// the next client. When none yields rows the error wraps ErrNoProviderSucceeded
// together with every provider failure. Cancellation stops the trial immediately.
func (r *Resolver) Resolve(ctx context.Context, sym model.Symbol, w Window) (Resolution, error) {
	var failures []error
	for _, c := range r.clients {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}

		rows, err := c.Fetch(ctx, sym, w)
		var ev *zerolog.Event
		if err != nil {
			if ctx.Err() != nil {
				return Resolution{}, ctx.Err()
			}
			failures = append(failures, err)
			ev = r.logger.Warn().Err(err)
		} else {
			if len(rows) == 0 {
				failures = append(failures, fmt.Errorf("%s: empty result", c.Name()))
			}
			ev = r.logger.Info()
		}
		ev.Str("provider", c.Name()).
			Str("symbol", sym.Ticker).
			Str("coin_id", sym.CoinID).
			Str("window", w.String()).
			Int("rows", len(rows))
		if err == nil && len(rows) > 0 {
			ev.Msg("data source selected")
			return Resolution{Provider: c.Name(), Rows: rows}, nil
		}
		ev.Msg("data source returned no data")
	}
	return Resolution{}, fmt.Errorf("%s: %w", sym, errors.Join(append([]error{ErrNoProviderSucceeded}, failures...)...))
}
