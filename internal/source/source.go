// Package source fetches daily OHLCV history from upstream market-data providers
// and resolves a symbol against an ordered list of them.
package source

import (
	"context"
	"errors"
	"fmt"

	"CryptoHarvest/internal/model"
)

// Client fetches daily OHLCV rows for one symbol. Implementations are stateless
// and safe for concurrent use across symbols.
//
// An empty slice with a nil error means the provider has no data for the symbol.
// Returned rows are ascending by date with one row per date.
type Client interface {
	Name() string
	Fetch(ctx context.Context, sym model.Symbol, w Window) ([]model.OHLCVRow, error)
}

// Window bounds a fetch. A zero Since requests the entire available history.
type Window struct {
	Since model.Date
}

// FullHistory is the unbounded window.
func FullHistory() Window { return Window{} }

// SinceDate requests rows dated on or after d.
func SinceDate(d model.Date) Window { return Window{Since: d} }

func (w Window) IsFull() bool { return w.Since.IsZero() }

func (w Window) String() string {
	if w.IsFull() {
		return "full"
	}
	return "since " + w.Since.String()
}

var (
	// ErrRateLimited matches a FetchError whose retries ran out on rate-limit responses.
	ErrRateLimited = errors.New("rate limited")
	// ErrNoProviderSucceeded is returned by Resolver when every candidate failed or was empty.
	ErrNoProviderSucceeded = errors.New("no provider succeeded")
)

// Kind classifies a FetchError.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindRateLimited
	KindStatus
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate_limited"
	case KindStatus:
		return "status"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// FetchError reports a failed provider call.
type FetchError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Body       []byte
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// statusOf returns the HTTP status carried by a FetchError, or 0.
func statusOf(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == KindStatus {
		return fe.StatusCode
	}
	return 0
}

func parseError(provider string, err error) error {
	return &FetchError{Provider: provider, Kind: KindParse, Err: err}
}
