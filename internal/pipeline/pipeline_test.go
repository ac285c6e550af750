package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CryptoHarvest/internal/history"
	"CryptoHarvest/internal/model"
	"CryptoHarvest/internal/runlock"
	"CryptoHarvest/internal/source"
)

// stubClient serves canned series per ticker and honours the window like a real provider.
type stubClient struct {
	name   string
	mu     sync.Mutex
	series map[string][]model.OHLCVRow
	fail   map[string]bool
	calls  map[string]int
}

func newStub(name string) *stubClient {
	return &stubClient{name: name, series: map[string][]model.OHLCVRow{}, fail: map[string]bool{}, calls: map[string]int{}}
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Fetch(_ context.Context, sym model.Symbol, w source.Window) ([]model.OHLCVRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[sym.Ticker]++
	if s.fail[sym.Ticker] {
		return nil, &source.FetchError{Provider: s.name, Kind: source.KindTransport, Err: errors.New("connection reset")}
	}
	return model.FilterSince(s.series[sym.Ticker], w.Since), nil
}

func days(start model.Date, n int, base int64) []model.OHLCVRow {
	rows := make([]model.OHLCVRow, n)
	for i := range rows {
		p := decimal.NewFromInt(base + int64(i))
		rows[i] = model.OHLCVRow{Date: start.AddDays(i), Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(10)}
	}
	return rows
}

func universe(symbols ...string) []model.UniverseEntry {
	out := make([]model.UniverseEntry, len(symbols))
	for i, s := range symbols {
		out[i] = model.UniverseEntry{Symbol: s, CoinID: "id-" + s, MarketCapRank: i + 1}
	}
	return out
}

func resultFor(t *testing.T, r *Report, symbol string) SymbolResult {
	t.Helper()
	for _, res := range r.Results {
		if res.Symbol == symbol {
			return res
		}
	}
	t.Fatalf("no result for %s", symbol)
	return SymbolResult{}
}

var jan1 = model.NewDate(2024, 1, 1)

func TestRunIsIdempotent(t *testing.T) {
	root := t.TempDir()
	store, err := history.NewCSVStore(root)
	require.NoError(t, err)

	stub := newStub("yahoo")
	stub.series["BTC"] = days(jan1, 5, 100)
	p := New(source.NewResolver(stub), store)

	first, err := p.Run(context.Background(), universe("BTC"))
	require.NoError(t, err)
	assert.Equal(t, StateWritten, resultFor(t, first, "BTC").State)
	assert.Equal(t, "full", resultFor(t, first, "BTC").Mode)
	before, err := os.ReadFile(filepath.Join(root, "BTC.csv"))
	require.NoError(t, err)

	second, err := p.Run(context.Background(), universe("BTC"))
	require.NoError(t, err)
	res := resultFor(t, second, "BTC")
	assert.Equal(t, StateUpToDate, res.State)
	assert.Equal(t, "incremental", res.Mode)
	after, err := os.ReadFile(filepath.Join(root, "BTC.csv"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunIncrementalAppends(t *testing.T) {
	ctx := context.Background()
	store, err := history.NewCSVStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.WriteFull(ctx, "ETH", days(jan1, 5, 100)))

	stub := newStub("binance")
	// provider ignores the window and resends the last stored day with a new price
	incoming := days(jan1.AddDays(4), 2, 500)
	stub.series["ETH"] = incoming
	p := New(source.NewResolver(ignoreWindow{stub}), store)

	report, err := p.Run(ctx, universe("ETH"))
	require.NoError(t, err)
	res := resultFor(t, report, "ETH")
	assert.Equal(t, StateWritten, res.State)
	assert.Equal(t, "binance", res.Provider)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, "2024-01-06", res.LastDate.String())

	rows, err := store.Read(ctx, "ETH")
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.True(t, rows[4].Close.Equal(decimal.NewFromInt(104)), "stored day is not rewritten from an out-of-window row")
	assert.True(t, rows[5].Close.Equal(decimal.NewFromInt(501)))
}

// ignoreWindow returns the full canned series regardless of since.
type ignoreWindow struct{ *stubClient }

func (c ignoreWindow) Fetch(ctx context.Context, sym model.Symbol, _ source.Window) ([]model.OHLCVRow, error) {
	return c.stubClient.Fetch(ctx, sym, source.FullHistory())
}

func TestRunFailureDoesNotAbortBatch(t *testing.T) {
	store, err := history.NewCSVStore(t.TempDir())
	require.NoError(t, err)

	primary := newStub("yahoo")
	primary.fail["BAD"] = true
	primary.series["BTC"] = days(jan1, 3, 1)
	fallback := newStub("coingecko")
	fallback.fail["BAD"] = true
	fallback.series["SOL"] = days(jan1, 2, 1)

	p := New(source.NewResolver(primary, fallback), store)
	report, err := p.Run(context.Background(), universe("BAD", "BTC", "SOL"))
	require.NoError(t, err)

	assert.Equal(t, StateFailedNoData, resultFor(t, report, "BAD").State)
	assert.Contains(t, resultFor(t, report, "BAD").Error, "connection reset")
	assert.Equal(t, StateWritten, resultFor(t, report, "BTC").State)
	sol := resultFor(t, report, "SOL")
	assert.Equal(t, StateWritten, sol.State)
	assert.Equal(t, "coingecko", sol.Provider)

	assert.Equal(t, 2, report.Counts[StateWritten])
	assert.Equal(t, 1, report.Counts[StateFailedNoData])
	require.Len(t, report.Failures(), 1)
	assert.Contains(t, report.Summary(), "written=2")
	assert.Contains(t, report.Summary(), "failed_no_data=1")

	// results keep input order
	assert.Equal(t, []string{"BAD", "BTC", "SOL"}, []string{report.Results[0].Symbol, report.Results[1].Symbol, report.Results[2].Symbol})
}

func TestRunIncrementalProviderErrorIsUpToDate(t *testing.T) {
	ctx := context.Background()
	store, err := history.NewCSVStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.WriteFull(ctx, "BTC", days(jan1, 2, 1)))

	stub := newStub("yahoo")
	stub.fail["BTC"] = true
	report, err := New(source.NewResolver(stub), store).Run(ctx, universe("BTC"))
	require.NoError(t, err)
	assert.Equal(t, StateUpToDate, resultFor(t, report, "BTC").State)
}

func TestRunDuplicateSymbolsOnce(t *testing.T) {
	store, err := history.NewCSVStore(t.TempDir())
	require.NoError(t, err)
	stub := newStub("yahoo")
	stub.series["BTC"] = days(jan1, 2, 1)

	report, err := New(source.NewResolver(stub), store).Run(context.Background(), universe("BTC", "btc", "BTC"))
	require.NoError(t, err)
	assert.Len(t, report.Results, 1)
	assert.Equal(t, 1, stub.calls["BTC"])
}

func TestRunParallelWorkers(t *testing.T) {
	store, err := history.NewCSVStore(t.TempDir())
	require.NoError(t, err)
	stub := newStub("yahoo")
	var symbols []string
	for i := 0; i < 20; i++ {
		sym := fmt.Sprintf("C%02d", i)
		symbols = append(symbols, sym)
		stub.series[sym] = days(jan1, 3+i, int64(i))
	}

	report, err := New(source.NewResolver(stub), store, WithWorkers(4)).Run(context.Background(), universe(symbols...))
	require.NoError(t, err)
	assert.Equal(t, 20, report.Counts[StateWritten])

	stored, err := store.Symbols(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 20)
	for i, sym := range symbols {
		assert.Equal(t, sym, report.Results[i].Symbol)
		assert.Equal(t, 3+i, report.Results[i].Rows)
	}
}

type failingStore struct{ history.Store }

func (failingStore) WriteFull(context.Context, string, []model.OHLCVRow) error {
	return errors.New("disk full")
}

func TestRunStoreFailure(t *testing.T) {
	inner, err := history.NewCSVStore(t.TempDir())
	require.NoError(t, err)
	stub := newStub("yahoo")
	stub.series["BTC"] = days(jan1, 2, 1)

	report, err := New(source.NewResolver(stub), failingStore{inner}).Run(context.Background(), universe("BTC"))
	require.NoError(t, err)
	res := resultFor(t, report, "BTC")
	assert.Equal(t, StateFailedStore, res.State)
	assert.Equal(t, "disk full", res.Error)
}

func TestRunLocked(t *testing.T) {
	store, err := history.NewCSVStore(t.TempDir())
	require.NoError(t, err)
	lock := runlock.NewLocal()
	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = New(source.NewResolver(newStub("yahoo")), store, WithLocker(lock)).Run(context.Background(), universe("BTC"))
	assert.True(t, IsLocked(err))
}

func TestRunCancelled(t *testing.T) {
	store, err := history.NewCSVStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = New(source.NewResolver(newStub("yahoo")), store).Run(ctx, universe("BTC"))
	assert.ErrorIs(t, err, context.Canceled)
}

// gatedClient blocks every fetch until gate is closed.
type gatedClient struct {
	*stubClient
	gate chan struct{}
}

func (c gatedClient) Fetch(ctx context.Context, sym model.Symbol, w source.Window) ([]model.OHLCVRow, error) {
	<-c.gate
	return c.stubClient.Fetch(ctx, sym, w)
}

func TestStartHoldsLockUntilDone(t *testing.T) {
	store, err := history.NewCSVStore(t.TempDir())
	require.NoError(t, err)
	stub := newStub("yahoo")
	stub.series["BTC"] = days(jan1, 2, 1)
	gate := make(chan struct{})

	p := New(source.NewResolver(gatedClient{stub, gate}), store, WithLocker(runlock.NewLocal()))
	h, err := p.Start(context.Background(), universe("BTC"))
	require.NoError(t, err)
	assert.NotEmpty(t, h.RunID)

	_, err = p.Start(context.Background(), universe("BTC"))
	assert.True(t, IsLocked(err))

	close(gate)
	report := h.Wait()
	assert.Equal(t, h.RunID, report.RunID)
	assert.Same(t, report, h.Wait())

	again, err := p.Run(context.Background(), universe("BTC"))
	require.NoError(t, err)
	assert.Equal(t, StateUpToDate, resultFor(t, again, "BTC").State)
}
