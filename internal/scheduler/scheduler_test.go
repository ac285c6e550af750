package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CryptoHarvest/internal/history"
	"CryptoHarvest/internal/merge"
	"CryptoHarvest/internal/model"
	"CryptoHarvest/internal/pipeline"
	"CryptoHarvest/internal/recorder"
	"CryptoHarvest/internal/runlock"
	"CryptoHarvest/internal/source"
	"CryptoHarvest/internal/universe"
)

type staticClient map[string][]model.OHLCVRow

func (staticClient) Name() string { return "static" }

func (c staticClient) Fetch(_ context.Context, sym model.Symbol, w source.Window) ([]model.OHLCVRow, error) {
	return model.FilterSince(c[sym.Ticker], w.Since), nil
}

func fixture(t *testing.T) (*Scheduler, history.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := history.NewCSVStore(filepath.Join(dir, "historical"))
	require.NoError(t, err)

	start := model.NewDate(2024, 1, 1)
	var rows []model.OHLCVRow
	for i := 0; i < 10; i++ {
		p := decimal.NewFromInt(int64(100 + i))
		rows = append(rows, model.OHLCVRow{Date: start.AddDays(i), Open: p, High: p, Low: p, Close: p, Volume: p})
	}
	client := staticClient{"BTC": rows}

	universeFile := filepath.Join(dir, "universe.json")
	require.NoError(t, universe.Save(universeFile, []model.UniverseEntry{
		{Symbol: "BTC", CoinID: "bitcoin", MarketCapRank: 1},
		{Symbol: "NOPE", CoinID: "nope", MarketCapRank: 2},
	}))

	mergeOut := filepath.Join(dir, "all_coins.csv")
	s := NewScheduler(context.Background(), Deps{
		Pipeline:     pipeline.New(source.NewResolver(client), store, pipeline.WithLocker(runlock.NewLocal())),
		Store:        store,
		Recorder:     recorder.NewNoopRecorder(),
		Merge:        &merge.Options{Output: mergeOut},
		UniverseFile: universeFile,
	})
	return s, store, mergeOut
}

func TestRunNowRecordsAndMerges(t *testing.T) {
	s, store, mergeOut := fixture(t)

	report, err := s.RunNow()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts[pipeline.StateWritten])
	assert.Equal(t, 1, report.Counts[pipeline.StateFailedNoData])

	latest, err := s.Recorder.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, report.RunID, latest.RunID)
	assert.FileExists(t, mergeOut)

	last, err := store.LastKnownDate(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-10", last.String())
}

func TestRunNowMissingUniverse(t *testing.T) {
	s, _, _ := fixture(t)
	s.UniverseFile = filepath.Join(t.TempDir(), "missing.json")
	_, err := s.RunNow()
	assert.Error(t, err)
}

func TestHandleCommands(t *testing.T) {
	s, _, mergeOut := fixture(t)
	ctx := context.Background()

	assert.Equal(t, "No run recorded yet.", s.HandleCommand(ctx, "/status"))
	assert.Contains(t, s.HandleCommand(ctx, "/help"), "/series SYMBOL")
	assert.Equal(t, "Usage: /series SYMBOL", s.HandleCommand(ctx, "/series"))
	assert.Contains(t, s.HandleCommand(ctx, "/series btc"), "No history stored for BTC")

	reply := s.HandleCommand(ctx, "/run")
	assert.Contains(t, reply, "started")

	// the merge is the last post-run step
	require.Eventually(t, func() bool {
		_, err := os.Stat(mergeOut)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, s.HandleCommand(ctx, "/status"), "written=1")
	assert.Contains(t, s.HandleCommand(ctx, "/series BTC"), "10 days, 2024-01-01 → 2024-01-10")
}

func TestRegisterAll(t *testing.T) {
	s, _, _ := fixture(t)
	require.NoError(t, s.RegisterAll("0 30 0 * * *", "0 0 0 * * 1"))
	// no builder configured, so only the daily task is scheduled
	assert.Len(t, s.Cron.Entries(), 1)

	assert.Error(t, s.RegisterAll("not a cron", ""))
}

func TestRebuildUniverseWithoutBuilder(t *testing.T) {
	s, _, _ := fixture(t)
	_, err := s.RebuildUniverse(context.Background())
	assert.Error(t, err)
}
