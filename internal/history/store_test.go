package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CryptoHarvest/internal/model"
)

func row(d model.Date, price int64) model.OHLCVRow {
	p := decimal.NewFromInt(price)
	return model.OHLCVRow{Date: d, Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(10)}
}

func janRows(from, to int, price int64) []model.OHLCVRow {
	var rows []model.OHLCVRow
	for d := from; d <= to; d++ {
		rows = append(rows, row(model.NewDate(2024, time.January, d), price))
	}
	return rows
}

func assertOrderedUnique(t *testing.T, rows []model.OHLCVRow) {
	t.Helper()
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i-1].Date.Before(rows[i].Date), "rows %d and %d out of order or duplicated", i-1, i)
	}
}

// storeContract runs the behaviour every backend must share.
func storeContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("fresh store has no last date", func(t *testing.T) {
		s := open(t)
		d, err := s.LastKnownDate(ctx, "BTC")
		require.NoError(t, err)
		assert.True(t, d.IsZero())

		rows, err := s.Read(ctx, "BTC")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("last date after full write", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.WriteFull(ctx, "BTC", janRows(1, 5, 100)))

		d, err := s.LastKnownDate(ctx, "BTC")
		require.NoError(t, err)
		assert.Equal(t, "2024-01-05", d.String())
	})

	t.Run("write full replaces", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.WriteFull(ctx, "BTC", janRows(1, 10, 100)))
		require.NoError(t, s.WriteFull(ctx, "BTC", janRows(3, 4, 200)))

		rows, err := s.Read(ctx, "BTC")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "200", rows[0].Close.String())
	})

	t.Run("write full normalizes unsorted input", func(t *testing.T) {
		s := open(t)
		in := []model.OHLCVRow{
			row(model.NewDate(2024, 1, 3), 3),
			row(model.NewDate(2024, 1, 1), 1),
			row(model.NewDate(2024, 1, 3), 33),
		}
		require.NoError(t, s.WriteFull(ctx, "ETH", in))
		rows, err := s.Read(ctx, "ETH")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assertOrderedUnique(t, rows)
		assert.Equal(t, "33", rows[1].Close.String())
	})

	t.Run("append dedups with new value winning", func(t *testing.T) {
		s := open(t)
		old := janRows(1, 5, 100)
		require.NoError(t, s.WriteFull(ctx, "BTC", old))

		incoming := []model.OHLCVRow{
			row(model.NewDate(2024, 1, 5), 555),
			row(model.NewDate(2024, 1, 6), 600),
		}
		require.NoError(t, s.AppendAndDedup(ctx, "BTC", incoming))

		rows, err := s.Read(ctx, "BTC")
		require.NoError(t, err)
		require.Len(t, rows, len(old)+1)
		assertOrderedUnique(t, rows)
		assert.Equal(t, "555", rows[4].Close.String())
		assert.Equal(t, "2024-01-06", rows[5].Date.String())

		d, err := s.LastKnownDate(ctx, "BTC")
		require.NoError(t, err)
		assert.Equal(t, "2024-01-06", d.String())
	})

	t.Run("append nothing is a no-op", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.WriteFull(ctx, "BTC", janRows(1, 5, 100)))
		before, err := s.Read(ctx, "BTC")
		require.NoError(t, err)

		require.NoError(t, s.AppendAndDedup(ctx, "BTC", nil))
		require.NoError(t, s.AppendAndDedup(ctx, "NEW", []model.OHLCVRow{}))

		after, err := s.Read(ctx, "BTC")
		require.NoError(t, err)
		assert.Equal(t, before, after)

		syms, err := s.Symbols(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"BTC"}, syms)
	})

	t.Run("degraded flag round trips", func(t *testing.T) {
		s := open(t)
		r := row(model.NewDate(2024, 2, 1), 7)
		r.DegradedOHLC = true
		r.Close = decimal.RequireFromString("7.123456789")
		require.NoError(t, s.WriteFull(ctx, "SOL", []model.OHLCVRow{r}))

		rows, err := s.Read(ctx, "SOL")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].DegradedOHLC)
		assert.Equal(t, "7.123456789", rows[0].Close.String())
	})
}

func TestCSVStore_Contract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := NewCSVStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestCSVStore_CorruptDatesMeanNoLastDate(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVStore(dir)
	require.NoError(t, err)

	content := "date,open,high,low,close,volume\nnot-a-date,1,1,1,1,1\n???,2,2,2,2,2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTC.csv"), []byte(content), 0o644))

	d, err := s.LastKnownDate(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
}

func TestCSVStore_MissingDateColumn(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTC.csv"), []byte("time,price\n1,2\n"), 0o644))

	d, err := s.LastKnownDate(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = s.Read(context.Background(), "BTC")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCSVStore_SkipsBadRowsKeepsGoodOnes(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVStore(dir)
	require.NoError(t, err)
	content := "date,open,high,low,close,volume\n2024-01-02,1,1,1,1,1\nbad,1,1,1,1,1\n2024-01-01,2,2,2,2,2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTC.csv"), []byte(content), 0o644))

	rows, err := s.Read(context.Background(), "BTC")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-01", rows[0].Date.String())
}

func TestCSVStore_FileLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.WriteFull(context.Background(), "btc", janRows(1, 2, 5)))

	data, err := os.ReadFile(filepath.Join(dir, "BTC.csv"))
	require.NoError(t, err)
	want := "date,open,high,low,close,volume,degraded_ohlc\n" +
		"2024-01-01,5,5,5,5,10,false\n" +
		"2024-01-02,5,5,5,5,10,false\n"
	assert.Equal(t, want, string(data))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "BTC.csv", FileName("btc"))
	assert.Equal(t, "A_B_.csv", FileName("a/b."))
}

func TestMergeRows(t *testing.T) {
	merged := MergeRows(janRows(1, 3, 1), janRows(3, 4, 2))
	require.Len(t, merged, 4)
	assert.Equal(t, "2", merged[2].Close.String())
	assertOrderedUnique(t, merged)
}

func TestOpen(t *testing.T) {
	_, err := Open("parquet", t.TempDir(), "")
	assert.Error(t, err)

	s, err := Open("csv", t.TempDir(), "")
	require.NoError(t, err)
	assert.IsType(t, &CSVStore{}, s)
}
