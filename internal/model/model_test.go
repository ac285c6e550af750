package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-01-05", "2024-01-05"},
		{" 2024-01-05 ", "2024-01-05"},
		{"2024-01-05T10:11:12Z", "2024-01-05"},
		{"2024-01-05T23:30:00-05:00", "2024-01-05"},
		{"2024-01-05 10:11:12", "2024-01-05"},
		{"2024-01-05T10:11:12", "2024-01-05"},
		{"2024-01-05 10:11:12+02:00", "2024-01-05"},
		{"2024-01-05T10:11:12.000Z", "2024-01-05"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
		})
	}

	for _, bad := range []string{"", "   ", "garbage", "2024-13-01", "05/01/2024"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDateText(t *testing.T) {
	var d Date
	require.NoError(t, d.UnmarshalText([]byte("2024-02-29")))
	assert.Equal(t, NewDate(2024, 2, 29), d)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", string(b))

	require.NoError(t, d.UnmarshalText(nil))
	assert.True(t, d.IsZero())
	assert.Equal(t, "", d.String())

	assert.Equal(t, "2024-03-01", NewDate(2024, 2, 29).AddDays(1).String())
}

func row(d Date, close int64) OHLCVRow {
	return OHLCVRow{Date: d, Close: decimal.NewFromInt(close)}
}

func TestNormalize(t *testing.T) {
	d1, d2, d3 := NewDate(2024, 1, 1), NewDate(2024, 1, 2), NewDate(2024, 1, 3)
	tests := []struct {
		name   string
		in     []OHLCVRow
		dates  []Date
		closes []int64
	}{
		{"empty", nil, nil, nil},
		{"sorts", []OHLCVRow{row(d3, 3), row(d1, 1), row(d2, 2)}, []Date{d1, d2, d3}, []int64{1, 2, 3}},
		{"last write wins", []OHLCVRow{row(d1, 1), row(d2, 2), row(d1, 10)}, []Date{d1, d2}, []int64{10, 2}},
		{"zero dates dropped", []OHLCVRow{row(Date{}, 9), row(d2, 2)}, []Date{d2}, []int64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			require.Len(t, got, len(tt.dates))
			for i := range got {
				assert.Equal(t, tt.dates[i], got[i].Date)
				assert.Equal(t, tt.closes[i], got[i].Close.IntPart())
			}
		})
	}
}

func TestFilterSince(t *testing.T) {
	d1, d2, d3 := NewDate(2024, 1, 1), NewDate(2024, 1, 2), NewDate(2024, 1, 3)
	rows := []OHLCVRow{row(d1, 1), row(d2, 2), row(d3, 3)}

	tests := []struct {
		name  string
		since Date
		want  int
	}{
		{"zero keeps all", Date{}, 3},
		{"boundary is inclusive", d2, 2},
		{"before first", NewDate(2023, 12, 31), 3},
		{"after last", NewDate(2024, 1, 4), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterSince(rows, tt.since)
			assert.Len(t, got, tt.want)
			if tt.want > 0 {
				assert.False(t, got[0].Date.Before(tt.since))
			}
		})
	}
	assert.Len(t, rows, 3, "input untouched")
}

func TestLastDateAndCloses(t *testing.T) {
	assert.True(t, LastDate(nil).IsZero())
	rows := []OHLCVRow{row(NewDate(2024, 1, 3), 3), row(NewDate(2024, 1, 1), 1)}
	assert.Equal(t, NewDate(2024, 1, 3), LastDate(rows))
	assert.Equal(t, []float64{3, 1}, Closes(rows))
}
