package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"CryptoHarvest/internal/model"
)

var csvHeader = []string{"date", "open", "high", "low", "close", "volume", "degraded_ohlc"}

// CSVStore keeps each series in {root}/{SYMBOL}.csv and rewrites the whole file on every write.
type CSVStore struct {
	root  string
	locks sync.Map // symbol -> *sync.Mutex
}

// NewCSVStore creates the root directory if needed.
func NewCSVStore(root string) (*CSVStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &CSVStore{root: root}, nil
}

// FileName maps a symbol to its series file name.
func FileName(symbol string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(symbol)) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String() + ".csv"
}

func (s *CSVStore) path(symbol string) string {
	return filepath.Join(s.root, FileName(symbol))
}

func (s *CSVStore) lock(symbol string) func() {
	m, _ := s.locks.LoadOrStore(FileName(symbol), &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *CSVStore) LastKnownDate(_ context.Context, symbol string) (model.Date, error) {
	unlock := s.lock(symbol)
	defer unlock()

	rows, err := s.read(symbol)
	if err != nil {
		if isCorrupt(err) {
			log.Warn().Err(err).Str("symbol", symbol).Msg("series unreadable, treating as never fetched")
			return model.Date{}, nil
		}
		return model.Date{}, err
	}
	return model.LastDate(rows), nil
}

func (s *CSVStore) WriteFull(_ context.Context, symbol string, rows []model.OHLCVRow) error {
	unlock := s.lock(symbol)
	defer unlock()
	return s.write(symbol, model.Normalize(rows))
}

func (s *CSVStore) AppendAndDedup(_ context.Context, symbol string, rows []model.OHLCVRow) error {
	if len(rows) == 0 {
		return nil
	}
	unlock := s.lock(symbol)
	defer unlock()

	existing, err := s.read(symbol)
	if err != nil && !isCorrupt(err) {
		return err
	}
	return s.write(symbol, MergeRows(existing, rows))
}

func (s *CSVStore) Read(_ context.Context, symbol string) ([]model.OHLCVRow, error) {
	unlock := s.lock(symbol)
	defer unlock()
	return s.read(symbol)
}

func (s *CSVStore) Symbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list storage root: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".csv"))
	}
	sort.Strings(out)
	return out, nil
}

func (s *CSVStore) Close() error { return nil }

// read loads a series. Rows whose date or prices cannot be parsed are dropped.
func (s *CSVStore) read(symbol string) ([]model.OHLCVRow, error) {
	f, err := os.Open(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open series %s: %w", symbol, err)
	}
	defer f.Close()

	rows, dropped, err := decodeCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, symbol, err)
	}
	if dropped > 0 {
		log.Warn().Str("symbol", symbol).Int("dropped", dropped).Msg("skipped unparseable rows in series")
	}
	return model.Normalize(rows), nil
}

func decodeCSV(r io.Reader) ([]model.OHLCVRow, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, 0, err
	}
	if len(records) == 0 {
		return nil, 0, nil
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range csvHeader[:6] {
		if _, ok := col[required]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	rows := make([]model.OHLCVRow, 0, len(records)-1)
	dropped := 0
	for _, rec := range records[1:] {
		d, err := model.ParseDate(field(rec, "date"))
		if err != nil {
			dropped++
			continue
		}
		row := model.OHLCVRow{Date: d}
		ok := true
		for name, dst := range map[string]*decimal.Decimal{
			"open": &row.Open, "high": &row.High, "low": &row.Low, "close": &row.Close, "volume": &row.Volume,
		} {
			v := field(rec, name)
			if v == "" {
				*dst = decimal.Zero
				continue
			}
			parsed, err := decimal.NewFromString(v)
			if err != nil {
				ok = false
				break
			}
			*dst = parsed
		}
		if !ok {
			dropped++
			continue
		}
		row.DegradedOHLC, _ = strconv.ParseBool(field(rec, "degraded_ohlc"))
		rows = append(rows, row)
	}
	return rows, dropped, nil
}

func encodeCSV(rows []model.OHLCVRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		rec := []string{
			r.Date.String(),
			r.Open.String(),
			r.High.String(),
			r.Low.String(),
			r.Close.String(),
			r.Volume.String(),
			strconv.FormatBool(r.DegradedOHLC),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// write replaces the file atomically so an interrupted run never leaves a partial series.
func (s *CSVStore) write(symbol string, rows []model.OHLCVRow) error {
	data, err := encodeCSV(rows)
	if err != nil {
		return fmt.Errorf("encode series %s: %w", symbol, err)
	}
	tmp, err := os.CreateTemp(s.root, FileName(symbol)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write series %s: %w", symbol, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close series %s: %w", symbol, err)
	}
	if err := os.Rename(tmp.Name(), s.path(symbol)); err != nil {
		return fmt.Errorf("replace series %s: %w", symbol, err)
	}
	return nil
}

func isCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
