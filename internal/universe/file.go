package universe

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/model"
)

var csvHeader = []string{
	"id", "symbol", "name", "market_cap_rank", "current_price",
	"market_cap", "total_volume", "last_updated", "is_active",
}

// Save writes entries as JSON or CSV depending on the file extension.
func Save(path string, entries []model.UniverseEntry) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create universe dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create universe file: %w", err)
	}
	defer f.Close()

	if isCSV(path) {
		w := csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			return err
		}
		for _, e := range entries {
			rec := []string{
				e.CoinID, e.Symbol, e.Name,
				strconv.Itoa(e.MarketCapRank),
				strconv.FormatFloat(e.CurrentPrice, 'f', -1, 64),
				strconv.FormatFloat(e.MarketCap, 'f', -1, 64),
				strconv.FormatFloat(e.TotalVolume, 'f', -1, 64),
				formatTime(e.LastUpdated),
				strconv.FormatBool(e.IsActive),
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if entries == nil {
		entries = []model.UniverseEntry{}
	}
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode universe: %w", err)
	}
	return nil
}

// Load reads a universe file. Entries failing validation or repeating a symbol
// are skipped with a warning. An empty result is an error.
func Load(path string) ([]model.UniverseEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}

	var raw []model.UniverseEntry
	if isCSV(path) {
		raw, err = decodeCSV(string(data))
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse universe file %s: %w", path, err)
	}

	validate := validator.New()
	seen := make(map[string]bool, len(raw))
	out := make([]model.UniverseEntry, 0, len(raw))
	for i, e := range raw {
		e.Symbol = strings.ToUpper(strings.TrimSpace(e.Symbol))
		if e.MarketCapRank == 0 {
			// rank is informational once the file exists
			e.MarketCapRank = i + 1
		}
		if err := validate.Struct(e); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skipping invalid universe entry")
			continue
		}
		if seen[e.Symbol] {
			log.Warn().Str("symbol", e.Symbol).Msg("skipping duplicate universe entry")
			continue
		}
		seen[e.Symbol] = true
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("universe file %s has no usable entries", path)
	}
	return out, nil
}

// Symbols projects entries to pipeline keys.
func Symbols(entries []model.UniverseEntry) []model.Symbol {
	out := make([]model.Symbol, len(entries))
	for i, e := range entries {
		out[i] = e.Key()
	}
	return out
}

func decodeCSV(data string) ([]model.UniverseEntry, error) {
	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["symbol"]; !ok {
		return nil, fmt.Errorf("missing symbol column")
	}
	if _, ok := col["id"]; !ok {
		return nil, fmt.Errorf("missing id column")
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	num := func(rec []string, name string) float64 {
		v, _ := strconv.ParseFloat(field(rec, name), 64)
		return v
	}

	out := make([]model.UniverseEntry, 0, len(records)-1)
	for _, rec := range records[1:] {
		e := model.UniverseEntry{
			CoinID:       field(rec, "id"),
			Symbol:       field(rec, "symbol"),
			Name:         field(rec, "name"),
			CurrentPrice: num(rec, "current_price"),
			MarketCap:    num(rec, "market_cap"),
			TotalVolume:  num(rec, "total_volume"),
			IsActive:     true,
		}
		e.MarketCapRank, _ = strconv.Atoi(field(rec, "market_cap_rank"))
		if v := field(rec, "is_active"); v != "" {
			e.IsActive, _ = strconv.ParseBool(v)
		}
		if t, err := time.Parse(time.RFC3339, field(rec, "last_updated")); err == nil {
			e.LastUpdated = t
		}
		out = append(out, e)
	}
	return out, nil
}

func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
