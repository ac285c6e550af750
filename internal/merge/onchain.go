package merge

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/model"
)

// NVTColumn is the network-value-to-transactions ratio column.
const NVTColumn = "NVT_Ratio"

// DefaultMetrics are the on-chain columns carried into the merged dataset.
var DefaultMetrics = []string{
	"AdrActCnt",
	"TxCnt",
	"TxTfrValAdjUSD",
	"CapMrktCurUSD",
	"volume_reported_spot_usd_1d",
	NVTColumn,
}

type key struct {
	symbol string
	date   model.Date
}

// OnChain holds per-day metric values by symbol.
type OnChain struct {
	metrics []string
	values  map[key]map[string]float64
}

// Metrics lists the metric columns in output order.
func (o *OnChain) Metrics() []string {
	if o == nil {
		return nil
	}
	return o.metrics
}

// Lookup returns the metrics for a symbol on a day, or nil.
func (o *OnChain) Lookup(symbol string, d model.Date) map[string]float64 {
	if o == nil {
		return nil
	}
	return o.values[key{strings.ToUpper(symbol), d}]
}

// Len is the number of (symbol, day) entries.
func (o *OnChain) Len() int {
	if o == nil {
		return 0
	}
	return len(o.values)
}

// LoadOnChain reads every CSV in dir. The symbol is the file name up to the first
// underscore ("btc_nvt.csv" is BTC) and dates come from the "time" column. Only the
// requested metrics are kept; NVT is derived from market cap over reported spot
// volume when a file lacks it. Unreadable files are skipped with a warning.
func LoadOnChain(dir string, metrics []string) (*OnChain, error) {
	if len(metrics) == 0 {
		metrics = DefaultMetrics
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	out := &OnChain{metrics: metrics, values: make(map[key]map[string]float64)}
	for _, path := range files {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		symbol := strings.ToUpper(strings.SplitN(stem, "_", 2)[0])
		n, dropped, err := out.loadFile(path, symbol)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("skipping on-chain file")
			continue
		}
		if dropped > 0 {
			log.Warn().Str("file", path).Int("dropped", dropped).Msg("skipped malformed on-chain rows")
		}
		log.Debug().Str("symbol", symbol).Int("rows", n).Msg("on-chain file loaded")
	}
	return out, nil
}

// loadFile returns the number of rows kept and of malformed rows skipped.
func (o *OnChain) loadFile(path, symbol string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	timeIdx, ok := col["time"]
	if !ok {
		return 0, 0, fmt.Errorf("missing time column")
	}

	cell := func(rec []string, name string) (float64, bool) {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	n, dropped := 0, 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				dropped++
				continue
			}
			return n, dropped, fmt.Errorf("read row: %w", err)
		}
		if timeIdx >= len(rec) {
			dropped++
			continue
		}
		d, err := model.ParseDate(rec[timeIdx])
		if err != nil {
			dropped++
			continue
		}
		vals := make(map[string]float64, len(o.metrics))
		for _, m := range o.metrics {
			if v, ok := cell(rec, m); ok {
				vals[m] = v
			}
		}
		if _, ok := vals[NVTColumn]; !ok && o.wants(NVTColumn) {
			capUSD, okCap := cell(rec, "CapMrktCurUSD")
			vol, okVol := cell(rec, "volume_reported_spot_usd_1d")
			if okCap && okVol && capUSD > 0 && vol > 0 {
				vals[NVTColumn] = capUSD / vol
			}
		}
		o.values[key{symbol, d}] = vals
		n++
	}
	return n, dropped, nil
}

func (o *OnChain) wants(metric string) bool {
	for _, m := range o.metrics {
		if m == metric {
			return true
		}
	}
	return false
}
