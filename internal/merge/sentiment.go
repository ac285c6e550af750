package merge

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"CryptoHarvest/internal/model"
)

// NewsScore is one scored news item.
type NewsScore struct {
	Symbol string
	Date   model.Date
	Score  float64
}

// DailySentiment is the mean score of a symbol's news on one day.
type DailySentiment struct {
	Symbol string
	Date   model.Date
	Score  float64
	Count  int
}

// AggregateDaily averages scores per (symbol, day), sorted by symbol then date.
func AggregateDaily(scores []NewsScore) []DailySentiment {
	type acc struct {
		sum float64
		n   int
	}
	sums := make(map[key]*acc)
	for _, s := range scores {
		k := key{strings.ToUpper(s.Symbol), s.Date}
		a, ok := sums[k]
		if !ok {
			a = &acc{}
			sums[k] = a
		}
		a.sum += s.Score
		a.n++
	}
	out := make([]DailySentiment, 0, len(sums))
	for k, a := range sums {
		out = append(out, DailySentiment{Symbol: k.symbol, Date: k.date, Score: a.sum / float64(a.n), Count: a.n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Sentiment indexes daily scores by (symbol, day).
type Sentiment map[key]float64

// NewSentiment indexes daily aggregates.
func NewSentiment(daily []DailySentiment) Sentiment {
	s := make(Sentiment, len(daily))
	for _, d := range daily {
		s[key{strings.ToUpper(d.Symbol), d.Date}] = d.Score
	}
	return s
}

// Lookup returns the score for a symbol on a day, or nil.
func (s Sentiment) Lookup(symbol string, d model.Date) *float64 {
	v, ok := s[key{strings.ToUpper(symbol), d}]
	if !ok {
		return nil
	}
	return &v
}

// LoadSentiment reads either a daily file (symbol, date, sentiment_score) or a
// per-news file (symbol, newsDatetime or date, vader_score), which is aggregated.
func LoadSentiment(path string) (Sentiment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sentiment file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read sentiment file: %w", err)
	}
	if len(records) == 0 {
		return Sentiment{}, nil
	}
	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.TrimSpace(h)] = i
	}
	symIdx, ok := col["symbol"]
	if !ok {
		return nil, fmt.Errorf("sentiment file %s: missing symbol column", path)
	}

	if scoreIdx, daily := col["sentiment_score"]; daily {
		dateIdx, ok := col["date"]
		if !ok {
			return nil, fmt.Errorf("sentiment file %s: missing date column", path)
		}
		var rows []DailySentiment
		for _, rec := range records[1:] {
			d, v, ok := parseScored(rec, dateIdx, scoreIdx)
			if ok && symIdx < len(rec) {
				rows = append(rows, DailySentiment{Symbol: rec[symIdx], Date: d, Score: v, Count: 1})
			}
		}
		return NewSentiment(rows), nil
	}

	dateIdx, ok := col["newsDatetime"]
	if !ok {
		if dateIdx, ok = col["date"]; !ok {
			return nil, fmt.Errorf("sentiment file %s: missing newsDatetime/date column", path)
		}
	}
	scoreIdx, ok := col["vader_score"]
	if !ok {
		titleIdx, raw := col["title"]
		if !raw {
			return nil, fmt.Errorf("sentiment file %s: need sentiment_score, vader_score or title column", path)
		}
		descIdx, hasDesc := col["description"]
		if !hasDesc {
			descIdx = -1
		}
		items := newsItems(records[1:], symIdx, dateIdx, titleIdx, descIdx)
		return NewSentiment(AggregateDaily(ScoreNews(NewVader(), items))), nil
	}
	var scores []NewsScore
	for _, rec := range records[1:] {
		d, v, ok := parseScored(rec, dateIdx, scoreIdx)
		if ok && symIdx < len(rec) {
			scores = append(scores, NewsScore{Symbol: rec[symIdx], Date: d, Score: v})
		}
	}
	return NewSentiment(AggregateDaily(scores)), nil
}

func parseScored(rec []string, dateIdx, scoreIdx int) (model.Date, float64, bool) {
	if dateIdx >= len(rec) || scoreIdx >= len(rec) {
		return model.Date{}, 0, false
	}
	d, err := model.ParseDate(rec[dateIdx])
	if err != nil {
		return model.Date{}, 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[scoreIdx]), 64)
	if err != nil {
		return model.Date{}, 0, false
	}
	return d, v, true
}
