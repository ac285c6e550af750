package merge

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonreiter/govader"

	"CryptoHarvest/internal/model"
)

// NewsItem is one unscored article about a symbol.
type NewsItem struct {
	Symbol      string
	Date        model.Date
	Title       string
	Description string
}

// Text is what gets scored: title and description joined.
func (n NewsItem) Text() string {
	return strings.TrimSpace(n.Title + " " + n.Description)
}

// Scorer rates text from -1 (most negative) to +1 (most positive).
type Scorer interface {
	Score(text string) float64
}

// Vader scores with the VADER lexicon and reports the compound value.
type Vader struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewVader() *Vader {
	return &Vader{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

func (v *Vader) Score(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return v.analyzer.PolarityScores(text).Compound
}

// ScoreNews scores every item with s.
func ScoreNews(s Scorer, items []NewsItem) []NewsScore {
	out := make([]NewsScore, 0, len(items))
	for _, it := range items {
		out = append(out, NewsScore{Symbol: it.Symbol, Date: it.Date, Score: s.Score(it.Text())})
	}
	return out
}

// newsItems reads raw article rows; descIdx < 0 means there is no description
// column. Rows without a symbol or a parseable date are skipped.
func newsItems(records [][]string, symIdx, dateIdx, titleIdx, descIdx int) []NewsItem {
	cell := func(rec []string, i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	items := make([]NewsItem, 0, len(records))
	for _, rec := range records {
		sym := cell(rec, symIdx)
		d, err := model.ParseDate(cell(rec, dateIdx))
		if sym == "" || err != nil {
			continue
		}
		items = append(items, NewsItem{
			Symbol:      sym,
			Date:        d,
			Title:       cell(rec, titleIdx),
			Description: cell(rec, descIdx),
		})
	}
	return items
}

// WriteDailySentiment writes daily aggregates as symbol,date,sentiment_score,news_count.
// LoadSentiment reads the result back as a daily file.
func WriteDailySentiment(path string, daily []DailySentiment) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sentiment dir: %w", err)
	}
	records := make([][]string, 0, len(daily)+1)
	records = append(records, []string{"symbol", "date", SentimentColumn, "news_count"})
	for _, d := range daily {
		records = append(records, []string{
			d.Symbol,
			d.Date.String(),
			strconv.FormatFloat(d.Score, 'f', -1, 64),
			strconv.Itoa(d.Count),
		})
	}
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("encode sentiment: %w", err)
	}
	return writeFileAtomic(path, []byte(b.String()))
}

// ScoreNewsFile scores a raw news CSV (symbol, newsDatetime or date, title,
// description) and writes the daily aggregates to out.
func ScoreNewsFile(in, out string) ([]DailySentiment, error) {
	f, err := os.Open(in)
	if err != nil {
		return nil, fmt.Errorf("open news file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read news file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("news file %s: empty", in)
	}
	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.TrimSpace(h)] = i
	}
	symIdx, okSym := col["symbol"]
	titleIdx, okTitle := col["title"]
	dateIdx, okDate := col["newsDatetime"]
	if !okDate {
		dateIdx, okDate = col["date"]
	}
	if !okSym || !okTitle || !okDate {
		return nil, fmt.Errorf("news file %s: need symbol, title and newsDatetime/date columns", in)
	}
	descIdx, ok := col["description"]
	if !ok {
		descIdx = -1
	}

	daily := AggregateDaily(ScoreNews(NewVader(), newsItems(records[1:], symIdx, dateIdx, titleIdx, descIdx)))
	if err := WriteDailySentiment(out, daily); err != nil {
		return nil, err
	}
	return daily, nil
}
