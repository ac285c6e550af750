package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"CryptoHarvest/internal/indicator"
	"CryptoHarvest/internal/model"
	"CryptoHarvest/internal/pipeline"
)

// maxListed caps how many failed symbols a message names.
const maxListed = 15

// FormatRunReport formats a finished pipeline run.
func FormatRunReport(r *pipeline.Report) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>CryptoHarvest run</b> | %s\n\n", r.StartedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Symbols: %d\n", len(r.Results)))
	for _, s := range pipeline.States {
		if n := r.Counts[s]; n > 0 {
			b.WriteString(fmt.Sprintf("  %s: %d\n", s, n))
		}
	}
	b.WriteString(fmt.Sprintf("Elapsed: %s\n", r.Elapsed.Round(time.Second)))

	if failures := r.Failures(); len(failures) > 0 {
		b.WriteString("\n⚠️ <b>Failed:</b>\n")
		for i, f := range failures {
			if i == maxListed {
				b.WriteString(fmt.Sprintf("  … and %d more\n", len(failures)-maxListed))
				break
			}
			b.WriteString(fmt.Sprintf("  %s (%s)\n", html.EscapeString(f.Symbol), f.State))
		}
	}
	return b.String()
}

// FormatStatus answers /status.
func FormatStatus(r *pipeline.Report) string {
	if r == nil {
		return "No run recorded yet."
	}
	return "🕒 Last run\n\n" + html.EscapeString(r.Summary())
}

// FormatSeries describes the latest rows of a stored series.
func FormatSeries(symbol string, rows []model.OHLCVRow, last int) string {
	if len(rows) == 0 {
		return fmt.Sprintf("No history stored for %s.", html.EscapeString(symbol))
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📈 <b>%s</b> | %d days, %s → %s\n",
		html.EscapeString(symbol), len(rows), rows[0].Date, rows[len(rows)-1].Date))
	if high, low, err := indicator.Range(rows, indicator.YearDays); err == nil {
		pos := indicator.Position(rows[len(rows)-1].Close, high, low)
		b.WriteString(fmt.Sprintf("52w range %s - %s, close at %.0f%%\n\n", low.StringFixed(2), high.StringFixed(2), pos*100))
	}
	start := len(rows) - last
	if start < 0 {
		start = 0
	}
	for _, r := range rows[start:] {
		line := fmt.Sprintf("%s  O %s  H %s  L %s  C %s  V %s",
			r.Date, r.Open.StringFixed(2), r.High.StringFixed(2), r.Low.StringFixed(2), r.Close.StringFixed(2), r.Volume.StringFixed(0))
		if r.DegradedOHLC {
			line += " *"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
