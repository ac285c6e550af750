package pipeline

import (
	"fmt"
	"strings"
	"time"

	"CryptoHarvest/internal/model"
)

// State is the terminal outcome of one symbol in a run.
type State string

const (
	StateWritten      State = "written"
	StateUpToDate     State = "up_to_date"
	StateFailedNoData State = "failed_no_data"
	StateFailedStore  State = "failed_store"
	StateSkipped      State = "skipped"
)

// States lists every terminal state in report order.
var States = []State{StateWritten, StateUpToDate, StateFailedNoData, StateFailedStore, StateSkipped}

// Failed reports whether the state counts as a failure in summaries.
func (s State) Failed() bool {
	return s == StateFailedNoData || s == StateFailedStore
}

// SymbolResult is what happened to one symbol.
type SymbolResult struct {
	Symbol   string        `json:"symbol"`
	CoinID   string        `json:"coin_id"`
	State    State         `json:"state"`
	Mode     string        `json:"mode,omitempty"` // "full" or "incremental"
	Provider string        `json:"provider,omitempty"`
	Rows     int           `json:"rows"`
	LastDate model.Date    `json:"last_date"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// Report summarizes one pipeline invocation.
type Report struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Elapsed   time.Duration  `json:"elapsed_ns"`
	Results   []SymbolResult `json:"results"`
	Counts    map[State]int  `json:"counts"`
}

func (r *Report) tally() {
	r.Counts = make(map[State]int, len(States))
	for _, res := range r.Results {
		r.Counts[res.State]++
	}
}

// Summary is a one-line overview suitable for logs and chat.
func (r *Report) Summary() string {
	parts := make([]string, 0, len(States))
	for _, s := range States {
		if n := r.Counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no symbols")
	}
	return fmt.Sprintf("run %s: %d symbols in %s (%s)",
		shortID(r.RunID), len(r.Results), r.Elapsed.Round(time.Millisecond), strings.Join(parts, ", "))
}

// Failures returns the results in a failed state.
func (r *Report) Failures() []SymbolResult {
	var out []SymbolResult
	for _, res := range r.Results {
		if res.State.Failed() {
			out = append(out, res)
		}
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
