package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"CryptoHarvest/internal/model"
	"CryptoHarvest/internal/pipeline"
)

// SQLiteRecorder persists run history to a SQLite database.
type SQLiteRecorder struct {
	db *sqlx.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create recorder dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so the API can read while a run is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id         TEXT PRIMARY KEY,
			started_at     INTEGER NOT NULL,
			elapsed_ms     INTEGER NOT NULL,
			symbols        INTEGER NOT NULL,
			written        INTEGER NOT NULL,
			up_to_date     INTEGER NOT NULL,
			failed_no_data INTEGER NOT NULL,
			failed_store   INTEGER NOT NULL,
			skipped        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS run_symbols (
			run_id     TEXT NOT NULL,
			position   INTEGER NOT NULL,
			symbol     TEXT NOT NULL,
			coin_id    TEXT,
			state      TEXT NOT NULL,
			mode       TEXT,
			provider   TEXT,
			row_count  INTEGER,
			last_date  TEXT,
			error      TEXT,
			elapsed_ms INTEGER,
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_symbols_symbol ON run_symbols(symbol)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

type runRecord struct {
	RunID        string `db:"run_id"`
	StartedAt    int64  `db:"started_at"`
	ElapsedMS    int64  `db:"elapsed_ms"`
	Symbols      int    `db:"symbols"`
	Written      int    `db:"written"`
	UpToDate     int    `db:"up_to_date"`
	FailedNoData int    `db:"failed_no_data"`
	FailedStore  int    `db:"failed_store"`
	Skipped      int    `db:"skipped"`
}

type symbolRecord struct {
	RunID     string         `db:"run_id"`
	Position  int            `db:"position"`
	Symbol    string         `db:"symbol"`
	CoinID    sql.NullString `db:"coin_id"`
	State     string         `db:"state"`
	Mode      sql.NullString `db:"mode"`
	Provider  sql.NullString `db:"provider"`
	Rows      sql.NullInt64  `db:"row_count"`
	LastDate  sql.NullString `db:"last_date"`
	Error     sql.NullString `db:"error"`
	ElapsedMS sql.NullInt64  `db:"elapsed_ms"`
}

// RecordRun stores the report and its per-symbol results in one transaction.
func (r *SQLiteRecorder) RecordRun(report *pipeline.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	run := runRecord{
		RunID:        report.RunID,
		StartedAt:    report.StartedAt.Unix(),
		ElapsedMS:    report.Elapsed.Milliseconds(),
		Symbols:      len(report.Results),
		Written:      report.Counts[pipeline.StateWritten],
		UpToDate:     report.Counts[pipeline.StateUpToDate],
		FailedNoData: report.Counts[pipeline.StateFailedNoData],
		FailedStore:  report.Counts[pipeline.StateFailedStore],
		Skipped:      report.Counts[pipeline.StateSkipped],
	}
	if _, err := tx.NamedExec(`INSERT INTO runs
		(run_id, started_at, elapsed_ms, symbols, written, up_to_date, failed_no_data, failed_store, skipped)
		VALUES (:run_id, :started_at, :elapsed_ms, :symbols, :written, :up_to_date, :failed_no_data, :failed_store, :skipped)`,
		run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, res := range report.Results {
		rec := symbolRecord{
			RunID:     report.RunID,
			Position:  i,
			Symbol:    res.Symbol,
			CoinID:    nullString(res.CoinID),
			State:     string(res.State),
			Mode:      nullString(res.Mode),
			Provider:  nullString(res.Provider),
			Rows:      sql.NullInt64{Int64: int64(res.Rows), Valid: true},
			Error:     nullString(res.Error),
			ElapsedMS: sql.NullInt64{Int64: res.Elapsed.Milliseconds(), Valid: true},
		}
		if !res.LastDate.IsZero() {
			rec.LastDate = nullString(res.LastDate.String())
		}
		if _, err := tx.NamedExec(`INSERT INTO run_symbols
			(run_id, position, symbol, coin_id, state, mode, provider, row_count, last_date, error, elapsed_ms)
			VALUES (:run_id, :position, :symbol, :coin_id, :state, :mode, :provider, :row_count, :last_date, :error, :elapsed_ms)`,
			rec); err != nil {
			return fmt.Errorf("insert run symbol %s: %w", res.Symbol, err)
		}
	}
	return tx.Commit()
}

// LatestRun loads the most recently started run.
func (r *SQLiteRecorder) LatestRun() (*pipeline.Report, error) {
	var run runRecord
	err := r.db.Get(&run, `SELECT * FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("select latest run: %w", err)
	}

	var recs []symbolRecord
	if err := r.db.Select(&recs, `SELECT * FROM run_symbols WHERE run_id = ? ORDER BY position`, run.RunID); err != nil {
		return nil, fmt.Errorf("select run symbols: %w", err)
	}

	report := &pipeline.Report{
		RunID:     run.RunID,
		StartedAt: time.Unix(run.StartedAt, 0).UTC(),
		Elapsed:   time.Duration(run.ElapsedMS) * time.Millisecond,
		Results:   make([]pipeline.SymbolResult, 0, len(recs)),
		Counts: map[pipeline.State]int{
			pipeline.StateWritten:      run.Written,
			pipeline.StateUpToDate:     run.UpToDate,
			pipeline.StateFailedNoData: run.FailedNoData,
			pipeline.StateFailedStore:  run.FailedStore,
			pipeline.StateSkipped:      run.Skipped,
		},
	}
	for _, rec := range recs {
		res := pipeline.SymbolResult{
			Symbol:   rec.Symbol,
			CoinID:   rec.CoinID.String,
			State:    pipeline.State(rec.State),
			Mode:     rec.Mode.String,
			Provider: rec.Provider.String,
			Rows:     int(rec.Rows.Int64),
			Error:    rec.Error.String,
			Elapsed:  time.Duration(rec.ElapsedMS.Int64) * time.Millisecond,
		}
		if rec.LastDate.Valid {
			res.LastDate, _ = model.ParseDate(rec.LastDate.String)
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
