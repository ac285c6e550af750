package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"CryptoHarvest/internal/model"
)

// SQLiteStore keeps all series in one table keyed by (symbol, date).
// Prices are stored as decimal text so a round trip is exact.
type SQLiteStore struct {
	db *sqlx.DB
}

type ohlcvRecord struct {
	Symbol   string `db:"symbol"`
	Date     string `db:"date"`
	Open     string `db:"open"`
	High     string `db:"high"`
	Low      string `db:"low"`
	Close    string `db:"close"`
	Volume   string `db:"volume"`
	Degraded bool   `db:"degraded_ohlc"`
}

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; per-symbol writes never interleave.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ohlcv (
		symbol        TEXT    NOT NULL,
		date          TEXT    NOT NULL,
		open          TEXT    NOT NULL,
		high          TEXT    NOT NULL,
		low           TEXT    NOT NULL,
		close         TEXT    NOT NULL,
		volume        TEXT    NOT NULL,
		degraded_ohlc INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, date)
	) WITHOUT ROWID`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite history store opened")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LastKnownDate(ctx context.Context, symbol string) (model.Date, error) {
	symbol = seriesKey(symbol)
	var dates []string
	if err := s.db.SelectContext(ctx, &dates,
		`SELECT date FROM ohlcv WHERE symbol = ? ORDER BY date DESC`, symbol); err != nil {
		return model.Date{}, fmt.Errorf("query last date %s: %w", symbol, err)
	}
	for _, d := range dates {
		if parsed, err := model.ParseDate(d); err == nil {
			return parsed, nil
		}
	}
	return model.Date{}, nil
}

func (s *SQLiteStore) WriteFull(ctx context.Context, symbol string, rows []model.OHLCVRow) error {
	symbol = seriesKey(symbol)
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ohlcv WHERE symbol = ?`, symbol); err != nil {
			return fmt.Errorf("clear series %s: %w", symbol, err)
		}
		return upsert(ctx, tx, symbol, model.Normalize(rows))
	})
}

func (s *SQLiteStore) AppendAndDedup(ctx context.Context, symbol string, rows []model.OHLCVRow) error {
	if len(rows) == 0 {
		return nil
	}
	symbol = seriesKey(symbol)
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return upsert(ctx, tx, symbol, model.Normalize(rows))
	})
}

func (s *SQLiteStore) Read(ctx context.Context, symbol string) ([]model.OHLCVRow, error) {
	symbol = seriesKey(symbol)
	var recs []ohlcvRecord
	if err := s.db.SelectContext(ctx, &recs,
		`SELECT symbol, date, open, high, low, close, volume, degraded_ohlc
		   FROM ohlcv WHERE symbol = ? ORDER BY date`, symbol); err != nil {
		return nil, fmt.Errorf("read series %s: %w", symbol, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	rows := make([]model.OHLCVRow, 0, len(recs))
	dropped := 0
	for _, r := range recs {
		row, err := r.toRow()
		if err != nil {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	if dropped > 0 {
		log.Warn().Str("symbol", symbol).Int("dropped", dropped).Msg("skipped unparseable rows in series")
	}
	return model.Normalize(rows), nil
}

func (s *SQLiteStore) Symbols(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.db.SelectContext(ctx, &out, `SELECT DISTINCT symbol FROM ohlcv ORDER BY symbol`); err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	log.Info().Msg("closing sqlite history store")
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func upsert(ctx context.Context, tx *sqlx.Tx, symbol string, rows []model.OHLCVRow) error {
	stmt, err := tx.PrepareNamedContext(ctx, `INSERT INTO ohlcv
		(symbol, date, open, high, low, close, volume, degraded_ohlc)
		VALUES (:symbol, :date, :open, :high, :low, :close, :volume, :degraded_ohlc)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume,
			degraded_ohlc = excluded.degraded_ohlc`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, toRecord(symbol, r)); err != nil {
			return fmt.Errorf("upsert %s %s: %w", symbol, r.Date, err)
		}
	}
	return nil
}

func toRecord(symbol string, r model.OHLCVRow) ohlcvRecord {
	return ohlcvRecord{
		Symbol:   symbol,
		Date:     r.Date.String(),
		Open:     r.Open.String(),
		High:     r.High.String(),
		Low:      r.Low.String(),
		Close:    r.Close.String(),
		Volume:   r.Volume.String(),
		Degraded: r.DegradedOHLC,
	}
}

func (r ohlcvRecord) toRow() (model.OHLCVRow, error) {
	d, err := model.ParseDate(r.Date)
	if err != nil {
		return model.OHLCVRow{}, err
	}
	row := model.OHLCVRow{Date: d, DegradedOHLC: r.Degraded}
	for _, f := range []struct {
		src string
		dst *decimal.Decimal
	}{
		{r.Open, &row.Open}, {r.High, &row.High}, {r.Low, &row.Low}, {r.Close, &row.Close}, {r.Volume, &row.Volume},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return model.OHLCVRow{}, err
		}
		*f.dst = v
	}
	return row, nil
}

func seriesKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
