package merge

import (
	"context"
	"fmt"
	"regexp"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"CryptoHarvest/internal/model"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLSink upserts merged rows into a table, keyed by (symbol, date).
type SQLSink struct {
	db    *sqlx.DB
	table string
}

type mergedRecord struct {
	Symbol    string   `db:"symbol"`
	CoinID    string   `db:"coin_id"`
	Date      string   `db:"date"`
	Open      string   `db:"open"`
	High      string   `db:"high"`
	Low       string   `db:"low"`
	Close     string   `db:"close"`
	Volume    string   `db:"volume"`
	Degraded  bool     `db:"degraded_ohlc"`
	OnChain   *string  `db:"onchain"`
	Sentiment *float64 `db:"sentiment_score"`
}

// OpenSink connects with driver "sqlite" or "postgres" and creates the table.
func OpenSink(ctx context.Context, driver, dsn, table string) (*SQLSink, error) {
	if driver != "sqlite" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported sink driver %q", driver)
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid sink table name %q", table)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s sink: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	s := &SQLSink{db: db, table: table}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		symbol          TEXT    NOT NULL,
		coin_id         TEXT    NOT NULL,
		date            TEXT    NOT NULL,
		open            NUMERIC NOT NULL,
		high            NUMERIC NOT NULL,
		low             NUMERIC NOT NULL,
		close           NUMERIC NOT NULL,
		volume          NUMERIC NOT NULL,
		degraded_ohlc   BOOLEAN NOT NULL,
		onchain         TEXT,
		sentiment_score DOUBLE PRECISION,
		PRIMARY KEY (symbol, date)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sink table: %w", err)
	}
	return s, nil
}

// Write upserts rows in one transaction.
func (s *SQLSink) Write(ctx context.Context, rows []model.MergedRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `INSERT INTO `+s.table+`
		(symbol, coin_id, date, open, high, low, close, volume, degraded_ohlc, onchain, sentiment_score)
		VALUES (:symbol, :coin_id, :date, :open, :high, :low, :close, :volume, :degraded_ohlc, :onchain, :sentiment_score)
		ON CONFLICT (symbol, date) DO UPDATE SET
			coin_id = excluded.coin_id,
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			degraded_ohlc = excluded.degraded_ohlc,
			onchain = excluded.onchain,
			sentiment_score = excluded.sentiment_score`)
	if err != nil {
		return fmt.Errorf("prepare sink insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		rec := mergedRecord{
			Symbol:    r.Symbol,
			CoinID:    r.CoinID,
			Date:      r.Date.String(),
			Open:      r.Open.String(),
			High:      r.High.String(),
			Low:       r.Low.String(),
			Close:     r.Close.String(),
			Volume:    r.Volume.String(),
			Degraded:  r.DegradedOHLC,
			Sentiment: r.Sentiment,
		}
		if len(r.OnChain) > 0 {
			b, err := json.Marshal(r.OnChain)
			if err != nil {
				return fmt.Errorf("encode on-chain %s %s: %w", r.Symbol, r.Date, err)
			}
			js := string(b)
			rec.OnChain = &js
		}
		if _, err := stmt.ExecContext(ctx, rec); err != nil {
			return fmt.Errorf("upsert %s %s: %w", r.Symbol, r.Date, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of rows in the sink table.
func (s *SQLSink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM `+s.table)
	return n, err
}

func (s *SQLSink) Close() error { return s.db.Close() }
