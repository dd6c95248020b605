package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"chartcore/internal/model"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for the history load.
type Reader struct {
	db *sqlx.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	conn, err := open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db := sqlx.NewDb(conn, "sqlite3")
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db.DB }

// ReadBuckets reads the buckets for symbol and granularity with ts > afterTS,
// ordered by timestamp ascending for correct replay order.
func (r *Reader) ReadBuckets(symbol, granularity string, afterTS int64) ([]model.Bar, error) {
	var rows []bucketRow
	err := r.db.Select(&rows, `
		SELECT symbol, granularity, ts, open, high, low, close, volume
		FROM buckets
		WHERE symbol = ? AND granularity = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, granularity, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query buckets: %w", err)
	}
	return toBars(rows), nil
}

// ReadLatest reads the newest limit buckets for symbol and granularity,
// returned in ascending time order.
func (r *Reader) ReadLatest(symbol, granularity string, limit int) ([]model.Bar, error) {
	var rows []bucketRow
	err := r.db.Select(&rows, `
		SELECT symbol, granularity, ts, open, high, low, close, volume
		FROM (
			SELECT * FROM buckets
			WHERE symbol = ? AND granularity = ?
			ORDER BY ts DESC
			LIMIT ?
		)
		ORDER BY ts ASC
	`, symbol, granularity, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query latest buckets: %w", err)
	}
	return toBars(rows), nil
}

// bucketRow mirrors one buckets row.
type bucketRow struct {
	Symbol      string `db:"symbol"`
	Granularity string `db:"granularity"`
	TS          int64  `db:"ts"`
	Open        string `db:"open"`
	High        string `db:"high"`
	Low         string `db:"low"`
	Close       string `db:"close"`
	Volume      string `db:"volume"`
}

func (r bucketRow) bar() model.Bar {
	return model.Bar{
		Symbol:      r.Symbol,
		Granularity: r.Granularity,
		TS:          time.Unix(r.TS, 0).UTC(),
		Open:        r.Open,
		High:        r.High,
		Low:         r.Low,
		Close:       r.Close,
		Volume:      r.Volume,
	}
}

func toBars(rows []bucketRow) []model.Bar {
	bars := make([]model.Bar, len(rows))
	for i, row := range rows {
		bars[i] = row.bar()
	}
	return bars
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
