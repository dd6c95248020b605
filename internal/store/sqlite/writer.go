package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"chartcore/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB

	// OnCommit is called after every batch commit (optional).
	OnCommit func(n int, took time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
}

// Prices and volume are kept as decimal text so the scale a source wrote
// survives the round trip.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS buckets (
			symbol      TEXT    NOT NULL,
			granularity TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        TEXT    NOT NULL,
			high        TEXT    NOT NULL,
			low         TEXT    NOT NULL,
			close       TEXT    NOT NULL,
			volume      TEXT    NOT NULL,
			PRIMARY KEY (symbol, granularity, ts)
		);
	`)
	return err
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.InsertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// InsertBatch upserts bars in a single transaction. A bar for an existing
// (symbol, granularity, ts) replaces it, which is how a live bucket that was
// updated several times ends up stored once.
func (w *Writer) InsertBatch(bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO buckets (symbol, granularity, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(b.Symbol, b.Granularity, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s %s %d: %w", b.Symbol, b.Granularity, b.TS.Unix(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if w.OnCommit != nil {
		w.OnCommit(len(bars), time.Since(start))
	}
	return nil
}

// LastTimestamp returns the newest stored bucket time for symbol and
// granularity. Returns 0 if none exist.
func (w *Writer) LastTimestamp(symbol, granularity string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM buckets WHERE symbol = ? AND granularity = ?`,
		symbol, granularity,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Prune deletes the buckets for symbol and granularity older than before and
// returns how many rows went.
func (w *Writer) Prune(symbol, granularity string, before time.Time) (int64, error) {
	res, err := w.db.Exec(
		`DELETE FROM buckets WHERE symbol = ? AND granularity = ? AND ts < ?`,
		symbol, granularity, before.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
