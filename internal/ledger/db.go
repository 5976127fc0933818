// Package ledger is the embedded transactional store holding the four record
// kinds (tickets, photos, markets, sync queue). It exclusively owns all
// writes; multi-record mutations go through one local transaction so a crash
// can never produce a ticket without its sync record or vice versa.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DBTX is satisfied by both *sql.DB and the ledger transaction wrapper, so
// repository queries can run inside or outside an explicit transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the sqlite database, serializes the write path and owns the
// change-event fan-out.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex // one writer; sqlite locks are not a retry strategy
	events  *Events
	logger  *slog.Logger
}

// Open opens (or creates) the ledger database at path and applies the
// additive schema. Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// A single connection keeps in-memory databases coherent and avoids
	// SQLITE_BUSY churn on file databases.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
		`PRAGMA busy_timeout=5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("ledger opened", "path", path)
	return &Store{db: db, events: NewEvents(), logger: logger}, nil
}

// migrate creates the four tables. Schema evolution is additive only; removal
// of a field or index requires a new versioned schema.
func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS markets (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			deleted_at  TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id             TEXT NOT NULL,
			market_id           INTEGER REFERENCES markets(id),
			ticket_type         TEXT NOT NULL,
			impression_date     TEXT NOT NULL,
			last_reset_date     TEXT NOT NULL DEFAULT '',
			reset_number        INTEGER NOT NULL DEFAULT 0,
			ticket_number       INTEGER NOT NULL DEFAULT 0,
			discount_value      INTEGER NOT NULL DEFAULT 0,
			cancel_value        INTEGER NOT NULL DEFAULT 0,
			cancel_count        INTEGER NOT NULL DEFAULT 0,
			payments            TEXT NOT NULL DEFAULT '[]',
			total               INTEGER NOT NULL DEFAULT 0,
			status              TEXT NOT NULL DEFAULT 'DRAFT',
			data_hash           TEXT NOT NULL DEFAULT '',
			created_at          TEXT NOT NULL,
			client_timestamp    TEXT NOT NULL,
			validated_at        TEXT,
			cancelled_at        TEXT,
			cancellation_reason TEXT,
			server_timestamp    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_user_status ON tickets(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_impression_date ON tickets(impression_date)`,
		`CREATE TABLE IF NOT EXISTS photos (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_id   INTEGER NOT NULL REFERENCES tickets(id),
			image       BLOB NOT NULL,
			thumbnail   BLOB NOT NULL,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_photos_ticket ON photos(ticket_id)`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			key             TEXT NOT NULL UNIQUE,
			action          TEXT NOT NULL,
			entity_type     TEXT NOT NULL,
			entity_id       INTEGER NOT NULL,
			payload         TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'PENDING',
			retries         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			last_attempt_at TEXT,
			error_message   TEXT,
			server_id       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.logger.Info("closing ledger")
	return s.db.Close()
}

// DB exposes the read path for repositories.
func (s *Store) DB() *sql.DB { return s.db }

// Events exposes the change-notification hub.
func (s *Store) Events() *Events { return s.events }

// HealthCheck pings the database to catch path/permission issues early.
func (s *Store) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.db.PingContext(ctx)
}

// Tx wraps a sql.Tx and records change events to publish after commit.
type Tx struct {
	tx      *sql.Tx
	pending []Event
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Notify records a change event to be emitted once the transaction commits.
func (t *Tx) Notify(table string, op Op, id int64) {
	t.pending = append(t.pending, Event{Table: table, Op: op, ID: id})
}

// WithTx runs fn inside a serialized write transaction. Change events
// recorded via Tx.Notify are published only after a successful commit, and
// only once the write lock has been released, so a subscriber may itself
// open a write transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.runWrite(ctx, fn)
	if err != nil {
		return err
	}
	s.events.publish(tx.pending)
	return nil
}

func (s *Store) runWrite(ctx context.Context, fn func(tx *Tx) error) (*Tx, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{tx: sqlTx}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Error("failed to roll back ledger tx", "error", rbErr)
		}
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return tx, nil
}

// time storage helpers: RFC3339Nano in UTC, nullable via *string.

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
