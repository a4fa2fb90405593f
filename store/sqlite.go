package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const backendSQLite = "sqlite"

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a persistent Store backed by SQLite.
//
// Each key is one row holding its counter and last-activity timestamp. The
// store holds a single long-lived connection, so every read-modify-write runs
// in its own transaction without interleaving with other writers.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// initialises the schema. Use ":memory:" for an in-memory SQLite database.
//
// Transactions take the write lock when they begin, so several processes can
// share one file: a contended writer waits up to the busy timeout instead of
// failing a lock upgrade halfway through a read-modify-write.
func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	o := NewOptions(opts...)

	db, err := sql.Open("sqlite", withConnParams(dsn))
	if err != nil {
		return nil, NewStorageError(backendSQLite, OpOpen, fmt.Errorf("open sqlite: %w", err))
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rate_limits (
			key       TEXT PRIMARY KEY,
			count     INTEGER NOT NULL DEFAULT 0,
			timestamp REAL NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, NewStorageError(backendSQLite, OpOpen, fmt.Errorf("create table: %w", err))
	}

	return &SQLiteStore{db: db, now: o.Now}, nil
}

// Increment atomically adds by to the counter for key and refreshes its timestamp.
func (s *SQLiteStore) Increment(ctx context.Context, key string, by int64) (int64, error) {
	if by <= 0 {
		by = 1
	}

	var count int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var ok bool
		var err error
		count, _, ok, err = s.readRow(ctx, tx, key)
		if err != nil {
			return err
		}

		now := EpochSeconds(s.now())
		if !ok {
			count = by
			_, err = tx.ExecContext(ctx,
				`INSERT INTO rate_limits (key, count, timestamp) VALUES (?, ?, ?)`,
				key, count, now,
			)
			return err
		}

		count += by
		_, err = tx.ExecContext(ctx,
			`UPDATE rate_limits SET count = ?, timestamp = ? WHERE key = ?`,
			count, now, key,
		)
		return err
	})
	if err != nil {
		return 0, NewStorageError(backendSQLite, OpIncrement, err)
	}
	return count, nil
}

// GetRemaining returns the quota left for key in its current window.
func (s *SQLiteStore) GetRemaining(ctx context.Context, key string, limit int64, interval time.Duration) (int64, error) {
	remaining := limit
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		count, ts, ok, err := s.readRow(ctx, tx, key)
		if err != nil || !ok {
			return err
		}
		if !Expired(FromEpochSeconds(ts), s.now(), interval) {
			remaining = Remaining(limit, count)
		}
		return nil
	})
	if err != nil {
		return 0, NewStorageError(backendSQLite, OpGetRemaining, err)
	}
	return remaining, nil
}

// Reset removes the row for the given key.
func (s *SQLiteStore) Reset(ctx context.Context, key string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM rate_limits WHERE key = ?`, key)
		return err
	})
	return NewStorageError(backendSQLite, OpReset, err)
}

// GetTimestamp returns the last activity time recorded for key.
func (s *SQLiteStore) GetTimestamp(ctx context.Context, key string) (time.Time, bool, error) {
	var (
		ts    float64
		found bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		_, ts, found, err = s.readRow(ctx, tx, key)
		return err
	})
	if err != nil {
		return time.Time{}, false, NewStorageError(backendSQLite, OpGetTimestamp, err)
	}
	if !found {
		return time.Time{}, false, nil
	}
	return FromEpochSeconds(ts), true, nil
}

// SetTimestamp records the current time for key, creating the row with a zero
// count if it does not exist.
func (s *SQLiteStore) SetTimestamp(ctx context.Context, key string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rate_limits (key, count, timestamp) VALUES (?, 0, ?)
			ON CONFLICT(key) DO UPDATE SET timestamp = excluded.timestamp
		`, key, EpochSeconds(s.now()))
		return err
	})
	return NewStorageError(backendSQLite, OpSetTimestamp, err)
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withConnParams adds the busy timeout and immediate transaction locking to
// dsn unless the caller already set them.
func withConnParams(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) readRow(ctx context.Context, tx *sql.Tx, key string) (count int64, ts float64, ok bool, err error) {
	err = tx.QueryRowContext(ctx,
		`SELECT count, timestamp FROM rate_limits WHERE key = ?`, key,
	).Scan(&count, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return count, ts, true, nil
}
