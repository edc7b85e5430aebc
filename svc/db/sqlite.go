package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"upldis/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultQueryTimeout = 5 * time.Second
	cleanupBatchSize    = 100
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
	now           func() time.Time
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
		now:          time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}
func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}
func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	// expires_at is unix nanoseconds, 0 for keys without a TTL.
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		id TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		generation INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at);
	`
	_, err = s.db.Exec(query)
	return err
}
func (s *SQLite) Lookup(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT value FROM kv WHERE id = ? AND (expires_at = 0 OR expires_at > ?)`
	var value []byte
	err := s.db.QueryRowContext(queryCtx, q, key, s.now().UnixNano()).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db lookup")
	}
	return value, nil
}

// Insert overwrites key. A row whose TTL already elapsed counts as absent, so
// its generation restarts at 1.
func (s *SQLite) Insert(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	now := s.now()
	q := `
	INSERT INTO kv (id, value, generation, created_at, expires_at)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		value = excluded.value,
		generation = CASE WHEN kv.expires_at != 0 AND kv.expires_at <= excluded.created_at
			THEN 1 ELSE kv.generation + 1 END,
		created_at = excluded.created_at,
		expires_at = excluded.expires_at
	`
	_, err := s.db.ExecContext(queryCtx, q, key, value, now.UnixNano(), expiry(now, ttl))
	s.recordError(err)
	return errors.Wrap(err, "db insert")
}
func (s *SQLite) Append(ctx context.Context, key string, value []byte) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO kv (id, value, generation, created_at, expires_at)
	VALUES (?, ?, 1, ?, 0)
	ON CONFLICT(id) DO UPDATE SET
		value = CASE WHEN kv.expires_at != 0 AND kv.expires_at <= excluded.created_at
			THEN excluded.value ELSE kv.value || excluded.value END,
		generation = CASE WHEN kv.expires_at != 0 AND kv.expires_at <= excluded.created_at
			THEN 1 ELSE kv.generation + 1 END
	`
	_, err := s.db.ExecContext(queryCtx, q, key, value, s.now().UnixNano())
	s.recordError(err)
	return errors.Wrap(err, "db append")
}
func (s *SQLite) Generation(ctx context.Context, key string) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT generation FROM kv WHERE id = ? AND (expires_at = 0 OR expires_at > ?)`
	var gen int64
	err := s.db.QueryRowContext(queryCtx, q, key, s.now().UnixNano()).Scan(&gen)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "db generation")
	}
	return gen, nil
}
func (s *SQLite) CleanupExpired(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM kv
			WHERE id IN (
				SELECT id FROM kv
				WHERE expires_at != 0 AND expires_at <= ?
				LIMIT ?
			)
		`, s.now().UnixNano(), cleanupBatchSize)
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, errors.Wrap(err, "cleanup batch failed")
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted < cleanupBatchSize {
			break
		}
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	if totalDeleted == maxIterations*cleanupBatchSize {
		return totalDeleted, errors.New("cleanup hit iteration limit, more records may exist")
	}
	return totalDeleted, nil
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
