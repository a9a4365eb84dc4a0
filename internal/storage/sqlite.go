package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/chunkscribe/internal/jobapi"
	"github.com/sjawhar/chunkscribe/internal/jobs"
)

// MemoryDSN opens a database that lives only as long as the process.
const MemoryDSN = ":memory:"

type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

type SQLiteOption func(*SQLiteStore)

func WithResultTTL(ttl time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func withClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore opens dbPath, creating parent directories. An empty path or
// MemoryDSN keeps everything in memory.
func NewSQLiteStore(dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = MemoryDSN
	}

	if dbPath != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single connection keeps an in-memory database shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{db: db, ttl: DefaultResultTTL, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunk_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chunk_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			transcript TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			warning TEXT NOT NULL DEFAULT '',
			detected_language TEXT NOT NULL DEFAULT '',
			recorded_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create chunk_events table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_results (
			key TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create job_results table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_chunk_events_chunk_id ON chunk_events(chunk_id, id)"); err != nil {
		return fmt.Errorf("create chunk_events index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// RecordChunkJob appends one observed job state.
func (s *SQLiteStore) RecordChunkJob(ctx context.Context, job jobs.ChunkJob) error {
	if strings.TrimSpace(job.ChunkID) == "" {
		return errors.New("chunk id is required")
	}
	recordedAt := job.UpdatedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunk_events(chunk_id, kind, job_id, status, transcript, error, warning, detected_language, recorded_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ChunkID,
		string(job.Kind),
		job.JobID,
		string(job.Status),
		strings.TrimSpace(job.Transcript),
		job.Error,
		job.Warning,
		job.DetectedLanguage,
		recordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record chunk job %s: %w", job.ChunkID, err)
	}
	return nil
}

// ChunkHistory returns every recorded state of a chunk, oldest first.
func (s *SQLiteStore) ChunkHistory(ctx context.Context, chunkID string) ([]jobs.ChunkJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, kind, job_id, status, transcript, error, warning, detected_language, recorded_at
		 FROM chunk_events
		 WHERE chunk_id = ?
		 ORDER BY id ASC`,
		chunkID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history for chunk %s: %w", chunkID, err)
	}
	defer func() { _ = rows.Close() }()

	history := make([]jobs.ChunkJob, 0, 4)
	for rows.Next() {
		var job jobs.ChunkJob
		var kind, status, ts string
		if err := rows.Scan(&job.ChunkID, &kind, &job.JobID, &status, &job.Transcript, &job.Error, &job.Warning, &job.DetectedLanguage, &ts); err != nil {
			return nil, fmt.Errorf("scan history for chunk %s: %w", chunkID, err)
		}
		job.Kind = jobs.Kind(kind)
		job.Status = jobs.Status(status)

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse history timestamp for chunk %s: %w", chunkID, err)
		}
		job.UpdatedAt = parsed

		history = append(history, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows for chunk %s: %w", chunkID, err)
	}

	return history, nil
}

func (s *SQLiteStore) PutResult(ctx context.Context, key string, res jobapi.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", key, err)
	}
	expiresAt := s.now().Add(s.ttl).UnixNano()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_results(key, payload, expires_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key,
		string(payload),
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("put result %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, key string) (jobapi.Result, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM job_results WHERE key = ? AND expires_at > ?`,
		key,
		s.now().UnixNano(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return jobapi.Result{}, ErrNotFound
	}
	if err != nil {
		return jobapi.Result{}, fmt.Errorf("get result %s: %w", key, err)
	}

	var res jobapi.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return jobapi.Result{}, fmt.Errorf("decode result %s: %w", key, err)
	}
	return res, nil
}

func (s *SQLiteStore) DeleteResult(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_results WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete result %s: %w", key, err)
	}
	return nil
}

// PurgeExpired removes results past their TTL and reports how many went.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_results WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge expired results: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return rows, nil
}
