package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite, grounded on the teacher's
// internal/storage/sqlite.go pragma and migrate() pattern.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) a SQLite-backed Store. Use
// ":memory:" for an ephemeral store, or a file path for persistence.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		repo TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		command TEXT NOT NULL,
		queue TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		worker TEXT NOT NULL DEFAULT '',
		runtime_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_repo ON jobs(repo)`)
	return err
}

func (s *SQLiteStore) Record(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, repo, commit_sha, command, queue, status, worker, runtime_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, runtime_ms = excluded.runtime_ms`,
		r.JobID, r.Repo, r.Commit, r.Command, r.Queue, r.Status, r.Worker, r.RuntimeMs, time.Now())
	return err
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT id, repo, commit_sha, command, queue, status, worker, runtime_ms FROM jobs WHERE 1=1`
	var args []any
	if f.Repo != "" {
		query += " AND repo = ?"
		args = append(args, f.Repo)
	}
	if f.Queue != "" {
		query += " AND queue = ?"
		args = append(args, f.Queue)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.JobID, &r.Repo, &r.Commit, &r.Command, &r.Queue, &r.Status, &r.Worker, &r.RuntimeMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
