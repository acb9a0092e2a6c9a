// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/pubsub-bridge/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements Store on SQLite. Topics live in their own table so
// liveness lookups use an index instead of matching serialized payloads.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the queue database at dbPath.
func NewSqliteStore(ctx context.Context, dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(ctx, dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate(ctx context.Context) error {
	var currentVersion int
	if err := s.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload BLOB,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 1,
		timeout_ms INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		started_at_ms INTEGER NOT NULL DEFAULT 0,
		heartbeat_at_ms INTEGER NOT NULL DEFAULT 0,
		finished_at_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at_ms);

	CREATE TABLE IF NOT EXISTS job_topics (
		job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		topic TEXT NOT NULL,
		PRIMARY KEY (job_id, topic)
	);
	CREATE INDEX IF NOT EXISTS idx_job_topics_topic ON job_topics(topic);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (s *SqliteStore) Enqueue(ctx context.Context, job *Job) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO jobs (id, kind, payload, attempts, max_attempts, timeout_ms, status, error, owner,
		created_at_ms, started_at_ms, heartbeat_at_ms, finished_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Kind, []byte(job.Payload), job.Attempts, job.MaxAttempts, job.Timeout.Milliseconds(),
		string(job.Status), job.Error, job.Owner,
		toMillis(job.CreatedAt), toMillis(job.StartedAt), toMillis(job.HeartbeatAt), toMillis(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	for _, topic := range job.Topics {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO job_topics (job_id, topic) VALUES (?, ?)`, job.ID, topic); err != nil {
			return fmt.Errorf("insert job topic: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) ClaimNext(ctx context.Context, owner string, kinds []string, now time.Time) (*Job, error) {
	query := `
	UPDATE jobs SET status = ?, attempts = attempts + 1, owner = ?, started_at_ms = ?, heartbeat_at_ms = ?
	WHERE id = (
		SELECT id FROM jobs WHERE status = ?%s ORDER BY created_at_ms, rowid LIMIT 1
	)
	RETURNING id`
	args := []any{string(StatusRunning), owner, now.UnixMilli(), now.UnixMilli(), string(StatusQueued)}
	kindFilter := ""
	if len(kinds) > 0 {
		kindFilter = " AND kind IN (" + strings.TrimSuffix(strings.Repeat("?,", len(kinds)), ",") + ")"
		for _, k := range kinds {
			args = append(args, k)
		}
	}

	var id string
	err := s.DB.QueryRowContext(ctx, fmt.Sprintf(query, kindFilter), args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SqliteStore) Heartbeat(ctx context.Context, id, owner string, now time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET heartbeat_at_ms = ? WHERE id = ? AND owner = ? AND status = ?`,
		now.UnixMilli(), id, owner, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, id, ErrNotOwner)
}

func (s *SqliteStore) Finish(ctx context.Context, id string, status Status, errMsg string, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish with non-terminal status %q", status)
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at_ms = ? WHERE id = ?`,
		string(status), errMsg, now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, id, ErrNotFound)
}

func (s *SqliteStore) Requeue(ctx context.Context, id, errMsg string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, owner = '' WHERE id = ?`,
		string(StatusQueued), errMsg, id)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, id, ErrNotFound)
}

// checkAffected maps "no row updated" to ErrNotFound when the job does not
// exist and to otherwise.
func (s *SqliteStore) checkAffected(ctx context.Context, res sql.Result, id string, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.DB.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return otherwise
}

const jobColumns = `id, kind, payload, attempts, max_attempts, timeout_ms, status, error, owner,
	created_at_ms, started_at_ms, heartbeat_at_ms, finished_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                                      Job
		payload                                []byte
		timeoutMs                              int64
		status                                 string
		created, started, heartbeat, finished int64
	)
	if err := row.Scan(&j.ID, &j.Kind, &payload, &j.Attempts, &j.MaxAttempts, &timeoutMs, &status,
		&j.Error, &j.Owner, &created, &started, &heartbeat, &finished); err != nil {
		return nil, err
	}
	j.Payload = payload
	j.Timeout = time.Duration(timeoutMs) * time.Millisecond
	j.Status = Status(status)
	j.CreatedAt = fromMillis(created)
	j.StartedAt = fromMillis(started)
	j.HeartbeatAt = fromMillis(heartbeat)
	j.FinishedAt = fromMillis(finished)
	return &j, nil
}

func (s *SqliteStore) loadTopics(ctx context.Context, j *Job) error {
	rows, err := s.DB.QueryContext(ctx, `SELECT topic FROM job_topics WHERE job_id = ? ORDER BY rowid`, j.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		j.Topics = append(j.Topics, t)
	}
	return rows.Err()
}

func (s *SqliteStore) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if err := s.loadTopics(ctx, j); err != nil {
		return nil, fmt.Errorf("get job topics %s: %w", id, err)
	}
	return j, nil
}

func (s *SqliteStore) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, j := range out {
		if err := s.loadTopics(ctx, j); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SqliteStore) FindByTopic(ctx context.Context, kind, topic string) ([]*Job, error) {
	jobs, err := s.queryJobs(ctx, `
	SELECT `+jobColumns+` FROM jobs
	WHERE kind = ? AND status IN (?, ?)
	  AND id IN (SELECT job_id FROM job_topics WHERE topic = ?)
	ORDER BY created_at_ms, rowid`,
		kind, string(StatusQueued), string(StatusRunning), topic)
	if err != nil {
		return nil, fmt.Errorf("find jobs by topic %q: %w", topic, err)
	}
	return jobs, nil
}

func (s *SqliteStore) ExpireStale(ctx context.Context, before, now time.Time) ([]*Job, error) {
	jobs, err := s.updateReturning(ctx, `
	UPDATE jobs SET status = ?, error = ?, finished_at_ms = ?
	WHERE status = ? AND heartbeat_at_ms < ?
	RETURNING id`,
		string(StatusFailed), errLeaseExpired, now.UnixMilli(), string(StatusRunning), before.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("expire stale jobs: %w", err)
	}
	return jobs, nil
}

func (s *SqliteStore) CancelQueued(ctx context.Context, kind, id, reason string, now time.Time) ([]*Job, error) {
	jobs, err := s.updateReturning(ctx, `
	UPDATE jobs SET status = ?, error = ?, finished_at_ms = ?
	WHERE status = ? AND kind = ? AND (? = '' OR id = ?)
	RETURNING id`,
		string(StatusFailed), reason, now.UnixMilli(), string(StatusQueued), kind, id, id)
	if err != nil {
		return nil, fmt.Errorf("cancel queued %s jobs: %w", kind, err)
	}
	return jobs, nil
}

// updateReturning runs an UPDATE ... RETURNING id statement in a transaction
// and loads the affected jobs after commit.
func (s *SqliteStore) updateReturning(ctx context.Context, query string, args ...any) ([]*Job, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// Ping reports whether the database is reachable.
func (s *SqliteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

var _ Store = (*SqliteStore)(nil)
