// Package vtq implements a Visibility Timeout Queue backed by SQLite.
//
// Rows in the queue are invisible to consumers for a configurable duration
// after being claimed. If the holder processes the row successfully it acks
// (deletes) it. If the holder crashes or exceeds the timeout the row
// reappears automatically — another instance can claim it. Delivery is
// therefore at-least-once: a handler may see the same job twice after a
// failure-and-requeue cycle.
//
// A consumer instance processes exactly one job at a time (Run claims,
// handles, acks or nacks, then claims again), so a given job is never
// processed concurrently by one instance, and unexpired claims are not
// redelivered to others.
//
// Jobs that exhaust MaxAttempts move to a dead-letter table instead of
// looping forever; DeadLetters lists them and Redrive puts one back on the
// queue.
//
// Expected schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS vtq_jobs (
//	    id          TEXT PRIMARY KEY,
//	    queue       TEXT NOT NULL DEFAULT '',
//	    payload     BLOB,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- milliseconds since epoch
//	    created_at  INTEGER NOT NULL,             -- milliseconds since epoch
//	    attempts    INTEGER NOT NULL DEFAULT 0
//	);
//	CREATE TABLE IF NOT EXISTS vtq_dead ( ... , last_error TEXT );
package vtq

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// Job is a row in the queue.
type Job struct {
	ID        string
	Queue     string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// DeadJob is a job that exhausted its delivery attempts.
type DeadJob struct {
	Job
	LastError string
	DeadAt    time.Time
}

// Options configures queue behaviour.
type Options struct {
	// Queue is the logical queue name. Multiple queues can coexist in the
	// same table. Default: "" (the default queue).
	Queue string
	// Visibility is how long a claimed job stays invisible. Default: 30s.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in the Run loop.
	// Default: 1s.
	PollInterval time.Duration
	// MaxAttempts is the delivery ceiling before a job is dead-lettered.
	// 0 means unlimited. Default: 0.
	MaxAttempts int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup, then Publish
// and Claim (or Run) as needed.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// EnsureTable creates the vtq tables and index if they don't exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vtq_jobs (
			id          TEXT PRIMARY KEY,
			queue       TEXT NOT NULL DEFAULT '',
			payload     BLOB,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_vtq_visible ON vtq_jobs (queue, visible_at);
		CREATE TABLE IF NOT EXISTS vtq_dead (
			id          TEXT PRIMARY KEY,
			queue       TEXT NOT NULL DEFAULT '',
			payload     BLOB,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT '',
			dead_at     INTEGER NOT NULL
		);
	`)
	return err
}

// Publish inserts a job that is immediately visible.
func (q *Q) Publish(ctx context.Context, id string, payload []byte) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO vtq_jobs (id, queue, payload, visible_at, created_at) VALUES (?,?,?,?,?)`,
		id, q.opts.Queue, payload, now, now,
	)
	return err
}

// Claim atomically picks the oldest visible job, marks it invisible for the
// configured visibility duration, and returns it. Returns nil, nil if no job
// is available.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE vtq_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM vtq_jobs
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, queue, payload, visible_at, created_at, attempts`,
		hideUntil, q.opts.Queue, now.UnixMilli(),
	)

	var j Job
	var visAt, creAt int64
	err := row.Scan(&j.ID, &j.Queue, &j.Payload, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a successfully processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM vtq_jobs WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	)
	return err
}

// Nack makes a job immediately visible again so another consumer can pick it up.
func (q *Q) Nack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE vtq_jobs SET visible_at = 0 WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	)
	return err
}

// Bury moves a job to the dead-letter table, recording the last handler error.
func (q *Q) Bury(ctx context.Context, job *Job, lastErr string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO vtq_dead (id, queue, payload, created_at, attempts, last_error, dead_at)
		VALUES (?,?,?,?,?,?,?)`,
		job.ID, job.Queue, job.Payload, job.CreatedAt.UnixMilli(), job.Attempts,
		lastErr, time.Now().UnixMilli(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vtq_jobs WHERE id = ? AND queue = ?`, job.ID, job.Queue,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// DeadLetters lists buried jobs, most recent first.
func (q *Q) DeadLetters(ctx context.Context, limit int) ([]*DeadJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, queue, payload, created_at, attempts, last_error, dead_at
		FROM vtq_dead WHERE queue = ? ORDER BY dead_at DESC LIMIT ?`,
		q.opts.Queue, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dead []*DeadJob
	for rows.Next() {
		var d DeadJob
		var creAt, deadAt int64
		if err := rows.Scan(&d.ID, &d.Queue, &d.Payload, &creAt, &d.Attempts, &d.LastError, &deadAt); err != nil {
			return nil, err
		}
		d.CreatedAt = time.UnixMilli(creAt)
		d.DeadAt = time.UnixMilli(deadAt)
		dead = append(dead, &d)
	}
	return dead, rows.Err()
}

// Redrive moves a dead-lettered job back onto the queue with a fresh
// attempts counter.
func (q *Q) Redrive(ctx context.Context, id string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var payload []byte
	err = tx.QueryRowContext(ctx,
		`SELECT payload FROM vtq_dead WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	).Scan(&payload)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO vtq_jobs (id, queue, payload, visible_at, created_at, attempts)
		VALUES (?,?,?,?,?,0)`,
		id, q.opts.Queue, payload, now, now,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vtq_dead WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Len returns the total number of jobs (visible + invisible) in the queue.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vtq_jobs WHERE queue = ?`, q.opts.Queue,
	).Scan(&n)
	return n, err
}

// DeadLen returns the number of dead-lettered jobs in the queue.
func (q *Q) DeadLen(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vtq_dead WHERE queue = ?`, q.opts.Queue,
	).Scan(&n)
	return n, err
}

// Handler processes a claimed job. Return nil to ack, non-nil to nack.
type Handler func(ctx context.Context, job *Job) error

// Run polls for visible jobs and calls handler for each one, strictly one at
// a time. It blocks until ctx is cancelled.
func (q *Q) Run(ctx context.Context, handler Handler) {
	log := q.opts.Logger
	log.Info("vtq: consumer started",
		"queue", q.opts.Queue,
		"visibility", q.opts.Visibility,
		"poll", q.opts.PollInterval,
		"max_attempts", q.opts.MaxAttempts,
	)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("vtq: consumer stopped", "queue", q.opts.Queue)
			return
		case <-ticker.C:
			q.poll(ctx, handler, log)
		}
	}
}

func (q *Q) poll(ctx context.Context, handler Handler, log *slog.Logger) {
	for {
		job, err := q.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("vtq: claim failed", "error", err, "queue", q.opts.Queue)
			}
			return
		}
		if job == nil {
			return // nothing visible
		}

		err = handler(ctx, job)
		if err == nil {
			_ = q.Ack(ctx, job.ID)
			continue
		}

		if q.opts.MaxAttempts > 0 && job.Attempts >= q.opts.MaxAttempts {
			log.Warn("vtq: job exceeded max attempts, dead-lettering",
				"id", job.ID, "attempts", job.Attempts, "error", err, "queue", q.opts.Queue)
			if buryErr := q.Bury(ctx, job, err.Error()); buryErr != nil {
				log.Error("vtq: bury failed", "id", job.ID, "error", buryErr)
				_ = q.Nack(ctx, job.ID)
			}
			continue
		}

		log.Warn("vtq: handler failed, nacking", "id", job.ID, "error", err, "queue", q.opts.Queue)
		_ = q.Nack(ctx, job.ID)
	}
}
