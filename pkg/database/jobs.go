package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, kind, hash, force, state, attempts, last_error, run_after, created_at, updated_at`

func scanJob(scan func(...any) error) (Job, error) {
	var (
		j        Job
		kind     string
		state    string
		force    int
		runAfter string
		created  string
		updated  string
	)

	err := scan(&j.ID, &kind, &j.Hash, &force, &state, &j.Attempts, &j.LastError, &runAfter, &created, &updated)
	if err != nil {
		return Job{}, err
	}

	j.Kind = JobKind(kind)
	j.State = JobState(state)
	j.Force = force != 0

	for dst, src := range map[*time.Time]string{&j.RunAfter: runAfter, &j.CreatedAt: created, &j.UpdatedAt: updated} {
		t, err := parseSQLiteTime(src)
		if err != nil {
			return Job{}, err
		}

		*dst = t
	}

	return j, nil
}

// parseSQLiteTime parses the timestamp formats mattn/go-sqlite3 hands back
// for TIMESTAMP columns populated by CURRENT_TIMESTAMP.
func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("database: error parsing timestamp %q", s)
}

// Enqueue durably queues a new job and returns its generated ID.
func (db *DB) Enqueue(ctx context.Context, kind JobKind, hash string, force bool, runAfter time.Time) (string, error) {
	return enqueue(ctx, db.q, kind, hash, force, runAfter)
}

// Enqueue is the transactional counterpart of DB.Enqueue.
func (tx *Tx) Enqueue(ctx context.Context, kind JobKind, hash string, force bool, runAfter time.Time) (string, error) {
	return enqueue(ctx, tx.q, kind, hash, force, runAfter)
}

func enqueue(ctx context.Context, q queryer, kind JobKind, hash string, force bool, runAfter time.Time) (string, error) {
	id := uuid.NewString()

	if runAfter.IsZero() {
		runAfter = time.Now()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, hash, force, state, run_after)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(kind), hash, boolToInt(force), string(JobQueued), runAfter.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return "", fmt.Errorf("database: error enqueueing %s job for %q: %w", kind, hash, err)
	}

	return id, nil
}

// Dequeue atomically claims and returns up to limit queued jobs whose
// run_after has elapsed, marking them Running. Callers must eventually call
// MarkDone, MarkFailed, or Reschedule for each claimed job.
func (db *DB) Dequeue(ctx context.Context, limit int) ([]Job, error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	jobs, err := dequeue(ctx, tx.q, limit)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return jobs, nil
}

func dequeue(ctx context.Context, q queryer, limit int) ([]Job, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = ? AND run_after <= CURRENT_TIMESTAMP
		ORDER BY run_after ASC
		LIMIT ?`, string(JobQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("database: error querying queued jobs: %w", err)
	}

	var claimed []Job

	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			rows.Close()

			return nil, fmt.Errorf("database: error scanning queued job: %w", err)
		}

		claimed = append(claimed, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: error iterating queued jobs: %w", err)
	}

	rows.Close()

	for i, job := range claimed {
		_, err := q.ExecContext(ctx,
			`UPDATE jobs SET state = ?, attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			string(JobRunning), job.ID)
		if err != nil {
			return nil, fmt.Errorf("database: error claiming job %q: %w", job.ID, err)
		}

		claimed[i].State = JobRunning
		claimed[i].Attempts++
	}

	return claimed, nil
}

// MarkDone marks id Done.
func (db *DB) MarkDone(ctx context.Context, id string) error {
	return setJobState(ctx, db.q, id, JobDone, "")
}

// MarkDone is the transactional counterpart of DB.MarkDone.
func (tx *Tx) MarkDone(ctx context.Context, id string) error {
	return setJobState(ctx, tx.q, id, JobDone, "")
}

// MarkFailed marks id Failed, recording cause.
func (db *DB) MarkFailed(ctx context.Context, id string, cause error) error {
	return setJobState(ctx, db.q, id, JobFailed, cause.Error())
}

// MarkFailed is the transactional counterpart of DB.MarkFailed.
func (tx *Tx) MarkFailed(ctx context.Context, id string, cause error) error {
	return setJobState(ctx, tx.q, id, JobFailed, cause.Error())
}

func setJobState(ctx context.Context, q queryer, id string, state JobState, lastError string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE jobs SET state = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(state), lastError, id)
	if err != nil {
		return fmt.Errorf("database: error setting job %q to %s: %w", id, state, err)
	}

	return nil
}

// Reschedule returns id to Queued with run_after pushed out by delay,
// backing the state machine's reschedule(d) outcome.
func (db *DB) Reschedule(ctx context.Context, id string, delay time.Duration) error {
	return reschedule(ctx, db.q, id, delay)
}

// Reschedule is the transactional counterpart of DB.Reschedule.
func (tx *Tx) Reschedule(ctx context.Context, id string, delay time.Duration) error {
	return reschedule(ctx, tx.q, id, delay)
}

func reschedule(ctx context.Context, q queryer, id string, delay time.Duration) error {
	runAfter := time.Now().Add(delay).UTC().Format("2006-01-02 15:04:05")

	_, err := q.ExecContext(ctx, `
		UPDATE jobs SET state = ?, run_after = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(JobQueued), runAfter, id)
	if err != nil {
		return fmt.Errorf("database: error rescheduling job %q: %w", id, err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
