package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// Scrape job statuses as stored in scrape_jobs.status
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// ScrapeJob is a row in the scrape_jobs queue
type ScrapeJob struct {
	ID           string
	TargetID     string
	TargetURL    string
	OwnerID      string
	Status       string
	Priority     int
	PageCount    int
	PagesScraped int
	LeadsFound   int
	CreatedAt    time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
	ErrorMessage sql.NullString
}

// DbQueue is a PostgreSQL implementation of the scrape job queue
type DbQueue struct {
	db *sql.DB
}

// NewDbQueue creates a PostgreSQL job queue
func NewDbQueue(db *sql.DB) *DbQueue {
	return &DbQueue{
		db: db,
	}
}

// Execute runs a database operation in a transaction
func (q *DbQueue) Execute(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CreateJob inserts a new pending scrape job row
func (q *DbQueue) CreateJob(ctx context.Context, job *ScrapeJob) error {
	span := sentry.StartSpan(ctx, "queue.create_job")
	defer span.Finish()

	return q.Execute(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scrape_jobs (
				id, target_id, target_url, owner_id, status, priority,
				page_count, pages_scraped, leads_found, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, $8)
		`, job.ID, job.TargetID, job.TargetURL, job.OwnerID, job.Status,
			job.Priority, job.PageCount, job.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert scrape job: %w", err)
		}
		return nil
	})
}

// ClaimNextPending attempts to claim the best pending job.
//
// The claim is a two step protocol: read the highest-priority, oldest pending
// row, then transition it with a guarded UPDATE on status. If the guarded
// update affects zero rows another process won the race and the caller gets
// no claim; the conditional statement is the only concurrency-safety
// mechanism, so it must stay a single UPDATE ... WHERE status = 'pending'.
func (q *DbQueue) ClaimNextPending(ctx context.Context) (*ScrapeJob, error) {
	span := sentry.StartSpan(ctx, "queue.claim_next_pending")
	defer span.Finish()

	var job ScrapeJob

	err := q.Execute(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT id, target_id, target_url, owner_id, status, priority,
				page_count, created_at
			FROM scrape_jobs s
			WHERE status = 'pending'
			AND NOT EXISTS (
				SELECT 1 FROM scrape_jobs r
				WHERE r.target_id = s.target_id AND r.status = 'running'
			)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		`).Scan(&job.ID, &job.TargetID, &job.TargetURL, &job.OwnerID,
			&job.Status, &job.Priority, &job.PageCount, &job.CreatedAt)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("failed to query pending job: %w", err)
		}

		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			UPDATE scrape_jobs
			SET status = 'running', started_at = $1
			WHERE id = $2 AND status = 'pending'
		`, now, job.ID)
		if err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read claim result: %w", err)
		}
		if rows == 0 {
			// Another claimer won the race; retry on the next poll tick
			return sql.ErrNoRows
		}

		job.Status = JobStatusRunning
		job.StartedAt = sql.NullTime{Time: now, Valid: true}

		return nil
	})

	if err == sql.ErrNoRows {
		return nil, nil // Nothing to claim
	}
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// RequeueJob returns a claimed job to pending after a resource conflict.
// The row keeps its original created_at and priority so queue order is
// preserved; this is a deferral, not a failure.
func (q *DbQueue) RequeueJob(ctx context.Context, jobID string) error {
	return q.Execute(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE scrape_jobs
			SET status = 'pending', started_at = NULL
			WHERE id = $1 AND status = 'running'
		`, jobID)
		if err != nil {
			return fmt.Errorf("failed to requeue job: %w", err)
		}
		return nil
	})
}

// CompleteJob marks a running job completed with its result counters
func (q *DbQueue) CompleteJob(ctx context.Context, jobID string, pagesScraped, leadsFound int) error {
	return q.Execute(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE scrape_jobs
			SET status = 'completed', completed_at = $1,
				pages_scraped = $2, leads_found = $3
			WHERE id = $4
		`, time.Now().UTC(), pagesScraped, leadsFound, jobID)
		if err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}
		return nil
	})
}

// FailJob marks a job failed with the error text surfaced to the owner
func (q *DbQueue) FailJob(ctx context.Context, jobID string, errMsg string) error {
	return q.Execute(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE scrape_jobs
			SET status = 'failed', completed_at = $1, error_message = $2
			WHERE id = $3
		`, time.Now().UTC(), errMsg, jobID)
		if err != nil {
			return fmt.Errorf("failed to fail job: %w", err)
		}
		return nil
	})
}

// CancelPending cancels a job that has not been claimed yet. A running job
// cannot be cancelled mid-flight; staleness detection is the recovery path.
func (q *DbQueue) CancelPending(ctx context.Context, jobID string) (bool, error) {
	var cancelled bool
	err := q.Execute(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE scrape_jobs
			SET status = 'cancelled', completed_at = $1
			WHERE id = $2 AND status = 'pending'
		`, time.Now().UTC(), jobID)
		if err != nil {
			return fmt.Errorf("failed to cancel job: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		cancelled = rows > 0
		return nil
	})
	return cancelled, err
}

// FailRunningJobsForSession cascades a session failure to any running job
// that references it, so an orphaned job never stays running forever.
func (q *DbQueue) FailRunningJobsForSession(ctx context.Context, scrapeJobID, reason string) error {
	if scrapeJobID == "" {
		return nil
	}
	return q.Execute(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE scrape_jobs
			SET status = 'failed', completed_at = $1, error_message = $2
			WHERE id = $3 AND status = 'running'
		`, time.Now().UTC(), reason, scrapeJobID)
		if err != nil {
			return fmt.Errorf("failed to cascade session failure: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows > 0 {
			log.Warn().
				Str("job_id", scrapeJobID).
				Str("reason", reason).
				Msg("Cascade-failed running job from stale session")
		}
		return nil
	})
}

// GetJob fetches a single job row by ID
func (q *DbQueue) GetJob(ctx context.Context, jobID string) (*ScrapeJob, error) {
	return q.scanJob(ctx, `WHERE id = $1`, jobID)
}

// GetJobByTarget fetches the newest job for a target
func (q *DbQueue) GetJobByTarget(ctx context.Context, targetID string) (*ScrapeJob, error) {
	return q.scanJob(ctx, `WHERE target_id = $1 ORDER BY created_at DESC LIMIT 1`, targetID)
}

func (q *DbQueue) scanJob(ctx context.Context, where string, arg interface{}) (*ScrapeJob, error) {
	var job ScrapeJob
	err := q.db.QueryRowContext(ctx, `
		SELECT id, target_id, target_url, owner_id, status, priority, page_count,
			pages_scraped, leads_found, created_at, started_at, completed_at, error_message
		FROM scrape_jobs `+where, arg).Scan(
		&job.ID, &job.TargetID, &job.TargetURL, &job.OwnerID, &job.Status,
		&job.Priority, &job.PageCount, &job.PagesScraped, &job.LeadsFound,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return &job, nil
}

// QueuePosition returns the 1-based position of a pending job in claim
// order. A non-pending or unknown job has position 0.
func (q *DbQueue) QueuePosition(ctx context.Context, jobID string) (int, error) {
	var position int
	err := q.db.QueryRowContext(ctx, `
		SELECT CASE WHEN target.status = 'pending' THEN (
			SELECT COUNT(*) + 1
			FROM scrape_jobs ahead
			WHERE ahead.status = 'pending'
			  AND (ahead.priority > target.priority
				OR (ahead.priority = target.priority AND ahead.created_at < target.created_at))
		) ELSE 0 END
		FROM scrape_jobs target
		WHERE target.id = $1
	`, jobID).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to compute queue position: %w", err)
	}
	return position, nil
}

// PendingCount returns the current queue depth
func (q *DbQueue) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scrape_jobs WHERE status = 'pending'
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}
