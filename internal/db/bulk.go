package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BulkEmailJob aggregates the outcome of a flat list of email verifications
type BulkEmailJob struct {
	ID          string
	OwnerID     string
	Status      string
	TotalEmails int
	Processed   int
	Valid       int
	Catchall    int
	Invalid     int
	CreditsUsed int
	CreatedAt   time.Time
	CompletedAt sql.NullTime
}

// BulkEmail is one address within a bulk verification job
type BulkEmail struct {
	ID        string
	BulkJobID string
	Email     string
	Status    string
	Code      sql.NullString
	MX        sql.NullString
	Message   sql.NullString
}

// BulkStore persists bulk verification jobs and their per-email rows
type BulkStore struct {
	db *sql.DB
}

// NewBulkStore creates a bulk store on the shared connection
func NewBulkStore(db *sql.DB) *BulkStore {
	return &BulkStore{db: db}
}

// CreateBulkJob inserts a bulk job and its pending email rows
func (s *BulkStore) CreateBulkJob(ctx context.Context, ownerID string, emails []string) (*BulkEmailJob, error) {
	job := &BulkEmailJob{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Status:      JobStatusPending,
		TotalEmails: len(emails),
		CreatedAt:   time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bulk_email_jobs (id, owner_id, status, total_emails, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, job.ID, job.OwnerID, job.Status, job.TotalEmails, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bulk job: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bulk_emails (id, bulk_job_id, email, status)
		VALUES ($1, $2, $3, 'pending')
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare bulk email insert: %w", err)
	}
	defer stmt.Close()

	for _, email := range emails {
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), job.ID, email); err != nil {
			return nil, fmt.Errorf("failed to insert bulk email: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bulk job: %w", err)
	}

	return job, nil
}

// PendingEmails returns the unprocessed rows of a bulk job, oldest first
func (s *BulkStore) PendingEmails(ctx context.Context, bulkJobID string) ([]*BulkEmail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bulk_job_id, email, status, code, mx, message
		FROM bulk_emails
		WHERE bulk_job_id = $1 AND status = 'pending'
		ORDER BY id ASC
	`, bulkJobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending bulk emails: %w", err)
	}
	defer rows.Close()

	var emails []*BulkEmail
	for rows.Next() {
		var e BulkEmail
		if err := rows.Scan(&e.ID, &e.BulkJobID, &e.Email, &e.Status, &e.Code, &e.MX, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan bulk email: %w", err)
		}
		emails = append(emails, &e)
	}
	return emails, rows.Err()
}

// SetEmailResult records the classified outcome for a single address
func (s *BulkStore) SetEmailResult(ctx context.Context, emailID, status, code, mx, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bulk_emails
		SET status = $1, code = $2, mx = $3, message = $4
		WHERE id = $5
	`, status,
		sql.NullString{String: code, Valid: code != ""},
		sql.NullString{String: mx, Valid: mx != ""},
		sql.NullString{String: message, Valid: message != ""},
		emailID)
	if err != nil {
		return fmt.Errorf("failed to store bulk email result: %w", err)
	}
	return nil
}

// RecomputeCounters rebuilds the job-level aggregates from the full result
// set. Recomputing instead of incrementing keeps the counters honest when an
// email fails partway through.
func (s *BulkStore) RecomputeCounters(ctx context.Context, bulkJobID string, creditsUsed int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bulk_email_jobs j
		SET processed = agg.processed,
			valid = agg.valid,
			catchall = agg.catchall,
			invalid = agg.invalid,
			credits_used = $2,
			status = CASE WHEN agg.processed >= j.total_emails THEN 'completed' ELSE 'running' END,
			completed_at = CASE WHEN agg.processed >= j.total_emails THEN NOW() ELSE completed_at END
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE status != 'pending') AS processed,
				COUNT(*) FILTER (WHERE status = 'valid') AS valid,
				COUNT(*) FILTER (WHERE status = 'catchall') AS catchall,
				COUNT(*) FILTER (WHERE status = 'invalid') AS invalid
			FROM bulk_emails
			WHERE bulk_job_id = $1
		) agg
		WHERE j.id = $1
	`, bulkJobID, creditsUsed)
	if err != nil {
		return fmt.Errorf("failed to recompute bulk counters: %w", err)
	}
	return nil
}

// GetBulkJob fetches a bulk job row by ID
func (s *BulkStore) GetBulkJob(ctx context.Context, bulkJobID string) (*BulkEmailJob, error) {
	var job BulkEmailJob
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, status, total_emails, processed, valid, catchall,
			invalid, credits_used, created_at, completed_at
		FROM bulk_email_jobs WHERE id = $1
	`, bulkJobID).Scan(&job.ID, &job.OwnerID, &job.Status, &job.TotalEmails,
		&job.Processed, &job.Valid, &job.Catchall, &job.Invalid,
		&job.CreditsUsed, &job.CreatedAt, &job.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bulk job: %w", err)
	}
	return &job, nil
}
