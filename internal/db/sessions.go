package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Browser session types and statuses as stored in browser_sessions
const (
	SessionTypeManual = "manual"
	SessionTypeScrape = "scrape"

	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusError     = "error"
)

// BrowserSession is a profile lock record. At most one active row per
// profile_id is allowed; the claiming logic enforces it, not the schema.
type BrowserSession struct {
	ID            string
	ProfileID     string
	OwnerID       string
	SessionType   string
	Status        string
	ScrapeJobID   sql.NullString
	StartedAt     time.Time
	LastHeartbeat sql.NullTime
	EndedAt       sql.NullTime
	EndReason     sql.NullString
}

// SessionStore reads and writes browser session lock records
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a session store on the shared connection
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `
	id, profile_id, owner_id, session_type, status, scrape_job_id,
	started_at, last_heartbeat, ended_at, end_reason`

func scanSession(row interface{ Scan(...interface{}) error }) (*BrowserSession, error) {
	var s BrowserSession
	err := row.Scan(&s.ID, &s.ProfileID, &s.OwnerID, &s.SessionType, &s.Status,
		&s.ScrapeJobID, &s.StartedAt, &s.LastHeartbeat, &s.EndedAt, &s.EndReason)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ActiveSession returns the most recently started active session, optionally
// filtered to one profile. Returns nil when no active session exists.
func (s *SessionStore) ActiveSession(ctx context.Context, profileID string) (*BrowserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM browser_sessions WHERE status = 'active'`
	args := []interface{}{}
	if profileID != "" {
		query += ` AND profile_id = $1`
		args = append(args, profileID)
	}
	query += ` ORDER BY started_at DESC LIMIT 1`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return session, nil
}

// ActiveSessions returns every active session, oldest first. Used by the
// boot-time reconciliation sweep.
func (s *SessionStore) ActiveSessions(ctx context.Context) ([]*BrowserSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM browser_sessions
		WHERE status = 'active'
		ORDER BY started_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*BrowserSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CreateSession opens a new active session lock for a profile
func (s *SessionStore) CreateSession(ctx context.Context, profileID, ownerID, sessionType, scrapeJobID string) (*BrowserSession, error) {
	session := &BrowserSession{
		ID:          uuid.New().String(),
		ProfileID:   profileID,
		OwnerID:     ownerID,
		SessionType: sessionType,
		Status:      SessionStatusActive,
		StartedAt:   time.Now().UTC(),
	}
	if scrapeJobID != "" {
		session.ScrapeJobID = sql.NullString{String: scrapeJobID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO browser_sessions (
			id, profile_id, owner_id, session_type, status, scrape_job_id, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, session.ID, session.ProfileID, session.OwnerID, session.SessionType,
		session.Status, session.ScrapeJobID, session.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser session: %w", err)
	}
	return session, nil
}

// CloseSession marks a session completed or errored with an end timestamp.
// Closing an already-closed session is a no-op.
func (s *SessionStore) CloseSession(ctx context.Context, sessionID, status, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE browser_sessions
		SET status = $1, ended_at = $2, end_reason = $3
		WHERE id = $4 AND status = 'active'
	`, status, time.Now().UTC(), sql.NullString{String: reason, Valid: reason != ""}, sessionID)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// Heartbeat stamps a session's liveness signal
func (s *SessionStore) Heartbeat(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE browser_sessions
		SET last_heartbeat = $1
		WHERE id = $2 AND status = 'active'
	`, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// JobState returns the status of the scrape job a session references, or
// sql.ErrNoRows when the job row no longer exists.
func (s *SessionStore) JobState(ctx context.Context, scrapeJobID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM scrape_jobs WHERE id = $1
	`, scrapeJobID).Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}
