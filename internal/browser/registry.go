// Package browser tracks which browser profile is in use, by whom, and for
// what purpose. A profile is a detection-sensitive identity (cookies, proxy,
// session state) that must never be driven by two automated sessions at once.
package browser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prospecthq/leadhive/internal/db"
	"github.com/rs/zerolog/log"
)

// Staleness thresholds. A session with heartbeats is trusted until they stop;
// a session that never sent one gets a short startup grace; very old sessions
// are closed unconditionally as a backstop.
const (
	ManualStaleAfter    = 5 * time.Minute
	HeartbeatStaleAfter = 3 * time.Minute
	NoHeartbeatGrace    = 2 * time.Minute
	MaxSessionDuration  = 60 * time.Minute
)

// State describes the availability of a profile
type State string

const (
	StateAvailable State = "available"
	StateManualUse State = "manual_use"
	StateScraping  State = "scraping"
)

// Lock reports the current lock state of a profile and who holds it
type Lock struct {
	State       State
	ProfileID   string
	SessionID   string
	HolderID    string
	ScrapeJobID string
}

// SessionStore is the subset of session persistence the registry needs
type SessionStore interface {
	ActiveSession(ctx context.Context, profileID string) (*db.BrowserSession, error)
	ActiveSessions(ctx context.Context) ([]*db.BrowserSession, error)
	CloseSession(ctx context.Context, sessionID, status, reason string) error
	JobState(ctx context.Context, scrapeJobID string) (string, error)
}

// JobFailer cascades a session failure to the job that owned it
type JobFailer interface {
	FailRunningJobsForSession(ctx context.Context, scrapeJobID, reason string) error
}

// Registry is the profile lock registry
type Registry struct {
	sessions SessionStore
	jobs     JobFailer
	now      func() time.Time
}

// NewRegistry creates a registry over the given stores
func NewRegistry(sessions SessionStore, jobs JobFailer) *Registry {
	return &Registry{
		sessions: sessions,
		jobs:     jobs,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// classifySession decides whether an active session should still be trusted.
// Returns a non-empty reason when the session is stale.
func classifySession(session *db.BrowserSession, now time.Time) string {
	age := now.Sub(session.StartedAt)

	if session.SessionType == db.SessionTypeManual {
		ref := session.StartedAt
		if session.LastHeartbeat.Valid {
			ref = session.LastHeartbeat.Time
		}
		if now.Sub(ref) > ManualStaleAfter {
			return fmt.Sprintf("manual session idle for %s", now.Sub(ref).Round(time.Second))
		}
		return ""
	}

	// Hard ceiling applies to every scrape session regardless of heartbeats
	if age > MaxSessionDuration {
		return fmt.Sprintf("scrape session exceeded max duration (%s)", age.Round(time.Second))
	}

	if session.LastHeartbeat.Valid {
		silence := now.Sub(session.LastHeartbeat.Time)
		if silence > HeartbeatStaleAfter {
			return fmt.Sprintf("no heartbeat for %s", silence.Round(time.Second))
		}
		return ""
	}

	// Never heartbeated: it may have crashed before its first heartbeat, but
	// startup can legitimately take time, so give it a grace window.
	if age > NoHeartbeatGrace {
		return fmt.Sprintf("no heartbeat since start %s ago", age.Round(time.Second))
	}
	return ""
}

// GetLockState reports whether a profile is free. A stale occupant is closed
// on the spot, its job cascade-failed, and the profile reported available.
func (r *Registry) GetLockState(ctx context.Context, profileID string) (*Lock, error) {
	session, err := r.sessions.ActiveSession(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock state: %w", err)
	}
	if session == nil {
		return &Lock{State: StateAvailable, ProfileID: profileID}, nil
	}

	if reason := classifySession(session, r.now()); reason != "" {
		r.expireSession(ctx, session, reason)
		return &Lock{State: StateAvailable, ProfileID: profileID}, nil
	}

	lock := &Lock{
		ProfileID: session.ProfileID,
		SessionID: session.ID,
		HolderID:  session.OwnerID,
	}
	if session.SessionType == db.SessionTypeManual {
		lock.State = StateManualUse
	} else {
		lock.State = StateScraping
		lock.ScrapeJobID = session.ScrapeJobID.String
	}
	return lock, nil
}

// expireSession closes a stale session and cascade-fails its job. The job
// cascade must happen even when the session close fails; an orphaned running
// job is worse than a doubly-closed session.
func (r *Registry) expireSession(ctx context.Context, session *db.BrowserSession, reason string) {
	log.Warn().
		Str("session_id", session.ID).
		Str("profile_id", session.ProfileID).
		Str("session_type", session.SessionType).
		Str("reason", reason).
		Msg("Closing stale browser session")

	if err := r.sessions.CloseSession(ctx, session.ID, db.SessionStatusError, reason); err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to close stale session")
	}

	if session.ScrapeJobID.Valid {
		failReason := fmt.Sprintf("browser session went stale: %s", reason)
		if err := r.jobs.FailRunningJobsForSession(ctx, session.ScrapeJobID.String, failReason); err != nil {
			log.Error().Err(err).Str("job_id", session.ScrapeJobID.String).Msg("Failed to cascade session failure to job")
		}
	}
}

// ReconcileOnBoot sweeps every active session once at process start, before
// the first poll tick. Beyond plain staleness it closes duplicate active
// scrape sessions sharing one job (claim races leave these behind) and
// sessions whose job is gone or already terminal.
func (r *Registry) ReconcileOnBoot(ctx context.Context) error {
	sessions, err := r.sessions.ActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sessions: %w", err)
	}
	if len(sessions) == 0 {
		log.Info().Msg("Boot reconciliation: no active sessions")
		return nil
	}

	closed := 0
	seenJobs := make(map[string]string) // scrape_job_id -> earliest session id

	for _, session := range sessions {
		// Sessions arrive oldest first, so the first session per job wins
		if session.SessionType == db.SessionTypeScrape && session.ScrapeJobID.Valid {
			jobID := session.ScrapeJobID.String

			if keeper, dup := seenJobs[jobID]; dup {
				log.Warn().
					Str("session_id", session.ID).
					Str("kept_session_id", keeper).
					Str("job_id", jobID).
					Msg("Closing duplicate active session for job")
				if err := r.sessions.CloseSession(ctx, session.ID, db.SessionStatusError, "duplicate active session for job"); err != nil {
					log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to close duplicate session")
				}
				closed++
				continue
			}
			seenJobs[jobID] = session.ID

			status, err := r.sessions.JobState(ctx, jobID)
			if errors.Is(err, sql.ErrNoRows) {
				r.expireSession(ctx, session, "referenced job no longer exists")
				closed++
				continue
			}
			if err != nil {
				log.Error().Err(err).Str("job_id", jobID).Msg("Failed to check job state during reconciliation")
			} else if isTerminalJobStatus(status) {
				if err := r.sessions.CloseSession(ctx, session.ID, db.SessionStatusError, fmt.Sprintf("referenced job already %s", status)); err != nil {
					log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to close orphaned session")
				}
				closed++
				continue
			}
		}

		if reason := classifySession(session, r.now()); reason != "" {
			r.expireSession(ctx, session, reason)
			closed++
		}
	}

	log.Info().
		Int("active_sessions", len(sessions)).
		Int("closed", closed).
		Msg("Boot reconciliation completed")

	return nil
}

func isTerminalJobStatus(status string) bool {
	switch status {
	case db.JobStatusCompleted, db.JobStatusFailed, db.JobStatusCancelled:
		return true
	}
	return false
}
