// Package jobs drives the durable scrape job queue: a timer-driven processor
// that claims pending jobs, runs the extraction strategy under a profile
// lock, and a manager exposing submission and status to the outer layers.
package jobs

import (
	"context"
	"time"

	"github.com/prospecthq/leadhive/internal/browser"
	"github.com/prospecthq/leadhive/internal/db"
)

// Queue is the durable scrape job queue surface the processor and manager use
type Queue interface {
	CreateJob(ctx context.Context, job *db.ScrapeJob) error
	ClaimNextPending(ctx context.Context) (*db.ScrapeJob, error)
	RequeueJob(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string, pagesScraped, leadsFound int) error
	FailJob(ctx context.Context, jobID string, errMsg string) error
	CancelPending(ctx context.Context, jobID string) (bool, error)
	GetJob(ctx context.Context, jobID string) (*db.ScrapeJob, error)
	GetJobByTarget(ctx context.Context, targetID string) (*db.ScrapeJob, error)
	QueuePosition(ctx context.Context, jobID string) (int, error)
	PendingCount(ctx context.Context) (int, error)
}

// ProfileResolver maps an owner to their assigned browser profile. Resolution
// is done fresh at claim time so mid-queue reassignment is picked up.
type ProfileResolver interface {
	AssignedProfile(ctx context.Context, ownerID string) (string, error)
}

// LockChecker reports profile availability, expiring stale occupants
type LockChecker interface {
	GetLockState(ctx context.Context, profileID string) (*browser.Lock, error)
}

// SessionStore is the session lifecycle surface the processor uses
type SessionStore interface {
	CreateSession(ctx context.Context, profileID, ownerID, sessionType, scrapeJobID string) (*db.BrowserSession, error)
	CloseSession(ctx context.Context, sessionID, status, reason string) error
	Heartbeat(ctx context.Context, sessionID string) error
}

// LeadWriter persists extracted leads
type LeadWriter interface {
	InsertLeads(ctx context.Context, leads []*db.Lead) (int, error)
}

// JobStatus is the status view returned to the outer API layer
type JobStatus struct {
	JobID        string        `json:"job_id"`
	TargetID     string        `json:"target_id"`
	Status       string        `json:"status"`
	Position     int           `json:"position,omitempty"`
	PagesScraped int           `json:"pages_scraped"`
	LeadsFound   int           `json:"leads_found"`
	ETA          time.Duration `json:"eta,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// EnqueueResult is returned from job submission
type EnqueueResult struct {
	QueueID   string        `json:"queue_id"`
	Position  int           `json:"position"`
	LockState browser.State `json:"lock_state"`
}

// ProcessorStatus is the health view of the poll loop
type ProcessorStatus struct {
	Started      bool   `json:"started"`
	Busy         bool   `json:"busy"`
	CurrentJobID string `json:"current_job_id,omitempty"`
}
