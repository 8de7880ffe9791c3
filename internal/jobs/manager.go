package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prospecthq/leadhive/internal/browser"
	"github.com/prospecthq/leadhive/internal/db"
	"github.com/prospecthq/leadhive/internal/util"
	"github.com/rs/zerolog/log"
)

// Manager is the submission and status surface handed to the API layer
type Manager struct {
	queue     Queue
	profiles  ProfileResolver
	registry  LockChecker
	processor *Processor
}

// NewManager creates a job manager
func NewManager(queue Queue, profiles ProfileResolver, registry LockChecker, processor *Processor) *Manager {
	return &Manager{
		queue:     queue,
		profiles:  profiles,
		registry:  registry,
		processor: processor,
	}
}

// Enqueue submits a scrape job. The returned lock state is advisory; the
// claim-time check is authoritative, this one just tells the caller whether
// their profile is free right now.
func (m *Manager) Enqueue(ctx context.Context, targetID, targetURL, ownerID string, priority, pageCount int) (*EnqueueResult, error) {
	if targetID == "" || targetURL == "" || ownerID == "" {
		return nil, fmt.Errorf("target, URL, and owner are required")
	}
	if err := util.ValidateTargetURL(targetURL); err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	targetURL = util.NormaliseTargetURL(targetURL)
	if pageCount < 1 {
		pageCount = 1
	}

	job := &db.ScrapeJob{
		ID:        uuid.New().String(),
		TargetID:  targetID,
		TargetURL: targetURL,
		OwnerID:   ownerID,
		Status:    db.JobStatusPending,
		Priority:  priority,
		PageCount: pageCount,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.queue.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue scrape job: %w", err)
	}

	position, err := m.queue.QueuePosition(ctx, job.ID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to compute queue position")
		position = 0
	}

	lockState := m.lockStateForOwner(ctx, ownerID)

	log.Info().
		Str("job_id", job.ID).
		Str("target_id", targetID).
		Int("position", position).
		Str("lock_state", string(lockState)).
		Msg("Enqueued scrape job")

	return &EnqueueResult{
		QueueID:   job.ID,
		Position:  position,
		LockState: lockState,
	}, nil
}

// lockStateForOwner resolves the owner's profile and reports its lock state.
// Resolution problems degrade to available rather than failing the enqueue.
func (m *Manager) lockStateForOwner(ctx context.Context, ownerID string) browser.State {
	profileID, err := m.profiles.AssignedProfile(ctx, ownerID)
	if err != nil || profileID == "" {
		return browser.StateAvailable
	}
	lock, err := m.registry.GetLockState(ctx, profileID)
	if err != nil {
		log.Warn().Err(err).Str("profile_id", profileID).Msg("Failed to read lock state during enqueue")
		return browser.StateAvailable
	}
	return lock.State
}

// GetStatus returns the newest job for a target with position and ETA
func (m *Manager) GetStatus(ctx context.Context, targetID string) (*JobStatus, error) {
	job, err := m.queue.GetJobByTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("no scrape job found for target %s", targetID)
	}

	status := &JobStatus{
		JobID:        job.ID,
		TargetID:     job.TargetID,
		Status:       job.Status,
		PagesScraped: job.PagesScraped,
		LeadsFound:   job.LeadsFound,
		ErrorMessage: job.ErrorMessage.String,
	}

	switch job.Status {
	case db.JobStatusPending:
		position, err := m.queue.QueuePosition(ctx, job.ID)
		if err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to compute queue position")
		} else {
			status.Position = position
			status.ETA = EstimateQueueWait(position, job.PageCount)
		}
	case db.JobStatusRunning:
		if job.StartedAt.Valid {
			status.ETA = EstimateRemaining(job.PageCount, job.StartedAt.Time, time.Now().UTC())
		}
	}

	return status, nil
}

// Cancel cancels a job before it is claimed. A running job cannot be
// cancelled; staleness detection is the recovery path for those.
func (m *Manager) Cancel(ctx context.Context, jobID string) (bool, error) {
	cancelled, err := m.queue.CancelPending(ctx, jobID)
	if err != nil {
		return false, err
	}
	if cancelled {
		log.Info().Str("job_id", jobID).Msg("Cancelled pending scrape job")
	}
	return cancelled, nil
}

// ProcessorStatus reports the poll loop's health
func (m *Manager) ProcessorStatus() ProcessorStatus {
	return m.processor.Status()
}
