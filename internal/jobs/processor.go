package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prospecthq/leadhive/internal/browser"
	"github.com/prospecthq/leadhive/internal/db"
	"github.com/prospecthq/leadhive/internal/observability"
	"github.com/prospecthq/leadhive/internal/scraper"
	"github.com/rs/zerolog/log"
)

const (
	// PollInterval is how often the processor checks for claimable work
	PollInterval = 3 * time.Second

	// HeartbeatInterval keeps the active session trusted during extraction
	HeartbeatInterval = 30 * time.Second
)

// Processor is the single-flight scrape loop. One claim is in flight at a
// time; overlapping ticks no-op on the busy guard. Concurrency across jobs
// comes from running multiple processes, arbitrated by the claim protocol
// and the profile lock registry.
type Processor struct {
	queue     Queue
	profiles  ProfileResolver
	registry  LockChecker
	sessions  SessionStore
	leads     LeadWriter
	extractor scraper.Extractor

	pollInterval time.Duration
	started      atomic.Bool
	busy         atomic.Bool

	mu           sync.Mutex
	currentJobID string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProcessor wires the scrape processor
func NewProcessor(queue Queue, profiles ProfileResolver, registry LockChecker, sessions SessionStore, leads LeadWriter, extractor scraper.Extractor) *Processor {
	return &Processor{
		queue:        queue,
		profiles:     profiles,
		registry:     registry,
		sessions:     sessions,
		leads:        leads,
		extractor:    extractor,
		pollInterval: PollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the poll loop
func (p *Processor) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	if !p.extractor.IsAvailable() {
		log.Warn().Msg("Extraction strategy unavailable in this environment, claimed jobs will fail")
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		log.Info().Dur("poll_interval", p.pollInterval).Msg("Scrape processor started")

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and waits for an in-flight job to finish
func (p *Processor) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
	log.Info().Msg("Scrape processor stopped")
}

// Status reports the live state of the loop
func (p *Processor) Status() ProcessorStatus {
	p.mu.Lock()
	jobID := p.currentJobID
	p.mu.Unlock()

	return ProcessorStatus{
		Started:      p.started.Load(),
		Busy:         p.busy.Load(),
		CurrentJobID: jobID,
	}
}

func (p *Processor) setCurrentJob(jobID string) {
	p.mu.Lock()
	p.currentJobID = jobID
	p.mu.Unlock()
}

// tick runs one claim attempt. The CAS guard makes overlapping ticks no-op
// rather than stack up while a long extraction runs.
func (p *Processor) tick(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		return
	}
	defer p.busy.Store(false)

	if err := p.processNext(ctx); err != nil {
		log.Error().Err(err).Msg("Scrape tick failed")
		sentry.CaptureException(err)
	}
}

// processNext claims and runs at most one job
func (p *Processor) processNext(ctx context.Context) error {
	job, err := p.queue.ClaimNextPending(ctx)
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	if job == nil {
		return nil
	}

	p.setCurrentJob(job.ID)
	defer p.setCurrentJob("")

	log.Info().
		Str("job_id", job.ID).
		Str("target_id", job.TargetID).
		Int("priority", job.Priority).
		Int("page_count", job.PageCount).
		Msg("Claimed scrape job")

	// A missing profile assignment is a configuration error, terminal to
	// the job. There is nothing to retry against.
	profileID, err := p.profiles.AssignedProfile(ctx, job.OwnerID)
	if err != nil {
		return p.failJob(ctx, job.ID, fmt.Sprintf("failed to resolve browser profile: %v", err))
	}
	if profileID == "" {
		return p.failJob(ctx, job.ID, "no browser profile assigned to owner")
	}

	lock, err := p.registry.GetLockState(ctx, profileID)
	if err != nil {
		return p.failJob(ctx, job.ID, fmt.Sprintf("failed to check profile lock: %v", err))
	}

	// A busy profile is contention, not failure. The row goes back to
	// pending with its original created_at and priority intact.
	if lock.State != browser.StateAvailable {
		log.Info().
			Str("job_id", job.ID).
			Str("profile_id", profileID).
			Str("lock_state", string(lock.State)).
			Str("holder_id", lock.HolderID).
			Msg("Profile busy, requeueing job")
		if err := p.queue.RequeueJob(ctx, job.ID); err != nil {
			return fmt.Errorf("requeue failed: %w", err)
		}
		return nil
	}

	session, err := p.sessions.CreateSession(ctx, profileID, job.OwnerID, db.SessionTypeScrape, job.ID)
	if err != nil {
		return p.failJob(ctx, job.ID, fmt.Sprintf("failed to create browser session: %v", err))
	}

	if runErr := p.runJob(ctx, job, session); runErr != nil {
		// Session closure must never be skipped. A lingering active row
		// blocks every future job on this profile until staleness kicks in.
		if err := p.sessions.CloseSession(ctx, session.ID, db.SessionStatusError, runErr.Error()); err != nil {
			log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to close session after job failure")
		}
		return p.failJob(ctx, job.ID, runErr.Error())
	}

	return nil
}

// runJob executes the extraction and persistence phase of a claimed job.
// The session is closed completed on success; the caller owns error closure.
func (p *Processor) runJob(ctx context.Context, job *db.ScrapeJob, session *db.BrowserSession) (err error) {
	span := sentry.StartSpan(ctx, "jobs.run_scrape")
	span.SetTag("job_id", job.ID)
	defer span.Finish()

	ctx, otelSpan := observability.StartScrapeJobSpan(ctx, job.ID, job.TargetID)
	defer otelSpan.End()

	started := time.Now()
	leadsFound := 0
	defer func() {
		status := db.JobStatusCompleted
		if err != nil {
			status = db.JobStatusFailed
		}
		observability.RecordScrapeJob(ctx, observability.ScrapeJobMetrics{
			JobID:      job.ID,
			Status:     status,
			LeadsFound: leadsFound,
			Duration:   time.Since(started),
		})
	}()

	stopHeartbeat := p.startHeartbeat(ctx, session.ID)
	defer stopHeartbeat()

	result, err := p.extractor.Extract(ctx, job.TargetURL, job.PageCount, job.OwnerID)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	inserted, err := p.leads.InsertLeads(ctx, convertRecords(job, result.Records))
	if err != nil {
		return fmt.Errorf("failed to persist leads: %w", err)
	}
	leadsFound = inserted

	if err := p.queue.CompleteJob(ctx, job.ID, result.PagesScraped, inserted); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	if err := p.sessions.CloseSession(ctx, session.ID, db.SessionStatusCompleted, ""); err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to close session after completion")
	}

	log.Info().
		Str("job_id", job.ID).
		Int("pages_scraped", result.PagesScraped).
		Int("leads_found", inserted).
		Msg("Scrape job completed")

	return nil
}

// startHeartbeat keeps the session row fresh while extraction runs. Returns
// a stop function that must be called once the session is done.
func (p *Processor) startHeartbeat(ctx context.Context, sessionID string) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.sessions.Heartbeat(ctx, sessionID); err != nil {
					log.Warn().Err(err).Str("session_id", sessionID).Msg("Session heartbeat failed")
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func (p *Processor) failJob(ctx context.Context, jobID, reason string) error {
	log.Warn().Str("job_id", jobID).Str("reason", reason).Msg("Scrape job failed")
	if err := p.queue.FailJob(ctx, jobID, reason); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// convertRecords maps raw extraction output onto lead rows. Identity
// filtering happens at insert time in the store.
func convertRecords(job *db.ScrapeJob, records []scraper.RawRecord) []*db.Lead {
	leads := make([]*db.Lead, 0, len(records))
	for _, rec := range records {
		leads = append(leads, &db.Lead{
			OwnerID:         job.OwnerID,
			ScrapeJobID:     job.ID,
			FirstName:       rec.FirstName,
			LastName:        rec.LastName,
			Title:           rec.Title,
			CompanyName:     rec.CompanyName,
			CompanyLinkedIn: rec.CompanyLinkedIn,
			Location:        rec.Location,
			CompanySize:     rec.CompanySize,
			Industry:        rec.Industry,
			Website:         rec.Website,
			Keywords:        joinList(rec.Keywords),
			ProfileURL:      rec.ProfileURL,
			PhoneNumbers:    joinList(rec.PhoneNumbers),
		})
	}
	return leads
}

// joinList stores a string list as a JSON array column value
func joinList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}
