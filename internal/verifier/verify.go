package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/getsentry/sentry-go"
	"github.com/prospecthq/leadhive/internal/credits"
	"github.com/prospecthq/leadhive/internal/db"
	"github.com/rs/zerolog/log"
)

// LeadStore is the lead persistence the verification path needs
type LeadStore interface {
	GetLead(ctx context.Context, leadID string) (*db.Lead, error)
	SetVerificationResult(ctx context.Context, leadID, status, email, pattern, mxProvider string, audit []byte) error
	SetVerificationError(ctx context.Context, leadID, reason string) error
	FindEarlierLeadByEmail(ctx context.Context, email string, createdBefore time.Time, excludeLeadID string) (string, error)
	FlagDuplicate(ctx context.Context, leadID, duplicateOf string) error
}

// BulkStore is the bulk-job persistence the verification path needs
type BulkStore interface {
	PendingEmails(ctx context.Context, bulkJobID string) ([]*db.BulkEmail, error)
	SetEmailResult(ctx context.Context, emailID, status, code, mx, message string) error
	RecomputeCounters(ctx context.Context, bulkJobID string, creditsUsed int) error
}

// PermutationCheck is one entry in the per-lead audit trail. The trail is
// persisted alongside the final decision so any outcome can be reconstructed
// for debugging and dispute resolution.
type PermutationCheck struct {
	Email   string `json:"email"`
	Pattern string `json:"pattern,omitempty"`
	Status  Status `json:"status"`
	Code    string `json:"code,omitempty"`
	MX      string `json:"mx,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Service runs the verification algorithm against the provider
type Service struct {
	leads  LeadStore
	bulk   BulkStore
	ledger credits.Ledger
	client Client
	keys   *KeyPool
	syntax *emailverifier.Verifier
}

// NewService wires the verification service
func NewService(leads LeadStore, bulk BulkStore, ledger credits.Ledger, client Client, keys *KeyPool) *Service {
	return &Service{
		leads:  leads,
		bulk:   bulk,
		ledger: ledger,
		client: client,
		keys:   keys,
		syntax: emailverifier.NewVerifier(),
	}
}

// checkOne verifies a single address on the held credential, respecting the
// key's required inter-request delay before the call.
func (s *Service) checkOne(ctx context.Context, cred *Credential, email string) (*VerifyResponse, Status, error) {
	if err := s.keys.Wait(ctx, cred); err != nil {
		return nil, StatusError, err
	}

	resp, err := s.client.Verify(ctx, email, cred.Key)
	s.keys.TrackUsage(cred)

	return resp, Classify(resp, err), err
}

// VerifyLead runs the permutation loop for one lead: credit gate, ordered
// candidates, short-circuit on the first valid, best-seen retention
// otherwise, exactly one debit when the final status is valid.
func (s *Service) VerifyLead(ctx context.Context, cred *Credential, item *Item) (*Outcome, error) {
	span := sentry.StartSpan(ctx, "verifier.verify_lead")
	defer span.Finish()

	if len(item.Candidates) == 0 {
		reason := "no candidate emails to verify"
		if err := s.leads.SetVerificationError(ctx, item.LeadID, reason); err != nil {
			return nil, err
		}
		return &Outcome{Status: StatusError, Err: errors.New(reason)}, nil
	}

	// The credit gate runs before any network call: a lead whose owner
	// cannot pay must not consume provider quota.
	ok, err := s.ledger.CheckBalance(ctx, item.OwnerID, 1)
	if err != nil {
		return nil, s.failLead(ctx, item.LeadID, fmt.Errorf("failed to check credit balance: %w", err))
	}
	if !ok {
		if err := s.leads.SetVerificationError(ctx, item.LeadID, "insufficient credits"); err != nil {
			return nil, err
		}
		return &Outcome{Status: StatusError, Err: credits.ErrInsufficientCredits}, nil
	}

	audit := make([]PermutationCheck, 0, len(item.Candidates))

	var best *PermutationCheck
	for _, candidate := range item.Candidates {
		// Syntax screen saves a network call on malformed permutations;
		// the audit trail still records the attempt.
		if parsed := s.syntax.ParseAddress(candidate.Email); !parsed.Valid {
			audit = append(audit, PermutationCheck{
				Email:   candidate.Email,
				Pattern: candidate.Pattern,
				Status:  StatusInvalid,
				Message: "invalid address syntax",
			})
			continue
		}

		resp, status, err := s.checkOne(ctx, cred, candidate.Email)

		check := PermutationCheck{
			Email:   candidate.Email,
			Pattern: candidate.Pattern,
			Status:  status,
		}
		if err != nil {
			check.Error = err.Error()
		} else {
			check.Code = resp.Code
			check.MX = resp.MX
			check.Message = resp.Message
		}
		audit = append(audit, check)

		// First-seen wins ties, so only a strictly better result replaces
		if best == nil || status.rank() > best.Status.rank() {
			best = &audit[len(audit)-1]
		}

		if status == StatusValid {
			break
		}
	}

	if best == nil {
		// Every candidate failed the syntax screen
		best = &audit[len(audit)-1]
	}

	provider := ProviderLabel(best.MX)

	creditsUsed := 0
	if best.Status == StatusValid {
		if err := s.ledger.Debit(ctx, item.OwnerID, 1, item.LeadID, "email verification"); err != nil {
			// The verified address is still worth persisting; the missed
			// debit is surfaced for reconciliation instead of discarded.
			sentry.CaptureException(fmt.Errorf("verification debit failed for lead %s: %w", item.LeadID, err))
			log.Error().Err(err).Str("lead_id", item.LeadID).Msg("Failed to debit credit for valid email")
		} else {
			creditsUsed = 1
		}
	}

	auditJSON, err := json.Marshal(audit)
	if err != nil {
		return nil, s.failLead(ctx, item.LeadID, fmt.Errorf("failed to encode audit trail: %w", err))
	}

	confirmedEmail := ""
	if best.Status == StatusValid || best.Status == StatusCatchall {
		confirmedEmail = best.Email
	}

	if err := s.leads.SetVerificationResult(ctx, item.LeadID, string(best.Status), confirmedEmail, best.Pattern, provider, auditJSON); err != nil {
		return nil, s.failLead(ctx, item.LeadID, fmt.Errorf("failed to store verification result: %w", err))
	}

	if best.Status == StatusValid {
		s.flagDuplicate(ctx, item.LeadID, best.Email)
	}

	log.Info().
		Str("lead_id", item.LeadID).
		Str("status", string(best.Status)).
		Str("provider", provider).
		Int("permutations", len(audit)).
		Msg("Lead verification completed")

	return &Outcome{
		Status:      best.Status,
		Email:       confirmedEmail,
		Pattern:     best.Pattern,
		Provider:    provider,
		CreditsUsed: creditsUsed,
	}, nil
}

// failLead stamps the lead row with the failure reason before the error
// propagates, so an aborted verification never leaves the row unverified
// with nothing recorded. The stamp is best-effort; the cause is what the
// caller needs to see.
func (s *Service) failLead(ctx context.Context, leadID string, cause error) error {
	if err := s.leads.SetVerificationError(ctx, leadID, cause.Error()); err != nil {
		log.Warn().Err(err).Str("lead_id", leadID).Msg("Failed to record verification failure")
	}
	return cause
}

// flagDuplicate marks the lead a duplicate of the earliest lead holding the
// same confirmed email. Only confirmed-valid addresses are checked; catchall
// and invalid results are not usable addresses regardless of uniqueness. A
// lookup failure never disturbs the verification outcome.
func (s *Service) flagDuplicate(ctx context.Context, leadID, email string) {
	lead, err := s.leads.GetLead(ctx, leadID)
	if err != nil || lead == nil {
		log.Warn().Err(err).Str("lead_id", leadID).Msg("Skipping duplicate check: lead lookup failed")
		return
	}

	earlier, err := s.leads.FindEarlierLeadByEmail(ctx, email, lead.CreatedAt, leadID)
	if err != nil {
		log.Warn().Err(err).Str("lead_id", leadID).Msg("Duplicate lookup failed")
		return
	}
	if earlier == "" {
		return
	}

	if err := s.leads.FlagDuplicate(ctx, leadID, earlier); err != nil {
		log.Warn().Err(err).Str("lead_id", leadID).Msg("Failed to flag duplicate lead")
		return
	}

	log.Info().
		Str("lead_id", leadID).
		Str("duplicate_of", earlier).
		Msg("Flagged duplicate lead")
}

// VerifyBulk applies the same per-email classification and credential-delay
// logic across a flat list of pending rows. Aggregates are recomputed from
// the full result set after every email so a partial failure cannot drift
// the counters.
func (s *Service) VerifyBulk(ctx context.Context, cred *Credential, item *Item) (*Outcome, error) {
	span := sentry.StartSpan(ctx, "verifier.verify_bulk")
	defer span.Finish()

	pending, err := s.bulk.PendingEmails(ctx, item.BulkJobID)
	if err != nil {
		return nil, err
	}

	creditsUsed := 0
	for _, row := range pending {
		ok, err := s.ledger.CheckBalance(ctx, item.OwnerID, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to check credit balance: %w", err)
		}
		if !ok {
			if err := s.bulk.SetEmailResult(ctx, row.ID, string(StatusError), "", "", "insufficient credits"); err != nil {
				log.Error().Err(err).Str("email_id", row.ID).Msg("Failed to record insufficient-credits result")
			}
			continue
		}

		resp, status, callErr := s.checkOne(ctx, cred, row.Email)

		var code, mx, message string
		if callErr != nil {
			message = callErr.Error()
		} else {
			code, mx, message = resp.Code, resp.MX, resp.Message
		}

		if err := s.bulk.SetEmailResult(ctx, row.ID, string(status), code, mx, message); err != nil {
			log.Error().Err(err).Str("email_id", row.ID).Msg("Failed to store bulk email result")
			continue
		}

		if status == StatusValid {
			if err := s.ledger.Debit(ctx, item.OwnerID, 1, item.BulkJobID, "bulk email verification"); err != nil {
				log.Error().Err(err).Str("bulk_job_id", item.BulkJobID).Msg("Failed to debit credit for bulk email")
			} else {
				creditsUsed++
			}
		}

		if err := s.bulk.RecomputeCounters(ctx, item.BulkJobID, creditsUsed); err != nil {
			log.Error().Err(err).Str("bulk_job_id", item.BulkJobID).Msg("Failed to recompute bulk counters")
		}
	}

	log.Info().
		Str("bulk_job_id", item.BulkJobID).
		Int("emails", len(pending)).
		Int("credits_used", creditsUsed).
		Msg("Bulk verification batch completed")

	return &Outcome{Status: StatusValid, CreditsUsed: creditsUsed}, nil
}
