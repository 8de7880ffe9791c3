package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Lead verification statuses as stored in leads.verification_status
const (
	VerificationUnverified = "unverified"
	VerificationValid      = "valid"
	VerificationCatchall   = "catchall"
	VerificationInvalid    = "invalid"
	VerificationError      = "error"
)

// Lead is a persisted extracted record
type Lead struct {
	ID              string
	OwnerID         string
	ScrapeJobID     string
	FirstName       string
	LastName        string
	Title           string
	CompanyName     string
	CompanyLinkedIn string
	Location        string
	CompanySize     string
	Industry        string
	Website         string
	Keywords        string
	ProfileURL      string
	PhoneNumbers    string
	Email           sql.NullString
	EmailPattern    sql.NullString
	CreatedAt       time.Time
}

// LeadStore persists leads and their verification results
type LeadStore struct {
	db *sql.DB
}

// NewLeadStore creates a lead store on the shared connection
func NewLeadStore(db *sql.DB) *LeadStore {
	return &LeadStore{db: db}
}

// isUniqueViolation reports whether an insert hit a unique constraint
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// InsertLeads persists a batch of extracted leads in one multi-row insert.
// Rows missing either name are dropped before insert; a lead without its
// identity fields is never persisted as a partial record. If the batch
// insert fails outright the store degrades to row-by-row inserts and
// returns the count that made it in.
func (s *LeadStore) InsertLeads(ctx context.Context, leads []*Lead) (int, error) {
	complete := make([]*Lead, 0, len(leads))
	for _, lead := range leads {
		if strings.TrimSpace(lead.FirstName) == "" || strings.TrimSpace(lead.LastName) == "" {
			log.Debug().
				Str("scrape_job_id", lead.ScrapeJobID).
				Str("company", lead.CompanyName).
				Msg("Dropping lead without full name")
			continue
		}
		if lead.ID == "" {
			lead.ID = uuid.New().String()
		}
		if lead.CreatedAt.IsZero() {
			lead.CreatedAt = time.Now().UTC()
		}
		complete = append(complete, lead)
	}

	if len(complete) == 0 {
		return 0, nil
	}

	if err := s.batchInsert(ctx, complete); err != nil {
		log.Warn().
			Err(err).
			Int("lead_count", len(complete)).
			Msg("Batch lead insert failed, falling back to row-by-row")
		return s.insertIndividually(ctx, complete), nil
	}

	return len(complete), nil
}

const leadInsertColumns = `
	id, owner_id, scrape_job_id, first_name, last_name, title, company_name,
	company_linkedin, location, company_size, industry, website, keywords,
	profile_url, phone_numbers, created_at`

func leadInsertArgs(lead *Lead) []interface{} {
	return []interface{}{
		lead.ID, lead.OwnerID, lead.ScrapeJobID, lead.FirstName, lead.LastName,
		lead.Title, lead.CompanyName, lead.CompanyLinkedIn, lead.Location,
		lead.CompanySize, lead.Industry, lead.Website, lead.Keywords,
		lead.ProfileURL, lead.PhoneNumbers, lead.CreatedAt,
	}
}

func (s *LeadStore) batchInsert(ctx context.Context, leads []*Lead) error {
	valueStrings := make([]string, 0, len(leads))
	valueArgs := make([]interface{}, 0, len(leads)*16)

	paramIndex := 1
	for _, lead := range leads {
		placeholders := make([]string, 16)
		for i := range placeholders {
			placeholders[i] = fmt.Sprintf("$%d", paramIndex)
			paramIndex++
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
		valueArgs = append(valueArgs, leadInsertArgs(lead)...)
	}

	query := fmt.Sprintf(`
		INSERT INTO leads (%s)
		VALUES %s
	`, leadInsertColumns, strings.Join(valueStrings, ","))

	startTime := time.Now()
	_, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return fmt.Errorf("failed to batch insert leads: %w", err)
	}

	log.Debug().
		Int("count", len(leads)).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Batch inserted leads")

	return nil
}

// insertIndividually is the degraded path: each row gets its own insert so a
// single poison row cannot sink the whole batch.
func (s *LeadStore) insertIndividually(ctx context.Context, leads []*Lead) int {
	query := fmt.Sprintf(`INSERT INTO leads (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, leadInsertColumns)

	inserted := 0
	for _, lead := range leads {
		if _, err := s.db.ExecContext(ctx, query, leadInsertArgs(lead)...); err != nil {
			if isUniqueViolation(err) {
				log.Debug().Str("lead_id", lead.ID).Msg("Skipping duplicate lead row")
			} else {
				log.Error().Err(err).Str("lead_id", lead.ID).Msg("Failed to insert lead row")
			}
			continue
		}
		inserted++
	}

	log.Info().
		Int("total", len(leads)).
		Int("inserted", inserted).
		Msg("Row-by-row lead insert fallback completed")

	return inserted
}

// SetVerificationResult writes the final verification decision plus the full
// per-permutation audit trail for a lead.
func (s *LeadStore) SetVerificationResult(ctx context.Context, leadID, status, email, pattern, mxProvider string, audit []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads
		SET verification_status = $1,
			email = $2,
			email_pattern = $3,
			mx_provider = $4,
			permutations_checked = $5,
			verification_error = NULL
		WHERE id = $6
	`, status,
		sql.NullString{String: email, Valid: email != ""},
		sql.NullString{String: pattern, Valid: pattern != ""},
		sql.NullString{String: mxProvider, Valid: mxProvider != ""},
		audit, leadID)
	if err != nil {
		return fmt.Errorf("failed to store verification result: %w", err)
	}
	return nil
}

// SetVerificationError records a timestamped verification failure reason
func (s *LeadStore) SetVerificationError(ctx context.Context, leadID, reason string) error {
	stamped := fmt.Sprintf("%s (at %s)", reason, time.Now().UTC().Format(time.RFC3339))
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads
		SET verification_status = 'error', verification_error = $1
		WHERE id = $2
	`, stamped, leadID)
	if err != nil {
		return fmt.Errorf("failed to store verification error: %w", err)
	}
	return nil
}

// FindEarlierLeadByEmail returns the ID of the oldest lead, owned by anyone,
// with the same confirmed email address created before the given time.
// Returns empty when no earlier lead exists.
func (s *LeadStore) FindEarlierLeadByEmail(ctx context.Context, email string, createdBefore time.Time, excludeLeadID string) (string, error) {
	var leadID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM leads
		WHERE email = $1 AND created_at < $2 AND id != $3
		ORDER BY created_at ASC
		LIMIT 1
	`, email, createdBefore, excludeLeadID).Scan(&leadID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up duplicate lead: %w", err)
	}
	return leadID, nil
}

// FlagDuplicate points a lead at the earlier lead holding the same email
func (s *LeadStore) FlagDuplicate(ctx context.Context, leadID, duplicateOf string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET duplicate_of = $1 WHERE id = $2
	`, duplicateOf, leadID)
	if err != nil {
		return fmt.Errorf("failed to flag duplicate lead: %w", err)
	}
	return nil
}

// GetLead fetches a lead row by ID
func (s *LeadStore) GetLead(ctx context.Context, leadID string) (*Lead, error) {
	var lead Lead
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, COALESCE(scrape_job_id, ''), first_name, last_name,
			COALESCE(title, ''), COALESCE(company_name, ''), COALESCE(company_linkedin, ''),
			COALESCE(location, ''), COALESCE(company_size, ''), COALESCE(industry, ''),
			COALESCE(website, ''), COALESCE(keywords, ''), COALESCE(profile_url, ''),
			COALESCE(phone_numbers, ''), email, email_pattern, created_at
		FROM leads WHERE id = $1
	`, leadID).Scan(&lead.ID, &lead.OwnerID, &lead.ScrapeJobID, &lead.FirstName,
		&lead.LastName, &lead.Title, &lead.CompanyName, &lead.CompanyLinkedIn,
		&lead.Location, &lead.CompanySize, &lead.Industry, &lead.Website,
		&lead.Keywords, &lead.ProfileURL, &lead.PhoneNumbers, &lead.Email,
		&lead.EmailPattern, &lead.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead: %w", err)
	}
	return &lead, nil
}
