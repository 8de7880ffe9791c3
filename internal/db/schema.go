package db

import (
	"database/sql"
	"fmt"
)

// setupSchema creates the necessary tables in PostgreSQL
func setupSchema(db *sql.DB) error {
	// Scrape job queue: one row per submitted scrape request
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scrape_jobs (
			id TEXT PRIMARY KEY,
			target_id TEXT NOT NULL,
			target_url TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			page_count INTEGER NOT NULL DEFAULT 1,
			pages_scraped INTEGER NOT NULL DEFAULT 0,
			leads_found INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create scrape_jobs table: %w", err)
	}

	// Browser session lock records, one active row per profile at most
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS browser_sessions (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			session_type TEXT NOT NULL,
			status TEXT NOT NULL,
			scrape_job_id TEXT,
			started_at TIMESTAMP NOT NULL,
			last_heartbeat TIMESTAMP,
			ended_at TIMESTAMP,
			end_reason TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create browser_sessions table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			scrape_job_id TEXT,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			title TEXT,
			company_name TEXT,
			company_linkedin TEXT,
			location TEXT,
			company_size TEXT,
			industry TEXT,
			website TEXT,
			keywords TEXT,
			profile_url TEXT,
			phone_numbers TEXT,
			email TEXT,
			email_pattern TEXT,
			verification_status TEXT NOT NULL DEFAULT 'unverified',
			verification_error TEXT,
			permutations_checked JSONB,
			mx_provider TEXT,
			duplicate_of TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create leads table: %w", err)
	}

	// Bulk verification jobs and their per-email rows
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bulk_email_jobs (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			total_emails INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0,
			valid INTEGER NOT NULL DEFAULT 0,
			catchall INTEGER NOT NULL DEFAULT 0,
			invalid INTEGER NOT NULL DEFAULT 0,
			credits_used INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create bulk_email_jobs table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bulk_emails (
			id TEXT PRIMARY KEY,
			bulk_job_id TEXT NOT NULL REFERENCES bulk_email_jobs(id),
			email TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			code TEXT,
			mx TEXT,
			message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create bulk_emails table: %w", err)
	}

	// Which browser profile each owner is assigned to
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS profile_assignments (
			owner_id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			assigned_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create profile_assignments table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS credit_balances (
			owner_id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create credit_balances table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS credit_entries (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			ref_id TEXT,
			memo TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create credit_entries table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs(status, priority DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_target ON scrape_jobs(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_browser_sessions_active ON browser_sessions(profile_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email) WHERE email IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_leads_owner ON leads(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bulk_emails_job ON bulk_emails(bulk_job_id, status)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
