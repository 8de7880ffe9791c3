// Package scraper defines the extraction strategy used by the scrape
// processor. The DOM heuristics themselves live behind the Extractor
// interface; the processor only cares about records in and errors out.
package scraper

import "context"

// RawRecord is one extracted lead candidate before persistence
type RawRecord struct {
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name"`
	Title           string   `json:"title"`
	CompanyName     string   `json:"company_name"`
	CompanyLinkedIn string   `json:"company_linkedin"`
	Location        string   `json:"location"`
	CompanySize     string   `json:"company_size"`
	Industry        string   `json:"industry"`
	Website         string   `json:"website"`
	Keywords        []string `json:"keywords"`
	ProfileURL      string   `json:"profile_url"`
	PhoneNumbers    []string `json:"phone_numbers"`
}

// ExtractResult carries the extracted records plus how far the run got
type ExtractResult struct {
	Records      []RawRecord
	PagesScraped int
}

// Extractor is the pluggable extraction strategy, resolved at startup rather
// than lazily imported so missing browser dependencies surface immediately.
type Extractor interface {
	// Extract navigates the target through the owner's browser profile and
	// returns the extracted records. Blocking; honours ctx cancellation.
	Extract(ctx context.Context, targetURL string, pageCount int, ownerID string) (*ExtractResult, error)

	// IsAvailable reports whether the strategy can run in this environment
	// (e.g. a headless browser binary is present).
	IsAvailable() bool
}
