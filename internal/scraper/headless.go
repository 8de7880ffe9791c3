package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// HeadlessConfig controls the chromedp-backed extraction strategy
type HeadlessConfig struct {
	ExecPath     string        // Chrome binary path; empty means chromedp's default lookup
	UserDataDir  string        // Per-profile user data root; keeps cookies/session per identity
	Headless     bool          // Run without a visible window
	ProxyServer  string        // Upstream proxy for the anti-detect session
	PageTimeout  time.Duration // Per-page navigation budget
	MinPageDelay time.Duration // Lower bound of the human-like per-page pause
	MaxPageDelay time.Duration // Upper bound of the human-like per-page pause
	ExtractJS    string        // Page-evaluated expression returning the record array
}

// DefaultHeadlessConfig returns the extraction defaults
func DefaultHeadlessConfig() HeadlessConfig {
	return HeadlessConfig{
		Headless:     true,
		PageTimeout:  45 * time.Second,
		MinPageDelay: 2 * time.Second,
		MaxPageDelay: 6 * time.Second,
	}
}

// HeadlessExtractor drives a real browser through chromedp. The DOM-side
// heuristics live in the injected ExtractJS expression; this type only owns
// navigation, pacing, and session hygiene.
type HeadlessExtractor struct {
	config HeadlessConfig
}

// NewHeadlessExtractor creates the chromedp-backed strategy
func NewHeadlessExtractor(config HeadlessConfig) *HeadlessExtractor {
	if config.PageTimeout == 0 {
		config.PageTimeout = 45 * time.Second
	}
	if config.MinPageDelay == 0 {
		config.MinPageDelay = 2 * time.Second
	}
	if config.MaxPageDelay < config.MinPageDelay {
		config.MaxPageDelay = config.MinPageDelay
	}
	return &HeadlessExtractor{config: config}
}

// IsAvailable reports whether a Chrome binary can be found. Resolved at
// startup so environments without browser dependencies fail loudly instead
// of at first claim.
func (e *HeadlessExtractor) IsAvailable() bool {
	if e.config.ExtractJS == "" {
		return false
	}
	if e.config.ExecPath != "" {
		if _, err := exec.LookPath(e.config.ExecPath); err != nil {
			return false
		}
		return true
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

// Extract navigates the target one page at a time, pausing a human-like
// interval between pages, and evaluates the extraction expression on each.
func (e *HeadlessExtractor) Extract(ctx context.Context, targetURL string, pageCount int, ownerID string) (*ExtractResult, error) {
	if pageCount < 1 {
		pageCount = 1
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("excludeSwitches", "enable-automation"),
	)
	if e.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.config.ExecPath))
	}
	if e.config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(e.config.UserDataDir))
	}
	if e.config.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(e.config.ProxyServer))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	result := &ExtractResult{}

	for page := 1; page <= pageCount; page++ {
		pageURL := targetURL
		if page > 1 {
			pageURL = fmt.Sprintf("%s&page=%d", targetURL, page)
		}

		pageCtx, pageCancel := context.WithTimeout(browserCtx, e.config.PageTimeout)

		var pageRecords []RawRecord
		err := chromedp.Run(pageCtx,
			network.Enable(),
			chromedp.Navigate(pageURL),
			chromedp.WaitReady("body"),
			chromedp.Evaluate(e.config.ExtractJS, &pageRecords),
		)
		pageCancel()

		if err != nil {
			// A partial run still reports how far it got; the caller decides
			// whether partial results are worth keeping.
			return result, fmt.Errorf("extraction failed on page %d of %d: %w", page, pageCount, err)
		}

		result.Records = append(result.Records, pageRecords...)
		result.PagesScraped = page

		log.Debug().
			Str("owner_id", ownerID).
			Int("page", page).
			Int("records", len(pageRecords)).
			Msg("Extracted page")

		if page < pageCount {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(e.humanDelay()):
			}
		}
	}

	return result, nil
}

// humanDelay returns a randomised pause within the configured bounds
func (e *HeadlessExtractor) humanDelay() time.Duration {
	spread := e.config.MaxPageDelay - e.config.MinPageDelay
	if spread <= 0 {
		return e.config.MinPageDelay
	}
	return e.config.MinPageDelay + time.Duration(rand.Int63n(int64(spread)))
}
