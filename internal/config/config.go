// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// AppConfig is the full application configuration
type AppConfig struct {
	// Env names the deployment environment, used for sentry and log tuning
	Env string `env:"APP_ENV" envDefault:"development"`

	// LogLevel is a zerolog level name (trace, debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// PrettyLogs switches console formatting on for local development
	PrettyLogs bool `env:"LOG_PRETTY" envDefault:"false"`

	// SentryDSN enables error reporting when set
	SentryDSN string `env:"SENTRY_DSN"`

	// Port serves health and metrics endpoints
	Port int `env:"PORT" envDefault:"8080"`

	Scraper  ScraperConfig  `envPrefix:"SCRAPER_"`
	Verifier VerifierConfig `envPrefix:"VERIFY_"`
}

// ScraperConfig tunes the headless extraction strategy
type ScraperConfig struct {
	// ChromePath overrides browser binary discovery
	ChromePath string `env:"CHROME_PATH"`

	// UserDataDir points at the persistent browser profile root
	UserDataDir string `env:"USER_DATA_DIR"`

	Headless    bool   `env:"HEADLESS" envDefault:"true"`
	ProxyServer string `env:"PROXY"`

	// ExtractJS is an inline page-evaluated expression returning the
	// extracted record array
	ExtractJS string `env:"EXTRACT_JS"`

	// ExtractJSFile points at a script file loaded when ExtractJS is empty
	ExtractJSFile string `env:"EXTRACT_JS_FILE"`

	PageTimeout  time.Duration `env:"PAGE_TIMEOUT" envDefault:"45s"`
	MinPageDelay time.Duration `env:"MIN_PAGE_DELAY" envDefault:"2s"`
	MaxPageDelay time.Duration `env:"MAX_PAGE_DELAY" envDefault:"6s"`
}

// VerifierConfig configures the verification provider and its credentials
type VerifierConfig struct {
	// BaseURL is the verification provider endpoint
	BaseURL string `env:"BASE_URL"`

	// APIKeys is a comma-separated credential list, each entry formatted as
	// key[:name[:requests-per-minute]]
	APIKeys string `env:"API_KEYS"`

	// LegacyAPIKey is the single-key fallback used when APIKeys is empty
	LegacyAPIKey string `env:"API_KEY"`

	// DefaultPerMin applies to credentials without an explicit rate
	DefaultPerMin int `env:"DEFAULT_PER_MIN" envDefault:"60"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

// KeySpec is one parsed verification credential
type KeySpec struct {
	Key            string
	DisplayName    string
	RequestsPerMin int
}

// Load reads configuration from the environment and applies guardrails
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize clamps values loaded from env into workable ranges
func (c *AppConfig) Sanitize() {
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = 8080
	}
	c.Scraper.Sanitize()
	c.Verifier.Sanitize()
}

// Sanitize keeps page delays ordered and timeouts positive
func (c *ScraperConfig) Sanitize() {
	if c.PageTimeout <= 0 {
		c.PageTimeout = 45 * time.Second
	}
	if c.MinPageDelay < 0 {
		c.MinPageDelay = 0
	}
	if c.MaxPageDelay < c.MinPageDelay {
		c.MaxPageDelay = c.MinPageDelay
	}
}

// ExtractScript resolves the page extraction expression, preferring the
// inline value over the script file. Empty with no error means extraction
// is unconfigured and the scrape side cannot run.
func (c *ScraperConfig) ExtractScript() (string, error) {
	if c.ExtractJS != "" {
		return c.ExtractJS, nil
	}
	if c.ExtractJSFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.ExtractJSFile)
	if err != nil {
		return "", fmt.Errorf("failed to read extraction script %s: %w", c.ExtractJSFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Sanitize keeps credential rates and timeouts positive
func (c *VerifierConfig) Sanitize() {
	if c.DefaultPerMin <= 0 {
		c.DefaultPerMin = 60
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Keys parses the credential list. When no list is configured the legacy
// single key becomes the sole credential; an empty result means the
// verification pool cannot run.
func (c *VerifierConfig) Keys() []KeySpec {
	var specs []KeySpec

	for i, entry := range strings.Split(c.APIKeys, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		spec := KeySpec{
			DisplayName:    fmt.Sprintf("key-%d", i+1),
			RequestsPerMin: c.DefaultPerMin,
		}

		parts := strings.SplitN(entry, ":", 3)
		spec.Key = parts[0]
		if len(parts) > 1 && parts[1] != "" {
			spec.DisplayName = parts[1]
		}
		if len(parts) > 2 {
			var perMin int
			if _, err := fmt.Sscanf(parts[2], "%d", &perMin); err == nil && perMin > 0 {
				spec.RequestsPerMin = perMin
			}
		}

		specs = append(specs, spec)
	}

	if len(specs) == 0 && c.LegacyAPIKey != "" {
		specs = append(specs, KeySpec{
			Key:            c.LegacyAPIKey,
			DisplayName:    "legacy",
			RequestsPerMin: c.DefaultPerMin,
		})
	}

	return specs
}
