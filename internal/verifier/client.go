// Package verifier implements the email verification queue: an in-process
// priority queue drained by one worker per API credential, each worker
// rate-limited to its credential's throughput.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Status is the classified outcome of one verification call
type Status string

const (
	StatusValid    Status = "valid"
	StatusCatchall Status = "catchall"
	StatusInvalid  Status = "invalid"
	StatusError    Status = "error"
)

// rank orders outcomes for best-seen retention: valid > catchall > invalid/error
func (s Status) rank() int {
	switch s {
	case StatusValid:
		return 3
	case StatusCatchall:
		return 2
	default:
		return 1
	}
}

// VerifyResponse is the provider's answer for one address
type VerifyResponse struct {
	Code    string `json:"code"`
	MX      string `json:"mx,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client is the mail-testing API, treated as a black box
type Client interface {
	Verify(ctx context.Context, email, apiKey string) (*VerifyResponse, error)
}

// HTTPClient calls the provider's REST verification endpoint
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a verification API client
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Verify checks one address against the provider using the given credential
func (c *HTTPClient) Verify(ctx context.Context, email, apiKey string) (*VerifyResponse, error) {
	endpoint := fmt.Sprintf("%s/verify?email=%s&key=%s",
		c.baseURL, url.QueryEscape(email), url.QueryEscape(apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out VerifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	return &out, nil
}

// Classify maps a provider response (or transport error) onto a Status.
// The provider's "ok" code means deliverable; a mailbox-full/ambiguous code
// or any mention of a catch-all server downgrades to catchall; everything
// else is invalid. Transport errors are recorded but never fatal to the
// permutation loop.
func Classify(resp *VerifyResponse, err error) Status {
	if err != nil {
		return StatusError
	}
	code := strings.ToLower(strings.TrimSpace(resp.Code))
	switch {
	case code == "ok":
		return StatusValid
	case code == "mailbox_full" || code == "ok_for_all":
		return StatusCatchall
	case strings.Contains(strings.ToLower(resp.Message), "catch"):
		return StatusCatchall
	default:
		return StatusInvalid
	}
}

// ProviderLabel derives a mail-provider label from an MX hint
func ProviderLabel(mx string) string {
	lower := strings.ToLower(mx)
	switch {
	case lower == "":
		return "unknown"
	case strings.Contains(lower, "google") || strings.Contains(lower, "gmail"):
		return "google"
	case strings.Contains(lower, "outlook") || strings.Contains(lower, "protection.outlook"):
		return "outlook"
	default:
		return "generic-smtp"
	}
}
