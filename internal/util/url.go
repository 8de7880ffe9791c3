// Package util holds small helpers shared across packages.
package util

import (
	"fmt"
	"net/url"
	"strings"
)

// NormaliseTargetURL trims whitespace and adds an https scheme when the
// caller pasted a bare host. Query strings are kept as-is since search
// targets carry their filters there.
func NormaliseTargetURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return strings.TrimSuffix(raw, "/")
}

// ValidateTargetURL checks that a scrape target URL is something a browser
// session can actually navigate to. Returns an error describing the first
// problem found, or nil.
func ValidateTargetURL(raw string) error {
	raw = NormaliseTargetURL(raw)
	if raw == "" {
		return fmt.Errorf("target URL cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("target URL is not parseable: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target URL must use http or https, got %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("target URL has no host")
	}
	if !strings.Contains(host, ".") {
		return fmt.Errorf("target URL host %q has no TLD", host)
	}

	for _, part := range strings.Split(host, ".") {
		if part == "" {
			return fmt.Errorf("target URL host contains empty segment")
		}
		if strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return fmt.Errorf("target URL host segment %q cannot start or end with hyphen", part)
		}
		for _, c := range part {
			isLower := c >= 'a' && c <= 'z'
			isUpper := c >= 'A' && c <= 'Z'
			isDigit := c >= '0' && c <= '9'
			if !isLower && !isUpper && !isDigit && c != '-' {
				return fmt.Errorf("target URL host contains invalid character: %c", c)
			}
		}
	}

	return nil
}
