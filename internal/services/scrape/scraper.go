// Package scrape fetches monitor source pages and reduces them to plain text.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// DefaultFetchTimeout bounds one page fetch
	DefaultFetchTimeout = 30 * time.Second
	// MaxBodyBytes caps how much of a page is read (1MB)
	MaxBodyBytes int64 = 1 << 20

	userAgent = "MonitorHub/1.0 (+https://monitorhub.io)"
)

// Scraper fetches the content a monitor's facts are extracted from
type Scraper interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPScraper fetches pages over HTTP and strips markup, leaving the text
// content that goes into the extraction prompt
type HTTPScraper struct {
	client *http.Client
	policy *bluemonday.Policy
}

// NewHTTPScraper creates a scraper with a bounded request timeout
func NewHTTPScraper(timeout time.Duration) *HTTPScraper {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPScraper{
		client: &http.Client{Timeout: timeout},
		policy: bluemonday.StrictPolicy(),
	}
}

// Fetch retrieves url and returns its text content
func (s *HTTPScraper) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body of %s: %w", url, err)
	}

	text := s.policy.Sanitize(string(body))
	return collapseWhitespace(text), nil
}

// collapseWhitespace squeezes runs of whitespace left behind by tag stripping
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
