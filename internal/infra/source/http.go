// Package source holds the remote fetch collaborators.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultUserAgent mimics a desktop browser; the CEHQ site rejects bare clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	tableURLTemplate = "https://www.cehq.gouv.qc.ca/suivihydro/tableau.asp?NoStation=%s"
	graphURLTemplate = "https://www.cehq.gouv.qc.ca/suivihydro/graphique.asp?noStation=%s"

	maxBodySize = 8 << 20
)

// TableURL returns the CEHQ data table page of a station.
func TableURL(station string) string {
	return fmt.Sprintf(tableURLTemplate, strings.TrimSpace(station))
}

// GraphURL returns the CEHQ graph page of a station.
func GraphURL(station string) string {
	return fmt.Sprintf(graphURLTemplate, strings.TrimSpace(station))
}

// Error is a non-2xx response.
type Error struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("GET %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: http %d: %s", e.URL, e.StatusCode, e.Message)
}

// HTTPStatus exposes the status code to the fetch error classifier.
func (e *Error) HTTPStatus() int { return e.StatusCode }

// HTTPSource downloads a page with a single GET.
type HTTPSource struct {
	url        string
	userAgent  string
	httpClient *http.Client
}

// NewHTTPSource creates a source for url with a per-request timeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		url:       url,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// URL returns the fetched address.
func (s *HTTPSource) URL() string { return s.url }

// Fetch returns the response body.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &Error{URL: s.url, StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}
