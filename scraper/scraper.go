// Package scraper looks up article titles for inline query results.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const (
	defaultMaxTitleLen = 120
	maxBodyBytes       = 2 << 20
)

// TitleFetcher extracts a readable title from an article page.
type TitleFetcher struct {
	httpClient  *http.Client
	maxTitleLen int
}

// Option configures a TitleFetcher.
type Option func(*TitleFetcher)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *TitleFetcher) {
		f.httpClient.Timeout = d
	}
}

// WithMaxTitleLength caps the returned title, in runes.
func WithMaxTitleLength(n int) Option {
	return func(f *TitleFetcher) {
		f.maxTitleLen = n
	}
}

// NewTitleFetcher creates a title fetcher.
func NewTitleFetcher(opts ...Option) *TitleFetcher {
	f := &TitleFetcher{
		httpClient:  &http.Client{Timeout: 3 * time.Second},
		maxTitleLen: defaultMaxTitleLen,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Title fetches rawURL and returns its article title.
func (f *TitleFetcher) Title(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; IV-Rhash-Bot/1.0)")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBodyBytes), parsedURL)
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}

	title := strings.Join(strings.Fields(article.Title), " ")
	if title == "" {
		return "", fmt.Errorf("no title found")
	}
	if r := []rune(title); len(r) > f.maxTitleLen {
		title = string(r[:f.maxTitleLen])
	}
	return title, nil
}
