// Package fetch downloads reference pages and extracts their readable text.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/kursil/internal/logger"
)

// DefaultMaxChars bounds the extracted text per reference.
const DefaultMaxChars = 4000

const (
	maxBodyBytes = 5 << 20
	maxRedirects = 10
)

// Reference is the readable content of one page.
type Reference struct {
	URL   string
	Title string
	Text  string
}

// Fetcher fetches pages via HTTP + readability extraction.
type Fetcher struct {
	client   *http.Client
	maxChars int
	log      *logger.Logger
}

// New creates a fetcher. Zero values fall back to a 15s timeout and
// DefaultMaxChars.
func New(timeout time.Duration, maxChars int, log *logger.Logger) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", len(via))
				}
				return nil
			},
		},
		maxChars: maxChars,
		log:      log.With("component", "fetch"),
	}
}

// Fetch downloads rawURL and returns its title and truncated text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Reference, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Reference{}, fmt.Errorf("invalid reference url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Reference{}, err
	}
	req.Header.Set("User-Agent", "Kursil/1.0 (curriculum generator)")

	resp, err := f.client.Do(req)
	if err != nil {
		return Reference{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Reference{}, &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Reference{}, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return Reference{}, fmt.Errorf("extracting %s: %w", rawURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return Reference{}, fmt.Errorf("no extractable content at %s", rawURL)
	}
	return Reference{
		URL:   rawURL,
		Title: strings.TrimSpace(article.Title),
		Text:  truncate(text, f.maxChars),
	}, nil
}

// FetchAll fetches every url, skipping failures.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Reference {
	var refs []Reference
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		ref, err := f.Fetch(ctx, u)
		if err != nil {
			f.log.Warn("reference skipped", "url", u, "error", err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, http.StatusText(e.code))
}
