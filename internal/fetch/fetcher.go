// Package fetch retrieves external URLs under adversarial conditions (slow
// servers, anti-bot blocking, redirects, mixed content types) and turns them
// into normalized text chunks with provenance metadata.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/vitalita/healthassist/internal/chunk"
	"github.com/vitalita/healthassist/internal/docs"
)

// ErrForbidden marks a 403 from the remote site. It is never retried and
// carries user-actionable guidance.
var ErrForbidden = errors.New("the site blocks automated access (403); download the page manually and upload it as a PDF instead")

// ErrNoContent means the page fetched fine but no usable text was found.
var ErrNoContent = errors.New("no readable content found at url")

// errPermanent wraps client errors (400/404) that must not be retried.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

const maxHTMLBody = 10 << 20

// Result is the outcome of fetching one URL. Chunks is empty when Err is set.
type Result struct {
	URL         string
	Title       string
	ContentType ContentType
	Chunks      []chunk.Chunk
}

// Config tunes a Fetcher.
type Config struct {
	Timeout       time.Duration // outer bound on fetch+parse, default 30s
	Retries       int           // transient-failure retries, default 2
	Backoff       time.Duration // base delay, doubles per attempt, default 1s
	MinContentLen int           // minimum usable HTML text length, default 200
}

// Fetcher retrieves and parses remote documents. The underlying client keeps
// cookies across the HEAD/GET pair for sites that gate on session cookies.
type Fetcher struct {
	client   *http.Client
	cfg      Config
	splitter *chunk.Splitter
	logger   *log.Logger
}

// New builds a Fetcher around splitter.
func New(cfg Config, splitter *chunk.Splitter, logger *log.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MinContentLen <= 0 {
		cfg.MinContentLen = 200
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	jar, _ := cookiejar.New(nil)
	return &Fetcher{
		client:   &http.Client{Jar: jar},
		cfg:      cfg,
		splitter: splitter,
		logger:   logger,
	}
}

// Fetch validates, classifies and retrieves rawURL, returning its normalized
// chunks. The whole operation is bounded by the configured timeout; all
// failures come back as an error return so callers can persist a terminal
// state.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	res := Result{URL: rawURL}

	u, err := ValidateURL(rawURL)
	if err != nil {
		return res, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	res.ContentType = f.classify(ctx, u)

	switch res.ContentType {
	case ContentPDF:
		title, chunks, err := f.fetchPDF(ctx, u)
		if err != nil {
			return res, err
		}
		res.Title, res.Chunks = title, chunks
	default:
		title, chunks, err := f.fetchHTML(ctx, u)
		if err != nil {
			return res, err
		}
		res.Title, res.Chunks = title, chunks
	}
	return res, nil
}

// classify decides pdf vs html from the URL extension, then from a HEAD
// probe. HEAD failures fall back to html; the GET pass sorts out the rest.
func (f *Fetcher) classify(ctx context.Context, u *url.URL) ContentType {
	if ct, ok := classifyByExtension(u); ok {
		return ct
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return ContentHTML
	}
	setBrowserHeaders(req)
	resp, err := f.client.Do(req)
	if err != nil {
		return ContentHTML
	}
	resp.Body.Close()
	ct, _ := classifyByHeader(resp.Header.Get("Content-Type"))
	return ct
}

// get performs the real fetch with retry/backoff. 400 and 404 are permanent;
// 403 maps to ErrForbidden; everything else transient is retried.
func (f *Fetcher) get(ctx context.Context, u *url.URL) (*http.Response, error) {
	var lastErr error
	attempts := f.cfg.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := f.cfg.Backoff << (attempt - 1)
			f.logger.Printf("retrying %s in %s after: %v", u.Host, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		setBrowserHeaders(req)
		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, ErrForbidden
		case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, errPermanent{fmt.Errorf("fetch failed with status %d", resp.StatusCode)}
		default:
			resp.Body.Close()
			lastErr = fmt.Errorf("fetch failed with status %d", resp.StatusCode)
		}
	}
	return nil, lastErr
}

// fetchPDF downloads to a scratch file, extracts per-page text and removes
// the scratch file unconditionally.
func (f *Fetcher) fetchPDF(ctx context.Context, u *url.URL) (string, []chunk.Chunk, error) {
	resp, err := f.get(ctx, u)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "fetch-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("scratch file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", nil, fmt.Errorf("downloading pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", nil, fmt.Errorf("downloading pdf: %w", err)
	}

	pages, err := docs.ExtractPages(tmp.Name())
	if err != nil {
		return "", nil, fmt.Errorf("extracting pdf text: %w", err)
	}

	title := slugFromURL(u)
	var chunks []chunk.Chunk
	for _, page := range pages {
		chunks = append(chunks, f.splitter.ChunkDocument(page.Text, chunk.Metadata{
			SourceID:   u.String(),
			SourceType: chunk.SourcePDFURL,
			Title:      title,
			Page:       page.Number,
			TotalPages: len(pages),
		})...)
	}
	return title, chunk.Renumber(chunks), nil
}

// fetchHTML retrieves the page, extracts readable content and a title.
func (f *Fetcher) fetchHTML(ctx context.Context, u *url.URL) (string, []chunk.Chunk, error) {
	resp, err := f.get(ctx, u)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTMLBody))
	if err != nil {
		return "", nil, fmt.Errorf("reading page: %w", err)
	}
	html := string(body)

	text, title := extractReadable(html, u)
	if len(text) < f.cfg.MinContentLen {
		// No content container was convincing; fall back to whole-body text.
		fallback := collapseWhitespace(bluemonday.StrictPolicy().Sanitize(html))
		if len(fallback) > len(text) {
			text = fallback
		}
	}
	if len(text) < f.cfg.MinContentLen {
		return title, nil, fmt.Errorf("%w (%d usable characters)", ErrNoContent, len(text))
	}
	if title == "" {
		title = extractTitle(html)
	}
	if title == "" {
		title = slugFromURL(u)
	}

	chunks := f.splitter.ChunkDocument(text, chunk.Metadata{
		SourceID:   u.String(),
		SourceType: chunk.SourceHTMLURL,
		Title:      title,
	})
	return title, chunks, nil
}

// extractReadable runs readability over the page, which strips scripts,
// navigation and boilerplate and scores candidate content containers.
func extractReadable(html string, u *url.URL) (text, title string) {
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return "", ""
	}
	return collapseWhitespace(article.TextContent), strings.TrimSpace(article.Title)
}

var (
	titleRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	h1Re      = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	ogTitleRe = regexp.MustCompile(`(?is)<meta[^>]+property=["']og:title["'][^>]+content=["']([^"']+)["']`)
	tagRe     = regexp.MustCompile(`(?s)<[^>]*>`)
)

// extractTitle falls through <title>, the first heading and og:title.
func extractTitle(html string) string {
	for _, re := range []*regexp.Regexp{titleRe, h1Re, ogTitleRe} {
		if m := re.FindStringSubmatch(html); m != nil {
			t := strings.TrimSpace(tagRe.ReplaceAllString(m[1], ""))
			if t != "" {
				return t
			}
		}
	}
	return ""
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,vi;q=0.8")
	req.Header.Set("Referer", "https://www.google.com/")
}
