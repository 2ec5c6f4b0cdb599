package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jonathan/resume-tailor/internal/fetch"
)

var (
	// ErrHTTPRequestFailed wraps fetch failures.
	ErrHTTPRequestFailed = errors.New("HTTP request failed")
	// ErrNoContent is returned when a posting yields no text.
	ErrNoContent = errors.New("no job description text found")
)

// IngestFromURL fetches a job posting through fetcher and returns its cleaned
// text. With useBrowser set, SPA pages are re-rendered in a headless browser
// when the fetcher has a renderer.
func IngestFromURL(ctx context.Context, fetcher *fetch.CachedFetcher, urlStr string, useBrowser bool) (*Document, error) {
	result, err := fetcher.Fetch(ctx, urlStr, useBrowser)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHTTPRequestFailed, err)
	}

	text := CleanText(result.Text)
	if text == "" {
		return nil, fmt.Errorf("%s: %w", urlStr, ErrNoContent)
	}
	log.Printf("[ingestion] %s platform=%s chars=%d cached=%t", urlStr, result.Platform, len(text), result.FromCache)

	meta := NewMetadata(text, "")
	meta.URL = urlStr
	meta.Format = "html"
	meta.Platform = string(result.Platform)
	meta.Title = fetch.PageTitle(result.HTML)
	meta.Rendered = result.Rendered
	return &Document{Text: text, Format: FormatText, Metadata: meta}, nil
}
