package fetch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// MinContentLength is the extracted-text length below which a page is
// assumed to be a JavaScript-rendered SPA.
const MinContentLength = 500

// ShouldUseBrowser reports whether extracted text is too short to trust.
func ShouldUseBrowser(extractedText string) bool {
	return len(strings.TrimSpace(extractedText)) < MinContentLength
}

// Renderer returns the fully rendered HTML of a page.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// ChromeRenderer renders pages with a headless Chrome via chromedp.
// Chrome or Chromium must be installed.
type ChromeRenderer struct {
	Timeout time.Duration
	Settle  time.Duration // wait after body is ready for scripts to run
	Verbose bool
}

// NewChromeRenderer returns a renderer with a 30s timeout.
func NewChromeRenderer(verbose bool) *ChromeRenderer {
	return &ChromeRenderer{Timeout: 30 * time.Second, Settle: 3 * time.Second, Verbose: verbose}
}

// Render navigates to url and returns the outer HTML of the document.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	if r.Verbose {
		log.Printf("[browser] rendering %s", url)
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, r.Timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(r.Settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser rendering failed: %w", err)
	}

	if r.Verbose {
		log.Printf("[browser] rendered %d bytes", len(html))
	}
	return html, nil
}
