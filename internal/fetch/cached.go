package fetch

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a fetched posting is served from memory.
const DefaultCacheTTL = 15 * time.Minute

// CachedFetcherConfig configures a CachedFetcher.
type CachedFetcherConfig struct {
	CacheTTL  time.Duration
	SkipCache bool
	Options   *Options
	Renderer  Renderer // used for SPA fallback; nil disables it
	Verbose   bool
}

// DefaultCachedFetcherConfig returns defaults without a browser renderer.
func DefaultCachedFetcherConfig() *CachedFetcherConfig {
	return &CachedFetcherConfig{
		CacheTTL: DefaultCacheTTL,
		Options:  DefaultOptions(),
	}
}

// CachedFetcher fetches job postings, extracts their text, and keeps the
// results in memory for CacheTTL. Concurrent fetches of one URL share a
// single request.
type CachedFetcher struct {
	options   *Options
	renderer  Renderer
	cacheTTL  time.Duration
	skipCache bool
	verbose   bool
	now       func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	result  *Result
	expires time.Time
}

// CachedResult is a Result plus whether it came from the cache.
type CachedResult struct {
	*Result
	FromCache bool
}

// NewCachedFetcher creates a fetcher. A nil config uses the defaults.
func NewCachedFetcher(config *CachedFetcherConfig) *CachedFetcher {
	if config == nil {
		config = DefaultCachedFetcherConfig()
	}
	if config.Options == nil {
		config.Options = DefaultOptions()
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	return &CachedFetcher{
		options:   config.Options,
		renderer:  config.Renderer,
		cacheTTL:  config.CacheTTL,
		skipCache: config.SkipCache,
		verbose:   config.Verbose,
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
	}
}

// Fetch returns the posting at urlStr with Text populated. When useBrowser
// is set and the extracted text is too short, the page is rendered with the
// configured Renderer and extracted again; a render failure keeps the HTTP text.
func (f *CachedFetcher) Fetch(ctx context.Context, urlStr string, useBrowser bool) (*CachedResult, error) {
	if !f.skipCache {
		if cached := f.lookup(urlStr); cached != nil {
			return &CachedResult{Result: cached, FromCache: true}, nil
		}
	}

	v, err, _ := f.group.Do(urlStr, func() (any, error) {
		return f.fetch(ctx, urlStr, useBrowser)
	})
	if err != nil {
		return nil, err
	}
	result := v.(*Result)

	if !f.skipCache {
		f.mu.Lock()
		f.cache[urlStr] = cacheEntry{result: result, expires: f.now().Add(f.cacheTTL)}
		f.mu.Unlock()
	}
	return &CachedResult{Result: result}, nil
}

func (f *CachedFetcher) fetch(ctx context.Context, urlStr string, useBrowser bool) (*Result, error) {
	result, err := URL(ctx, urlStr, f.options)
	if err != nil {
		return nil, err
	}

	contentSelectors := PlatformContentSelectors(result.Platform)
	noiseSelectors := PlatformNoiseSelectors(result.Platform)

	text, err := ExtractMainText(result.HTML, contentSelectors, noiseSelectors...)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "content extraction failed", Cause: err}
	}
	if f.verbose {
		log.Printf("[fetch] %s platform=%s extracted=%d chars", urlStr, result.Platform, len(text))
	}

	if useBrowser && f.renderer != nil && ShouldUseBrowser(text) {
		html, renderErr := f.renderer.Render(ctx, urlStr)
		if renderErr != nil {
			log.Printf("[fetch] browser fallback failed for %s: %v", urlStr, renderErr)
		} else if rendered, extractErr := ExtractMainText(html, contentSelectors, noiseSelectors...); extractErr == nil {
			result.HTML = html
			result.Rendered = true
			text = rendered
		}
	}

	result.Text = text
	return result, nil
}

func (f *CachedFetcher) lookup(urlStr string) *Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[urlStr]
	if !ok {
		return nil
	}
	if f.now().After(entry.expires) {
		delete(f.cache, urlStr)
		return nil
	}
	return entry.result
}

// Invalidate drops a cached URL.
func (f *CachedFetcher) Invalidate(urlStr string) {
	f.mu.Lock()
	delete(f.cache, urlStr)
	f.mu.Unlock()
}
