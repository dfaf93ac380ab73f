package htmlpage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/clickguard/scan"
)

// maxBody caps a fetched page at 10 MiB.
const maxBody = 10 << 20

// maxRedirects bounds a redirect chain.
const maxRedirects = 5

// RedirectCheck vets the target of each redirect before it is followed.
type RedirectCheck func(ctx context.Context, rawURL string) error

// Fetcher GETs pages and parses them.
type Fetcher struct {
	client   *http.Client
	ua       string
	viewport scan.Viewport
	logger   *slog.Logger
	redirect RedirectCheck
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithViewport sets the layout viewport.
func WithViewport(vp scan.Viewport) Option {
	return func(f *Fetcher) { f.viewport = vp }
}

// WithRedirectCheck vets every redirect hop with fn. A rejected hop fails
// the fetch with fn's error wrapped.
func WithRedirectCheck(fn RedirectCheck) Option {
	return func(f *Fetcher) { f.redirect = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		ua:       "Mozilla/5.0 (compatible; clickguard/1.0)",
		viewport: DefaultViewport,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	if f.redirect != nil {
		c := *f.client
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("htmlpage: too many redirects (%d)", len(via))
			}
			if err := f.redirect(req.Context(), req.URL.String()); err != nil {
				return fmt.Errorf("htmlpage: redirect to %s blocked: %w", req.URL.Redacted(), err)
			}
			return nil
		}
		f.client = &c
	}
	return f
}

// Fetch GETs pageURL and parses the body. Redirects are followed; the page
// keeps the URL it was requested with.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("htmlpage: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("htmlpage: fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("htmlpage: fetch %s: status %d", pageURL, resp.StatusCode)
	}

	p, err := Parse(pageURL, io.LimitReader(resp.Body, maxBody), f.viewport)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("htmlpage: fetched",
		"url", pageURL, "status", resp.StatusCode,
		"iframes", len(p.frames), "needs_browser", p.needsBrowser)
	return p, nil
}
