// Package rodpage reads frames, viewport and pointer-down events from a live
// Chrome tab. It is the scan.Document the sensor uses on real pages.
package rodpage

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/clickguard/click"
	"github.com/hazyhaar/clickguard/internal/browser"
	"github.com/hazyhaar/clickguard/scan"
)

// collect.js is the frame collector shared by both scripts, spliced in at
// COLLECT_FRAMES.
var (
	//go:embed collect.js
	collectJS string
	//go:embed frames.js
	framesSrc string
	//go:embed pointer.js
	pointerSrc string

	framesJS  = strings.ReplaceAll(framesSrc, "COLLECT_FRAMES", collectJS)
	pointerJS = strings.ReplaceAll(pointerSrc, "COLLECT_FRAMES", collectJS)
)

// bindingName is the Runtime binding pointer.js reports through.
const bindingName = "__clickguard_pointer"

// snapshot is what frames.js returns.
type snapshot struct {
	URL      string        `json:"url"`
	Frames   []scan.Frame  `json:"frames"`
	Viewport scan.Viewport `json:"viewport"`
}

// Page is a live tab.
type Page struct {
	tab         *browser.Tab
	evalTimeout time.Duration
	logger      *slog.Logger

	mu  sync.RWMutex
	url string
}

// Option configures a Page.
type Option func(*Page)

// WithEvalTimeout bounds each in-page evaluation. Default: 5s.
func WithEvalTimeout(d time.Duration) Option {
	return func(p *Page) { p.evalTimeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Page) { p.logger = l }
}

// New wraps tab.
func New(tab *browser.Tab, opts ...Option) *Page {
	p := &Page{
		tab:         tab,
		evalTimeout: 5 * time.Second,
		logger:      slog.Default(),
		url:         tab.URL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Close closes the tab.
func (p *Page) Close() error { return p.tab.Close() }

// URL returns the page's location as of the last read. It follows
// client-side navigations.
func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

// Snapshot reads frames and viewport in a single evaluation.
func (p *Page) Snapshot(ctx context.Context) (scan.Snapshot, error) {
	s, err := p.read(ctx)
	if err != nil {
		return scan.Snapshot{}, err
	}
	return scan.Snapshot{Frames: s.Frames, Viewport: s.Viewport}, nil
}

// Frames returns every iframe with its computed style and bounding box.
func (p *Page) Frames(ctx context.Context) ([]scan.Frame, error) {
	s, err := p.read(ctx)
	if err != nil {
		return nil, err
	}
	return s.Frames, nil
}

// Viewport returns both viewport size sources.
func (p *Page) Viewport(ctx context.Context) (scan.Viewport, error) {
	s, err := p.read(ctx)
	if err != nil {
		return scan.Viewport{}, err
	}
	return s.Viewport, nil
}

func (p *Page) read(ctx context.Context) (snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.evalTimeout)
	defer cancel()

	res, err := p.tab.Page.Context(ctx).Eval(framesJS)
	if err != nil {
		return snapshot{}, fmt.Errorf("rodpage: eval: %w", err)
	}
	var s snapshot
	if err := json.Unmarshal([]byte(res.Value.Str()), &s); err != nil {
		return snapshot{}, fmt.Errorf("rodpage: decode: %w", err)
	}
	if s.URL != "" {
		p.mu.Lock()
		if s.URL != p.url {
			p.logger.Info("rodpage: location changed", "from", p.url, "to", s.URL)
			p.url = s.URL
		}
		p.mu.Unlock()
	}
	return s, nil
}

// Pointer installs the pointer-down listener and streams its events until
// ctx ends. The listener is re-installed on every new document. Each event
// carries the frames as they were when the pointer went down.
func (p *Page) Pointer(ctx context.Context) (<-chan click.Event, error) {
	page := p.tab.Page
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		return nil, fmt.Errorf("rodpage: add binding: %w", err)
	}
	if _, err := page.EvalOnNewDocument("(" + pointerJS + ")()"); err != nil {
		return nil, fmt.Errorf("rodpage: install on new document: %w", err)
	}
	if _, err := page.Context(ctx).Eval(pointerJS); err != nil {
		return nil, fmt.Errorf("rodpage: install: %w", err)
	}

	out := make(chan click.Event, 64)
	wait := page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		ev, err := decodeEvent(e.Payload)
		if err != nil {
			p.logger.Warn("rodpage: bad pointer payload", "error", err)
			return
		}
		select {
		case out <- ev:
		default:
			p.logger.Warn("rodpage: pointer event dropped", "url", p.URL())
		}
	})
	go func() {
		defer close(out)
		wait()
	}()
	return out, nil
}

// decodeEvent parses a pointer.js payload. The listener always snapshots,
// so a page without frames yields an empty, non-nil Frames.
func decodeEvent(payload string) (click.Event, error) {
	var ev click.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return click.Event{}, fmt.Errorf("rodpage: decode pointer event: %w", err)
	}
	if ev.Frames == nil {
		ev.Frames = []scan.Frame{}
	}
	return ev, nil
}
