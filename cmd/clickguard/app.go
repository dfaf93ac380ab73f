package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hazyhaar/clickguard/alert"
	"github.com/hazyhaar/clickguard/classify"
	"github.com/hazyhaar/clickguard/click"
	"github.com/hazyhaar/clickguard/feature"
	"github.com/hazyhaar/clickguard/htmlpage"
	"github.com/hazyhaar/clickguard/internal/browser"
	"github.com/hazyhaar/clickguard/internal/config"
	"github.com/hazyhaar/clickguard/internal/rodpage"
	"github.com/hazyhaar/clickguard/internal/urlguard"
	"github.com/hazyhaar/clickguard/kvstore"
	"github.com/hazyhaar/clickguard/scan"
	"github.com/hazyhaar/clickguard/sensor"
	"github.com/hazyhaar/clickguard/status"
	"github.com/hazyhaar/clickguard/trust"
)

// reopenDelay is the wait before retrying a page that failed to open.
const reopenDelay = time.Minute

// app holds the collaborators shared by every sensor.
type app struct {
	ctx    context.Context
	cfg    *config.Config
	logger *slog.Logger

	db         *sql.DB
	trust      *trust.Evaluator
	scanner    *scan.Scanner
	assembler  *feature.Assembler
	classifier *classify.Client
	notifier   *alert.Notifier
	tracker    *status.Tracker
	journal    *status.Journal
	registry   *prometheus.Registry
	metrics    *sensor.Metrics
	fetcher    *htmlpage.Fetcher
	guard      *urlguard.Guard
	guarded    *htmlpage.Fetcher
	browser    *browser.Manager

	browserMu      sync.Mutex
	browserStarted bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := kvstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	store := kvstore.NewSQLite(db)

	journal, err := status.NewJournal(db, 256, status.WithJournalLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		ctx:     ctx,
		cfg:     cfg,
		logger:  logger,
		db:      db,
		trust:   trust.NewEvaluator(store, trust.WithLogger(logger)),
		tracker: status.NewTracker(store, logger),
		journal: journal,
	}
	a.scanner = scan.New(scan.WithThresholds(cfg.Thresholds), scan.WithLogger(logger))
	a.assembler = feature.NewAssembler(a.scanner, a.trust, logger)

	copts := []classify.Option{classify.WithTimeout(cfg.Classifier.Timeout), classify.WithLogger(logger)}
	if cfg.Classifier.BreakerThreshold > 0 {
		copts = append(copts, classify.WithBreaker(classify.NewBreaker(cfg.Classifier.BreakerThreshold, cfg.Classifier.BreakerReset)))
	}
	a.classifier = classify.New(cfg.Classifier.Endpoint, copts...)

	var routes []alert.Route
	for i, sc := range cfg.Sinks {
		labels := make([]classify.Label, len(sc.Labels))
		for j, l := range sc.Labels {
			labels[j] = classify.Label(l)
		}
		name := fmt.Sprintf("%s#%d", sc.Type, i)
		switch sc.Type {
		case "stdout":
			routes = append(routes, alert.To(name, alert.NewStdout(os.Stdout), labels...))
		case "webhook":
			wopts := []alert.WebhookOption{alert.WithWebhookLogger(logger)}
			if sc.Retries > 0 {
				wopts = append(wopts, alert.WithWebhookRetries(sc.Retries))
			}
			routes = append(routes, alert.To(name, alert.NewWebhook(sc.URL, wopts...), labels...))
		}
	}
	a.notifier = alert.NewNotifier(alert.NewRouter(logger, routes...), logger)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = sensor.NewMetrics(a.registry)

	a.fetcher = htmlpage.NewFetcher(htmlpage.WithViewport(a.viewport()), htmlpage.WithLogger(logger))
	a.guard = urlguard.New()
	a.guarded = htmlpage.NewFetcher(htmlpage.WithViewport(a.viewport()), htmlpage.WithLogger(logger),
		htmlpage.WithRedirectCheck(a.guard.Check))

	mode := browser.ModeHeadless
	if cfg.Browser.Mode == "headful" {
		mode = browser.ModeHeadful
	}
	a.browser = browser.NewManager(browser.Config{
		RemoteURL:       cfg.Browser.Remote,
		Mode:            mode,
		MemoryLimit:     cfg.Browser.MemoryLimit,
		RecycleInterval: cfg.Browser.RecycleInterval,
		BlockResources:  cfg.Browser.BlockResources,
		XvfbDisplay:     cfg.Browser.XvfbDisplay,
		Logger:          logger,
	})
	return a, nil
}

// Close releases the browser, flushes the journal and closes the store.
func (a *app) Close() error {
	a.browser.Close()
	if err := a.notifier.Close(); err != nil {
		a.logger.Warn("clickguard: close sinks", "error", err)
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("clickguard: close journal", "error", err)
	}
	return a.db.Close()
}

func (a *app) viewport() scan.Viewport {
	w, h := float64(a.cfg.Browser.Width), float64(a.cfg.Browser.Height)
	return scan.Viewport{DocWidth: w, DocHeight: h, WinWidth: w, WinHeight: h}
}

func (a *app) newSensor(doc scan.Document) *sensor.Sensor {
	sc := a.cfg.Sensor
	return sensor.New(doc, a.scanner, a.assembler, a.classifier,
		sensor.WithTracker(a.tracker),
		sensor.WithJournal(a.journal),
		sensor.WithNotifier(a.notifier),
		sensor.WithMetrics(a.metrics),
		sensor.WithLogger(a.logger),
		sensor.WithInitialDelay(sc.InitialDelay),
		sensor.WithClickDelay(sc.ClickDelay),
		sensor.WithClickRate(sc.ClickRate, sc.ClickBurst),
	)
}

// open returns a document for pageURL. Mode "auto" fetches the HTML first
// and only opens a tab when the page builds its frames with scripts. With
// pointer set, live pages also stream pointer-down events until ctx ends.
func (a *app) open(ctx context.Context, pageURL, mode string, pointer bool) (scan.Document, <-chan click.Event, error) {
	switch mode {
	case "static":
		page, err := a.fetcher.Fetch(ctx, pageURL)
		return page, nil, err
	case "browser":
		return a.openLive(ctx, pageURL, pointer)
	}

	page, err := a.fetcher.Fetch(ctx, pageURL)
	switch {
	case err != nil:
		a.logger.Debug("clickguard: static fetch failed, opening a tab", "url", pageURL, "error", err)
	case page.NeedsBrowser():
		a.logger.Debug("clickguard: page is scripted, opening a tab", "url", pageURL)
	default:
		return page, nil, nil
	}
	return a.openLive(ctx, pageURL, pointer)
}

// openUntrusted opens a page submitted for an on-demand scan in auto mode.
// The URL, every redirect of the static fetch and the location a tab lands
// on must pass the guard.
func (a *app) openUntrusted(ctx context.Context, pageURL string) (scan.Document, error) {
	if err := a.guard.Check(ctx, pageURL); err != nil {
		return nil, err
	}
	page, err := a.guarded.Fetch(ctx, pageURL)
	switch {
	case errors.Is(err, urlguard.ErrUnsafeURL):
		return nil, err
	case err != nil:
		a.logger.Debug("clickguard: static fetch failed, opening a tab", "url", pageURL, "error", err)
	case page.NeedsBrowser():
		a.logger.Debug("clickguard: page is scripted, opening a tab", "url", pageURL)
	default:
		return page, nil
	}

	doc, _, err := a.openLive(ctx, pageURL, false)
	if err != nil {
		return nil, err
	}
	landed := pageURL
	if sn, ok := doc.(scan.Snapshotter); ok {
		// A read refreshes the page's location.
		if _, err := sn.Snapshot(ctx); err == nil {
			landed = doc.URL()
		}
	}
	if err := a.guard.Check(ctx, landed); err != nil {
		if c, ok := doc.(interface{ Close() error }); ok {
			c.Close()
		}
		return nil, err
	}
	return doc, nil
}

func (a *app) openLive(ctx context.Context, pageURL string, pointer bool) (scan.Document, <-chan click.Event, error) {
	if err := a.startBrowser(); err != nil {
		return nil, nil, err
	}
	tab, err := browser.OpenTab(ctx, a.browser, pageURL, browser.TabOptions{
		Viewport:   browser.Viewport{Width: a.cfg.Browser.Width, Height: a.cfg.Browser.Height},
		NavTimeout: a.cfg.Browser.NavTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	page := rodpage.New(tab, rodpage.WithEvalTimeout(a.cfg.Browser.EvalTimeout), rodpage.WithLogger(a.logger))
	if !pointer {
		return page, nil, nil
	}
	events, err := page.Pointer(ctx)
	if err != nil {
		page.Close()
		return nil, nil, err
	}
	return page, events, nil
}

// startBrowser starts Chrome on first use. Its health monitor lives as
// long as the app.
func (a *app) startBrowser() error {
	a.browserMu.Lock()
	defer a.browserMu.Unlock()
	if a.browserStarted {
		return nil
	}
	if _, err := a.browser.Start(a.ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	a.browserStarted = true
	return nil
}

// watch keeps a sensor running on pc until ctx ends. Live pages are
// reopened when the browser is recycled; pages that fail to open are
// retried after reopenDelay.
func (a *app) watch(ctx context.Context, fleet *sensor.Fleet, pc config.PageConfig) {
	recycled := make(chan struct{}, 1)
	a.browser.OnRecycle(func(*rod.Browser) {
		select {
		case recycled <- struct{}{}:
		default:
		}
	})

	for {
		runCtx, cancel := context.WithCancel(ctx)
		doc, events, err := a.open(runCtx, pc.URL, pc.Mode, true)
		if err != nil {
			cancel()
			a.logger.Warn("clickguard: open page failed", "url", pc.URL, "mode", pc.Mode, "error", err)
			if !sleep(ctx, reopenDelay) {
				return
			}
			continue
		}

		var reopen <-chan struct{}
		if _, live := doc.(*rodpage.Page); live {
			reopen = recycled
			// Drain a recycle that happened before this tab opened.
			select {
			case <-recycled:
			default:
			}
		}

		s := a.newSensor(doc)
		fleet.Add(s)
		a.logger.Info("clickguard: watching page", "url", pc.URL, "mode", pc.Mode)

		done := make(chan error, 1)
		go func() { done <- s.Run(runCtx, events) }()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			s.Close()
			return
		case <-reopen:
			cancel()
			<-done
			s.Close()
			a.logger.Info("clickguard: browser recycled, reopening page", "url", pc.URL)
		case err := <-done:
			cancel()
			s.Close()
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("clickguard: sensor stopped", "url", pc.URL, "error", err)
			if !sleep(ctx, reopenDelay) {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
