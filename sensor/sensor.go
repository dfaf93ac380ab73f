// Package sensor runs analysis passes on one page: it schedules them, feeds
// pointer events to the click correlator, classifies each feature vector and
// fans the verdict out to status, journal and alerts.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/clickguard/alert"
	"github.com/hazyhaar/clickguard/classify"
	"github.com/hazyhaar/clickguard/click"
	"github.com/hazyhaar/clickguard/feature"
	"github.com/hazyhaar/clickguard/idgen"
	"github.com/hazyhaar/clickguard/scan"
	"github.com/hazyhaar/clickguard/status"
)

// ErrClosed is returned by a Sensor after Close.
var ErrClosed = errors.New("sensor: closed")

// Trigger names what started a pass.
type Trigger string

const (
	TriggerInitial Trigger = "initial"
	TriggerClick   Trigger = "click"
	TriggerManual  Trigger = "manual"
)

// Classifier turns a feature vector into a verdict. *classify.Client
// satisfies it.
type Classifier interface {
	Classify(ctx context.Context, v feature.Vector) (classify.Verdict, error)
}

// Journal records non-good detections. *status.Journal satisfies it.
type Journal interface {
	RecordAsync(d status.Detection)
}

// Report is the outcome of one pass.
type Report struct {
	ID      string           `json:"id"`
	Trigger Trigger          `json:"trigger"`
	Vector  feature.Vector   `json:"features"`
	Verdict classify.Verdict `json:"verdict"`
	Status  *status.Status   `json:"status,omitempty"`
	Badge   status.Badge     `json:"badge"`
	Elapsed time.Duration    `json:"elapsed_ns"`
}

// Sensor watches one page.
type Sensor struct {
	doc        scan.Document
	scanner    *scan.Scanner
	assembler  *feature.Assembler
	classifier Classifier

	tracker  *status.Tracker
	journal  Journal
	notifier *alert.Notifier
	metrics  *Metrics
	logger   *slog.Logger
	newID    idgen.Generator

	initialDelay time.Duration
	clickDelay   time.Duration
	limiter      *rate.Limiter

	// passMu serialises passes so their DOM reads never interleave.
	passMu sync.Mutex

	// clickMu guards clicks, the correlator state of the pass to come.
	clickMu sync.Mutex
	clicks  click.State

	closed atomic.Bool
}

// Option configures a Sensor.
type Option func(*Sensor)

// WithTracker persists each verdict as the page status.
func WithTracker(t *status.Tracker) Option { return func(s *Sensor) { s.tracker = t } }

// WithJournal journals non-good verdicts.
func WithJournal(j Journal) Option { return func(s *Sensor) { s.journal = j } }

// WithNotifier emits alerts for alarming verdicts.
func WithNotifier(n *alert.Notifier) Option { return func(s *Sensor) { s.notifier = n } }

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option { return func(s *Sensor) { s.metrics = m } }

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(s *Sensor) { s.logger = l } }

// WithIDGenerator sets the generator for pass IDs.
func WithIDGenerator(g idgen.Generator) Option { return func(s *Sensor) { s.newID = g } }

// WithInitialDelay sets the delay before the first pass. Default: 2s.
func WithInitialDelay(d time.Duration) Option { return func(s *Sensor) { s.initialDelay = d } }

// WithClickDelay sets the delay between a pointer-down and the pass it
// triggers. Default: 500ms.
func WithClickDelay(d time.Duration) Option { return func(s *Sensor) { s.clickDelay = d } }

// WithClickRate limits click-triggered passes to r per second with the given
// burst. Default: 2/s, burst 1.
func WithClickRate(r float64, burst int) Option {
	return func(s *Sensor) { s.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

// New creates a Sensor for doc.
func New(doc scan.Document, scanner *scan.Scanner, assembler *feature.Assembler, classifier Classifier, opts ...Option) *Sensor {
	s := &Sensor{
		doc:          doc,
		scanner:      scanner,
		assembler:    assembler,
		classifier:   classifier,
		logger:       slog.Default(),
		newID:        idgen.Prefixed("pass_", idgen.Default),
		initialDelay: 2 * time.Second,
		clickDelay:   500 * time.Millisecond,
		limiter:      rate.NewLimiter(2, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// URL returns the page the sensor watches.
func (s *Sensor) URL() string { return s.doc.URL() }

// OnPointerDown correlates a pointer-down at p with the page's frames as
// read now. Sources that snapshot frames when the event fires go through
// OnPointerEvent instead. The result counts toward the next pass to start.
func (s *Sensor) OnPointerDown(ctx context.Context, p click.Point) error {
	if s.closed.Load() {
		return ErrClosed
	}
	frames, err := s.doc.Frames(ctx)
	if err != nil {
		return fmt.Errorf("sensor: read frames: %w", err)
	}
	s.record(p, frames)
	return nil
}

// OnPointerEvent correlates ev against the frames captured with it, falling
// back to OnPointerDown when it carries none.
func (s *Sensor) OnPointerEvent(ctx context.Context, ev click.Event) error {
	if ev.Frames == nil {
		return s.OnPointerDown(ctx, ev.Point)
	}
	if s.closed.Load() {
		return ErrClosed
	}
	s.record(ev.Point, ev.Frames)
	return nil
}

func (s *Sensor) record(p click.Point, frames []scan.Frame) {
	th := s.scanner.Thresholds().Opacity
	hit := click.Hit(p, frames, th)

	s.clickMu.Lock()
	s.clicks = s.clicks.Record(p, frames, th)
	s.clickMu.Unlock()

	if s.metrics != nil {
		s.metrics.PointerEvents.Inc()
		if hit {
			s.metrics.ClickMismatch.Inc()
		}
	}
	if hit {
		s.logger.Info("sensor: pointer-down on transparent frame", "url", s.doc.URL(), "x", p.X, "y", p.Y)
	}
}

// take returns the click state accumulated so far and resets it.
func (s *Sensor) take() click.State {
	s.clickMu.Lock()
	defer s.clickMu.Unlock()
	st := s.clicks
	s.clicks = click.State{}
	return st
}

// giveBack merges st into the pending state after an aborted pass.
func (s *Sensor) giveBack(st click.State) {
	s.clickMu.Lock()
	s.clicks.Mismatch = s.clicks.Mismatch || st.Mismatch
	s.clickMu.Unlock()
}

// ScanNow runs one pass immediately.
func (s *Sensor) ScanNow(ctx context.Context) (Report, error) {
	return s.pass(ctx, TriggerManual)
}

func (s *Sensor) pass(ctx context.Context, trigger Trigger) (Report, error) {
	if s.closed.Load() {
		return Report{}, ErrClosed
	}
	s.passMu.Lock()
	defer s.passMu.Unlock()

	start := time.Now()
	clicks := s.take()

	vec, err := s.assembler.Assemble(ctx, s.doc, clicks)
	if err != nil {
		s.giveBack(clicks)
		if s.metrics != nil {
			s.metrics.PassErrors.Inc()
		}
		s.logger.Warn("sensor: pass aborted", "url", s.doc.URL(), "trigger", trigger, "error", err)
		return Report{}, fmt.Errorf("sensor: assemble: %w", err)
	}

	// Classification failures come back as an error verdict.
	verdict, _ := s.classifier.Classify(ctx, vec)

	r := Report{
		ID:      s.newID(),
		Trigger: trigger,
		Vector:  vec,
		Verdict: verdict,
		Badge:   status.BadgeFor(verdict.Label),
	}
	s.publish(ctx, &r)
	r.Elapsed = time.Since(start)

	if s.metrics != nil {
		s.metrics.Passes.WithLabelValues(string(trigger), string(verdict.Label)).Inc()
		s.metrics.PassDuration.Observe(r.Elapsed.Seconds())
		s.metrics.IframesScanned.Observe(float64(vec.IframeCount))
	}
	s.logger.Info("sensor: pass complete",
		"id", r.ID,
		"url", vec.URL,
		"trigger", trigger,
		"prediction", verdict.Label,
		"iframes", vec.IframeCount,
		"click_mismatch", vec.ClickMismatch.Int(),
		"elapsed", r.Elapsed)
	return r, nil
}

func (s *Sensor) publish(ctx context.Context, r *Report) {
	pageURL := r.Vector.URL
	if s.tracker != nil {
		st, err := s.tracker.Update(ctx, pageURL, r.Verdict)
		if err != nil {
			s.logger.Warn("sensor: status update failed", "url", pageURL, "error", err)
		} else {
			r.Status = &st
			r.Badge = st.Badge()
		}
	}
	if s.journal != nil {
		if d, ok := status.FromVerdict(pageURL, r.Verdict); ok {
			s.journal.RecordAsync(d)
		}
	}
	if s.notifier != nil {
		sent, err := s.notifier.Notify(ctx, pageURL, r.Verdict)
		if err == nil && sent && s.metrics != nil {
			s.metrics.Alerts.Inc()
		}
	}
}

// Run drives the sensor until ctx ends or Close is called: a first pass
// after the initial delay, then one pass after each pointer-down read from
// events, throttled by the click rate. A nil events channel disables
// click-triggered passes.
func (s *Sensor) Run(ctx context.Context, events <-chan click.Event) error {
	if s.closed.Load() {
		return ErrClosed
	}
	initial := time.NewTimer(s.initialDelay)
	defer initial.Stop()

	var rescan <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-initial.C:
			s.runPass(ctx, TriggerInitial)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := s.OnPointerEvent(ctx, ev); err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				s.logger.Warn("sensor: pointer-down dropped", "url", s.doc.URL(), "error", err)
			}
			if rescan == nil && s.limiter.Allow() {
				rescan = time.After(s.clickDelay)
			}

		case <-rescan:
			rescan = nil
			s.runPass(ctx, TriggerClick)
		}

		if s.closed.Load() {
			return ErrClosed
		}
	}
}

func (s *Sensor) runPass(ctx context.Context, trigger Trigger) {
	if _, err := s.pass(ctx, trigger); err != nil && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
		s.logger.Debug("sensor: scheduled pass failed", "trigger", trigger, "error", err)
	}
}

// Close stops the sensor and closes its document when it is an io.Closer.
// Passes in flight finish or fail on the closed document.
func (s *Sensor) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c, ok := s.doc.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
