package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hazyhaar/clickguard/alert"
	"github.com/hazyhaar/clickguard/classify"
	"github.com/hazyhaar/clickguard/click"
	"github.com/hazyhaar/clickguard/feature"
	"github.com/hazyhaar/clickguard/kvstore"
	"github.com/hazyhaar/clickguard/scan"
	"github.com/hazyhaar/clickguard/status"
	"github.com/hazyhaar/clickguard/trust"
)

var overlay = scan.Frame{
	Src:     "https://evil.test/frame",
	Opacity: "0.01",
	ZIndex:  "999",
	Rect:    scan.Rect{Left: 0, Top: 0, Width: 900, Height: 700},
}

type fakePage struct {
	mu          sync.Mutex
	url         string
	frames      []scan.Frame
	viewportErr error
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Frames(ctx context.Context) ([]scan.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames, nil
}

func (p *fakePage) Viewport(ctx context.Context) (scan.Viewport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.viewportErr; err != nil {
		p.viewportErr = nil
		return scan.Viewport{}, err
	}
	return scan.Viewport{DocWidth: 1000, DocHeight: 800, WinWidth: 1000, WinHeight: 800}, nil
}

// fakeClassifier answers with a fixed verdict and remembers the vectors.
type fakeClassifier struct {
	mu      sync.Mutex
	verdict classify.Verdict
	err     error
	got     []feature.Vector
	// entered, when set, receives once per call before release is read.
	entered chan struct{}
	release chan struct{}
}

func (c *fakeClassifier) Classify(ctx context.Context, v feature.Vector) (classify.Verdict, error) {
	c.mu.Lock()
	c.got = append(c.got, v)
	c.mu.Unlock()
	if c.entered != nil {
		c.entered <- struct{}{}
		<-c.release
	}
	if c.err != nil {
		return classify.ErrorVerdict(c.err), c.err
	}
	return c.verdict, nil
}

func (c *fakeClassifier) vectors() []feature.Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]feature.Vector(nil), c.got...)
}

func newSensor(p scan.Document, c Classifier, opts ...Option) *Sensor {
	sc := scan.New()
	asm := feature.NewAssembler(sc, trust.NewEvaluator(kvstore.NewMemory()), nil)
	return New(p, sc, asm, c, opts...)
}

func TestScanNow_PublishesVerdict(t *testing.T) {
	ctx := context.Background()
	p := &fakePage{url: "https://shop.test/", frames: []scan.Frame{overlay}}
	c := &fakeClassifier{verdict: classify.Verdict{Label: classify.LabelClickjacking, Confidence: 0.9, Reasons: []string{"overlay"}}}

	tracker := status.NewTracker(kvstore.NewMemory(), nil)
	journal, err := status.NewJournal(kvstore.OpenMemory(t), 8)
	if err != nil {
		t.Fatal(err)
	}
	var alerts []alert.Alert
	notifier := alert.NewNotifier(alert.Func(func(_ context.Context, a alert.Alert) error {
		alerts = append(alerts, a)
		return nil
	}), nil)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	s := newSensor(p, c, WithTracker(tracker), WithJournal(journal), WithNotifier(notifier), WithMetrics(m))
	r, err := s.ScanNow(ctx)
	if err != nil {
		t.Fatalf("ScanNow: %v", err)
	}

	if r.ID == "" || r.Trigger != TriggerManual {
		t.Errorf("report header: got id=%q trigger=%q", r.ID, r.Trigger)
	}
	want := feature.Vector{
		IframeCount: 1, InvisibleCount: 1, LargeIframeCount: 1, ZIndexHighCount: 1,
		UntrustedIframeCount: 1, URL: "https://shop.test/",
	}
	if r.Vector != want {
		t.Errorf("vector: got %+v, want %+v", r.Vector, want)
	}
	if r.Badge.Text != "EVIL" || r.Status == nil || r.Status.Label != classify.LabelClickjacking {
		t.Errorf("status: got badge=%+v status=%+v", r.Badge, r.Status)
	}
	if len(alerts) != 1 || alerts[0].PageURL != "https://shop.test/" {
		t.Errorf("alerts: got %+v", alerts)
	}

	if err := journal.Close(); err != nil {
		t.Fatal(err)
	}
	ds, err := journal.List(ctx, status.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Label != classify.LabelClickjacking {
		t.Errorf("journal: got %+v", ds)
	}

	if got := testutil.ToFloat64(m.Passes.WithLabelValues("manual", "clickjacking")); got != 1 {
		t.Errorf("passes metric: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Alerts); got != 1 {
		t.Errorf("alerts metric: got %v, want 1", got)
	}
}

func TestScanNow_ClassifierFailure(t *testing.T) {
	ctx := context.Background()
	p := &fakePage{url: "https://shop.test/"}
	tracker := status.NewTracker(kvstore.NewMemory(), nil)
	if _, err := tracker.Update(ctx, p.url, classify.Verdict{Label: classify.LabelGood}); err != nil {
		t.Fatal(err)
	}

	s := newSensor(p, &fakeClassifier{err: errors.New("connection refused")}, WithTracker(tracker))
	r, err := s.ScanNow(ctx)
	if err != nil {
		t.Fatalf("ScanNow: %v", err)
	}
	if r.Verdict.Label != classify.LabelError {
		t.Errorf("verdict: got %s, want error", r.Verdict.Label)
	}
	if r.Status == nil || !r.Status.Failed || r.Status.Label != classify.LabelGood {
		t.Errorf("status: got %+v, want stale good with failure flag", r.Status)
	}
}

func TestClickMismatch_ResetsAtPassBoundary(t *testing.T) {
	ctx := context.Background()
	p := &fakePage{url: "https://shop.test/", frames: []scan.Frame{overlay}}
	c := &fakeClassifier{verdict: classify.Verdict{Label: classify.LabelGood}}
	s := newSensor(p, c)

	if err := s.OnPointerDown(ctx, click.Point{X: 10, Y: 10}); err != nil {
		t.Fatal(err)
	}
	r1, err := s.ScanNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bool(r1.Vector.ClickMismatch) {
		t.Error("first pass: click_mismatch should be 1")
	}

	r2, err := s.ScanNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bool(r2.Vector.ClickMismatch) {
		t.Error("second pass: click_mismatch should be reset")
	}
}

func TestClickMismatch_OutsideFrameIgnored(t *testing.T) {
	ctx := context.Background()
	p := &fakePage{url: "https://shop.test/", frames: []scan.Frame{overlay}}
	s := newSensor(p, &fakeClassifier{verdict: classify.Verdict{Label: classify.LabelGood}})

	if err := s.OnPointerDown(ctx, click.Point{X: 950, Y: 750}); err != nil {
		t.Fatal(err)
	}
	r, err := s.ScanNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bool(r.Vector.ClickMismatch) {
		t.Error("click outside every frame must not set the flag")
	}
}

func TestClickMismatch_MidPassCountsTowardNextPass(t *testing.T) {
	ctx := context.Background()
	p := &fakePage{url: "https://shop.test/", frames: []scan.Frame{overlay}}
	c := &fakeClassifier{
		verdict: classify.Verdict{Label: classify.LabelGood},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newSensor(p, c)

	done := make(chan Report)
	go func() {
		r, err := s.ScanNow(ctx)
		if err != nil {
			t.Error(err)
		}
		done <- r
	}()

	<-c.entered
	if err := s.OnPointerDown(ctx, click.Point{X: 5, Y: 5}); err != nil {
		t.Fatal(err)
	}
	c.release <- struct{}{}
	r1 := <-done
	if bool(r1.Vector.ClickMismatch) {
		t.Error("pass in flight must not see a click that arrived after it started")
	}

	go func() {
		<-c.entered
		c.release <- struct{}{}
	}()
	r2, err := s.ScanNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bool(r2.Vector.ClickMismatch) {
		t.Error("next pass must see the mid-pass click")
	}
}

func TestOnPointerEvent_UsesFramesAtEventTime(t *testing.T) {
	ctx := context.Background()

	// The overlay was under the pointer at mousedown and gone by the time
	// the event is handled.
	moved := &fakePage{url: "https://shop.test/"}
	s := newSensor(moved, &fakeClassifier{verdict: classify.Verdict{Label: classify.LabelGood}})
	if err := s.OnPointerEvent(ctx, click.Event{Point: click.Point{X: 10, Y: 10}, Frames: []scan.Frame{overlay}}); err != nil {
		t.Fatal(err)
	}
	r, err := s.ScanNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bool(r.Vector.ClickMismatch) {
		t.Error("overlay removed after mousedown: click_mismatch should be 1")
	}

	// An overlay slid under a stale coordinate after the click is not a hit.
	slid := &fakePage{url: "https://shop.test/", frames: []scan.Frame{overlay}}
	s = newSensor(slid, &fakeClassifier{verdict: classify.Verdict{Label: classify.LabelGood}})
	if err := s.OnPointerEvent(ctx, click.Event{Point: click.Point{X: 10, Y: 10}, Frames: []scan.Frame{}}); err != nil {
		t.Fatal(err)
	}
	r, err = s.ScanNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bool(r.Vector.ClickMismatch) {
		t.Error("overlay added after mousedown: click_mismatch should be 0")
	}
}

func TestOnPointerEvent_WithoutFramesReadsPage(t *testing.T) {
	ctx := context.Background()
	p := &fakePage{url: "https://shop.test/", frames: []scan.Frame{overlay}}
	s := newSensor(p, &fakeClassifier{verdict: classify.Verdict{Label: classify.LabelGood}})
	if err := s.OnPointerEvent(ctx, click.Event{Point: click.Point{X: 10, Y: 10}}); err != nil {
		t.Fatal(err)
	}
	r, err := s.ScanNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bool(r.Vector.ClickMismatch) {
		t.Error("click_mismatch should be 1")
	}
}

func TestAbortedPassKeepsClicks(t *testing.T) {
	ctx := context.Background()
	p := &fakePage{url: "https://shop.test/", frames: []scan.Frame{overlay}, viewportErr: errors.New("target closed")}
	s := newSensor(p, &fakeClassifier{verdict: classify.Verdict{Label: classify.LabelGood}})

	if err := s.OnPointerDown(ctx, click.Point{X: 1, Y: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ScanNow(ctx); err == nil {
		t.Fatal("want error from failing viewport read")
	}
	r, err := s.ScanNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bool(r.Vector.ClickMismatch) {
		t.Error("click evidence lost after aborted pass")
	}
}

func TestClosed(t *testing.T) {
	s := newSensor(&fakePage{url: "https://a.test/"}, &fakeClassifier{})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ScanNow(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("ScanNow: got %v, want ErrClosed", err)
	}
	if err := s.OnPointerDown(context.Background(), click.Point{}); !errors.Is(err, ErrClosed) {
		t.Errorf("OnPointerDown: got %v, want ErrClosed", err)
	}
	if err := s.Run(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Run: got %v, want ErrClosed", err)
	}
}

type closingPage struct {
	fakePage
	closes int
}

func (p *closingPage) Close() error {
	p.closes++
	return nil
}

func TestClose_ClosesDocumentOnce(t *testing.T) {
	p := &closingPage{fakePage: fakePage{url: "https://a.test/"}}
	s := newSensor(p, &fakeClassifier{})
	s.Close()
	s.Close()
	if p.closes != 1 {
		t.Errorf("closes: got %d, want 1", p.closes)
	}
}

func TestRun_InitialAndClickPasses(t *testing.T) {
	p := &fakePage{url: "https://shop.test/", frames: []scan.Frame{overlay}}
	c := &fakeClassifier{verdict: classify.Verdict{Label: classify.LabelGood}}
	s := newSensor(p, c,
		WithInitialDelay(time.Millisecond),
		WithClickDelay(time.Millisecond),
		WithClickRate(1000, 10),
	)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan click.Event)
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, events) }()

	waitFor(t, func() bool { return len(c.vectors()) >= 1 })
	events <- click.Event{Point: click.Point{X: 20, Y: 20}}
	waitFor(t, func() bool { return len(c.vectors()) >= 2 })

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run: got %v, want context.Canceled", err)
	}

	vs := c.vectors()
	if bool(vs[0].ClickMismatch) {
		t.Error("initial pass: click_mismatch should be 0")
	}
	if !bool(vs[1].ClickMismatch) {
		t.Error("click pass: click_mismatch should be 1")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(time.Millisecond)
	}
}
