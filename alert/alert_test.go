package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/clickguard/classify"
)

func TestNotify_OnlyAlarmingLabels(t *testing.T) {
	var got []Alert
	n := NewNotifier(Func(func(_ context.Context, a Alert) error {
		got = append(got, a)
		return nil
	}), nil)

	ctx := context.Background()
	for _, l := range []classify.Label{classify.LabelGood, classify.LabelError, classify.LabelSuspicious, classify.LabelClickjacking} {
		sent, err := n.Notify(ctx, "https://x.test/", classify.Verdict{Label: l, Confidence: 0.9})
		if err != nil {
			t.Fatalf("Notify(%s): %v", l, err)
		}
		if sent != l.Alarming() {
			t.Errorf("Notify(%s): sent=%v", l, sent)
		}
	}
	if len(got) != 2 {
		t.Fatalf("alerts: got %d, want 2", len(got))
	}
	if got[0].Label != classify.LabelSuspicious || got[1].Label != classify.LabelClickjacking {
		t.Errorf("labels: got %s, %s", got[0].Label, got[1].Label)
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Errorf("ids: %q %q", got[0].ID, got[1].ID)
	}
	if got[0].Confidence != "90.00%" {
		t.Errorf("confidence: got %q", got[0].Confidence)
	}
}

func TestNotify_SanitizesReasons(t *testing.T) {
	var got Alert
	n := NewNotifier(Func(func(_ context.Context, a Alert) error {
		got = a
		return nil
	}), nil)

	_, err := n.Notify(context.Background(), "https://x.test/", classify.Verdict{
		Label:   classify.LabelClickjacking,
		Reasons: []string{"<b>Large</b> iframes", "<img src=x onerror=alert(1)>", "Detected 3 invisible iframes"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Large iframes", "Detected 3 invisible iframes"}
	if len(got.Reasons) != len(want) {
		t.Fatalf("reasons: got %q, want %q", got.Reasons, want)
	}
	for i := range want {
		if got.Reasons[i] != want[i] {
			t.Errorf("reason[%d]: got %q, want %q", i, got.Reasons[i], want[i])
		}
	}
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), Alert{ID: "a1", PageURL: "https://x.test/"}); err != nil {
		t.Fatal(err)
	}
	var got line
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if got.Type != "alert" || got.Alert.ID != "a1" || got.Severity != SeverityWarning {
		t.Errorf("line: got %+v", got)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), Alert{ID: "a"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), Alert{}); err == nil {
		t.Fatal("want error after retries")
	}
}

func TestRouter_FanOut(t *testing.T) {
	var a, b int
	boom := errors.New("boom")
	r := NewRouter(nil,
		To("a", Func(func(context.Context, Alert) error { a++; return boom })),
		To("b", Func(func(context.Context, Alert) error { b++; return nil })),
	)
	if err := r.Send(context.Background(), Alert{}); !errors.Is(err, boom) {
		t.Errorf("Send: got %v, want boom", err)
	}
	if a != 1 || b != 1 {
		t.Errorf("deliveries: a=%d b=%d, want 1 each", a, b)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRouter_LabelFilter(t *testing.T) {
	var pager, log []string
	r := NewRouter(nil,
		To("pager", Func(func(_ context.Context, a Alert) error { pager = append(pager, a.ID); return nil }), classify.LabelClickjacking),
		To("log", Func(func(_ context.Context, a Alert) error { log = append(log, a.ID); return nil })),
	)
	ctx := context.Background()
	if err := r.Send(ctx, Alert{ID: "s", Label: classify.LabelSuspicious}); err != nil {
		t.Fatal(err)
	}
	if err := r.Send(ctx, Alert{ID: "c", Label: classify.LabelClickjacking}); err != nil {
		t.Fatal(err)
	}
	if len(pager) != 1 || pager[0] != "c" {
		t.Errorf("pager: got %v, want [c]", pager)
	}
	if len(log) != 2 {
		t.Errorf("log: got %v, want both alerts", log)
	}
}

func TestWebhook_DeliveryMetadata(t *testing.T) {
	var (
		mu             sync.Mutex
		got            []delivery
		keys, attempts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		var d delivery
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			t.Errorf("decode: %v", err)
		}
		got = append(got, d)
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		attempts = append(attempts, r.Header.Get("X-Clickguard-Attempt"))
		if len(got) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	a := Alert{ID: "alt_1", PageURL: "https://shop.test/", Label: classify.LabelClickjacking}
	if err := wh.Send(context.Background(), a); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("deliveries: got %d, want 2", len(got))
	}
	for i, d := range got {
		if d.Event != "clickguard.alert" || d.Severity != SeverityCritical || d.Alert.ID != "alt_1" || d.Attempt != i+1 {
			t.Errorf("delivery %d: got %+v", i, d)
		}
		if keys[i] != "alt_1" {
			t.Errorf("Idempotency-Key %d: got %q", i, keys[i])
		}
	}
	if attempts[0] != "1" || attempts[1] != "2" {
		t.Errorf("attempt headers: got %v", attempts)
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), Alert{ID: "a"}); err == nil {
		t.Fatal("want error on 400")
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestSeverityOf(t *testing.T) {
	if got := SeverityOf(classify.LabelClickjacking); got != SeverityCritical {
		t.Errorf("clickjacking: got %s", got)
	}
	if got := SeverityOf(classify.LabelSuspicious); got != SeverityWarning {
		t.Errorf("suspicious: got %s", got)
	}
}
