package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/clickguard/feature"
)

func classifier(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request: got %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		var v feature.Vector
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			t.Errorf("decode vector: %v", err)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClassify_OK(t *testing.T) {
	srv, _ := classifier(t, 200, `{"prediction":"clickjacking","confidence":"97.50%","reasons":["Large iframes detected covering the viewport"]}`)
	c := New(srv.URL)

	v, err := c.Classify(context.Background(), feature.Vector{IframeCount: 3, URL: "https://x.test/"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Label != LabelClickjacking {
		t.Errorf("Label: got %q", v.Label)
	}
	if v.Confidence != 0.975 {
		t.Errorf("Confidence: got %v, want 0.975", v.Confidence)
	}
	if len(v.Reasons) != 1 {
		t.Errorf("Reasons: got %v", v.Reasons)
	}
}

func TestClassify_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", 500, `{"error":"model not loaded"}`},
		{"bad request", 400, `{"error":"No data provided"}`},
		{"garbage", 200, `<html>`},
		{"unknown label", 200, `{"prediction":"maybe","confidence":0.5,"reasons":[]}`},
		{"error body with 200", 200, `{"error":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := classifier(t, tt.status, tt.body)
			v, err := New(srv.URL).Classify(context.Background(), feature.Vector{})
			if err == nil {
				t.Fatal("want error")
			}
			if v.Label != LabelError || v.Error == "" {
				t.Errorf("verdict: got %+v, want error verdict", v)
			}
			if calls.Load() != 1 {
				t.Errorf("calls: got %d, want 1 (no retry)", calls.Load())
			}
		})
	}
}

func TestClassify_StatusError(t *testing.T) {
	srv, _ := classifier(t, 503, "down")
	_, err := New(srv.URL).Classify(context.Background(), feature.Vector{})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 503 {
		t.Fatalf("got %v, want *StatusError 503", err)
	}
}

func TestClassify_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	v, err := New(url, WithTimeout(time.Second)).Classify(context.Background(), feature.Vector{})
	if err == nil || v.Label != LabelError {
		t.Fatalf("got %+v / %v, want error verdict", v, err)
	}
}

func TestClassify_BreakerOpens(t *testing.T) {
	srv, calls := classifier(t, 500, "x")
	b := NewBreaker(2, time.Hour)
	c := New(srv.URL, WithBreaker(b))

	for i := 0; i < 2; i++ {
		c.Classify(context.Background(), feature.Vector{})
	}
	if b.State() != BreakerOpen {
		t.Fatalf("breaker: got %v, want open", b.State())
	}

	v, err := c.Classify(context.Background(), feature.Vector{})
	if !errors.Is(err, ErrCircuitOpen) || v.Label != LabelError {
		t.Errorf("open breaker: got %+v / %v", v, err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(1, 10*time.Second)
	b.now = func() time.Time { return now }

	b.Failure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}
	now = now.Add(11 * time.Second)
	if b.State() != BreakerHalfOpen || !b.Allow() {
		t.Fatalf("breaker: got %v, want half-open", b.State())
	}
	b.Failure()
	if b.State() != BreakerOpen {
		t.Fatalf("failure in half-open: got %v, want open", b.State())
	}
	now = now.Add(11 * time.Second)
	b.Success()
	if b.State() != BreakerClosed {
		t.Errorf("success: got %v, want closed", b.State())
	}
}

func TestConfidence_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want Confidence
		ok   bool
	}{
		{`"97.00%"`, 0.97, true},
		{`"100%"`, 1, true},
		{`"0.5%"`, 0.005, true},
		{`"150%"`, 0, false},
		{`150`, 0, false},
		{`0.42`, 0.42, true},
		{`88`, 0.88, true},
		{`"0.5"`, 0.5, true},
		{`null`, 0, true},
		{`"high"`, 0, false},
		{`-1`, 0, false},
		{`true`, 0, false},
	}
	for _, tt := range tests {
		var c Confidence
		err := json.Unmarshal([]byte(tt.in), &c)
		if (err == nil) != tt.ok {
			t.Errorf("%s: err=%v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && c != tt.want {
			t.Errorf("%s: got %v, want %v", tt.in, c, tt.want)
		}
	}
}

func TestConfidence_Percent(t *testing.T) {
	if got := Confidence(0.975).Percent(); got != "97.50%" {
		t.Errorf("Percent: got %q", got)
	}
}

func TestLabel(t *testing.T) {
	if !LabelSuspicious.Alarming() || !LabelClickjacking.Alarming() {
		t.Error("suspicious and clickjacking must alarm")
	}
	if LabelGood.Alarming() || LabelError.Alarming() {
		t.Error("good and error must not alarm")
	}
	if LabelError.Valid() {
		t.Error("error is not a classifier label")
	}
}
