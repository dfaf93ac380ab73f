package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/clickguard/classify"
	"github.com/hazyhaar/clickguard/feature"
	"github.com/hazyhaar/clickguard/internal/urlguard"
	"github.com/hazyhaar/clickguard/kvstore"
	"github.com/hazyhaar/clickguard/sensor"
	"github.com/hazyhaar/clickguard/status"
	"github.com/hazyhaar/clickguard/trust"
)

type fakeScanner struct{}

func (fakeScanner) Scan(_ context.Context, pageURL string) (sensor.Report, error) {
	switch pageURL {
	case "https://unknown.test/":
		return sensor.Report{}, sensor.ErrUnknownPage
	case "http://127.0.0.1/":
		return sensor.Report{}, fmt.Errorf("%w: 127.0.0.1 is not public", urlguard.ErrUnsafeURL)
	}
	return sensor.Report{
		ID:      "pass_1",
		Vector:  feature.Vector{IframeCount: 2, URL: pageURL},
		Verdict: classify.Verdict{Label: classify.LabelGood, Confidence: 0.99},
	}, nil
}

type fixture struct {
	srv     *httptest.Server
	svc     *Service
	tracker *status.Tracker
	journal *status.Journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kvstore.NewMemory()
	journal, err := status.NewJournal(kvstore.OpenMemory(t), 8)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { journal.Close() })

	f := &fixture{tracker: status.NewTracker(store, nil), journal: journal}
	f.svc = New(Service{
		Scanner:    fakeScanner{},
		Trust:      trust.NewEvaluator(store),
		Status:     f.tracker,
		Detections: journal,
	})
	f.srv = httptest.NewServer(f.svc.Handler(prometheus.NewRegistry()))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthAndHeaders(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options: got %q", got)
	}
	if !strings.Contains(resp.Header.Get("Content-Security-Policy"), "frame-ancestors 'none'") {
		t.Errorf("CSP: got %q", resp.Header.Get("Content-Security-Policy"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestScan(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/scan", `{"url":"https://shop.test/"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, body %v", resp.StatusCode, body)
	}
	features, _ := body["features"].(map[string]any)
	if features["iframe_count"] != float64(2) || features["url"] != "https://shop.test/" {
		t.Errorf("features: got %v", features)
	}

	resp, _ = f.do(t, http.MethodPost, "/v1/scan", `{"url":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty url: got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/v1/scan", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/v1/scan", `{"url":"https://unknown.test/"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown page: got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/v1/scan", `{"url":"http://127.0.0.1/"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("loopback: got %d", resp.StatusCode)
	}
}

func TestTrustRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/trust", `{"domain":"Example.org"}`)
	if resp.StatusCode != http.StatusOK || body["changed"] != true {
		t.Fatalf("add: %d %v", resp.StatusCode, body)
	}
	_, body = f.do(t, http.MethodPost, "/v1/trust", `{"domain":"example.org"}`)
	if body["changed"] != false {
		t.Errorf("duplicate add: got %v", body)
	}

	_, body = f.do(t, http.MethodGet, "/v1/trust", "")
	custom, _ := body["custom"].([]any)
	if len(custom) != 1 || custom[0] != "example.org" {
		t.Errorf("list custom: got %v", body["custom"])
	}

	_, body = f.do(t, http.MethodGet, "/v1/trust/check?url=https://www.example.org/login", "")
	if body["trusted"] != true || body["domain"] != "example.org" {
		t.Errorf("check combined: got %v", body)
	}
	_, body = f.do(t, http.MethodGet, "/v1/trust/check?url=https://www.example.org/login&scope=builtin", "")
	if body["trusted"] != false {
		t.Errorf("check builtin: got %v", body)
	}
	resp, _ = f.do(t, http.MethodGet, "/v1/trust/check?url=x&scope=weird", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad scope: got %d", resp.StatusCode)
	}

	_, body = f.do(t, http.MethodDelete, "/v1/trust?domain=example.org", "")
	if body["changed"] != true {
		t.Errorf("remove: got %v", body)
	}
	resp, _ = f.do(t, http.MethodDelete, "/v1/trust?domain=", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty domain: got %d", resp.StatusCode)
	}
}

func TestStatusAndDetections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, _ := f.do(t, http.MethodGet, "/v1/status?url=https://shop.test/", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unseen page: got %d", resp.StatusCode)
	}

	v := classify.Verdict{Label: classify.LabelClickjacking, Confidence: 0.9, Reasons: []string{"overlay"}}
	if _, err := f.tracker.Update(ctx, "https://shop.test/", v); err != nil {
		t.Fatal(err)
	}
	d, _ := status.FromVerdict("https://shop.test/", v)
	if err := f.journal.Record(ctx, d); err != nil {
		t.Fatal(err)
	}

	_, body := f.do(t, http.MethodGet, "/v1/status?url=https://shop.test/", "")
	badge, _ := body["badge"].(map[string]any)
	if body["prediction"] != "clickjacking" || badge["text"] != "EVIL" {
		t.Errorf("status: got %v", body)
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/detections?label=clickjacking", nil)
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	var ds []status.Detection
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].URL != "https://shop.test/" {
		t.Errorf("detections: got %+v", ds)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: got %d", resp.StatusCode)
	}
}

func TestNilCollaboratorsNotMounted(t *testing.T) {
	svc := New(Service{})
	srv := httptest.NewServer(svc.Handler(nil))
	defer srv.Close()

	for _, path := range []string{"/v1/trust", "/v1/status?url=x", "/v1/detections", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: got %d, want 404", path, resp.StatusCode)
		}
	}
}
