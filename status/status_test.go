package status

import (
	"context"
	"testing"

	"github.com/hazyhaar/clickguard/classify"
	"github.com/hazyhaar/clickguard/kvstore"
)

func TestBadgeFor(t *testing.T) {
	tests := []struct {
		label classify.Label
		text  string
		color string
	}{
		{classify.LabelGood, "SAFE", "#4CAF50"},
		{classify.LabelSuspicious, "WARN", "#FFC107"},
		{classify.LabelClickjacking, "EVIL", "#F44336"},
		{classify.LabelError, "ERR", "#000000"},
		{"", "N/A", "#888888"},
		{"weird", "N/A", "#888888"},
	}
	for _, tt := range tests {
		got := BadgeFor(tt.label)
		if got.Text != tt.text || got.Color != tt.color {
			t.Errorf("BadgeFor(%q) = %+v, want %s/%s", tt.label, got, tt.text, tt.color)
		}
	}
}

func TestTracker_UpdateAndGet(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(kvstore.NewMemory(), nil)

	if _, ok, err := tr.Get(ctx, "https://a.test/"); err != nil || ok {
		t.Fatalf("Get unseen: ok=%v err=%v", ok, err)
	}

	v := classify.Verdict{Label: classify.LabelSuspicious, Confidence: 0.8, Reasons: []string{"r"}}
	if _, err := tr.Update(ctx, "https://a.test/", v); err != nil {
		t.Fatal(err)
	}
	got, ok, err := tr.Get(ctx, "https://a.test/")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Label != classify.LabelSuspicious || got.Failed || got.Badge().Text != "WARN" {
		t.Errorf("status: got %+v", got)
	}
}

func TestTracker_ErrorKeepsPreviousLabel(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(kvstore.NewMemory(), nil)
	page := "https://a.test/"

	if _, err := tr.Update(ctx, page, classify.Verdict{Label: classify.LabelGood, Confidence: 0.97}); err != nil {
		t.Fatal(err)
	}
	got, err := tr.Update(ctx, page, classify.Verdict{Label: classify.LabelError, Error: "connection refused"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != classify.LabelGood {
		t.Errorf("label: got %s, want good", got.Label)
	}
	if !got.Failed || got.Error != "connection refused" {
		t.Errorf("failure flag: got failed=%v error=%q", got.Failed, got.Error)
	}
	if got.Confidence != 0.97 {
		t.Errorf("confidence: got %v, want 0.97", got.Confidence)
	}

	// A later success clears the flag.
	got, err = tr.Update(ctx, page, classify.Verdict{Label: classify.LabelClickjacking, Confidence: 0.6})
	if err != nil {
		t.Fatal(err)
	}
	if got.Failed || got.Error != "" || got.Label != classify.LabelClickjacking {
		t.Errorf("after success: got %+v", got)
	}
}

func TestTracker_ErrorWithoutHistory(t *testing.T) {
	tr := NewTracker(kvstore.NewMemory(), nil)
	got, err := tr.Update(context.Background(), "https://b.test/", classify.Verdict{Label: classify.LabelError, Error: "timeout"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != classify.LabelError || !got.Failed || got.Badge().Text != "ERR" {
		t.Errorf("got %+v", got)
	}
}
