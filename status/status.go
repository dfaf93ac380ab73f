// Package status keeps the last-known verdict for each page and the journal
// of non-good detections.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/clickguard/classify"
	"github.com/hazyhaar/clickguard/kvstore"
)

// KeyPrefix prefixes per-page status keys in the store.
const KeyPrefix = "status:"

// Status is the last-known state of one page.
type Status struct {
	PageURL    string              `json:"page_url"`
	Label      classify.Label      `json:"prediction"`
	Confidence classify.Confidence `json:"confidence"`
	Reasons    []string            `json:"reasons"`
	// Failed is set when the latest pass could not be classified. Label and
	// Confidence then still describe the previous successful pass, if any.
	Failed    bool   `json:"failed"`
	Error     string `json:"error,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

// Badge returns the toolbar badge for s.
func (s Status) Badge() Badge { return BadgeFor(s.Label) }

// Badge is the short text and colour shown next to a page.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

// BadgeFor maps a label to its badge.
func BadgeFor(l classify.Label) Badge {
	switch l {
	case classify.LabelGood:
		return Badge{Text: "SAFE", Color: "#4CAF50"}
	case classify.LabelSuspicious:
		return Badge{Text: "WARN", Color: "#FFC107"}
	case classify.LabelClickjacking:
		return Badge{Text: "EVIL", Color: "#F44336"}
	case classify.LabelError:
		return Badge{Text: "ERR", Color: "#000000"}
	}
	return Badge{Text: "N/A", Color: "#888888"}
}

// Tracker reads and writes page statuses in a kvstore.Store.
type Tracker struct {
	store  kvstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker. A nil logger uses slog.Default().
func NewTracker(store kvstore.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger, now: time.Now}
}

// Get returns the status of pageURL. ok is false when the page was never
// analysed.
func (t *Tracker) Get(ctx context.Context, pageURL string) (Status, bool, error) {
	var s Status
	ok, err := kvstore.GetJSON(ctx, t.store, KeyPrefix+pageURL, &s)
	if err != nil {
		return Status{}, false, fmt.Errorf("status: get: %w", err)
	}
	return s, ok, nil
}

// Update records verdict v for pageURL and returns the stored status. An
// error verdict does not overwrite a previous label: it marks the status
// failed and carries the error message.
func (t *Tracker) Update(ctx context.Context, pageURL string, v classify.Verdict) (Status, error) {
	s := Status{
		PageURL:    pageURL,
		Label:      v.Label,
		Confidence: v.Confidence,
		Reasons:    v.Reasons,
		UpdatedAt:  t.now().UnixMilli(),
	}

	if v.Label == classify.LabelError {
		prev, ok, err := t.Get(ctx, pageURL)
		if err != nil {
			return Status{}, err
		}
		if ok && prev.Label != classify.LabelError {
			s.Label = prev.Label
			s.Confidence = prev.Confidence
			s.Reasons = prev.Reasons
		} else {
			s.Confidence = 0
			s.Reasons = nil
		}
		s.Failed = true
		s.Error = v.Error
	}

	if err := kvstore.SetJSON(ctx, t.store, KeyPrefix+pageURL, s); err != nil {
		return Status{}, fmt.Errorf("status: update: %w", err)
	}
	t.logger.Debug("status: updated", "url", pageURL, "prediction", s.Label, "failed", s.Failed)
	return s, nil
}
