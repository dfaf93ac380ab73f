// Package alert delivers "this page looks like clickjacking" events to
// whatever renders them. The sensor emits; it never draws anything itself.
package alert

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/clickguard/classify"
	"github.com/hazyhaar/clickguard/idgen"
)

// Alert is one warning about one page.
type Alert struct {
	ID         string         `json:"id"`
	PageURL    string         `json:"page_url"`
	Label      classify.Label `json:"prediction"`
	Confidence string         `json:"confidence"`
	Reasons    []string       `json:"reasons"`
	Timestamp  int64          `json:"timestamp"`
}

// Severity ranks an alert for receivers that page on some and log others.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SeverityOf maps a label to its severity. Only clickjacking is critical.
func SeverityOf(l classify.Label) Severity {
	if l == classify.LabelClickjacking {
		return SeverityCritical
	}
	return SeverityWarning
}

// Notifier turns alarming verdicts into Alerts and hands them to a Sink.
type Notifier struct {
	sink   Sink
	policy *bluemonday.Policy
	newID  idgen.Generator
	logger *slog.Logger
}

// NewNotifier creates a Notifier delivering to sink.
func NewNotifier(sink Sink, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sink:   sink,
		policy: bluemonday.StrictPolicy(),
		newID:  idgen.Prefixed("alt_", idgen.Default),
		logger: logger,
	}
}

// Notify emits an alert when v is suspicious or clickjacking. It reports
// whether an alert was sent.
func (n *Notifier) Notify(ctx context.Context, pageURL string, v classify.Verdict) (bool, error) {
	if !v.Label.Alarming() {
		return false, nil
	}

	a := Alert{
		ID:         n.newID(),
		PageURL:    pageURL,
		Label:      v.Label,
		Confidence: v.Confidence.Percent(),
		Reasons:    n.sanitize(v.Reasons),
		Timestamp:  time.Now().UnixMilli(),
	}
	if err := n.sink.Send(ctx, a); err != nil {
		n.logger.Error("alert: delivery failed", "url", pageURL, "id", a.ID, "error", err)
		return false, err
	}
	n.logger.Info("alert: emitted", "url", pageURL, "prediction", a.Label, "reasons", len(a.Reasons))
	return true, nil
}

// Close closes the underlying sink.
func (n *Notifier) Close() error { return n.sink.Close() }

// Reasons come from a remote service and end up in an HTML surface: keep
// plain text only.
func (n *Notifier) sanitize(reasons []string) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if s := strings.TrimSpace(n.policy.Sanitize(r)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
