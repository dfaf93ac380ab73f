// Package scan walks the frames embedded in a page and counts the structural
// signals of a clickjacking overlay: invisibility, oversize, high stacking,
// disabled pointer events and untrusted origin.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/hazyhaar/clickguard/trust"
)

// OriginCheck decides whether a frame source is trusted for the given page.
type OriginCheck func(frameURL string, page *url.URL) bool

// Scanner computes Results. The zero value is not usable; call New.
type Scanner struct {
	th     Thresholds
	origin OriginCheck
	logger *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithThresholds overrides the calibration. Zero fields keep their defaults.
func WithThresholds(t Thresholds) Option {
	return func(s *Scanner) { s.th = t.WithDefaults() }
}

// WithOriginCheck replaces trust.IsFrameOriginTrusted.
func WithOriginCheck(fn OriginCheck) Option {
	return func(s *Scanner) { s.origin = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// New creates a Scanner with default thresholds.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		th:     DefaultThresholds(),
		origin: trust.IsFrameOriginTrusted,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Thresholds returns the calibration in use.
func (s *Scanner) Thresholds() Thresholds { return s.th }

// ScanDocument reads frames and viewport from doc and scans them.
func (s *Scanner) ScanDocument(ctx context.Context, doc Document) (Result, error) {
	if sn, ok := doc.(Snapshotter); ok {
		snap, err := sn.Snapshot(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("scan: read snapshot: %w", err)
		}
		return s.Scan(snap.Frames, snap.Viewport, doc.URL()), nil
	}
	frames, err := doc.Frames(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("scan: read frames: %w", err)
	}
	vp, err := doc.Viewport(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("scan: read viewport: %w", err)
	}
	return s.Scan(frames, vp, doc.URL()), nil
}

// Scan counts signals over frames. A page without frames yields a zero Result.
func (s *Scanner) Scan(frames []Frame, vp Viewport, pageURL string) Result {
	page, err := url.Parse(pageURL)
	if err != nil {
		page = nil
	}
	largeArea := vp.Area() * s.th.LargeAreaRatio

	res := Result{Count: len(frames)}
	for _, f := range frames {
		if Invisible(f, s.th.Opacity) {
			res.Invisible++
		}
		if f.Rect.Area() > largeArea {
			res.Large++
		}
		if z, ok := parseNumber(f.ZIndex); ok && z > s.th.ZIndex {
			res.HighZIndex++
		}
		if strings.TrimSpace(f.PointerEvents) == "none" {
			res.NoPointerEvents++
		}
		if !s.origin(f.Src, page) {
			res.Untrusted++
			s.logger.Debug("scan: untrusted frame", "page", pageURL, "src", f.Src)
		}
	}
	return res
}

// Invisible reports whether f is hidden from the user: display none,
// visibility hidden, or opacity below threshold.
func Invisible(f Frame, opacityThreshold float64) bool {
	if strings.TrimSpace(f.Display) == "none" || strings.TrimSpace(f.Visibility) == "hidden" {
		return true
	}
	return Transparent(f, opacityThreshold)
}

// Transparent reports whether f's computed opacity is below threshold. An
// opacity that is not a number is not transparent.
func Transparent(f Frame, opacityThreshold float64) bool {
	op, ok := parseNumber(f.Opacity)
	return ok && op < opacityThreshold
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
