// Package feature assembles the feature vector handed to the classifier from
// the structural scan, the click correlator and the page-trust check.
package feature

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/clickguard/click"
	"github.com/hazyhaar/clickguard/scan"
)

// PageTruster reports whether a page URL is whitelisted.
type PageTruster interface {
	IsPageTrusted(ctx context.Context, rawURL string) bool
}

// Assembler builds Vectors. It holds no per-pass state.
type Assembler struct {
	scanner *scan.Scanner
	trust   PageTruster
	logger  *slog.Logger
}

// NewAssembler creates an Assembler. A nil logger uses slog.Default().
func NewAssembler(scanner *scan.Scanner, trust PageTruster, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{scanner: scanner, trust: trust, logger: logger}
}

// Assemble scans doc and combines the result with clicks and the page-trust
// check. clicks is the correlator state accumulated since the previous pass;
// starting the next pass from a zero state is the caller's job.
func (a *Assembler) Assemble(ctx context.Context, doc scan.Document, clicks click.State) (Vector, error) {
	res, err := a.scanner.ScanDocument(ctx, doc)
	if err != nil {
		return Vector{}, err
	}
	return a.build(ctx, doc.URL(), res, clicks), nil
}

// AssembleFrames is Assemble for callers that already hold the frames.
func (a *Assembler) AssembleFrames(ctx context.Context, pageURL string, frames []scan.Frame, vp scan.Viewport, clicks click.State) Vector {
	return a.build(ctx, pageURL, a.scanner.Scan(frames, vp, pageURL), clicks)
}

func (a *Assembler) build(ctx context.Context, pageURL string, res scan.Result, clicks click.State) Vector {
	v := Vector{
		IframeCount:             res.Count,
		InvisibleCount:          res.Invisible,
		LargeIframeCount:        res.Large,
		ZIndexHighCount:         res.HighZIndex,
		PointerEventsNoneCount:  res.NoPointerEvents,
		UntrustedIframeCount:    res.Untrusted,
		ClickMismatch:           Bit(clicks.Mismatch),
		ParentDomainWhitelisted: Bit(a.trust.IsPageTrusted(ctx, pageURL)),
		URL:                     pageURL,
	}
	a.logger.Debug("feature: vector assembled",
		"url", pageURL,
		"iframes", v.IframeCount,
		"invisible", v.InvisibleCount,
		"untrusted", v.UntrustedIframeCount,
		"click_mismatch", v.ClickMismatch.Int())
	return v
}
