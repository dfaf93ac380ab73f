package scan

import (
	"context"
	"math"
)

// Rect is a bounding client rect in viewport coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }
func (r Rect) Area() float64   { return r.Width * r.Height }

// Contains reports whether (x, y) lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left && x <= r.Right() && y >= r.Top && y <= r.Bottom()
}

// Frame is one embedded frame element as the page renders it. Style fields
// hold computed CSS values verbatim ("none", "0.05", "auto", ...).
type Frame struct {
	Src           string `json:"src"`
	Display       string `json:"display"`
	Visibility    string `json:"visibility"`
	Opacity       string `json:"opacity"`
	ZIndex        string `json:"z_index"`
	PointerEvents string `json:"pointer_events"`
	Rect          Rect   `json:"rect"`
}

// Viewport carries both size sources a page reports: the document element's
// client size and the window's inner size. They disagree on some pages.
type Viewport struct {
	DocWidth  float64 `json:"doc_width"`
	DocHeight float64 `json:"doc_height"`
	WinWidth  float64 `json:"win_width"`
	WinHeight float64 `json:"win_height"`
}

// Area is the larger width times the larger height.
func (v Viewport) Area() float64 {
	return math.Max(v.DocWidth, v.WinWidth) * math.Max(v.DocHeight, v.WinHeight)
}

// Document is a rendered page the scanner can read. Implementations read the
// live DOM (internal/rodpage) or a parsed HTML snapshot (htmlpage).
type Document interface {
	URL() string
	Frames(ctx context.Context) ([]Frame, error)
	Viewport(ctx context.Context) (Viewport, error)
}

// Snapshot is frames and viewport read from the same layout.
type Snapshot struct {
	Frames   []Frame
	Viewport Viewport
}

// Snapshotter is a Document that can read frames and viewport in one step.
// ScanDocument prefers it over separate Frames and Viewport calls.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Result aggregates per-frame signals. A frame may count toward several
// fields, so fields do not sum to Count.
type Result struct {
	Count           int `json:"count"`
	Invisible       int `json:"invisible"`
	Large           int `json:"large"`
	HighZIndex      int `json:"high_z_index"`
	NoPointerEvents int `json:"no_pointer_events"`
	Untrusted       int `json:"untrusted"`
}
