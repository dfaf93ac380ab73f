// Package htmlpage scans a page from its HTML alone, without a browser. It
// resolves each iframe's style from <style> rules and inline declarations
// and lays frames out against a fixed viewport. Frames a script would insert
// are invisible to it; NeedsBrowser flags pages where that is likely.
package htmlpage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/clickguard/scan"
)

// DefaultViewport is the window a static page is laid out in.
var DefaultViewport = scan.Viewport{DocWidth: 1366, DocHeight: 768, WinWidth: 1366, WinHeight: 768}

// Page is a parsed HTML snapshot. It implements scan.Document.
type Page struct {
	url          string
	frames       []scan.Frame
	viewport     scan.Viewport
	needsBrowser bool
}

func (p *Page) URL() string { return p.url }

func (p *Page) Frames(context.Context) ([]scan.Frame, error) { return p.frames, nil }

func (p *Page) Viewport(context.Context) (scan.Viewport, error) { return p.viewport, nil }

// NeedsBrowser reports whether the static view is likely incomplete.
func (p *Page) NeedsBrowser() bool { return p.needsBrowser }

// Parse reads HTML from r. A zero vp uses DefaultViewport.
func Parse(pageURL string, r io.Reader, vp scan.Viewport) (*Page, error) {
	if vp == (scan.Viewport{}) {
		vp = DefaultViewport
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("htmlpage: parse: %w", err)
	}

	var rules []rule
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		rules = append(rules, parseStylesheet(s.Text())...)
	})

	base := documentBase(pageURL, doc)
	var frames []scan.Frame
	doc.Find("iframe").Each(func(_ int, s *goquery.Selection) {
		f := resolveFrame(s, rules, vp)
		f.Src = resolveSrc(base, f.Src)
		frames = append(frames, f)
	})

	var scripts strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts.WriteString(s.Text())
	})
	html, _ := doc.Html()

	return &Page{
		url:          pageURL,
		frames:       frames,
		viewport:     vp,
		needsBrowser: looksScripted(html, scripts.String()),
	}, nil
}

// documentBase is the URL relative frame sources resolve against: the first
// <base href>, itself resolved against pageURL, or pageURL. Nil when neither
// parses.
func documentBase(pageURL string, doc *goquery.Document) *url.URL {
	page, err := url.Parse(pageURL)
	if err != nil {
		page = nil
	}
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return page
	}
	b, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return page
	}
	if page != nil {
		b = page.ResolveReference(b)
	}
	return b
}

// resolveSrc returns src as the browser would report it. Empty and
// unparseable sources are left alone.
func resolveSrc(base *url.URL, src string) string {
	if src == "" || base == nil {
		return src
	}
	u, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(u).String()
}

// computed holds the properties the scanner reads, before layout.
type computed struct {
	display, visibility, opacity, zIndex, pointerEvents, position string

	width, height, left, top string
}

func resolveFrame(s *goquery.Selection, rules []rule, vp scan.Viewport) scan.Frame {
	c := computed{
		display:       "inline",
		visibility:    "visible",
		opacity:       "1",
		zIndex:        "auto",
		pointerEvents: "auto",
		position:      "static",
		width:         "300",
		height:        "150",
	}
	if w, ok := s.Attr("width"); ok && strings.TrimSpace(w) != "" {
		c.width = w
	}
	if h, ok := s.Attr("height"); ok && strings.TrimSpace(h) != "" {
		c.height = h
	}
	if _, ok := s.Attr("hidden"); ok {
		c.display = "none"
	}

	// Later rules win; specificity is not modelled.
	for _, r := range rules {
		for _, sel := range r.selectors {
			if s.IsMatcher(sel) {
				c.apply(r.decls)
				break
			}
		}
	}
	if style, ok := s.Attr("style"); ok {
		c.apply(parseDeclarations(style))
	}

	src, _ := s.Attr("src")
	f := scan.Frame{
		Src:           strings.TrimSpace(src),
		Display:       c.display,
		Visibility:    c.visibility,
		Opacity:       c.opacity,
		ZIndex:        c.zIndex,
		PointerEvents: c.pointerEvents,
	}
	if c.display == "none" {
		return f
	}
	f.Rect.Width = length(c.width, vp.WinWidth)
	f.Rect.Height = length(c.height, vp.WinHeight)
	if c.position == "absolute" || c.position == "fixed" {
		f.Rect.Left = length(c.left, vp.WinWidth)
		f.Rect.Top = length(c.top, vp.WinHeight)
	}
	return f
}

func (c *computed) apply(decls []declaration) {
	for _, d := range decls {
		v := strings.ToLower(d.value)
		switch d.prop {
		case "display":
			c.display = v
		case "visibility":
			c.visibility = v
		case "opacity":
			c.opacity = opacity(v)
		case "z-index":
			c.zIndex = v
		case "pointer-events":
			c.pointerEvents = v
		case "position":
			c.position = v
		case "width":
			c.width = v
		case "height":
			c.height = v
		case "left":
			c.left = v
		case "top":
			c.top = v
		}
	}
}

// opacity normalises a percentage to the fraction a browser would compute.
func opacity(v string) string {
	if p, ok := strings.CutSuffix(v, "%"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err == nil {
			return strconv.FormatFloat(f/100, 'f', -1, 64)
		}
	}
	return v
}

// length resolves a CSS length against the given viewport dimension. Units
// other than px, %, vw and vh resolve to 0.
func length(v string, axis float64) float64 {
	v = strings.TrimSpace(strings.ToLower(v))
	num := func(s string) float64 {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		return f
	}
	switch {
	case v == "" || v == "auto":
		return 0
	case strings.HasSuffix(v, "px"):
		return num(strings.TrimSuffix(v, "px"))
	case strings.HasSuffix(v, "%"):
		return num(strings.TrimSuffix(v, "%")) * axis / 100
	case strings.HasSuffix(v, "vw"), strings.HasSuffix(v, "vh"):
		return num(v[:len(v)-2]) * axis / 100
	}
	return num(v)
}

// looksScripted reports a single-page-app shell or a script that creates
// frames at runtime.
func looksScripted(html, scripts string) bool {
	lower := strings.ToLower(html)
	for _, shell := range []string{
		`<div id="root"></div>`,
		`<div id="app"></div>`,
		`<div id="__next"></div>`,
	} {
		if strings.Contains(lower, shell) {
			return true
		}
	}
	js := strings.ToLower(strings.Join(strings.Fields(scripts), ""))
	return strings.Contains(js, `createelement("iframe")`) ||
		strings.Contains(js, `createelement('iframe')`) ||
		strings.Contains(js, "createelement(`iframe`)")
}
