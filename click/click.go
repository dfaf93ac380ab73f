// Package click correlates pointer-down events with near-transparent frames.
// A press that lands inside a frame the user cannot see is the behavioural
// trace of a clickjacking overlay.
package click

import "github.com/hazyhaar/clickguard/scan"

// Point is a pointer position in viewport coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Event is a pointer-down together with the frames present when it fired.
// A nil Frames means the source took no snapshot and the page is read
// afterwards.
type Event struct {
	Point
	Frames []scan.Frame `json:"frames"`
}

// State is the correlator flag for one analysis pass. The zero value is the
// state at the start of a pass. State is a value: whoever holds it decides
// when a pass begins by going back to the zero value.
type State struct {
	Mismatch bool `json:"mismatch"`
}

// Record returns the state after a pointer-down at p over the given frames.
// Once set, Mismatch stays set for the rest of the pass.
func (s State) Record(p Point, frames []scan.Frame, opacityThreshold float64) State {
	if s.Mismatch {
		return s
	}
	return State{Mismatch: Hit(p, frames, opacityThreshold)}
}

// Hit reports whether p falls inside the box of any transparent frame.
func Hit(p Point, frames []scan.Frame, opacityThreshold float64) bool {
	for _, f := range frames {
		if scan.Transparent(f, opacityThreshold) && f.Rect.Contains(p.X, p.Y) {
			return true
		}
	}
	return false
}
