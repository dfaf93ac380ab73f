package click

import (
	"testing"

	"github.com/hazyhaar/clickguard/scan"
)

func frames() []scan.Frame {
	return []scan.Frame{
		{Opacity: "1", Rect: scan.Rect{Left: 0, Top: 0, Width: 1000, Height: 800}},
		{Opacity: "0.05", Rect: scan.Rect{Left: 100, Top: 100, Width: 200, Height: 50}},
	}
}

func TestHit(t *testing.T) {
	tests := []struct {
		p    Point
		want bool
	}{
		{Point{150, 120}, true},
		{Point{100, 100}, true}, // top-left corner
		{Point{300, 150}, true}, // bottom-right corner
		{Point{301, 150}, false},
		{Point{50, 50}, false}, // only the opaque frame
	}
	for _, tt := range tests {
		if got := Hit(tt.p, frames(), 0.1); got != tt.want {
			t.Errorf("Hit(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestRecord_Monotonic(t *testing.T) {
	var s State
	s = s.Record(Point{50, 50}, frames(), 0.1)
	if s.Mismatch {
		t.Fatal("miss should not set the flag")
	}
	s = s.Record(Point{150, 120}, frames(), 0.1)
	if !s.Mismatch {
		t.Fatal("hit should set the flag")
	}
	s = s.Record(Point{50, 50}, frames(), 0.1)
	if !s.Mismatch {
		t.Error("a later miss must not clear the flag")
	}
	s = s.Record(Point{150, 120}, nil, 0.1)
	if !s.Mismatch {
		t.Error("flag must survive frames disappearing")
	}
}

func TestRecord_NoFrames(t *testing.T) {
	if (State{}).Record(Point{1, 1}, nil, 0.1).Mismatch {
		t.Error("no frames: want no mismatch")
	}
}
