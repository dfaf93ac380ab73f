package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrUnknownPage is returned by Fleet.Scan for a page that is not watched
// when the fleet has no factory.
var ErrUnknownPage = errors.New("sensor: page not watched")

// Factory builds a one-shot Sensor for a page that is not watched.
type Factory func(ctx context.Context, pageURL string) (*Sensor, error)

// Fleet holds the sensors of all watched pages.
type Fleet struct {
	mu      sync.RWMutex
	sensors map[string]*Sensor
	factory Factory
	logger  *slog.Logger
}

// NewFleet creates a Fleet. factory may be nil.
func NewFleet(factory Factory, logger *slog.Logger) *Fleet {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fleet{sensors: make(map[string]*Sensor), factory: factory, logger: logger}
}

// Add registers s under the URL it was created for.
func (f *Fleet) Add(s *Sensor) {
	f.mu.Lock()
	f.sensors[s.URL()] = s
	f.mu.Unlock()
}

// Get returns the sensor watching pageURL.
func (f *Fleet) Get(pageURL string) (*Sensor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sensors[pageURL]
	return s, ok
}

// URLs lists watched pages, sorted.
func (f *Fleet) URLs() []string {
	f.mu.RLock()
	out := make([]string, 0, len(f.sensors))
	for u := range f.sensors {
		out = append(out, u)
	}
	f.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Scan runs a pass on pageURL: on its sensor when watched, otherwise on a
// one-shot sensor from the factory.
func (f *Fleet) Scan(ctx context.Context, pageURL string) (Report, error) {
	if s, ok := f.Get(pageURL); ok {
		return s.ScanNow(ctx)
	}
	if f.factory == nil {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownPage, pageURL)
	}
	s, err := f.factory(ctx, pageURL)
	if err != nil {
		return Report{}, err
	}
	defer s.Close()
	f.logger.Debug("sensor: one-shot scan", "url", pageURL)
	return s.ScanNow(ctx)
}

// Close closes every sensor.
func (f *Fleet) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for u, s := range f.sensors {
		s.Close()
		delete(f.sensors, u)
	}
	return nil
}
