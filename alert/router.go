package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hazyhaar/clickguard/classify"
)

// Route sends alerts to Sink. With Labels set, only alerts carrying one of
// them are delivered; empty Labels takes every alert.
type Route struct {
	Name   string
	Sink   Sink
	Labels []classify.Label
}

// To routes every alert to s.
func To(name string, s Sink, labels ...classify.Label) Route {
	return Route{Name: name, Sink: s, Labels: labels}
}

func (r Route) accepts(l classify.Label) bool {
	return len(r.Labels) == 0 || slices.Contains(r.Labels, l)
}

// Router fans alerts out over routes. A failing sink does not stop the
// others; Send returns every failure joined.
type Router struct {
	routes []Route
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, routes ...Route) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{routes: routes, logger: logger}
}

func (r *Router) Send(ctx context.Context, a Alert) error {
	var errs []error
	delivered := 0
	for _, rt := range r.routes {
		if !rt.accepts(a.Label) {
			continue
		}
		if err := rt.Sink.Send(ctx, a); err != nil {
			r.logger.Warn("alert: sink failed", "sink", rt.Name, "id", a.ID, "error", err)
			errs = append(errs, fmt.Errorf("alert: sink %s: %w", rt.Name, err))
			continue
		}
		delivered++
	}
	if delivered == 0 && len(errs) == 0 {
		r.logger.Debug("alert: no route for label", "id", a.ID, "prediction", a.Label)
	}
	return errors.Join(errs...)
}

func (r *Router) Close() error {
	var errs []error
	for _, rt := range r.routes {
		if err := rt.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("alert: close %s: %w", rt.Name, err))
		}
	}
	return errors.Join(errs...)
}
