// Package api exposes the sensor over HTTP and MCP: on-demand scans, trust
// list administration, page status and the detection journal. Both
// transports call the same kit endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/clickguard/kit"
	"github.com/hazyhaar/clickguard/sensor"
	"github.com/hazyhaar/clickguard/status"
	"github.com/hazyhaar/clickguard/trust"
)

var (
	errBadRequest = errors.New("api: bad request")
	errNotFound   = errors.New("api: not found")
)

// Scanner runs a pass on a page. *sensor.Fleet satisfies it.
type Scanner interface {
	Scan(ctx context.Context, pageURL string) (sensor.Report, error)
}

// DetectionLister reads the detection journal. *status.Journal satisfies it.
type DetectionLister interface {
	List(ctx context.Context, f status.Filter) ([]status.Detection, error)
}

// Service bundles the collaborators behind the endpoints. Routes and tools
// of a nil collaborator are not mounted.
type Service struct {
	Scanner    Scanner
	Trust      *trust.Evaluator
	Status     *status.Tracker
	Detections DetectionLister
	Logger     *slog.Logger

	endpoints endpoints
}

type endpoints struct {
	scan, trustList, trustAdd, trustRemove, trustCheck, status, detections kit.Endpoint
}

// New wires the endpoints of svc.
func New(svc Service) *Service {
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	s := &svc
	wrap := func(op string, ep kit.Endpoint) kit.Endpoint {
		return kit.Logging(s.Logger, op)(ep)
	}
	s.endpoints = endpoints{
		scan:        wrap("scan", s.scan),
		trustList:   wrap("trust_list", s.trustList),
		trustAdd:    wrap("trust_add", s.trustAdd),
		trustRemove: wrap("trust_remove", s.trustRemove),
		trustCheck:  wrap("trust_check", s.trustCheck),
		status:      wrap("status", s.pageStatus),
		detections:  wrap("detections", s.listDetections),
	}
	return s
}
