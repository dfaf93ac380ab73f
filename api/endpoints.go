package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/clickguard/classify"
	"github.com/hazyhaar/clickguard/domainid"
	"github.com/hazyhaar/clickguard/kit"
	"github.com/hazyhaar/clickguard/status"
	"github.com/hazyhaar/clickguard/trust"
)

type scanReq struct {
	URL string `json:"url"`
}

type domainReq struct {
	Domain string `json:"domain"`
}

type checkReq struct {
	URL   string `json:"url"`
	Scope string `json:"scope"` // combined | builtin
}

type statusReq struct {
	URL string `json:"url"`
}

type detectionsReq struct {
	URL   string `json:"url"`
	Label string `json:"label"`
	Since int64  `json:"since"` // unix milliseconds
	Limit int    `json:"limit"`
}

type trustListResp struct {
	Builtin []string `json:"builtin"`
	Custom  []string `json:"custom"`
}

type trustChangeResp struct {
	Domain  string `json:"domain"`
	Changed bool   `json:"changed"`
}

type trustCheckResp struct {
	URL     string `json:"url"`
	Domain  string `json:"domain"`
	Scope   string `json:"scope"`
	Trusted bool   `json:"trusted"`
}

type statusResp struct {
	status.Status
	Badge status.Badge `json:"badge"`
}

func (s *Service) scan(ctx context.Context, req any) (any, error) {
	r := req.(*scanReq)
	if strings.TrimSpace(r.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", errBadRequest)
	}
	return s.Scanner.Scan(ctx, r.URL)
}

func (s *Service) trustList(ctx context.Context, _ any) (any, error) {
	custom, err := s.Trust.Custom(ctx)
	if err != nil {
		return nil, err
	}
	if custom == nil {
		custom = []string{}
	}
	return trustListResp{Builtin: s.Trust.Builtin(), Custom: custom}, nil
}

func (s *Service) trustAdd(ctx context.Context, req any) (any, error) {
	r := req.(*domainReq)
	added, err := s.Trust.AddTrust(ctx, r.Domain)
	if err != nil {
		return nil, err
	}
	if added {
		s.logTrustChange(ctx, "add", r.Domain)
	}
	return trustChangeResp{Domain: r.Domain, Changed: added}, nil
}

func (s *Service) trustRemove(ctx context.Context, req any) (any, error) {
	r := req.(*domainReq)
	removed, err := s.Trust.RemoveTrust(ctx, r.Domain)
	if err != nil {
		return nil, err
	}
	if removed {
		s.logTrustChange(ctx, "remove", r.Domain)
	}
	return trustChangeResp{Domain: r.Domain, Changed: removed}, nil
}

// logTrustChange records who edited the trust list.
func (s *Service) logTrustChange(ctx context.Context, change, domain string) {
	attrs := append([]any{"change", change, "domain", domain}, kit.CallerFrom(ctx).LogAttrs()...)
	s.Logger.Info("api: trust list changed", attrs...)
}

func (s *Service) trustCheck(ctx context.Context, req any) (any, error) {
	r := req.(*checkReq)
	scope := trust.ScopeCombined
	switch r.Scope {
	case "", "combined":
		r.Scope = "combined"
	case "builtin":
		scope = trust.ScopeBuiltinOnly
	default:
		return nil, fmt.Errorf("%w: scope %q", errBadRequest, r.Scope)
	}
	domain, _ := domainid.Normalize(r.URL)
	return trustCheckResp{
		URL:     r.URL,
		Domain:  domain,
		Scope:   r.Scope,
		Trusted: s.Trust.CheckPage(ctx, r.URL, scope),
	}, nil
}

func (s *Service) pageStatus(ctx context.Context, req any) (any, error) {
	r := req.(*statusReq)
	if r.URL == "" {
		return nil, fmt.Errorf("%w: url is required", errBadRequest)
	}
	st, ok, err := s.Status.Get(ctx, r.URL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no status for %s", errNotFound, r.URL)
	}
	return statusResp{Status: st, Badge: st.Badge()}, nil
}

func (s *Service) listDetections(ctx context.Context, req any) (any, error) {
	r := req.(*detectionsReq)
	f := status.Filter{URL: r.URL, Label: classify.Label(r.Label), Limit: r.Limit}
	if r.Since > 0 {
		f.Since = time.UnixMilli(r.Since)
	}
	ds, err := s.Detections.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		ds = []status.Detection{}
	}
	return ds, nil
}
