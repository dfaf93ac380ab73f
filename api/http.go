package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/clickguard/internal/urlguard"
	"github.com/hazyhaar/clickguard/kit"
	"github.com/hazyhaar/clickguard/sensor"
	"github.com/hazyhaar/clickguard/trust"
)

// maxBody caps JSON request bodies.
const maxBody = 64 << 10

// Handler returns the HTTP router. A non-nil gatherer is served on /metrics.
func (s *Service) Handler(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(requestID)
	r.Use(maxRequestBody(maxBody))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if s.Scanner != nil {
			r.Post("/scan", s.handle(s.endpoints.scan, func(r *http.Request) (any, error) {
				var req scanReq
				return &req, decodeBody(r, &req)
			}))
		}
		if s.Trust != nil {
			r.Get("/trust", s.handle(s.endpoints.trustList, noRequest))
			r.Post("/trust", s.handle(s.endpoints.trustAdd, func(r *http.Request) (any, error) {
				var req domainReq
				return &req, decodeBody(r, &req)
			}))
			r.Delete("/trust", s.handle(s.endpoints.trustRemove, func(r *http.Request) (any, error) {
				return &domainReq{Domain: r.URL.Query().Get("domain")}, nil
			}))
			r.Get("/trust/check", s.handle(s.endpoints.trustCheck, func(r *http.Request) (any, error) {
				q := r.URL.Query()
				return &checkReq{URL: q.Get("url"), Scope: q.Get("scope")}, nil
			}))
		}
		if s.Status != nil {
			r.Get("/status", s.handle(s.endpoints.status, func(r *http.Request) (any, error) {
				return &statusReq{URL: r.URL.Query().Get("url")}, nil
			}))
		}
		if s.Detections != nil {
			r.Get("/detections", s.handle(s.endpoints.detections, func(r *http.Request) (any, error) {
				q := r.URL.Query()
				return &detectionsReq{
					URL:   q.Get("url"),
					Label: q.Get("label"),
					Since: queryInt64(q.Get("since")),
					Limit: int(queryInt64(q.Get("limit"))),
				}, nil
			}))
		}
	})
	return r
}

func (s *Service) handle(ep kit.Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		resp, err := ep(ctx, req)
		if err != nil {
			writeError(w, statusCode(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func noRequest(*http.Request) (any, error) { return nil, nil }

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, trust.ErrEmptyDomain), errors.Is(err, urlguard.ErrUnsafeURL):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound), errors.Is(err, sensor.ErrUnknownPage):
		return http.StatusNotFound
	case errors.Is(err, sensor.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func queryInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
