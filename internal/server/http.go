package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"MarginIndexer/internal/core"
	"MarginIndexer/internal/ingestion"
	"MarginIndexer/internal/observability"
	"MarginIndexer/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxInjectBody = 1 << 20

// Deps holds everything the HTTP routes read from.
type Deps struct {
	Query   *query.QueryService
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
	// Ingest enables POST /v1/admin/events/{type} when non-nil.
	Ingest *ingestion.ManualIngestService
	Logger zerolog.Logger
}

type route struct {
	method  string
	pattern string
	handle  func(r *http.Request, params map[string]string) (interface{}, int, error)
}

// NewHandler builds the HTTP surface on a grpc-gateway runtime mux.
func NewHandler(deps *Deps) (http.Handler, error) {
	mux := runtime.NewServeMux()
	h := &handlers{deps: deps}

	routes := []route{
		{http.MethodGet, "/v1/accounts/{owner}/{number}", h.account},
		{http.MethodGet, "/v1/accounts/{owner}/{number}/balances", h.balances},
		{http.MethodGet, "/v1/accounts/{owner}/{number}/balances/{market}", h.balance},
		{http.MethodGet, "/v1/accounts/{owner}/{number}/balances/{market}/history", h.history},
		{http.MethodGet, "/v1/markets/{market}", h.market},
		{http.MethodGet, "/v1/globals", h.globals},
		{http.MethodGet, "/v1/status", h.status},
		{http.MethodGet, "/v1/admin/integrity", h.integrity},
	}
	if deps.Ingest != nil {
		routes = append(routes, route{http.MethodPost, "/v1/admin/events/{type}", h.inject})
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, h.wrap(rt)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	// Health endpoints
	if deps.Health != nil {
		if err := mux.HandlePath(http.MethodGet, "/healthz", plain(deps.Health.LivenessHandler)); err != nil {
			return nil, err
		}
		if err := mux.HandlePath(http.MethodGet, "/readyz", plain(deps.Health.ReadinessHandler)); err != nil {
			return nil, err
		}
	}
	if deps.Gatherer != nil {
		metrics := promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
		if err := mux.HandlePath(http.MethodGet, "/metrics", plain(metrics.ServeHTTP)); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func plain(fn http.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		fn(w, r)
	}
}

type handlers struct {
	deps *Deps
}

func (h *handlers) wrap(rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		body, status, err := rt.handle(r, params)
		if err != nil {
			status = statusFor(err)
			body = map[string]string{"error": err.Error()}
			if status >= http.StatusInternalServerError {
				h.deps.Logger.Error().Err(err).Str("route", rt.pattern).Msg("query failed")
			}
		}
		writeJSON(w, status, body)

		if m := h.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(rt.pattern, strconv.Itoa(status)).Inc()
			m.QueryDuration.WithLabelValues(rt.pattern).Observe(time.Since(start).Seconds())
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrInvalidArgument), errors.Is(err, ingestion.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, ingestion.ErrRejected),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func marketParam(params map[string]string) (uint64, error) {
	id, err := strconv.ParseUint(params["market"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: market %q", query.ErrInvalidArgument, params["market"])
	}
	return id, nil
}

func (h *handlers) account(r *http.Request, p map[string]string) (interface{}, int, error) {
	resp, err := h.deps.Query.GetAccount(r.Context(), p["owner"], p["number"])
	return resp, http.StatusOK, err
}

func (h *handlers) balances(r *http.Request, p map[string]string) (interface{}, int, error) {
	resp, err := h.deps.Query.ListTokenValues(r.Context(), p["owner"], p["number"])
	return resp, http.StatusOK, err
}

func (h *handlers) balance(r *http.Request, p map[string]string) (interface{}, int, error) {
	market, err := marketParam(p)
	if err != nil {
		return nil, 0, err
	}
	resp, err := h.deps.Query.GetTokenValue(r.Context(), p["owner"], p["number"], market)
	return resp, http.StatusOK, err
}

func (h *handlers) history(r *http.Request, p map[string]string) (interface{}, int, error) {
	market, err := marketParam(p)
	if err != nil {
		return nil, 0, err
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			return nil, 0, fmt.Errorf("%w: limit %q", query.ErrInvalidArgument, raw)
		}
	}
	resp, err := h.deps.Query.BalanceHistory(r.Context(), p["owner"], p["number"], market, limit)
	return resp, http.StatusOK, err
}

func (h *handlers) market(r *http.Request, p map[string]string) (interface{}, int, error) {
	market, err := marketParam(p)
	if err != nil {
		return nil, 0, err
	}
	resp, err := h.deps.Query.GetAsset(r.Context(), market)
	return resp, http.StatusOK, err
}

func (h *handlers) globals(r *http.Request, _ map[string]string) (interface{}, int, error) {
	resp, err := h.deps.Query.GetGlobals(r.Context())
	return resp, http.StatusOK, err
}

func (h *handlers) status(r *http.Request, _ map[string]string) (interface{}, int, error) {
	resp, err := h.deps.Query.GetStatus(r.Context())
	return resp, http.StatusOK, err
}

func (h *handlers) integrity(r *http.Request, _ map[string]string) (interface{}, int, error) {
	resp, err := h.deps.Query.VerifyIntegrity(r.Context())
	return resp, http.StatusOK, err
}

func (h *handlers) inject(r *http.Request, p map[string]string) (interface{}, int, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxInjectBody))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ingestion.ErrInvalidPayload, err)
	}
	if err := h.deps.Ingest.Inject(r.Context(), p["type"], payload); err != nil {
		return nil, 0, err
	}
	h.deps.Logger.Info().Str("event_type", p["type"]).Msg("manual event accepted")
	return map[string]string{"status": "accepted"}, http.StatusAccepted, nil
}

// HTTPServer serves the handler from NewHandler.
type HTTPServer struct {
	server *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(addr string, handler http.Handler, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves HTTP until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}
