// Package api registers the dev host routes: the invoke endpoint, health,
// stats and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/trackbridge/internal/adapters/channel/router"
	"github.com/okian/trackbridge/pkg/metrics"
)

// InvokePrefix is where the router's command endpoint is mounted.
const InvokePrefix = "/ipc"

// Server wires HTTP routes for the dev host.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	invoke        http.Handler
}

// NewServer creates a new API server serving commands from invoker.
func NewServer(invoker *router.Mux, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		invoke:        http.StripPrefix(InvokePrefix, invoker.HTTPHandler()),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST "+InvokePrefix+"/", MetricsMiddleware(s.invoke.ServeHTTP, "ipc"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
