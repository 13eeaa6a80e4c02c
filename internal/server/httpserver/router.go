package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/colo-go/internal/server/httpserver/handler"
)

// RouterConfig configures the router.
type RouterConfig struct {
	Controller handler.Controller

	// KV enables the workload endpoints when set.
	KV handler.KV

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// RateLimit is the per-client request rate on /v1. Zero disables it.
	RateLimit float64

	// AccessLog logs every /v1 request.
	AccessLog bool

	Logger *slog.Logger
}

// NewRouter builds the top-level handler.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := handler.New(cfg.Controller, cfg.KV, cfg.Logger)

	mux := http.NewServeMux()

	probe := Chain(h, RequestID(), Recover(cfg.Logger))
	mux.Handle("GET /health", probe)
	mux.Handle("GET /ready", probe)

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics, Recover(cfg.Logger)))
	}

	api := []Middleware{RequestID(), Recover(cfg.Logger)}
	if cfg.AccessLog {
		api = append(api, AccessLog(cfg.Logger))
	}
	if cfg.RateLimit > 0 {
		api = append(api, RateLimit(cfg.RateLimit))
	}
	mux.Handle("/v1/", Chain(h, api...))

	return mux
}
