// Package handler serves the colod HTTP API.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/yndnr/colo-go/internal/core/domain"
)

// Controller is the replication session as seen by the API.
type Controller interface {
	Status() SessionStatus
	// Failover requests failover and reports whether this call started it.
	Failover(reason string) (bool, error)
	// SignalDivergence tells the consistency oracle that output diverged.
	SignalDivergence() error
}

// KV is the protected workload's key-value interface.
type KV interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
	Delete(key string) (bool, error)
	Len() int
}

// MaxValueSize bounds PUT bodies.
const MaxValueSize = 1 << 20

// Handler routes API requests.
type Handler struct {
	ctl    Controller
	kv     KV
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Handler. kv may be nil to disable the KV endpoints.
func New(ctl Controller, kv KV, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		ctl:    ctl,
		kv:     kv,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /v1/status", h.handleStatus)
	h.mux.HandleFunc("POST /v1/failover", h.handleFailover)
	h.mux.HandleFunc("POST /v1/oracle/divergence", h.handleDivergence)

	if h.kv != nil {
		h.mux.HandleFunc("GET /v1/kv/{key}", h.handleGet)
		h.mux.HandleFunc("PUT /v1/kv/{key}", h.handlePut)
		h.mux.HandleFunc("DELETE /v1/kv/{key}", h.handleDelete)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(NewErrorResponse(getRequestID(r), code, message))
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if code := domain.GetErrorCode(err); code != "" {
		h.writeError(w, r, errorCodeToHTTPStatus(code), code, err.Error())
		return
	}
	h.logger.Error("internal error", "error", err, "path", r.URL.Path)
	h.writeError(w, r, http.StatusInternalServerError, "CO-SYS-5000", "internal server error")
}

// getRequestID returns the ID set by the RequestID middleware.
func getRequestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

// errorCodeToHTTPStatus maps CO-AREA-NNNN to an HTTP status. The first three
// digits of NNNN are used when they form a 4xx or 5xx status.
func errorCodeToHTTPStatus(code string) int {
	i := strings.LastIndexByte(code, '-')
	if i >= 0 && len(code)-i-1 == 4 {
		if n, err := strconv.Atoi(code[i+1 : i+4]); err == nil && n >= 400 && n < 600 {
			if http.StatusText(n) != "" {
				return n
			}
		}
	}
	if strings.HasPrefix(code, "CO-ARG-") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
