package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.ctl.Status())
}

func (h *Handler) handleFailover(w http.ResponseWriter, r *http.Request) {
	var req FailoverRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, http.StatusBadRequest, "CO-ARG-4001", "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	started, err := h.ctl.Failover(req.Reason)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.logger.Warn("failover requested over api", "reason", req.Reason, "started", started)
	h.writeJSON(w, r, http.StatusAccepted, FailoverResponse{Started: started})
}

func (h *Handler) handleDivergence(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.SignalDivergence(); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusAccepted, nil)
}
