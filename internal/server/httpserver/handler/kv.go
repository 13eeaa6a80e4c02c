package handler

import (
	"io"
	"net/http"

	"github.com/yndnr/colo-go/internal/core/domain"
)

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	v, ok := h.kv.Get(r.PathValue("key"))
	if !ok {
		h.writeError(w, r, http.StatusNotFound, "CO-KV-4040", "key not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(v)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	if !h.ctl.Status().Writable {
		h.handleError(w, r, domain.ErrReplicaInactive)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxValueSize+1))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "CO-ARG-4001", "read body: "+err.Error())
		return
	}
	if len(body) > MaxValueSize {
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "CO-ARG-4130", "value too large")
		return
	}
	if err := h.kv.Put(r.PathValue("key"), body); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]int{"keys": h.kv.Len()})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.ctl.Status().Writable {
		h.handleError(w, r, domain.ErrReplicaInactive)
		return
	}
	ok, err := h.kv.Delete(r.PathValue("key"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, DeleteResponse{Deleted: ok})
}
