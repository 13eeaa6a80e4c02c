package handler

import "net/http"

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady reports ready once the node can accept workload writes: a
// replicating primary, or any node that no longer replicates.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	st := h.ctl.Status()
	if !st.Writable {
		h.writeError(w, r, http.StatusServiceUnavailable, "CO-SESS-5030", "not active: "+st.State)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready", "state": st.State})
}
