package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/alerr"
)

type errorBody struct {
	Error  string           `json:"error"`
	Reason alerr.ReasonCode `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine taxonomy to HTTP statuses. A consent denial
// carries its reason code but never the entity, so the response cannot
// reveal whether the underlying data exists.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if reason, ok := alerr.IsConsentRestricted(err); ok {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "consent restricted", Reason: reason})
		return
	}
	switch {
	case alerr.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case alerr.IsInvariantViolation(err):
		s.log.Error("invariant violation", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusConflict, errorBody{Error: "consent ledger inconsistent, writes blocked"})
	case alerr.IsStaleInput(err):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "inputs changed mid-recompute, retry"})
	default:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
