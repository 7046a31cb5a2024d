package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scoreResponse struct {
	InterventionID string                 `json:"intervention_id"`
	Name           string                 `json:"name,omitempty"`
	Type           model.InterventionType `json:"type"`
	Signals        model.Signals          `json:"signals"`
	Composite      float64                `json:"composite"`
	Recommendation model.Recommendation   `json:"recommendation"`
	WeightSetID    string                 `json:"weight_set_id"`
	EvidenceCount  int                    `json:"evidence_count"`
	OutcomeCount   int                    `json:"outcome_count"`
	ScoredAt       string                 `json:"scored_at"`
}

func (s *Server) handleGetScore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	caller := callerFrom(r)

	rec, err := s.gate.Require(r.Context(), caller, model.ActionRead, model.EntityIntervention, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	score, err := s.store.CurrentScore(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	iv, err := s.store.GetIntervention(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := scoreResponse{
		InterventionID: id,
		Type:           iv.Type,
		Signals:        score.Signals,
		Composite:      score.Composite,
		Recommendation: score.Recommendation,
		WeightSetID:    score.WeightSetID,
		EvidenceCount:  score.EvidenceCount,
		OutcomeCount:   score.OutcomeCount,
		ScoredAt:       score.ScoredAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if rec == nil || rec.Level != model.ConsentAnonymousOnly {
		resp.Name = iv.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScoreHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	caller := callerFrom(r)

	if _, err := s.gate.Require(r.Context(), caller, model.ActionRead, model.EntityIntervention, id); err != nil {
		s.writeError(w, r, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hist, err := s.store.ScoreHistory(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intervention_id": id, "scores": hist})
}

type refreshRequest struct {
	Target string `json:"target"` // intervention ID or "all"
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Target == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "target is required"})
		return
	}

	if req.Target == "all" {
		// A full batch may cover thousands of interventions; don't hold
		// the request open for it.
		go func() {
			if _, err := s.refresher.All(context.Background()); err != nil {
				s.log.Error("background refresh failed", zap.Error(err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	score, err := s.refresher.One(r.Context(), req.Target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func filterFromQuery(q map[string][]string) store.InterventionFilter {
	var f store.InterventionFilter
	if geo, ok := q["geography"]; ok && len(geo) > 0 && geo[0] != "" {
		f.Geography = strings.Split(geo[0], ",")
	}
	if typ, ok := q["type"]; ok && len(typ) > 0 {
		f.Type = model.InterventionType(typ[0])
	}
	return f
}

func (s *Server) handleGaps(w http.ResponseWriter, r *http.Request) {
	rep, err := s.gaps.Find(r.Context(), callerFrom(r), filterFromQuery(r.URL.Query()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	a, err := s.gaps.Overview(r.Context(), callerFrom(r), filterFromQuery(r.URL.Query()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

const maxCompareIDs = 20

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "ids is required"})
		return
	}
	ids := strings.Split(raw, ",")
	if len(ids) > maxCompareIDs {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "too many ids"})
		return
	}

	rows, err := s.comparer.Compare(r.Context(), callerFrom(r), ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	// Build the workbook in memory first so a failure mid-export can
	// still produce an error status instead of a truncated 200.
	var buf bytes.Buffer
	if _, err := s.exporter.Portfolio(r.Context(), callerFrom(r), filterFromQuery(r.URL.Query()), &buf); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="portfolio.xlsx"`)
	if _, err := buf.WriteTo(w); err != nil {
		s.log.Warn("export response aborted", zap.Error(err))
	}
}

func (s *Server) handleConsentGrant(w http.ResponseWriter, r *http.Request) {
	var req store.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Actor == "" {
		req.Actor = callerFrom(r).Actor
	}

	rec, err := s.ledger.Grant(r.Context(), req)
	if err != nil {
		s.writeConsentMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type revokeRequest struct {
	EntityType model.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Reason     string           `json:"reason"`
}

func (s *Server) handleConsentRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	rec, err := s.ledger.Revoke(r.Context(), req.EntityType, req.EntityID, callerFrom(r).Actor, req.Reason)
	if err != nil {
		s.writeConsentMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleConsentHistory(w http.ResponseWriter, r *http.Request) {
	et := model.EntityType(chi.URLParam(r, "type"))
	id := chi.URLParam(r, "id")

	recs, err := s.ledger.History(r.Context(), et, id)
	if err != nil {
		s.writeConsentMutationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

// writeConsentMutationError treats non-taxonomy errors from the ledger as
// validation failures. The consent endpoints are internal-only, so echoing
// the validation message back is safe.
func (s *Server) writeConsentMutationError(w http.ResponseWriter, r *http.Request, err error) {
	var typed *alerr.Error
	if errors.As(err, &typed) {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}
