package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/trigger"
	"github.com/NudgeLoop/NudgeLoop/internal/util"
)

// DefaultPredictionHorizonHours is used when no hours query is given.
const DefaultPredictionHorizonHours = 24

// DefaultHistoryWindow bounds intervention history queries without an
// explicit since parameter.
const DefaultHistoryWindow = 7 * 24 * time.Hour

// evaluateHandler runs a full pipeline pass for a context snapshot
// (POST /v1/evaluate).
func (s *Server) evaluateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("evaluateHandler invoked", "method", r.Method, "path", r.URL.Path)

	var snap models.ContextSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		slog.Warn("Failed to decode JSON in evaluateHandler", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	if err := snap.Validate(); err != nil {
		slog.Warn("evaluateHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	s.snapshots.Put(snap)

	rec, err := s.engine.EvaluateUser(r.Context(), &snap)
	if err != nil {
		slog.Error("evaluateHandler evaluation failed", "user", snap.UserID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Evaluation failed"))
		return
	}
	if rec == nil {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("no trigger fired", nil))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// microHandler generates threshold-based micro-interventions
// (POST /v1/micro).
func (s *Server) microHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("microHandler invoked", "method", r.Method, "path", r.URL.Path)

	var snap models.ContextSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		slog.Warn("Failed to decode JSON in microHandler", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}

	micros, err := s.engine.Micro(&snap)
	if err != nil {
		slog.Warn("microHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(micros))
}

// windowsHandler predicts receptive delivery windows
// (GET /v1/users/{id}/windows?hours=24).
func (s *Server) windowsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user id is required"))
		return
	}

	hours := DefaultPredictionHorizonHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("hours must be a positive integer"))
			return
		}
		hours = parsed
	}

	windows := s.engine.PredictWindows(userID, hours)
	writeJSONResponse(w, http.StatusOK, models.Success(windows))
}

// interventionsHandler returns a user's intervention history
// (GET /v1/users/{id}/interventions?since=RFC3339).
func (s *Server) interventionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user id is required"))
		return
	}

	since := time.Now().Add(-DefaultHistoryWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("since must be RFC3339"))
			return
		}
		since = parsed
	}

	recs, err := s.engine.ListInterventions(userID, since)
	if err != nil {
		slog.Error("interventionsHandler list failed", "user", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list interventions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(recs))
}

// effectivenessHandler records an external observation for a delivered
// intervention (POST /v1/interventions/{id}/effectiveness).
func (s *Server) effectivenessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	interventionID := r.PathValue("id")
	if interventionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("intervention id is required"))
		return
	}

	var rec models.EffectivenessRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		slog.Warn("Failed to decode JSON in effectivenessHandler", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	rec.InterventionID = interventionID
	if rec.ID == "" {
		rec.ID = util.GenerateEffectivenessID()
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now()
	}

	if err := s.engine.RecordEffectiveness(rec); err != nil {
		slog.Warn("effectivenessHandler record failed", "intervention", interventionID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("effectiveness recorded", rec.ID))
}

// reloadTriggersHandler hot-swaps the trigger library from the request
// body (POST /v1/triggers/reload).
func (s *Server) reloadTriggersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	lib, err := trigger.LoadLibrary(r.Body)
	if err != nil {
		slog.Warn("reloadTriggersHandler failed to load library", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	s.engine.SetLibrary(lib)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("trigger library reloaded", lib.Len()))
}

// healthHandler reports liveness (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}
