package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/movierec/movierec/internal/appstate"
	"github.com/movierec/movierec/internal/models"
)

// statusHandler returns the registry's aggregated operation state.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statusHandler: processing status request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.statusHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.registry.AggregatedState()))
}

// savePreferencesRequest is the POST /preferences body.
type savePreferencesRequest struct {
	Fields         map[string]interface{} `json:"fields"`
	CompletionFlag bool                   `json:"completion_flag"`
	Partial        bool                   `json:"partial,omitempty"`
}

// preferencesHandler loads (GET) or saves (POST) the authenticated identity's
// preference record through the state store, so every request is tracked as
// an operation.
func (s *Server) preferencesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.preferencesHandler: processing request", "method", r.Method, "path", r.URL.Path)

	switch r.Method {
	case http.MethodGet:
		s.loadPreferences(w, r)
	case http.MethodPost:
		s.savePreferences(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.preferencesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) loadPreferences(w http.ResponseWriter, r *http.Request) {
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	err := s.state.LoadPreferences(r.Context(), forceRefresh)
	if err != nil && !errors.Is(err, appstate.ErrFetchInFlight) {
		code := models.CodeOf(err)
		slog.Warn("Server.loadPreferences: load failed", "code", code, "error", err)
		writeErrorResponse(w, "Failed to load preferences", code)
		return
	}

	prefs := s.state.GetState().Preferences
	if prefs.Record == nil {
		writeErrorResponse(w, "No preference data; complete the intake questionnaire", models.ErrorCodeNoDataFound)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(prefs))
}

func (s *Server) savePreferences(w http.ResponseWriter, r *http.Request) {
	var req savePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.savePreferences: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.Fields) == 0 {
		slog.Warn("Server.savePreferences: empty fields")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Preference fields must not be empty"))
		return
	}

	record := &models.PreferenceRecord{
		Fields:         req.Fields,
		CompletionFlag: req.CompletionFlag,
	}
	if err := s.state.SavePreferences(r.Context(), record, req.Partial); err != nil {
		code := models.CodeOf(err)
		slog.Error("Server.savePreferences: save failed", "code", code, "error", err)
		writeErrorResponse(w, "Failed to save preferences", code)
		return
	}

	slog.Info("Server.savePreferences: preferences saved")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Preferences saved", nil))
}

// completeHandler reports whether the identity's intake is complete. It never
// surfaces errors: unknown reads as incomplete.
func (s *Server) completeHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.completeHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	identity := s.state.GetState().Auth.Identity
	if identity == "" {
		identity = r.URL.Query().Get("identity")
	}
	complete := identity != "" && s.syncer.IsComplete(r.Context(), identity)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"complete": complete}))
}

// resetHandler clears identity-scoped state.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.resetHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.state.SignOut()
	slog.Info("Server.resetHandler: state reset")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("State reset", nil))
}
