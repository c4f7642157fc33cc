package appstate

import (
	"log/slog"

	"github.com/movierec/movierec/internal/models"
)

// State is the full reducer-held aggregate.
type State struct {
	Auth            AuthState
	Preferences     PreferencesState
	Recommendations RecommendationsState
	UI              UIState

	// InitialLoadComplete survives RESET_STATE: it marks a process-wide
	// milestone, not an identity-scoped one.
	InitialLoadComplete bool
}

// InitialState returns the container's starting state.
func InitialState() State {
	return State{}
}

// Reduce applies one action to a state, returning the next state. It is pure:
// no locks, no IO, no mutation of the input.
func Reduce(state State, action Action) State {
	switch action.Type {
	case ActionSetAuthState:
		auth, ok := action.Payload.(AuthState)
		if !ok {
			slog.Warn("appstate.Reduce: SET_AUTH_STATE with bad payload")
			return state
		}
		state.Auth = auth
		return state

	case ActionSetPreferencesLoading:
		state.Preferences.Loading = true
		state.Preferences.LastError = ""
		return state

	case ActionSetPreferencesSuccess:
		result, ok := action.Payload.(PreferencesResult)
		if !ok {
			slog.Warn("appstate.Reduce: SET_PREFERENCES_SUCCESS with bad payload")
			return state
		}
		state.Preferences = PreferencesState{
			Record:     result.Record,
			Source:     result.Source,
			Consistent: result.Consistent,
		}
		state.InitialLoadComplete = true
		return state

	case ActionSetPreferencesError:
		code, ok := action.Payload.(models.ErrorCode)
		if !ok {
			slog.Warn("appstate.Reduce: SET_PREFERENCES_ERROR with bad payload")
			return state
		}
		state.Preferences.Loading = false
		state.Preferences.LastError = code
		state.InitialLoadComplete = true
		return state

	case ActionUpdatePreferences:
		fields, ok := action.Payload.(map[string]interface{})
		if !ok {
			slog.Warn("appstate.Reduce: UPDATE_PREFERENCES with bad payload")
			return state
		}
		if state.Preferences.Record == nil {
			slog.Warn("appstate.Reduce: UPDATE_PREFERENCES with no record loaded")
			return state
		}
		// Copy-on-write: the previous state's record must stay untouched.
		updated := &models.PreferenceRecord{
			CompletionFlag: state.Preferences.Record.CompletionFlag,
			Source:         state.Preferences.Record.Source,
			IsConsistent:   state.Preferences.Record.IsConsistent,
			Fields:         make(map[string]interface{}, len(state.Preferences.Record.Fields)+len(fields)),
		}
		for k, v := range state.Preferences.Record.Fields {
			updated.Fields[k] = v
		}
		for k, v := range fields {
			updated.Fields[k] = v
		}
		state.Preferences.Record = updated
		return state

	case ActionSetRecommendationsState:
		rec, ok := action.Payload.(RecommendationsState)
		if !ok {
			slog.Warn("appstate.Reduce: SET_RECOMMENDATIONS_STATE with bad payload")
			return state
		}
		state.Recommendations = rec
		return state

	case ActionSetUIState:
		ui, ok := action.Payload.(UIState)
		if !ok {
			slog.Warn("appstate.Reduce: SET_UI_STATE with bad payload")
			return state
		}
		state.UI = ui
		return state

	case ActionResetState:
		next := InitialState()
		next.InitialLoadComplete = state.InitialLoadComplete
		return next
	}

	slog.Warn("appstate.Reduce: unknown action", "type", action.Type)
	return state
}
