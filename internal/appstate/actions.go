// Package appstate holds the reducer-driven application state container.
//
// All state transitions flow through typed actions and one pure reducer;
// the Store adds subscriptions and the fetch-orchestration layer that ties
// the operation registry and preference synchronizer together.
package appstate

import "github.com/movierec/movierec/internal/models"

// ActionType enumerates the actions the reducer accepts.
type ActionType string

const (
	ActionSetAuthState            ActionType = "SET_AUTH_STATE"
	ActionSetPreferencesLoading   ActionType = "SET_PREFERENCES_LOADING"
	ActionSetPreferencesSuccess   ActionType = "SET_PREFERENCES_SUCCESS"
	ActionSetPreferencesError     ActionType = "SET_PREFERENCES_ERROR"
	ActionUpdatePreferences       ActionType = "UPDATE_PREFERENCES"
	ActionSetRecommendationsState ActionType = "SET_RECOMMENDATIONS_STATE"
	ActionSetUIState              ActionType = "SET_UI_STATE"
	ActionResetState              ActionType = "RESET_STATE"
)

// Action is one typed state transition.
type Action struct {
	Type    ActionType
	Payload interface{}
}

// AuthState holds the authenticated identity.
type AuthState struct {
	Identity      string
	Authenticated bool
}

// PreferencesState holds the current preference record and its load status.
type PreferencesState struct {
	Loading    bool
	Record     *models.PreferenceRecord
	Source     models.Source
	Consistent bool
	LastError  models.ErrorCode
}

// RecommendationsState controls recommendation visibility.
type RecommendationsState struct {
	Visible bool
	Reason  string
}

// UIState holds coarse view flags consumed by the surrounding app.
type UIState struct {
	ActiveView string
	Busy       bool
}

// PreferencesResult is the payload of ActionSetPreferencesSuccess.
type PreferencesResult struct {
	Record     *models.PreferenceRecord
	Source     models.Source
	Consistent bool
}

// Action creators.

func SetAuthState(auth AuthState) Action {
	return Action{Type: ActionSetAuthState, Payload: auth}
}

func SetPreferencesLoading() Action {
	return Action{Type: ActionSetPreferencesLoading}
}

func SetPreferencesSuccess(result PreferencesResult) Action {
	return Action{Type: ActionSetPreferencesSuccess, Payload: result}
}

func SetPreferencesError(code models.ErrorCode) Action {
	return Action{Type: ActionSetPreferencesError, Payload: code}
}

// UpdatePreferences overlays fields on the current record without a fetch.
func UpdatePreferences(fields map[string]interface{}) Action {
	return Action{Type: ActionUpdatePreferences, Payload: fields}
}

func SetRecommendationsState(rec RecommendationsState) Action {
	return Action{Type: ActionSetRecommendationsState, Payload: rec}
}

func SetUIState(ui UIState) Action {
	return Action{Type: ActionSetUIState, Payload: ui}
}

// ResetState returns the container to initial values; process-wide flags
// survive (see Reduce).
func ResetState() Action {
	return Action{Type: ActionResetState}
}
