package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsValidOperationType(t *testing.T) {
	valid := []OperationType{
		OperationAuthLogin, OperationPreferencesLoad, OperationPreferencesSave,
		OperationQuestionnaireSubmit, OperationRecommendationsLoad,
	}
	for _, ot := range valid {
		if !IsValidOperationType(ot) {
			t.Errorf("expected %s to be valid", ot)
		}
	}
	if IsValidOperationType("watchlist_load") {
		t.Error("unknown operation type should not be valid")
	}
}

func TestOperationStateIsTerminal(t *testing.T) {
	if OperationStateLoading.IsTerminal() || OperationStateIdle.IsTerminal() {
		t.Error("loading and idle are not terminal states")
	}
	for _, s := range []OperationState{OperationStateSuccess, OperationStateError, OperationStateTimeout} {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
}

func TestHasSubstantiveContent(t *testing.T) {
	var nilRec *PreferenceRecord
	if nilRec.HasSubstantiveContent() {
		t.Error("nil record should not have content")
	}
	empty := &PreferenceRecord{Fields: map[string]interface{}{}}
	if empty.HasSubstantiveContent() {
		t.Error("empty fields should not be substantive")
	}
	bookkeeping := &PreferenceRecord{Fields: map[string]interface{}{
		"updated_at": "2024-01-01", "version": 2, "genre": "",
	}}
	if bookkeeping.HasSubstantiveContent() {
		t.Error("bookkeeping-only fields should not be substantive")
	}
	real := &PreferenceRecord{Fields: map[string]interface{}{"genre_ratings": map[string]interface{}{"drama": 4}}}
	if !real.HasSubstantiveContent() {
		t.Error("expected substantive content")
	}
}

func TestSyncErrorClassification(t *testing.T) {
	underlying := errors.New("connection refused")
	err := NewSyncError(ErrorCodeNetwork, "preference fetch failed", underlying)

	if CodeOf(err) != ErrorCodeNetwork {
		t.Errorf("expected NETWORK_ERROR code, got %s", CodeOf(err))
	}
	if !IsTransient(err) {
		t.Error("network errors should be transient")
	}
	if !errors.Is(err, underlying) {
		t.Error("expected Unwrap to reach the underlying error")
	}

	wrapped := fmt.Errorf("load: %w", NewSyncError(ErrorCodeServer, "upstream 503", nil))
	if !IsTransient(wrapped) {
		t.Error("wrapped server errors should still classify as transient")
	}

	if IsTransient(NewSyncError(ErrorCodeAuth, "token expired", nil)) {
		t.Error("auth errors must not be treated as transient")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("plain errors should have no code")
	}
}
