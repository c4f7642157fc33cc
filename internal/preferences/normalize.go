// Package preferences provides payload normalization for preference records.
//
// Stored and remote payloads have accumulated several legacy shapes over the
// product's lifetime: the intake answers have lived under different keys and
// the completion flag under different names. Normalization collapses all of
// them into the single canonical models.PreferenceRecord at the boundary, so
// nothing past this file ever sees a legacy shape.
package preferences

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/movierec/movierec/internal/models"
)

// Legacy key sets recognized at the boundary, in priority order.
var (
	fieldsKeys = []string{"fields", "preferences", "questionnaire_answers", "answers", "responses"}
	flagKeys   = []string{"completion_flag", "questionnaire_completed", "completed", "complete", "is_complete"}
)

// topLevelBookkeepingKeys are ignored when a flat payload is interpreted as
// field content directly.
var topLevelBookkeepingKeys = map[string]bool{
	"updated_at":     true,
	"created_at":     true,
	"version":        true,
	"schema_version": true,
	"source":         true,
	"is_consistent":  true,
}

// NormalizePayload parses a raw preference payload of any recognized shape
// into the canonical record. The returned record carries no source and no
// consistency verdict; callers run CheckConsistency afterwards.
func NormalizePayload(raw []byte) (*models.PreferenceRecord, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse preference payload: %w", err)
	}

	record := &models.PreferenceRecord{}

	for _, key := range flagKeys {
		if v, ok := doc[key]; ok {
			if b, ok := v.(bool); ok {
				record.CompletionFlag = b
				break
			}
			slog.Warn("preferences.NormalizePayload: non-boolean completion flag, ignoring", "key", key)
		}
	}

	for _, key := range fieldsKeys {
		if v, ok := doc[key]; ok {
			if m, ok := v.(map[string]interface{}); ok {
				record.Fields = m
				break
			}
			slog.Warn("preferences.NormalizePayload: non-object field container, ignoring", "key", key)
		}
	}

	if record.Fields == nil {
		// Flat legacy payload: the document itself is the field content,
		// minus flag and bookkeeping keys.
		record.Fields = make(map[string]interface{})
		for key, v := range doc {
			if topLevelBookkeepingKeys[key] || isFlagKey(key) {
				continue
			}
			record.Fields[key] = v
		}
	}

	return record, nil
}

// EncodePayload renders a record in the canonical persisted shape.
func EncodePayload(record *models.PreferenceRecord) (string, error) {
	doc := map[string]interface{}{
		"fields":          record.Fields,
		"completion_flag": record.CompletionFlag,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode preference payload: %w", err)
	}
	return string(data), nil
}

// CheckConsistency validates that the completion flag agrees with the presence
// of substantive content, correcting the flag in place when they disagree.
// It returns whether the flag was changed.
//
// Rules:
//   - flag set, content present: consistent, flag retained.
//   - flag set, content absent: flag wrongly asserts a finished intake,
//     corrected to false.
//   - flag unset, content present: flag wrongly denies a finished intake,
//     corrected to true.
//   - flag unset, content absent: consistent (nothing recorded yet).
func CheckConsistency(record *models.PreferenceRecord) (repaired bool) {
	hasContent := record.HasSubstantiveContent()
	switch {
	case record.CompletionFlag && !hasContent:
		slog.Warn("preferences.CheckConsistency: completion flag set without content, correcting to false")
		record.CompletionFlag = false
		repaired = true
	case !record.CompletionFlag && hasContent:
		slog.Warn("preferences.CheckConsistency: content present without completion flag, correcting to true")
		record.CompletionFlag = true
		repaired = true
	}
	record.IsConsistent = true
	return repaired
}

func isFlagKey(key string) bool {
	for _, k := range flagKeys {
		if key == k {
			return true
		}
	}
	return false
}
