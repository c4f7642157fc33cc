// Package api exposes the engine's HTTP surface.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/movierec/movierec/internal/models"
)

// fallbackErrorBody is pre-marshaled at startup so an encoding failure can
// still produce a well-formed error envelope.
var fallbackErrorBody = func() []byte {
	body, err := json.Marshal(models.ErrorWithCode("Internal server error", models.ErrorCodeServer))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal fallback error body at startup: %v", err))
	}
	return body
}()

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so an encoding error is caught before headers go out.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorBody
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeErrorResponse maps a synchronizer error code onto its HTTP status and
// writes the standard error envelope.
func writeErrorResponse(w http.ResponseWriter, message string, code models.ErrorCode) {
	writeJSONResponse(w, statusForCode(code), models.ErrorWithCode(message, code))
}

// statusForCode translates the error taxonomy into HTTP statuses. Anything
// unrecognized reads as an upstream failure.
func statusForCode(code models.ErrorCode) int {
	switch code {
	case models.ErrorCodeNoIdentity:
		return http.StatusBadRequest
	case models.ErrorCodeAuth:
		return http.StatusUnauthorized
	case models.ErrorCodeNoDataFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
