// Package models defines the API response envelope shared by HTTP handlers.
package models

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	// APIStatusOK indicates a successful request.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed request.
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope returned by every HTTP endpoint.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and
// optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// ErrorWithCode creates an error API response carrying a synchronizer error code.
func ErrorWithCode(message string, code ErrorCode) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message, Code: string(code)}
}
