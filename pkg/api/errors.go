package api

import (
	"errors"
	"fmt"
)

// ErrorType is the category of an API error. It decides the HTTP status.
type ErrorType string

const (
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeModelError     ErrorType = "model_error"
)

// Error codes refine the type for clients that branch on the cause.
const (
	CodeInvalidJSON          = "invalid_json"
	CodeBodyTooLarge         = "body_too_large"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodeNotImplemented       = "not_implemented"
	CodeSessionNotFound      = "session_not_found"
	CodeEngineFailed         = "engine_failed"
	CodeSessionEnded         = "session_ended"
)

// APIError is the error object of the Chat Completions error envelope.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	s := string(e.Type)
	if e.Code != "" {
		s += "/" + e.Code
	}
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", s, e.Message, e.Param)
	}
	return s + ": " + e.Message
}

// WithCode sets the error code and returns e.
func (e *APIError) WithCode(code string) *APIError {
	e.Code = code
	return e
}

// ErrorResponse is the top-level error body: {"error": {...}}.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// AsAPIError returns the *APIError in err's chain, or wraps err as a server
// error.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewServerError(err.Error())
}

func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewModelError reports a failure of the engine behind the gateway.
func NewModelError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeModelError,
		Code:    CodeEngineFailed,
		Message: message,
	}
}

// NewSessionEndedError reports a session that ended before answering the
// request, e.g. after a tool call timed out. reason is the abort reason.
func NewSessionEndedError(sessionID, reason string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Code:    CodeSessionEnded,
		Message: fmt.Sprintf("session %s ended (%s)", sessionID, reason),
	}
}
