package types

import "time"

// ErrorDetail is the error body of a failed call
type ErrorDetail struct {
	Timestamp    string `json:"timestamp"`
	Path         string `json:"path"`
	ErrorMessage string `json:"error_message"`
	ErrorCode    int    `json:"error_code"`
	TraceID      string `json:"trace_id,omitempty"`
}

// ErrorResponse is the envelope of a failed call
type ErrorResponse struct {
	StatusCode int         `json:"status_code"`
	IsSuccess  bool        `json:"is_success"`
	Error      ErrorDetail `json:"error,omitempty"`
}

// SuccessResponse is the envelope of a successful call
type SuccessResponse[T any] struct {
	StatusCode int  `json:"status_code"`
	IsSuccess  bool `json:"is_success"`
	Data       T    `json:"data,omitempty"`
}

// ServiceResponse is what platform services such as game history answer with.
// Exactly one of Data or Error is set.
type ServiceResponse[T any] struct {
	StatusCode int         `json:"status_code"`
	IsSuccess  bool        `json:"is_success"`
	Data       T           `json:"data,omitempty"`
	Error      ErrorDetail `json:"error,omitempty"`
}

// NewErrorResponse stamps an error envelope with the current UTC time.
func NewErrorResponse(status int, path string, code int, message, traceID string) ErrorResponse {
	return ErrorResponse{
		StatusCode: status,
		Error: ErrorDetail{
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Path:         path,
			ErrorMessage: message,
			ErrorCode:    code,
			TraceID:      traceID,
		},
	}
}

// NewSuccessResponse wraps data in a success envelope.
func NewSuccessResponse[T any](status int, data T) SuccessResponse[T] {
	return SuccessResponse[T]{StatusCode: status, IsSuccess: true, Data: data}
}
