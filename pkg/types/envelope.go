package types

// Stable error codes surfaced to both channels. Grouped by the failure class
// they report so callers can decide between retry and re-authentication.
const (
	CodeSessionExpired = "SESSION_EXPIRED"
	CodeValidation     = "VALIDATION_ERROR"
	CodeTransition     = "TRANSITION_ERROR"
	CodeCapacity       = "CAPACITY_EXCEEDED"
	CodeUpstream       = "UPSTREAM_ERROR"
	CodeAuthRequired   = "AUTH_REQUIRED"
	CodeAuthExpired    = "AUTH_EXPIRED"
	CodeBadRequest     = "BAD_REQUEST"
	CodeInternal       = "INTERNAL_ERROR"
)

// Envelope is the JSON response shape for machine clients.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data"`
	Error   *ErrorBody `json:"error"`
}

// ErrorBody names the failure precisely enough for the caller to retry the
// same step. Field is set for validation errors only.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func Success(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

func Failure(code string, message string, field string) Envelope {
	return Envelope{Error: &ErrorBody{Code: code, Message: message, Field: field}}
}
