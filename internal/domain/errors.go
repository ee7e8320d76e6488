package domain

import "fmt"

// Error codes for the normalized request error shape. Every failure that
// leaves the transport boundary carries exactly one of these.
const (
	ErrCodeOffline      = "OFFLINE"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeNetwork      = "NETWORK_ERROR"
	ErrCodeCancelled    = "CANCELLED"
	ErrCodeStream       = "STREAM_ERROR"
	ErrCodeQuota        = "QUOTA_EXCEEDED"
	ErrCodeUnknown      = "UNKNOWN_ERROR"
	ErrCodeCircuitOpen  = "CIRCUIT_OPEN"
	ErrCodeUnauthorized = "HTTP_401"
)

// HTTPErrCode builds the code for a non-2xx status, e.g. HTTP_503.
func HTTPErrCode(status int) string {
	return fmt.Sprintf("HTTP_%d", status)
}

// RequestError is the single error shape exposed to callers. Message is the
// technical detail for logs; UserMessage is safe to display. Immutable once
// attached to a RequestState.
type RequestError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	UserMessage       string `json:"user_message"`
	Retryable         bool   `json:"retryable"`
	RetryAfterSeconds int    `json:"retry_after,omitempty"`
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Severity buckets drive how the UI surfaces an error: quota errors get an
// inline banner, network errors a toast, severe errors a blocking dialog.
type Severity string

const (
	SeverityQuota   Severity = "quota"
	SeverityNetwork Severity = "network"
	SeveritySevere  Severity = "severe"
)

// ClassifySeverity maps an error code to its display severity. This is the
// only place that mapping lives; call sites must not special-case codes.
func ClassifySeverity(code string) Severity {
	switch code {
	case ErrCodeQuota, ErrCodeRateLimited:
		return SeverityQuota
	case ErrCodeOffline, ErrCodeNetwork, ErrCodeTimeout:
		return SeverityNetwork
	default:
		return SeveritySevere
	}
}

// UserMessageFor returns the default display string for an error code.
func UserMessageFor(code string) string {
	switch code {
	case ErrCodeOffline:
		return "You appear to be offline. Check your connection and try again."
	case ErrCodeRateLimited:
		return "You're sending requests too quickly. Please wait a moment."
	case ErrCodeTimeout:
		return "The assistant took too long to respond. Please try again."
	case ErrCodeNetwork:
		return "We couldn't reach the assistant. Please try again."
	case ErrCodeCancelled:
		return "Request cancelled."
	case ErrCodeStream:
		return "The response was interrupted. Please try again."
	case ErrCodeQuota:
		return "You've reached your usage limit for now."
	case ErrCodeUnauthorized:
		return "Your session has expired. Please sign in again."
	default:
		return "Something went wrong. Please try again."
	}
}

// NewRequestError builds a RequestError with the default user message.
func NewRequestError(code, message string, retryable bool) *RequestError {
	return &RequestError{
		Code:        code,
		Message:     message,
		UserMessage: UserMessageFor(code),
		Retryable:   retryable,
	}
}

// ErrFeatureDisabled indicates a feature is switched off for the caller.
type ErrFeatureDisabled struct {
	Feature string
	Reason  string
}

func (e *ErrFeatureDisabled) Error() string {
	return fmt.Sprintf("feature %s unavailable: %s", e.Feature, e.Reason)
}

// ErrRequestNotFound indicates an unknown request id.
type ErrRequestNotFound struct {
	ID string
}

func (e *ErrRequestNotFound) Error() string {
	return fmt.Sprintf("request not found: %s", e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrForbidden indicates the user lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrPhaseTransition indicates a refused rollout phase change.
type ErrPhaseTransition struct {
	From   string
	Reason string
}

func (e *ErrPhaseTransition) Error() string {
	return fmt.Sprintf("phase transition from %s refused: %s", e.From, e.Reason)
}
