package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Execution request errors
// 13100-13199: Sandbox & environment errors
// 13200-13299: Session lifecycle errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Execution Request Errors (13000-13099) ==========

	SessionNotFound      ErrorCode = 13000
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	TooManyTestCases     ErrorCode = 13004
	LimitOutOfRange      ErrorCode = 13005

	// ========== Sandbox & Environment Errors (13100-13199) ==========

	ExecutionSystemError          ErrorCode = 13101
	CompilationError              ErrorCode = 13102
	EnvironmentCreateFailed       ErrorCode = 13110
	EnvironmentIOFailed           ErrorCode = 13111
	ProcessStartFailed            ErrorCode = 13112
	ProcessMonitorFailed          ErrorCode = 13113
	ProcessTerminationUnconfirmed ErrorCode = 13114

	// ========== Session Lifecycle Errors (13200-13299) ==========

	ExecutionCancelled ErrorCode = 13200
	ExecutionQueueFull ErrorCode = 13201
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Execution request
	SessionNotFound:      "Execution session not found",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	TooManyTestCases:     "Too many test cases",
	LimitOutOfRange:      "Resource limit out of range",

	// Sandbox & environment
	ExecutionSystemError:          "Execution system error",
	CompilationError:              "Compilation error",
	EnvironmentCreateFailed:       "Failed to create execution environment",
	EnvironmentIOFailed:           "Execution environment I/O failed",
	ProcessStartFailed:            "Failed to start process",
	ProcessMonitorFailed:          "Failed to monitor process",
	ProcessTerminationUnconfirmed: "Process termination could not be confirmed",

	// Session lifecycle
	ExecutionCancelled: "Execution cancelled",
	ExecutionQueueFull: "Execution queue is full, please try again later",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == SessionNotFound:
		return 404
	case c == TooManyRequests, c == ExecutionQueueFull:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c >= 13000 && c < 13100: // Request errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
