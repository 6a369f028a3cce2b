package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth errors
// 12000-12999: Problem store errors
// 13000-13999: Execution & Judge errors
// 14000-14999: Progress errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError  ErrorCode = 10100
	RecordNotFound ErrorCode = 10101

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Auth Errors (11000-11999) ==========
	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Problem Store Errors (12000-12999) ==========
	ProblemNotFound  ErrorCode = 12000
	TestCaseNotFound ErrorCode = 12100
	TestCaseInvalid  ErrorCode = 12102
	DataPackError    ErrorCode = 12104

	// ========== Execution & Judge Errors (13000-13999) ==========

	// Execution request (13000-13099)
	LanguageNotSupported ErrorCode = 13003
	CodeTooLarge         ErrorCode = 13002
	InputTooLarge        ErrorCode = 13006
	WorkspaceError       ErrorCode = 13007

	// Judge (13100-13199)
	JudgeQueueFull        ErrorCode = 13100
	JudgeSystemError      ErrorCode = 13101
	CompilationError      ErrorCode = 13102
	RuntimeError          ErrorCode = 13103
	TimeLimitExceeded     ErrorCode = 13104
	MemoryLimitExceeded   ErrorCode = 13105
	OutputLimitExceeded   ErrorCode = 13106
	ExecutionStopped      ErrorCode = 13107
	TransportDisconnected ErrorCode = 13108

	// ========== Progress Errors (14000-14999) ==========
	InvalidProgressTransition ErrorCode = 14000
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:  "Database operation failed",
	RecordNotFound: "Record not found in database",

	// Cache
	CacheError: "Cache operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Auth
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Problem
	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case format",
	DataPackError:    "Failed to load test data",

	// Execution
	LanguageNotSupported: "Programming language not supported",
	CodeTooLarge:         "Code is too large",
	InputTooLarge:        "Input is too large",
	WorkspaceError:       "Failed to prepare execution workspace",

	// Judge
	JudgeQueueFull:        "Judge queue is full, please try again later",
	JudgeSystemError:      "Judge system error",
	CompilationError:      "Compilation error",
	RuntimeError:          "Runtime error",
	TimeLimitExceeded:     "Time limit exceeded",
	MemoryLimitExceeded:   "Memory limit exceeded",
	OutputLimitExceeded:   "Output limit exceeded",
	ExecutionStopped:      "Execution stopped",
	TransportDisconnected: "Client disconnected",

	// Progress
	InvalidProgressTransition: "Invalid progress transition",
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
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == ProblemNotFound, c == TestCaseNotFound, c == RecordNotFound:
		return 404
	case c == InvalidProgressTransition:
		return 409
	case c == TooManyRequests, c == JudgeQueueFull:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == CodeTooLarge, c == InputTooLarge:
		return 400
	default:
		return 500
	}
}
