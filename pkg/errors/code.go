package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Authentication errors
// 12000-12999: Problem & execution lifecycle errors
// 13000-13999: Result errors
// 14000-14999: Credit & settlement errors
// 15000-15999: User state errors
// 16000-16999: Permission errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Messaging errors (10400-10499)
	PublishFailed    ErrorCode = 10400
	CompensateFailed ErrorCode = 10401
	MalformedMessage ErrorCode = 10402
	StorageError     ErrorCode = 10500

	// ========== Authentication Errors (11000-11099) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Problem Errors (12000-12999) ==========

	// Problem basic (12000-12099)
	ProblemNotFound     ErrorCode = 12000
	ProblemAccessDenied ErrorCode = 12001
	ProblemCreateFailed ErrorCode = 12002
	ProblemUpdateFailed ErrorCode = 12003
	ProblemDeleteFailed ErrorCode = 12004
	ProblemNameTaken    ErrorCode = 12005
	ModelNotFound       ErrorCode = 12006

	// Input data (12100-12199)
	InputDataNotFound ErrorCode = 12100
	InputDataLocked   ErrorCode = 12101

	// Lifecycle (12200-12299)
	IllegalTransition  ErrorCode = 12200
	ProblemNotReady    ErrorCode = 12201
	ProblemNotExecuted ErrorCode = 12202
	ProblemRunFailed   ErrorCode = 12203

	// ========== Result Errors (13000-13999) ==========

	ResultNotFound ErrorCode = 13000

	// ========== Credit & Settlement Errors (14000-14999) ==========

	InsufficientCredits ErrorCode = 14000
	ChargeFailed        ErrorCode = 14001
	CreditUpdateFailed  ErrorCode = 14002
	InvalidAmount       ErrorCode = 14003

	// ========== User State Errors (15000-15999) ==========

	UserNotFound ErrorCode = 15000
	UserBlocked  ErrorCode = 15001
	BlockFailed  ErrorCode = 15002

	// ========== Permission Errors (16000-16999) ==========

	PermissionDenied ErrorCode = 16000
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
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	CacheError: "Cache operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Messaging
	PublishFailed:    "Failed to publish message",
	CompensateFailed: "Failed to revert local change after publish failure",
	MalformedMessage: "Malformed message",
	StorageError:     "Object storage operation failed",

	// Auth
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Problem
	ProblemNotFound:     "Problem not found",
	ProblemAccessDenied: "Access to this problem is denied",
	ProblemCreateFailed: "Failed to create problem",
	ProblemUpdateFailed: "Failed to update problem",
	ProblemDeleteFailed: "Failed to delete problem",
	ProblemNameTaken:    "A problem with this name already exists",
	ModelNotFound:       "Model not found",

	InputDataNotFound: "Input data not found",
	InputDataLocked:   "Input data cannot change while the problem is executing",

	IllegalTransition:  "Illegal problem status transition",
	ProblemNotReady:    "Problem is not ready to run",
	ProblemNotExecuted: "Problem has not been executed",
	ProblemRunFailed:   "Failed to send problem to solver",

	ResultNotFound: "Result not found",

	// Credits
	InsufficientCredits: "Insufficient credits",
	ChargeFailed:        "Failed to charge credits",
	CreditUpdateFailed:  "Failed to update credits",
	InvalidAmount:       "Invalid credit amount",

	// User
	UserNotFound: "User not found",
	UserBlocked:  "User is blocked until pending results are paid",
	BlockFailed:  "Failed to update user block state",

	PermissionDenied: "Permission denied",
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
	case c >= 11000 && c < 11100: // Authentication errors
		return 401
	case c == Unauthorized, c == ProblemAccessDenied, c == UserBlocked:
		return 401
	case c == Forbidden, c == InsufficientCredits, c >= 16000 && c < 16100:
		return 403
	case c == NotFound, c == RecordNotFound, c == ProblemNotFound, c == ModelNotFound,
		c == InputDataNotFound, c == ResultNotFound, c == UserNotFound:
		return 404
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == ProblemNameTaken, c == InputDataLocked,
		c == ProblemNotReady, c == ProblemNotExecuted, c == IllegalTransition, c == InvalidAmount:
		return 400
	default:
		return 500
	}
}

// Kind groups codes by how a caller should treat the failure.
type Kind string

const (
	KindNone          Kind = "none"
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	// KindCompensable means the local write was reverted after a publish failed.
	KindCompensable Kind = "compensable"
	KindInternal    Kind = "internal"
)

// Kind classifies the code. PublishFailed is compensable; CompensateFailed is
// internal because the revert itself did not land.
func (c ErrorCode) Kind() Kind {
	if c == PublishFailed {
		return KindCompensable
	}
	switch c.HTTPStatus() {
	case 200:
		return KindNone
	case 400:
		return KindValidation
	case 401, 403:
		return KindAuthorization
	case 404:
		return KindNotFound
	default:
		return KindInternal
	}
}
