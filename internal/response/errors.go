package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Exam / attempt ────────────────────────────────────────────────
	ErrExamNotAvailable  ErrCode = "EXAM_NOT_AVAILABLE"
	ErrInvalidEntryToken ErrCode = "INVALID_ENTRY_TOKEN"
	ErrExamNotOpen       ErrCode = "EXAM_NOT_OPEN"
	ErrAttemptClosed     ErrCode = "ATTEMPT_CLOSED"
	ErrAlreadySubmitted  ErrCode = "ALREADY_SUBMITTED"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrSubmitFailed      ErrCode = "SUBMIT_FAILED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Username or password is incorrect."
	case ErrSessionActive:
		return "You are already logged in on another device."
	case ErrSessionInvalidated:
		return "Your session has ended. Please log in again."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "The ID format is invalid."
	case ErrInvalidPayload:
		return "The request payload is invalid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "The resource was not found."
	case ErrConflict:
		return "The resource already exists."

	// ─── Exam / attempt ────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "This exam is not currently available."
	case ErrInvalidEntryToken:
		return "The exam entry token is invalid."
	case ErrExamNotOpen:
		return "This exam is outside its scheduled window."
	case ErrAttemptClosed:
		return "This attempt is no longer active."
	case ErrAlreadySubmitted:
		return "This attempt has already been submitted."
	case ErrUnknownQuestion:
		return "The question does not belong to this exam."
	case ErrSubmitFailed:
		return "Could not submit the attempt. Please retry."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
