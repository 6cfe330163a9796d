package errors

// Error codes for standardized error responses
const (
	// Authentication errors
	ErrCodeInvalidToken           = "invalid_token"
	ErrCodeTokenExpired           = "token_expired"
	ErrCodeAuthenticationRequired = "authentication_required"

	// Validation errors
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeMissingField   = "missing_field"
	ErrCodeInvalidDate    = "invalid_date"

	// Resource errors
	ErrCodeUnknownDifficulty = "unknown_difficulty"
	ErrCodeNoDailyQuestion   = "no_daily_question"

	// Round errors
	ErrCodeRoundStartFailed = "round_start_failed"
	ErrCodeEvaluationFailed = "evaluation_failed"

	// Daily errors
	ErrCodeSubmitInProgress  = "submit_in_progress"
	ErrCodeSubmitFailed      = "submit_failed"
	ErrCodeSessionNotStarted = "session_not_started"

	// WebSocket errors
	ErrCodeInvalidPayload     = "invalid_payload"
	ErrCodeUnknownMessageType = "unknown_message_type"

	// Server errors
	ErrCodeServiceUnavailable = "service_unavailable"
	ErrCodeUpstreamError      = "upstream_error"

	// Leaderboard errors
	ErrCodeLeaderboardFetchFailed = "leaderboard_fetch_failed"
)
