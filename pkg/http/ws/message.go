package ws

import "encoding/json"

// MessageType constants for WebSocket protocol.
const (
	// Client -> Server
	TypeStartRound   = "start_round"
	TypeSubmitAnswer = "submit_answer"
	TypeLeaveRound   = "leave_round"
	TypePing         = "ping"

	// Server -> Client
	TypeRoundState        = "round_state"
	TypeQuestion          = "question"
	TypeTick              = "tick"
	TypeAnswerResult      = "answer_result"
	TypeAnswerError       = "answer_error"
	TypeRoundEnded        = "round_ended"
	TypeRoundBroken       = "round_broken"
	TypeLeaderboardUpdate = "leaderboard_update"
	TypeError             = "error"
	TypePong              = "pong"
)

// Message wraps all WebSocket payloads with type and optional request ID.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewMessage marshals payload into a typed message.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	msg := Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = raw
	return msg, nil
}

// Client Messages (incoming)

type StartRoundPayload struct {
	CategoryID   int64 `json:"category_id"`
	DifficultyID int64 `json:"difficulty_id"`
}

type SubmitAnswerPayload struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
}

type LeaveRoundPayload struct {
	Reason string `json:"reason,omitempty"`
}

// Server Messages (outgoing)

type RoundStatePayload struct {
	RoundID       string `json:"round_id"`
	State         string `json:"state"`
	CategoryID    int64  `json:"category_id"`
	DifficultyID  int64  `json:"difficulty_id"`
	Score         int    `json:"score"`
	Lives         int    `json:"lives"`
	MistakesLeft  int    `json:"mistakes_left"`
	TimeLimitSecs int    `json:"time_limit_secs"`
}

type QuestionPayload struct {
	RoundID       string   `json:"round_id"`
	Seq           int      `json:"seq"`
	QuestionID    int64    `json:"question_id"`
	ImageURL      string   `json:"image_url"`
	Options       []string `json:"options"`
	TimeLimitSecs int      `json:"time_limit_secs"`
}

type TickPayload struct {
	RoundID          string `json:"round_id"`
	Seq              int    `json:"seq"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

type AnswerResultPayload struct {
	RoundID       string `json:"round_id"`
	Seq           int    `json:"seq"`
	QuestionID    int64  `json:"question_id"`
	Answer        string `json:"answer,omitempty"`
	Correct       bool   `json:"correct"`
	TimedOut      bool   `json:"timed_out"`
	CorrectAnswer string `json:"correct_answer,omitempty"`
	Score         int    `json:"score"`
	Lives         int    `json:"lives"`
	MistakesLeft  int    `json:"mistakes_left"`
}

type AnswerErrorPayload struct {
	RoundID    string `json:"round_id"`
	Seq        int    `json:"seq"`
	QuestionID int64  `json:"question_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type RoundEndedPayload struct {
	RoundID        string `json:"round_id"`
	Score          int    `json:"score"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Reason         string `json:"reason"`
	Saved          bool   `json:"saved"`
}

type RoundBrokenPayload struct {
	RoundID string `json:"round_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type LeaderboardUpdatePayload struct {
	CategoryID   int64              `json:"category_id"`
	DifficultyID int64              `json:"difficulty_id"`
	Top          []LeaderboardEntry `json:"top"`
}

type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	UserID    string `json:"user_id"`
	BestScore int    `json:"best_score"`
	BestTime  int    `json:"best_time"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
