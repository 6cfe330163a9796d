// Package game runs timed rounds: one question at a time, a countdown per
// question, lives and a mistake budget, and a best score saved at the end.
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/game/timer"
	"github.com/ivoshchikov/movie-quiz/internal/leaderboard"
	"github.com/ivoshchikov/movie-quiz/internal/quiz"
	httperrors "github.com/ivoshchikov/movie-quiz/pkg/http/errors"
	"github.com/ivoshchikov/movie-quiz/pkg/http/ws"
)

// State is the lifecycle position of a round.
type State string

const (
	StateIdle           State = "idle"
	StateLoading        State = "loading"
	StateAwaitingAnswer State = "awaiting_answer"
	StateEvaluating     State = "evaluating"
	StateTerminating    State = "terminating"
	StateEnded          State = "ended"
	StateBroken         State = "broken"
)

// Reasons reported in round_ended and the rounds_ended metric.
const (
	ReasonMistakes    = "mistakes_exhausted"
	ReasonLives       = "lives_exhausted"
	ReasonExhausted   = "no_more_questions"
	ReasonBroken      = "broken"
	ReasonAbandoned   = "abandoned"
	ReasonInvalidated = "restarted"
)

var (
	// ErrAnswerNotAccepted is returned when no question is open for an answer.
	ErrAnswerNotAccepted = errors.New("answer not accepted")
	// ErrStaleQuestion is returned when the answer targets a question that is no longer current.
	ErrStaleQuestion = errors.New("answer is for a previous question")
	// ErrRoundChanged is returned when the round was restarted or closed mid-evaluation.
	ErrRoundChanged = errors.New("round changed during evaluation")
	// ErrInvalidLevel is returned for difficulty levels that cannot drive a round.
	ErrInvalidLevel = errors.New("invalid difficulty level")
)

// Sink receives round events. Emit must not block.
type Sink interface {
	Emit(eventType string, payload interface{})
}

// Snapshot is a point-in-time view of a round.
type Snapshot struct {
	RoundID      uuid.UUID      `json:"round_id"`
	State        State          `json:"state"`
	CategoryID   int64          `json:"category_id"`
	DifficultyID int64          `json:"difficulty_id"`
	Score        int            `json:"score"`
	Lives        int            `json:"lives"`
	MistakesLeft int            `json:"mistakes_left"`
	Answered     bool           `json:"answered"`
	Seq          int            `json:"seq"`
	SecondsLeft  int            `json:"seconds_left"`
	Question     *quiz.Question `json:"question,omitempty"`
	Shown        int            `json:"shown"`
}

// Round is one player's game. A Round is reusable: Start abandons whatever
// was running and begins again.
type Round struct {
	m      *Manager
	sink   Sink
	timer  *timer.Timer
	logger zerolog.Logger

	mu           sync.Mutex
	epoch        uint64
	id           uuid.UUID
	state        State
	active       bool
	player       uuid.UUID
	categoryID   int64
	difficultyID int64
	level        quiz.DifficultyLevel
	score        int
	lives        int
	mistakesLeft int
	shown        []int64
	seen         map[int64]struct{}
	current      *quiz.Question
	seq          int
	answered     bool
	startedAt    time.Time
	advance      *time.Timer
	ctx          context.Context
	cancel       context.CancelFunc
}

func newRound(m *Manager, sink Sink) *Round {
	return &Round{
		m:      m,
		sink:   sink,
		timer:  timer.New(m.opts.TickInterval),
		logger: m.logger,
		state:  StateIdle,
	}
}

// Start begins a new round for player (uuid.Nil for anonymous play, which is
// never persisted). Any previous round on this Round is abandoned first.
// ctx supplies values only; the round outlives it until Close or the next Start.
func (r *Round) Start(ctx context.Context, player uuid.UUID, categoryID, difficultyID int64) error {
	r.mu.Lock()
	r.resetLocked(ReasonInvalidated)
	r.epoch++
	epoch := r.epoch
	r.id = uuid.New()
	r.state = StateLoading
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	roundCtx := r.ctx
	r.mu.Unlock()

	level, err := r.m.levels.DifficultyLevel(roundCtx, difficultyID)
	if err == nil && (level.TimeLimitSecs <= 0 || level.Lives <= 0) {
		err = fmt.Errorf("%w: %d", ErrInvalidLevel, difficultyID)
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return ErrRoundChanged
	}
	if err != nil {
		r.state = StateIdle
		r.cancel()
		r.mu.Unlock()
		return fmt.Errorf("load difficulty %d: %w", difficultyID, err)
	}

	r.player = player
	r.categoryID = categoryID
	r.difficultyID = difficultyID
	r.level = level
	r.score = 0
	r.lives = level.Lives
	r.mistakesLeft = level.MistakesAllowed
	r.shown = nil
	r.seen = make(map[int64]struct{})
	r.current = nil
	r.seq = 0
	r.answered = false
	r.startedAt = r.m.opts.Now()
	r.active = true
	r.m.metrics.RoundStarted()

	r.logger.Info().
		Str("round_id", r.id.String()).
		Str("player_id", player.String()).
		Int64("category_id", categoryID).
		Int64("difficulty_id", difficultyID).
		Msg("round started")

	r.sink.Emit(ws.TypeRoundState, r.statePayloadLocked())
	r.mu.Unlock()

	r.loadNext(epoch, 0)
	return nil
}

// Submit answers the current question. questionID of zero skips the
// staleness check. An evaluation failure re-opens the question and is
// returned to the caller after answer_error has been emitted.
func (r *Round) Submit(ctx context.Context, questionID int64, choice string) error {
	r.mu.Lock()
	if r.current == nil || r.answered || r.state != StateAwaitingAnswer {
		r.mu.Unlock()
		return ErrAnswerNotAccepted
	}
	if questionID != 0 && questionID != r.current.ID {
		r.mu.Unlock()
		return ErrStaleQuestion
	}
	r.answered = true
	r.state = StateEvaluating
	r.timer.Stop()
	remaining := r.timer.Remaining()
	epoch, seq, qid := r.epoch, r.seq, r.current.ID
	r.mu.Unlock()

	res, err := r.m.evaluator.Check(ctx, qid, choice)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch || r.seq != seq || r.state != StateEvaluating {
		return ErrRoundChanged
	}

	if err != nil {
		r.m.metrics.EvaluationFailed()
		r.logger.Warn().Err(err).Int64("question_id", qid).Msg("answer evaluation failed, question re-opened")
		r.answered = false
		r.state = StateAwaitingAnswer
		r.sink.Emit(ws.TypeAnswerError, ws.AnswerErrorPayload{
			RoundID:    r.id.String(),
			Seq:        seq,
			QuestionID: qid,
			Code:       httperrors.ErrCodeEvaluationFailed,
			Message:    "Could not check the answer, try again",
		})
		r.startTimerLocked(remaining)
		return fmt.Errorf("evaluate answer: %w", err)
	}

	result := ws.AnswerResultPayload{
		RoundID:       r.id.String(),
		Seq:           seq,
		QuestionID:    qid,
		Answer:        choice,
		Correct:       res.Correct,
		CorrectAnswer: res.CorrectAnswer,
	}
	if res.Correct {
		r.m.metrics.Answer("correct")
		r.score++
		r.emitResultLocked(result)
		r.scheduleAdvanceLocked()
		return nil
	}
	r.m.metrics.Answer("wrong")
	r.penalizeLocked(result)
	return nil
}

// Close abandons the round without saving anything.
func (r *Round) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(ReasonAbandoned)
	r.epoch++
	if r.state != StateIdle && r.state != StateBroken {
		r.state = StateEnded
	}
}

// Snapshot returns the current state of the round.
func (r *Round) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		RoundID:      r.id,
		State:        r.state,
		CategoryID:   r.categoryID,
		DifficultyID: r.difficultyID,
		Score:        r.score,
		Lives:        r.lives,
		MistakesLeft: r.mistakesLeft,
		Answered:     r.answered,
		Seq:          r.seq,
		Shown:        len(r.shown),
	}
	if r.current != nil {
		q := r.current.Public()
		s.Question = &q
		s.SecondsLeft = r.timer.Remaining()
	}
	return s
}

// loadNext fetches the next question outside the lock and presents it if
// the round has not moved on meanwhile.
func (r *Round) loadNext(epoch uint64, afterSeq int) {
	r.mu.Lock()
	if r.epoch != epoch || r.seq != afterSeq {
		r.mu.Unlock()
		return
	}
	r.advance = nil
	r.state = StateLoading
	ctx := r.ctx
	categoryID, difficultyID := r.categoryID, r.difficultyID
	exclude := append([]int64(nil), r.shown...)
	r.mu.Unlock()

	q, err := r.m.store.FetchQuestion(ctx, categoryID, difficultyID, exclude)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch || r.seq != afterSeq || r.state != StateLoading {
		return
	}
	switch {
	case errors.Is(err, quiz.ErrNoMoreQuestions):
		r.endLocked(ReasonExhausted)
		return
	case err != nil:
		r.breakLocked(fmt.Errorf("fetch question: %w", err))
		return
	}
	if _, dup := r.seen[q.ID]; dup {
		r.breakLocked(fmt.Errorf("fetch question: question %d was already shown", q.ID))
		return
	}

	r.seq++
	r.current = &q
	r.seen[q.ID] = struct{}{}
	r.shown = append(r.shown, q.ID)
	r.answered = false
	r.state = StateAwaitingAnswer
	r.sink.Emit(ws.TypeQuestion, ws.QuestionPayload{
		RoundID:       r.id.String(),
		Seq:           r.seq,
		QuestionID:    q.ID,
		ImageURL:      q.ImageURL,
		Options:       append([]string(nil), q.Options...),
		TimeLimitSecs: r.level.TimeLimitSecs,
	})
	r.startTimerLocked(r.level.TimeLimitSecs)
}

func (r *Round) startTimerLocked(seconds int) {
	epoch, seq, id := r.epoch, r.seq, r.id.String()
	r.timer.Start(seconds,
		func(left int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.epoch != epoch || r.seq != seq || r.answered {
				return
			}
			r.sink.Emit(ws.TypeTick, ws.TickPayload{RoundID: id, Seq: seq, RemainingSeconds: left})
		},
		func() { r.expire(epoch, seq) },
	)
}

// expire treats a timed-out question as a wrong answer.
func (r *Round) expire(epoch uint64, seq int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch || r.seq != seq || r.answered || r.state != StateAwaitingAnswer {
		return
	}
	r.answered = true
	r.state = StateEvaluating
	r.m.metrics.Answer("timeout")
	r.penalizeLocked(ws.AnswerResultPayload{
		RoundID:    r.id.String(),
		Seq:        seq,
		QuestionID: r.current.ID,
		TimedOut:   true,
	})
}

// penalizeLocked applies a wrong or expired answer. With mistakes left it
// costs one mistake and one life; otherwise the round ends.
func (r *Round) penalizeLocked(result ws.AnswerResultPayload) {
	if r.mistakesLeft <= 0 || r.lives <= 0 {
		r.emitResultLocked(result)
		r.endLocked(ReasonMistakes)
		return
	}
	r.mistakesLeft--
	r.lives--
	r.emitResultLocked(result)
	if r.lives == 0 {
		r.endLocked(ReasonLives)
		return
	}
	r.scheduleAdvanceLocked()
}

func (r *Round) emitResultLocked(result ws.AnswerResultPayload) {
	result.Score = r.score
	result.Lives = r.lives
	result.MistakesLeft = r.mistakesLeft
	r.sink.Emit(ws.TypeAnswerResult, result)
}

func (r *Round) scheduleAdvanceLocked() {
	epoch, seq := r.epoch, r.seq
	r.advance = time.AfterFunc(r.m.opts.AdvanceDelay, func() { r.loadNext(epoch, seq) })
}

// endLocked moves to terminating and saves the result in the background;
// round_ended follows once persistence has been attempted.
func (r *Round) endLocked(reason string) {
	r.stopLocked()
	r.state = StateTerminating
	r.deactivateLocked(reason)

	elapsed := int(r.m.opts.Now().Sub(r.startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	summary := ws.RoundEndedPayload{
		RoundID:        r.id.String(),
		Score:          r.score,
		ElapsedSeconds: elapsed,
		Reason:         reason,
	}
	req := leaderboard.RecordRequest{
		UserID:       r.player,
		CategoryID:   r.categoryID,
		DifficultyID: r.difficultyID,
		Score:        r.score,
		ElapsedSecs:  elapsed,
	}
	r.logger.Info().
		Str("round_id", summary.RoundID).
		Int("score", summary.Score).
		Int("elapsed_seconds", elapsed).
		Str("reason", reason).
		Msg("round ended")

	go r.finish(r.ctx, r.epoch, req, summary)
}

func (r *Round) finish(roundCtx context.Context, epoch uint64, req leaderboard.RecordRequest, summary ws.RoundEndedPayload) {
	if req.UserID != uuid.Nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(roundCtx), r.m.opts.PersistTimeout)
		defer cancel()

		err := r.m.store.UpsertBestScore(ctx, req.UserID, req.CategoryID, req.DifficultyID, req.Score, req.ElapsedSecs)
		if err != nil {
			r.logger.Error().Err(err).Str("round_id", summary.RoundID).Msg("failed to save best score")
		} else {
			summary.Saved = true
			if r.m.recorder != nil {
				if err := r.m.recorder.RecordResult(ctx, req); err != nil {
					r.logger.Warn().Err(err).Str("round_id", summary.RoundID).Msg("leaderboard update failed")
				}
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch == epoch && r.state == StateTerminating {
		r.state = StateEnded
	}
	r.sink.Emit(ws.TypeRoundEnded, summary)
}

// breakLocked stops the round without saving anything.
func (r *Round) breakLocked(err error) {
	r.stopLocked()
	r.state = StateBroken
	r.deactivateLocked(ReasonBroken)
	r.logger.Error().Err(err).Str("round_id", r.id.String()).Msg("round broken")
	r.sink.Emit(ws.TypeRoundBroken, ws.RoundBrokenPayload{
		RoundID: r.id.String(),
		Code:    httperrors.ErrCodeServiceUnavailable,
		Message: "Could not load the next question",
	})
}

// resetLocked cancels pending work of the previous round.
func (r *Round) resetLocked(reason string) {
	r.stopLocked()
	r.deactivateLocked(reason)
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Round) stopLocked() {
	r.timer.Stop()
	if r.advance != nil {
		r.advance.Stop()
		r.advance = nil
	}
}

func (r *Round) deactivateLocked(reason string) {
	if !r.active {
		return
	}
	r.active = false
	r.m.metrics.RoundEnded(reason)
}

func (r *Round) statePayloadLocked() ws.RoundStatePayload {
	return ws.RoundStatePayload{
		RoundID:       r.id.String(),
		State:         string(r.state),
		CategoryID:    r.categoryID,
		DifficultyID:  r.difficultyID,
		Score:         r.score,
		Lives:         r.lives,
		MistakesLeft:  r.mistakesLeft,
		TimeLimitSecs: r.level.TimeLimitSecs,
	}
}

// State returns the lifecycle state.
func (r *Round) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
