// Package evaluator checks a player's choice against the stored answer.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrUnavailable means the authoritative answer could not be read.
var ErrUnavailable = errors.New("answer evaluation unavailable")

// Store is the slice of the data store the evaluator needs.
type Store interface {
	CorrectAnswer(ctx context.Context, questionID int64) (string, error)
	TouchQuestionStats(ctx context.Context, questionID int64, correct bool) error
}

// Result of a single check. CorrectAnswer is revealed to the player after the fact.
type Result struct {
	Correct       bool   `json:"correct"`
	CorrectAnswer string `json:"correct_answer"`
}

type Evaluator struct {
	store  Store
	logger zerolog.Logger
}

func New(store Store, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// Check re-reads the correct answer on every call and compares it with the
// choice after trimming surrounding whitespace. Comparison is case-sensitive.
func (e *Evaluator) Check(ctx context.Context, questionID int64, choice string) (Result, error) {
	answer, err := e.store.CorrectAnswer(ctx, questionID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: question %d: %w", ErrUnavailable, questionID, err)
	}

	res := Result{
		Correct:       Matches(answer, choice),
		CorrectAnswer: answer,
	}

	if err := e.store.TouchQuestionStats(ctx, questionID, res.Correct); err != nil {
		e.logger.Warn().Err(err).Int64("question_id", questionID).Msg("question stats update failed")
	}
	return res, nil
}

// Matches reports whether choice equals answer once both are trimmed.
func Matches(answer, choice string) bool {
	return strings.TrimSpace(answer) == strings.TrimSpace(choice)
}
