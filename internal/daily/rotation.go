package daily

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ivoshchikov/movie-quiz/internal/quiz"
)

// DefaultRotationSpec fires at midnight of the reference timezone.
const DefaultRotationSpec = "0 0 * * *"

// Assigner pins a question to a date.
type Assigner interface {
	AssignDailyQuestion(ctx context.Context, date string) (int64, error)
}

// Rotator assigns each day's question when the reference day begins, so the
// first visitor of the day does not pay for the assignment.
type Rotator struct {
	store   Assigner
	loc     *time.Location
	spec    string
	now     func() time.Time
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRotator creates a rotation job. spec is a five-field cron expression
// evaluated in loc.
func NewRotator(store Assigner, loc *time.Location, spec string, logger zerolog.Logger) *Rotator {
	if loc == nil {
		loc = time.UTC
	}
	if spec == "" {
		spec = DefaultRotationSpec
	}
	return &Rotator{
		store:   store,
		loc:     loc,
		spec:    spec,
		now:     time.Now,
		timeout: 10 * time.Second,
		logger:  logger.With().Str("component", "daily_rotator").Logger(),
	}
}

// RunOnce assigns the question for the current reference date.
func (r *Rotator) RunOnce(ctx context.Context) (string, int64, error) {
	date := r.now().In(r.loc).Format(quiz.DateLayout)
	id, err := r.store.AssignDailyQuestion(ctx, date)
	if err != nil {
		return date, 0, fmt.Errorf("assign daily question for %s: %w", date, err)
	}
	return date, id, nil
}

// Run assigns today's question immediately, then on every cron tick until
// ctx is cancelled.
func (r *Rotator) Run(ctx context.Context) error {
	r.assign(ctx)

	c := cron.New(cron.WithLocation(r.loc))
	if _, err := c.AddFunc(r.spec, func() { r.assign(ctx) }); err != nil {
		return fmt.Errorf("schedule daily rotation %q: %w", r.spec, err)
	}
	c.Start()
	r.logger.Info().Str("spec", r.spec).Str("tz", r.loc.String()).Msg("daily rotation scheduled")

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (r *Rotator) assign(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	date, id, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("daily rotation failed")
		return
	}
	r.logger.Info().Str("date", date).Int64("question_id", id).Msg("daily question assigned")
}
