// Package seed loads reference data (categories, difficulty levels and
// questions) from a YAML file into the store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ivoshchikov/movie-quiz/internal/quiz"
)

// Writer is the seed-write slice of the data store.
type Writer interface {
	UpsertCategory(ctx context.Context, c quiz.Category) (quiz.Category, error)
	UpsertDifficultyLevel(ctx context.Context, l quiz.DifficultyLevel) (quiz.DifficultyLevel, error)
	UpsertQuestion(ctx context.Context, q quiz.Question) (quiz.Question, error)
}

// File mirrors the seed YAML document.
type File struct {
	Categories []string `yaml:"categories"`
	Levels     []Level  `yaml:"difficulty_levels"`
	Questions  []Item   `yaml:"questions"`
}

type Level struct {
	Key             string `yaml:"key"`
	Name            string `yaml:"name"`
	TimeLimitSecs   int    `yaml:"time_limit_secs"`
	Lives           int    `yaml:"lives"`
	MistakesAllowed int    `yaml:"mistakes_allowed"`
	SortOrder       int    `yaml:"sort_order"`
}

// Item references its category by name and its level by key.
type Item struct {
	ImageURL      string   `yaml:"image_url"`
	Options       []string `yaml:"options"`
	CorrectAnswer string   `yaml:"correct_answer"`
	Category      string   `yaml:"category"`
	Difficulty    string   `yaml:"difficulty"`
}

// Summary counts rows written by Apply.
type Summary struct {
	Categories int
	Levels     int
	Questions  int
}

// Decode parses and validates a seed document.
func Decode(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, errors.New("seed file is empty")
		}
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks references and question shape before anything is written.
func (f File) Validate() error {
	cats := make(map[string]struct{}, len(f.Categories))
	for _, c := range f.Categories {
		if strings.TrimSpace(c) == "" {
			return errors.New("category name must not be empty")
		}
		cats[c] = struct{}{}
	}
	levels := make(map[string]struct{}, len(f.Levels))
	for _, l := range f.Levels {
		if l.Key == "" {
			return errors.New("difficulty level key must not be empty")
		}
		if l.TimeLimitSecs <= 0 {
			return fmt.Errorf("difficulty level %q: time_limit_secs must be positive", l.Key)
		}
		if l.Lives < 0 || l.MistakesAllowed < 0 {
			return fmt.Errorf("difficulty level %q: lives and mistakes_allowed must not be negative", l.Key)
		}
		levels[l.Key] = struct{}{}
	}
	for i, q := range f.Questions {
		if q.ImageURL == "" {
			return fmt.Errorf("question %d: image_url is required", i)
		}
		if _, ok := cats[q.Category]; !ok {
			return fmt.Errorf("question %d: unknown category %q", i, q.Category)
		}
		if _, ok := levels[q.Difficulty]; !ok {
			return fmt.Errorf("question %d: unknown difficulty %q", i, q.Difficulty)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("question %d: at least two options are required", i)
		}
		if !containsOption(q.Options, q.CorrectAnswer) {
			return fmt.Errorf("question %d: correct_answer %q is not among the options", i, q.CorrectAnswer)
		}
	}
	return nil
}

func containsOption(options []string, answer string) bool {
	for _, o := range options {
		if o == answer {
			return true
		}
	}
	return false
}

// Apply upserts the document. Re-running it with the same file is a no-op.
func Apply(ctx context.Context, w Writer, f File, logger zerolog.Logger) (Summary, error) {
	var sum Summary
	catIDs := make(map[string]int64, len(f.Categories))
	for _, name := range f.Categories {
		c, err := w.UpsertCategory(ctx, quiz.Category{Name: name})
		if err != nil {
			return sum, err
		}
		catIDs[name] = c.ID
		sum.Categories++
	}

	levelIDs := make(map[string]int64, len(f.Levels))
	for _, l := range f.Levels {
		saved, err := w.UpsertDifficultyLevel(ctx, quiz.DifficultyLevel{
			Key:             l.Key,
			Name:            l.Name,
			TimeLimitSecs:   l.TimeLimitSecs,
			Lives:           l.Lives,
			MistakesAllowed: l.MistakesAllowed,
			SortOrder:       l.SortOrder,
		})
		if err != nil {
			return sum, err
		}
		levelIDs[l.Key] = saved.ID
		sum.Levels++
	}

	for _, q := range f.Questions {
		_, err := w.UpsertQuestion(ctx, quiz.Question{
			ImageURL:          q.ImageURL,
			Options:           q.Options,
			CorrectAnswer:     q.CorrectAnswer,
			CategoryID:        catIDs[q.Category],
			DifficultyLevelID: levelIDs[q.Difficulty],
		})
		if err != nil {
			return sum, err
		}
		sum.Questions++
	}

	logger.Info().
		Int("categories", sum.Categories).
		Int("difficulty_levels", sum.Levels).
		Int("questions", sum.Questions).
		Msg("seed applied")
	return sum, nil
}
