package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivoshchikov/movie-quiz/internal/store/memory"
)

const sample = `
categories:
  - Classics
  - Animation
difficulty_levels:
  - key: easy
    name: Easy
    time_limit_secs: 20
    lives: 3
    mistakes_allowed: 2
    sort_order: 1
questions:
  - image_url: https://img.example/heat.jpg
    options: [Heat, Ronin, Collateral, Thief]
    correct_answer: Heat
    category: Classics
    difficulty: easy
  - image_url: https://img.example/up.jpg
    options: [Up, Cars]
    correct_answer: Up
    category: Animation
    difficulty: easy
`

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)

	store := memory.New(memory.Options{})
	for i := 0; i < 2; i++ {
		sum, err := Apply(ctx, store, f, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, Summary{Categories: 2, Levels: 1, Questions: 2}, sum)
	}

	cats, err := store.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 2)

	levels, err := store.ListDifficultyLevels(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, 20, levels[0].TimeLimitSecs)

	var classics int64
	for _, c := range cats {
		if c.Name == "Classics" {
			classics = c.ID
		}
	}
	n, err := store.CountQuestions(ctx, classics, levels[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDecodeRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "empty", doc: "", want: "empty"},
		{name: "unknown field", doc: "genres: [x]\n", want: "decode seed file"},
		{
			name: "unknown category",
			doc: `
categories: [Classics]
difficulty_levels: [{key: easy, name: Easy, time_limit_secs: 20, lives: 3}]
questions:
  - {image_url: a.jpg, options: [A, B], correct_answer: A, category: Noir, difficulty: easy}
`,
			want: "unknown category",
		},
		{
			name: "answer not in options",
			doc: `
categories: [Classics]
difficulty_levels: [{key: easy, name: Easy, time_limit_secs: 20, lives: 3}]
questions:
  - {image_url: a.jpg, options: [A, B], correct_answer: C, category: Classics, difficulty: easy}
`,
			want: "not among the options",
		},
		{
			name: "bad time limit",
			doc: `
difficulty_levels: [{key: easy, name: Easy, time_limit_secs: 0, lives: 3}]
`,
			want: "time_limit_secs",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
