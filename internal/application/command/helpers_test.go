package command

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/infrastructure/persistence/sqlite"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// openStore opens a migrated sqlite store with chapter 1 (sections 7, 8)
// and chapter 2 (section 9).
func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), sqlite.Config{Path: filepath.Join(t.TempDir(), "progress.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	err = s.Catalog().Import(context.Background(), catalog.Snapshot{
		Chapters: []catalog.Chapter{{ID: 1, Title: "Alfabeto", Position: 1}, {ID: 2, Title: "Salutoj", Position: 2}},
		Sections: []catalog.Section{
			{ID: 7, ChapterID: 1, Title: "Literoj", Position: 1},
			{ID: 8, ChapterID: 1, Title: "Prononco", Position: 2},
			{ID: 9, ChapterID: 2, Title: "Saluton", Position: 1},
		},
	})
	require.NoError(t, err)
	return s
}

// answerSet builds total answers of which the first correct ones are right.
func answerSet(total, correct int) []AnswerInput {
	out := make([]AnswerInput, 0, total)
	for i := 0; i < total; i++ {
		out = append(out, AnswerInput{
			QuestionID:     i + 1,
			SelectedAnswer: "a",
			IsCorrect:      i < correct,
			TimeSpentSec:   5,
			AnsweredAt:     testNow.Add(time.Duration(i) * time.Second),
		})
	}
	return out
}
