package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/achievement"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/infrastructure/persistence/sqlite"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*sqlite.Store, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "progress.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Catalog().Import(ctx, catalog.Snapshot{
		Chapters: []catalog.Chapter{{ID: 2, Title: "Salutoj", Position: 2}, {ID: 1, Title: "Alfabeto", Position: 1}},
		Sections: []catalog.Section{
			{ID: 8, ChapterID: 1, Title: "Prononco", Position: 2},
			{ID: 7, ChapterID: 1, Title: "Literoj", Position: 1},
			{ID: 9, ChapterID: 2, Title: "Saluton", Position: 1},
		},
	}))

	acc, err := account.New("555", account.Hint{Username: "ana"}, testNow)
	require.NoError(t, err)
	_, err = store.Accounts().CreateIfAbsent(ctx, acc)
	require.NoError(t, err)
	return store, acc.ID
}

// completeSection stores answers and aggregates as the write side would.
func completeSection(t *testing.T, store *sqlite.Store, id uuid.UUID, chapterID, sectionID, correct, total int) progress.SectionProgress {
	t.Helper()
	ctx := context.Background()
	var answers []progress.AnswerEvent
	for i := 0; i < total; i++ {
		e := progress.AnswerEvent{
			AccountID: id, ChapterID: chapterID, SectionID: sectionID,
			QuestionID: i + 1, IsCorrect: i < correct, TimeSpentSec: 2, AnsweredAt: testNow,
		}
		require.NoError(t, store.Progress().UpsertAnswer(ctx, &e))
		answers = append(answers, e)
	}
	sp := progress.ComputeSection(id, catalog.Section{ID: sectionID, ChapterID: chapterID}, answers, testNow)
	require.NoError(t, store.Progress().SaveSectionProgress(ctx, &sp))
	return sp
}

func saveChapter(t *testing.T, store *sqlite.Store, id uuid.UUID, chapterID int) {
	t.Helper()
	ctx := context.Background()
	sections, err := store.Catalog().ListSections(ctx, chapterID)
	require.NoError(t, err)
	list, err := store.Progress().ListSectionProgress(ctx, id, chapterID)
	require.NoError(t, err)
	by := make(map[int]progress.SectionProgress)
	for _, sp := range list {
		by[sp.SectionID] = sp
	}
	cp := progress.ComputeChapter(id, chapterID, sections, by, testNow)
	require.NoError(t, store.Progress().SaveChapterProgress(ctx, &cp, list))
}

func TestProgressOverview(t *testing.T) {
	ctx := context.Background()
	store, id := setup(t)
	h := NewGetProgressOverviewHandler(store.Catalog(), store.Progress())

	dto, err := h.Handle(ctx, GetProgressOverviewQuery{AccountID: id.String()})
	require.NoError(t, err)
	require.Len(t, dto.Chapters, 2)
	assert.Equal(t, 1, dto.Chapters[0].ChapterID)
	assert.Equal(t, []bool{true, false}, []bool{dto.Chapters[0].Unlocked, dto.Chapters[1].Unlocked})
	assert.False(t, dto.Chapters[0].Started)

	completeSection(t, store, id, 1, 7, 9, 10)
	completeSection(t, store, id, 1, 8, 7, 10)
	saveChapter(t, store, id, 1)

	dto, err = h.Handle(ctx, GetProgressOverviewQuery{AccountID: id.String()})
	require.NoError(t, err)
	first := dto.Chapters[0]
	assert.True(t, first.Started)
	assert.True(t, first.Completed)
	assert.Equal(t, 80, first.AverageAccuracyPercent)
	assert.True(t, dto.Chapters[1].Unlocked)
	assert.Equal(t, 1, dto.ChaptersCompleted)
	assert.Equal(t, 40, dto.TotalTimeSec)
}

func TestProgressOverview_RejectsPlatformID(t *testing.T) {
	store, _ := setup(t)
	h := NewGetProgressOverviewHandler(store.Catalog(), store.Progress())

	_, err := h.Handle(context.Background(), GetProgressOverviewQuery{AccountID: "555"})
	assert.True(t, shared.IsIdentityNotResolved(err))
}

func TestChapterDetail(t *testing.T) {
	ctx := context.Background()
	store, id := setup(t)
	h := NewGetChapterDetailHandler(store.Catalog(), store.Progress())

	dto, err := h.Handle(ctx, GetChapterDetailQuery{AccountID: id.String(), ChapterID: 1})
	require.NoError(t, err)
	require.Len(t, dto.Sections, 2)
	assert.Equal(t, 7, dto.Sections[0].SectionID)
	assert.True(t, dto.Sections[0].Unlocked)
	assert.False(t, dto.Sections[1].Unlocked)
	assert.True(t, dto.Chapter.Unlocked)

	completeSection(t, store, id, 1, 7, 7, 10)

	dto, err = h.Handle(ctx, GetChapterDetailQuery{AccountID: id.String(), ChapterID: 1})
	require.NoError(t, err)
	assert.True(t, dto.Sections[0].Completed)
	assert.Equal(t, 70, dto.Sections[0].AccuracyPercent)
	assert.True(t, dto.Sections[1].Unlocked)

	locked, err := h.Handle(ctx, GetChapterDetailQuery{AccountID: id.String(), ChapterID: 2})
	require.NoError(t, err)
	assert.False(t, locked.Chapter.Unlocked)
	assert.True(t, locked.Sections[0].Unlocked)
}

func TestChapterDetail_UnknownChapter(t *testing.T) {
	store, id := setup(t)
	h := NewGetChapterDetailHandler(store.Catalog(), store.Progress())

	_, err := h.Handle(context.Background(), GetChapterDetailQuery{AccountID: id.String(), ChapterID: 404})
	assert.True(t, shared.IsNotFound(err))
}

func TestListAchievements(t *testing.T) {
	ctx := context.Background()
	store, id := setup(t)
	h := NewListAchievementsHandler(store.Achievements())

	dto, err := h.Handle(ctx, ListAchievementsQuery{AccountID: id.String()})
	require.NoError(t, err)
	assert.Empty(t, dto.Achievements)

	for i, typ := range []achievement.Type{achievement.TypeSectionComplete, achievement.TypeFirstSection} {
		a := achievement.New(id, typ, achievement.ContextFor(typ, 1, 7), testNow.Add(time.Duration(i)*time.Second))
		_, err := store.Achievements().Insert(ctx, a)
		require.NoError(t, err)
	}

	dto, err = h.Handle(ctx, ListAchievementsQuery{AccountID: id.String()})
	require.NoError(t, err)
	require.Len(t, dto.Achievements, 2)
	assert.Equal(t, "section_complete", dto.Achievements[0].Type)
	require.NotNil(t, dto.Achievements[0].SectionID)
	assert.Equal(t, 7, *dto.Achievements[0].SectionID)
	assert.Equal(t, "first_section", dto.Achievements[1].Type)
	assert.Nil(t, dto.Achievements[1].ChapterID)
}
