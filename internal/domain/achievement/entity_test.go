package achievement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
)

func TestContextKey(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeSectionComplete, "section:7"},
		{TypeAccuracy90, "section:7"},
		{TypeChapterMaster, "chapter:2"},
		{TypeFirstSection, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.want, ContextFor(tt.typ, 2, 7).Key(tt.typ))
		})
	}
}

func TestContextFor_Fields(t *testing.T) {
	c := ContextFor(TypeChapterMaster, 2, 7)
	assert.Nil(t, c.SectionID)
	if assert.NotNil(t, c.ChapterID) {
		assert.Equal(t, 2, *c.ChapterID)
	}

	assert.Equal(t, Context{}, ContextFor(TypeFirstSection, 2, 7))
}

func TestRules(t *testing.T) {
	assert.True(t, QualifiesSectionComplete(70))
	assert.False(t, QualifiesSectionComplete(69))

	assert.True(t, QualifiesFirstSection(80, 0))
	assert.False(t, QualifiesFirstSection(80, 1))
	assert.False(t, QualifiesFirstSection(50, 0))

	assert.True(t, QualifiesAccuracy90(90))
	assert.False(t, QualifiesAccuracy90(89))

	assert.False(t, QualifiesChapterMaster(nil))
	assert.False(t, QualifiesChapterMaster(&progress.ChapterProgress{}))
	assert.True(t, QualifiesChapterMaster(&progress.ChapterProgress{Completed: true}))
}

func TestType_IsValid(t *testing.T) {
	for _, typ := range AllTypes() {
		assert.True(t, typ.IsValid())
	}
	assert.False(t, Type("streak_7").IsValid())
}
