// Package progress содержит модель прогресса ученика: сырые ответы,
// агрегаты по разделам и главам, а также правила открытия контента.
// Все вычисления здесь чистые: на вход ответы, на выход агрегаты.
package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// CompletionThreshold - минимальная точность (в процентах), при которой
// раздел считается пройденным.
const CompletionThreshold = 70

// ══════════════════════════════════════════════════════════════════════════════
// ANSWER EVENT
// ══════════════════════════════════════════════════════════════════════════════

// AnswerEvent - одна попытка ответа на вопрос.
// Ключ уникальности: (AccountID, SectionID, QuestionID); последний ответ побеждает.
type AnswerEvent struct {
	AccountID      uuid.UUID
	ChapterID      int
	SectionID      int
	QuestionID     int
	SelectedAnswer string
	IsCorrect      bool
	TimeSpentSec   int
	HintsUsed      int
	AnsweredAt     time.Time
}

// Validate проверяет поля события. Идентичность учётной записи
// проверяется отдельно вызывающей стороной.
func (e *AnswerEvent) Validate() error {
	switch {
	case e.ChapterID <= 0:
		return invalid("chapter id must be positive")
	case e.SectionID <= 0:
		return invalid("section id must be positive")
	case e.QuestionID <= 0:
		return invalid("question id must be positive")
	case e.TimeSpentSec < 0:
		return invalid("time spent cannot be negative")
	case e.HintsUsed < 0:
		return invalid("hints used cannot be negative")
	}
	return nil
}

func invalid(msg string) error {
	return shared.NewDomainError("progress", "Validate", shared.ErrInvalidInput, msg)
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

// SectionProgress - материализованный агрегат по разделу.
// Инвариант: Completed == (AccuracyPercent >= CompletionThreshold).
type SectionProgress struct {
	AccountID       uuid.UUID
	ChapterID       int
	SectionID       int
	AccuracyPercent int
	Completed       bool
	// AnsweredCount - число различных вопросов, на которые был дан ответ.
	AnsweredCount int
	CorrectCount  int
	TotalTimeSec  int
	UpdatedAt     time.Time
}

// ChapterProgress - агрегат по главе, вычисляется из агрегатов разделов.
type ChapterProgress struct {
	AccountID              uuid.UUID
	ChapterID              int
	AverageAccuracyPercent int
	// Completed - все разделы главы пройдены (и разделы вообще есть).
	Completed         bool
	SectionsTotal     int
	SectionsCompleted int
	TotalTimeSec      int
	UpdatedAt         time.Time
}

// ResetStats - сколько записей удалил явный сброс прогресса.
type ResetStats struct {
	Answers  int64
	Sections int64
	Chapters int64
}
