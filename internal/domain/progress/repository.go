package progress

import (
	"context"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// AnswerRepository хранит сырые ответы.
type AnswerRepository interface {
	// UpsertAnswer записывает ответ; повтор по тому же ключу перезаписывает его.
	// Нарушение внешнего ключа (нет учётной записи, главы или раздела)
	// возвращается как ErrNotFound.
	UpsertAnswer(ctx context.Context, e *AnswerEvent) error

	ListSectionAnswers(ctx context.Context, accountID uuid.UUID, sectionID int) ([]AnswerEvent, error)
	ListChapterAnswers(ctx context.Context, accountID uuid.UUID, chapterID int) ([]AnswerEvent, error)
}

// AggregateRepository хранит материализованные агрегаты.
type AggregateRepository interface {
	SaveSectionProgress(ctx context.Context, p *SectionProgress) error

	// SaveChapterProgress атомарно сохраняет агрегат главы вместе
	// с пересчитанными агрегатами её разделов.
	SaveChapterProgress(ctx context.Context, ch *ChapterProgress, sections []SectionProgress) error

	// GetSectionProgress возвращает ErrNotFound, если агрегата ещё нет.
	GetSectionProgress(ctx context.Context, accountID uuid.UUID, sectionID int) (*SectionProgress, error)
	ListSectionProgress(ctx context.Context, accountID uuid.UUID, chapterID int) ([]SectionProgress, error)

	// GetChapterProgress возвращает ErrNotFound, если агрегата ещё нет.
	GetChapterProgress(ctx context.Context, accountID uuid.UUID, chapterID int) (*ChapterProgress, error)
	ListChapterProgress(ctx context.Context, accountID uuid.UUID) ([]ChapterProgress, error)
}

// Repository объединяет хранилища ответов и агрегатов.
type Repository interface {
	AnswerRepository
	AggregateRepository

	// Reset удаляет ответы и агрегаты ученика. Достижения не затрагиваются.
	Reset(ctx context.Context, accountID uuid.UUID) (ResetStats, error)
}
