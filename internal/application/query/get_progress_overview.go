// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS OVERVIEW QUERY
// Сводка по всем главам курса: агрегаты и состояние разблокировки.
// Только чтение; агрегаты не пересчитываются.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressOverviewQuery содержит параметры запроса сводки.
type GetProgressOverviewQuery struct {
	// AccountID - UUID учётной записи (не идентификатор платформы).
	AccountID string
}

// ChapterProgressDTO - глава с агрегатом прогресса.
type ChapterProgressDTO struct {
	ChapterID int    `json:"chapter_id"`
	Title     string `json:"title"`
	Position  int    `json:"position"`

	// Started - есть ли сохранённый агрегат.
	Started bool `json:"started"`

	AverageAccuracyPercent int  `json:"average_accuracy_percent"`
	Completed              bool `json:"completed"`
	SectionsTotal          int  `json:"sections_total"`
	SectionsCompleted      int  `json:"sections_completed"`
	TotalTimeSec           int  `json:"total_time_sec"`

	// Unlocked - первая глава или предыдущая завершена.
	Unlocked bool `json:"unlocked"`

	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ProgressOverviewDTO - сводка по курсу.
type ProgressOverviewDTO struct {
	AccountID         string               `json:"account_id"`
	Chapters          []ChapterProgressDTO `json:"chapters"`
	ChaptersCompleted int                  `json:"chapters_completed"`
	TotalTimeSec      int                  `json:"total_time_sec"`
}

// GetProgressOverviewHandler обрабатывает запрос сводки.
type GetProgressOverviewHandler struct {
	catalog  catalog.Reader
	progress progress.AggregateRepository
}

// NewGetProgressOverviewHandler создаёт обработчик.
func NewGetProgressOverviewHandler(sections catalog.Reader, aggregates progress.AggregateRepository) *GetProgressOverviewHandler {
	return &GetProgressOverviewHandler{catalog: sections, progress: aggregates}
}

// Handle выполняет запрос.
func (h *GetProgressOverviewHandler) Handle(ctx context.Context, q GetProgressOverviewQuery) (*ProgressOverviewDTO, error) {
	accountID, err := account.ParseID(q.AccountID)
	if err != nil {
		return nil, err
	}

	chapters, byChapter, err := h.load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	ordered := make([]*progress.ChapterProgress, len(chapters))
	for i, ch := range chapters {
		ordered[i] = byChapter[ch.ID]
	}
	unlocked := progress.ChaptersUnlock(ordered)

	dto := &ProgressOverviewDTO{
		AccountID: accountID.String(),
		Chapters:  make([]ChapterProgressDTO, 0, len(chapters)),
	}
	for i, ch := range chapters {
		item := ChapterProgressDTO{
			ChapterID: ch.ID,
			Title:     ch.Title,
			Position:  ch.Position,
			Unlocked:  unlocked[i],
		}
		if cp := ordered[i]; cp != nil {
			fillChapter(&item, cp)
			dto.TotalTimeSec += cp.TotalTimeSec
			if cp.Completed {
				dto.ChaptersCompleted++
			}
		}
		dto.Chapters = append(dto.Chapters, item)
	}
	return dto, nil
}

// load читает каталог и агрегаты параллельно; ошибка любого чтения
// прерывает запрос целиком.
func (h *GetProgressOverviewHandler) load(ctx context.Context, accountID uuid.UUID) ([]catalog.Chapter, map[int]*progress.ChapterProgress, error) {
	var (
		chapters   []catalog.Chapter
		aggregates []progress.ChapterProgress
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chapters, err = h.catalog.ListChapters(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		aggregates, err = h.progress.ListChapterProgress(gctx, accountID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	catalog.SortChapters(chapters)
	byChapter := make(map[int]*progress.ChapterProgress, len(aggregates))
	for i := range aggregates {
		byChapter[aggregates[i].ChapterID] = &aggregates[i]
	}
	return chapters, byChapter, nil
}

func fillChapter(item *ChapterProgressDTO, cp *progress.ChapterProgress) {
	updated := cp.UpdatedAt
	item.Started = true
	item.AverageAccuracyPercent = cp.AverageAccuracyPercent
	item.Completed = cp.Completed
	item.SectionsTotal = cp.SectionsTotal
	item.SectionsCompleted = cp.SectionsCompleted
	item.TotalTimeSec = cp.TotalTimeSec
	item.UpdatedAt = &updated
}
