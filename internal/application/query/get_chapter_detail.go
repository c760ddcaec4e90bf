package query

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CHAPTER DETAIL QUERY
// Разделы одной главы с агрегатами и состоянием разблокировки.
// ══════════════════════════════════════════════════════════════════════════════

// GetChapterDetailQuery содержит параметры запроса.
type GetChapterDetailQuery struct {
	AccountID string
	ChapterID int
}

// SectionProgressDTO - раздел с агрегатом прогресса.
type SectionProgressDTO struct {
	SectionID int    `json:"section_id"`
	Title     string `json:"title"`
	Position  int    `json:"position"`

	Started         bool `json:"started"`
	AccuracyPercent int  `json:"accuracy_percent"`
	Completed       bool `json:"completed"`
	AnsweredCount   int  `json:"answered_count"`
	CorrectCount    int  `json:"correct_count"`
	TotalTimeSec    int  `json:"total_time_sec"`

	// Unlocked - первый раздел или предыдущий завершён.
	Unlocked bool `json:"unlocked"`

	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ChapterDetailDTO - глава с разделами.
type ChapterDetailDTO struct {
	Chapter  ChapterProgressDTO   `json:"chapter"`
	Sections []SectionProgressDTO `json:"sections"`
}

// GetChapterDetailHandler обрабатывает запрос.
type GetChapterDetailHandler struct {
	catalog  catalog.Reader
	progress progress.AggregateRepository
	overview *GetProgressOverviewHandler
}

// NewGetChapterDetailHandler создаёт обработчик.
func NewGetChapterDetailHandler(sections catalog.Reader, aggregates progress.AggregateRepository) *GetChapterDetailHandler {
	return &GetChapterDetailHandler{
		catalog:  sections,
		progress: aggregates,
		overview: NewGetProgressOverviewHandler(sections, aggregates),
	}
}

// Handle выполняет запрос. Неизвестная глава - ErrNotFound.
func (h *GetChapterDetailHandler) Handle(ctx context.Context, q GetChapterDetailQuery) (*ChapterDetailDTO, error) {
	accountID, err := account.ParseID(q.AccountID)
	if err != nil {
		return nil, err
	}

	var (
		sections   []catalog.Section
		aggregates []progress.SectionProgress
		overview   *ProgressOverviewDTO
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sections, err = h.catalog.ListSections(gctx, q.ChapterID)
		return err
	})
	g.Go(func() error {
		var err error
		aggregates, err = h.progress.ListSectionProgress(gctx, accountID, q.ChapterID)
		return err
	})
	g.Go(func() error {
		var err error
		overview, err = h.overview.Handle(gctx, GetProgressOverviewQuery{AccountID: q.AccountID})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dto := &ChapterDetailDTO{}
	found := false
	for _, ch := range overview.Chapters {
		if ch.ChapterID == q.ChapterID {
			dto.Chapter = ch
			found = true
			break
		}
	}
	if !found {
		return nil, shared.NewDomainError("catalog", "GetChapterDetail", shared.ErrNotFound, "chapter not found")
	}

	catalog.SortSections(sections)
	bySection := make(map[int]*progress.SectionProgress, len(aggregates))
	for i := range aggregates {
		bySection[aggregates[i].SectionID] = &aggregates[i]
	}
	ordered := make([]*progress.SectionProgress, len(sections))
	for i, s := range sections {
		ordered[i] = bySection[s.ID]
	}
	unlocked := progress.SectionsUnlock(ordered)

	dto.Sections = make([]SectionProgressDTO, 0, len(sections))
	for i, s := range sections {
		item := SectionProgressDTO{
			SectionID: s.ID,
			Title:     s.Title,
			Position:  s.Position,
			Unlocked:  unlocked[i],
		}
		if sp := ordered[i]; sp != nil {
			updated := sp.UpdatedAt
			item.Started = true
			item.AccuracyPercent = sp.AccuracyPercent
			item.Completed = sp.Completed
			item.AnsweredCount = sp.AnsweredCount
			item.CorrectCount = sp.CorrectCount
			item.TotalTimeSec = sp.TotalTimeSec
			item.UpdatedAt = &updated
		}
		dto.Sections = append(dto.Sections, item)
	}
	return dto, nil
}
