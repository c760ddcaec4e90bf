package command

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE PROGRESS COMMAND
// Rebuilds section and chapter aggregates from the raw answers. Every call is
// a full recomputation that overwrites the stored aggregate; nothing is merged
// with earlier results.
// ══════════════════════════════════════════════════════════════════════════════

// ChapterRecomputeResult is the outcome of a chapter recomputation.
type ChapterRecomputeResult struct {
	Chapter progress.ChapterProgress

	// Sections holds the aggregates of attempted sections in catalog order.
	Sections []progress.SectionProgress

	// Catalog is the chapter's ordered section list.
	Catalog []catalog.Section
}

// ProgressAggregator recomputes aggregates.
type ProgressAggregator struct {
	store   progress.Repository
	catalog catalog.Reader
	log     *logger.Logger
	now     func() time.Time
}

// NewProgressAggregator creates a new ProgressAggregator.
func NewProgressAggregator(store progress.Repository, sections catalog.Reader, log *logger.Logger) *ProgressAggregator {
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressAggregator{
		store:   store,
		catalog: sections,
		log:     log.With(logger.Component("progress_aggregator")),
		now:     time.Now,
	}
}

// RecomputeSection rebuilds and stores one section aggregate.
func (h *ProgressAggregator) RecomputeSection(ctx context.Context, accountID uuid.UUID, sectionID int) (*progress.SectionProgress, error) {
	if err := account.RequireID("RecomputeSection", accountID); err != nil {
		return nil, err
	}

	sec, err := h.catalog.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	answers, err := h.store.ListSectionAnswers(ctx, accountID, sectionID)
	if err != nil {
		return nil, err
	}

	for _, a := range answers {
		if a.ChapterID != sec.ChapterID {
			h.warn(shared.ConsistencyWarning{
				Domain:  "progress",
				Op:      "RecomputeSection",
				Message: "answer chapter differs from catalog",
				Details: map[string]any{
					"section_id":      sectionID,
					"answer_chapter":  a.ChapterID,
					"catalog_chapter": sec.ChapterID,
					"question_id":     a.QuestionID,
				},
			})
		}
	}

	sp := progress.ComputeSection(accountID, *sec, answers, h.now())
	if err := h.store.SaveSectionProgress(ctx, &sp); err != nil {
		h.log.Error("section aggregate write failed",
			logger.AccountID(accountID.String()), logger.SectionID(sectionID), logger.Err(err))
		return nil, err
	}

	h.log.Debug("section recomputed",
		logger.AccountID(accountID.String()),
		logger.SectionID(sectionID),
		logger.Int("accuracy", sp.AccuracyPercent),
		logger.Bool("completed", sp.Completed))
	return &sp, nil
}

// RecomputeChapter rebuilds the chapter aggregate and the aggregates of its
// attempted sections, then stores them together. Catalog and answer reads run
// concurrently and fail as a unit.
func (h *ProgressAggregator) RecomputeChapter(ctx context.Context, accountID uuid.UUID, chapterID int) (*ChapterRecomputeResult, error) {
	if err := account.RequireID("RecomputeChapter", accountID); err != nil {
		return nil, err
	}

	var (
		sections []catalog.Section
		answers  []progress.AnswerEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sections, err = h.catalog.ListSections(gctx, chapterID)
		return err
	})
	g.Go(func() error {
		var err error
		answers, err = h.store.ListChapterAnswers(gctx, accountID, chapterID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := h.now()
	grouped := progress.GroupBySection(answers)

	known := make(map[int]struct{}, len(sections))
	bySection := make(map[int]progress.SectionProgress, len(grouped))
	res := &ChapterRecomputeResult{Catalog: sections}

	for _, sec := range sections {
		known[sec.ID] = struct{}{}
		group, ok := grouped[sec.ID]
		if !ok {
			continue
		}
		sp := progress.ComputeSection(accountID, sec, group, now)
		bySection[sec.ID] = sp
		res.Sections = append(res.Sections, sp)
	}

	var orphans []int
	for id := range grouped {
		if _, ok := known[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		sort.Ints(orphans)
		h.warn(shared.ConsistencyWarning{
			Domain:  "progress",
			Op:      "RecomputeChapter",
			Message: "answers reference sections missing from the catalog",
			Details: map[string]any{"chapter_id": chapterID, "sections": orphans},
		})
	}

	res.Chapter = progress.ComputeChapter(accountID, chapterID, sections, bySection, now)
	if err := h.store.SaveChapterProgress(ctx, &res.Chapter, res.Sections); err != nil {
		h.log.Error("chapter aggregate write failed",
			logger.AccountID(accountID.String()), logger.ChapterID(chapterID), logger.Err(err))
		return nil, err
	}

	h.log.Debug("chapter recomputed",
		logger.AccountID(accountID.String()),
		logger.ChapterID(chapterID),
		logger.Int("average", res.Chapter.AverageAccuracyPercent),
		logger.Bool("completed", res.Chapter.Completed))
	return res, nil
}

// RecomputeAll recomputes every chapter of the catalog for an account.
func (h *ProgressAggregator) RecomputeAll(ctx context.Context, accountID uuid.UUID) ([]progress.ChapterProgress, error) {
	chapters, err := h.catalog.ListChapters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]progress.ChapterProgress, 0, len(chapters))
	for _, ch := range chapters {
		res, err := h.RecomputeChapter(ctx, accountID, ch.ID)
		if err != nil {
			return out, err
		}
		out = append(out, res.Chapter)
	}
	return out, nil
}

func (h *ProgressAggregator) warn(w shared.ConsistencyWarning) {
	h.log.Warn("consistency warning",
		logger.String("domain", w.Domain),
		logger.Operation(w.Op),
		logger.String("detail", w.String()))
}
