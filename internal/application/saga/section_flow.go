package saga

import (
	"context"
	"fmt"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/command"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/achievement"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SECTION COMPLETION FLOW
// Flow: Record Answers → Recompute Section → Evaluate Achievements
// (recomputes the chapter) → Derive Unlocks
// ══════════════════════════════════════════════════════════════════════════════

// FinishSectionInput contains the data to finalize a section.
type FinishSectionInput struct {
	// AccountID must be a resolved account UUID.
	AccountID string

	SectionID int

	// Answers are recorded before aggregation. May be empty when the
	// answers were already recorded one by one.
	Answers []command.AnswerInput
}

// FinishSectionResult is the outcome of the flow.
type FinishSectionResult struct {
	Section progress.SectionProgress

	// Chapter is nil when the chapter recomputation failed.
	Chapter *progress.ChapterProgress

	// SectionUnlocks follows the chapter's catalog order.
	SectionIDs     []int
	SectionUnlocks []bool

	Recorded int
	Granted  []achievement.Achievement
	Failures []RuleFailure
}

// FlowStep names a step of the flow.
type FlowStep string

const (
	StepLoadSection      FlowStep = "load_section"
	StepRecordAnswers    FlowStep = "record_answers"
	StepRecomputeSection FlowStep = "recompute_section"
	StepEvaluate         FlowStep = "evaluate_achievements"
)

// FlowError reports the step a flow stopped at.
type FlowError struct {
	Step  FlowStep
	Cause error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	return fmt.Sprintf("finish section failed at step '%s': %v", e.Step, e.Cause)
}

// Unwrap returns the underlying error.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// SectionCompletionFlow chains the components for a finished section.
type SectionCompletionFlow struct {
	catalog    catalog.Reader
	recorder   *command.AnswerRecorder
	aggregator *command.ProgressAggregator
	evaluator  *AchievementEvaluator
	log        *logger.Logger
}

// NewSectionCompletionFlow creates a new SectionCompletionFlow.
func NewSectionCompletionFlow(
	sections catalog.Reader,
	recorder *command.AnswerRecorder,
	aggregator *command.ProgressAggregator,
	evaluator *AchievementEvaluator,
	log *logger.Logger,
) *SectionCompletionFlow {
	if log == nil {
		log = logger.Nop()
	}
	return &SectionCompletionFlow{
		catalog:    sections,
		recorder:   recorder,
		aggregator: aggregator,
		evaluator:  evaluator,
		log:        log.With(logger.Component("section_flow")),
	}
}

// Finish runs the flow.
func (f *SectionCompletionFlow) Finish(ctx context.Context, in FinishSectionInput) (*FinishSectionResult, error) {
	accountID, err := account.ParseID(in.AccountID)
	if err != nil {
		return nil, err
	}

	sec, err := f.catalog.GetSection(ctx, in.SectionID)
	if err != nil {
		return nil, &FlowError{Step: StepLoadSection, Cause: err}
	}

	res := &FinishSectionResult{}

	if len(in.Answers) > 0 {
		batch, err := f.recorder.RecordBatch(ctx, command.RecordBatchCommand{
			AccountID: in.AccountID,
			ChapterID: sec.ChapterID,
			SectionID: sec.ID,
			Answers:   in.Answers,
		})
		if batch != nil {
			res.Recorded = len(batch.Recorded)
		}
		if err != nil {
			return nil, &FlowError{Step: StepRecordAnswers, Cause: err}
		}
	}

	sp, err := f.aggregator.RecomputeSection(ctx, accountID, sec.ID)
	if err != nil {
		return nil, &FlowError{Step: StepRecomputeSection, Cause: err}
	}
	res.Section = *sp

	ev, err := f.evaluator.Evaluate(ctx, EvaluateInput{
		AccountID:       accountID,
		SectionID:       sec.ID,
		ChapterID:       sec.ChapterID,
		SectionAccuracy: sp.AccuracyPercent,
	})
	if err != nil {
		return nil, &FlowError{Step: StepEvaluate, Cause: err}
	}
	res.Granted = ev.Granted
	res.Failures = ev.Failures
	res.Chapter = ev.Chapter()

	if ev.Recompute != nil {
		res.SectionIDs, res.SectionUnlocks = sectionUnlocks(ev.Recompute)
	}

	f.log.Info("section finished",
		logger.AccountID(accountID.String()),
		logger.SectionID(sec.ID),
		logger.Int("accuracy", sp.AccuracyPercent),
		logger.Bool("completed", sp.Completed),
		logger.Int("granted", len(res.Granted)),
		logger.Int("rule_failures", len(res.Failures)))
	return res, nil
}

func sectionUnlocks(rc *command.ChapterRecomputeResult) ([]int, []bool) {
	byID := make(map[int]*progress.SectionProgress, len(rc.Sections))
	for i := range rc.Sections {
		byID[rc.Sections[i].SectionID] = &rc.Sections[i]
	}
	ids := make([]int, len(rc.Catalog))
	ordered := make([]*progress.SectionProgress, len(rc.Catalog))
	for i, s := range rc.Catalog {
		ids[i] = s.ID
		ordered[i] = byID[s.ID]
	}
	return ids, progress.SectionsUnlock(ordered)
}
